package config

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// resolveAWSSecretsManager handles ${AWS_SM:name} and ${AWS_SM:name#field}. The
// field form expects the secret string to be a JSON object.
func resolveAWSSecretsManager(ref string) (string, error) {
	secretID, field, _ := strings.Cut(ref, "#")
	if secretID == "" {
		return "", fmt.Errorf("AWS_SM reference %q has no secret name", ref)
	}

	ctx := context.Background()
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("AWS credentials for secret %s: %w", secretID, err)
	}
	resp, err := secretsmanager.NewFromConfig(awsCfg).GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretID),
	})
	if err != nil {
		return "", fmt.Errorf("secrets manager %s: %w", secretID, err)
	}

	value := aws.ToString(resp.SecretString)
	switch {
	case resp.SecretString == nil:
		return "", fmt.Errorf("secret %s is binary; only string secrets can be referenced", secretID)
	case field == "":
		return value, nil
	}
	return jsonSecretField(value, secretID, field)
}

// jsonSecretField returns field of a JSON secret, formatting non-string
// values with fmt.
func jsonSecretField(secret, secretID, field string) (string, error) {
	fields := map[string]any{}
	if err := json.Unmarshal([]byte(secret), &fields); err != nil {
		return "", fmt.Errorf("secret %s is not a JSON object: %w", secretID, err)
	}
	switch v := fields[field].(type) {
	case nil:
		return "", fmt.Errorf("secret %s has no field %q", secretID, field)
	case string:
		return v, nil
	default:
		return fmt.Sprint(v), nil
	}
}
