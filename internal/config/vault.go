package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/vault/api"
)

// vaultClient builds a client from VAULT_ADDR, VAULT_TOKEN and the optional
// VAULT_NAMESPACE.
func vaultClient() (*api.Client, error) {
	env := map[string]string{}
	for _, name := range []string{"VAULT_ADDR", "VAULT_TOKEN"} {
		env[name] = os.Getenv(name)
		if env[name] == "" {
			return nil, fmt.Errorf("%s is not set; needed for ${VAULT:...} references", name)
		}
	}

	vc := api.DefaultConfig()
	vc.Address = env["VAULT_ADDR"]
	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault client for %s: %w", vc.Address, err)
	}
	client.SetToken(env["VAULT_TOKEN"])
	if ns := os.Getenv("VAULT_NAMESPACE"); ns != "" {
		client.SetNamespace(ns)
	}
	return client, nil
}

// resolveVault looks up a path#field reference. KV v1 and v2 mounts both work.
func resolveVault(ref string) (string, error) {
	secretPath, field, _ := strings.Cut(ref, "#")
	if secretPath == "" || field == "" {
		return "", fmt.Errorf("vault reference %q must look like secret/path#field", ref)
	}

	client, err := vaultClient()
	if err != nil {
		return "", err
	}
	secret, err := client.Logical().Read(secretPath)
	switch {
	case err != nil:
		return "", fmt.Errorf("vault read %s: %w", secretPath, err)
	case secret == nil || len(secret.Data) == 0:
		return "", fmt.Errorf("vault has nothing at %s", secretPath)
	}
	return secretField(secret.Data, field, secretPath)
}

// secretField picks field out of a Vault payload. KV v2 nests the values
// under "data".
func secretField(payload map[string]interface{}, field, secretPath string) (string, error) {
	if nested, ok := payload["data"].(map[string]interface{}); ok {
		payload = nested
	}
	switch v := payload[field].(type) {
	case nil:
		return "", fmt.Errorf("vault secret %s has no field %q", secretPath, field)
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("vault field %q at %s is a %T, not a string", field, secretPath, v)
	}
}
