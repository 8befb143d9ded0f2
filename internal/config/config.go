package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.opdbt/opdbt.yaml"
)

// Config is the top-level configuration of a transformation run.
type Config struct {
	Version               int              `yaml:"version"`
	InputDir              string           `yaml:"input_dir"`
	OutputDir             string           `yaml:"output_dir"`
	Separator             string           `yaml:"separator,omitempty"`
	SkipRows              int              `yaml:"skip_rows,omitempty"`
	SchemaDetection       string           `yaml:"schema_detection,omitempty"` // AUTO, FILLGAP or OFF
	DoNotImport           []string         `yaml:"do_not_import,omitempty"`
	ConsolidateDataframes bool             `yaml:"consolidate_dataframes,omitempty"`
	SkipValidation        bool             `yaml:"skip_validation,omitempty"`
	RulesFile             string           `yaml:"rules_file"`
	SchemaFile            string           `yaml:"schema_file,omitempty"`
	ExecutionGroups       []string         `yaml:"execution_groups,omitempty"`
	ReshapeFor            []string         `yaml:"reshape_for,omitempty"` // TABLE:rule_id
	CollectionKey         string           `yaml:"collection_key,omitempty"`
	Parameters            ParametersConfig `yaml:"parameters,omitempty"`
	Views                 ViewsConfig      `yaml:"views,omitempty"`
	Report                ReportConfig     `yaml:"report,omitempty"`
	Stage                 StageConfig      `yaml:"stage,omitempty"`
	Logging               LogConfig        `yaml:"logging,omitempty"`
}

// ParametersConfig holds the versions rules are gated on.
type ParametersConfig struct {
	DBVersion         string `yaml:"db_version,omitempty"`
	CollectionVersion string `yaml:"collection_version,omitempty"`
}

// ViewsConfig defines the backend CREATE VIEW rules run against.
type ViewsConfig struct {
	Backend          string `yaml:"backend,omitempty"` // postgres, oracle or none
	ConnectionString string `yaml:"connection_string,omitempty"`
	ProjectID        string `yaml:"project_id,omitempty"`
	DatasetID        string `yaml:"dataset_id,omitempty"`
}

// ReportConfig defines where run reports go.
type ReportConfig struct {
	Directory     string `yaml:"directory,omitempty"` // default <output_dir>
	MongoURI      string `yaml:"mongo_uri,omitempty"`
	MongoDatabase string `yaml:"mongo_database,omitempty"`
}

// StageConfig defines the S3 location run outputs are copied to. Staging
// is off while Bucket is empty.
type StageConfig struct {
	Bucket  string `yaml:"bucket,omitempty"`
	Prefix  string `yaml:"prefix,omitempty"`
	Profile string `yaml:"profile,omitempty"`
	Region  string `yaml:"region,omitempty"`
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level     string `yaml:"level,omitempty"`     // debug, info, warn, error
	Directory string `yaml:"directory,omitempty"` // default ~/.opdbt/logs/
}

// ReshapeTarget is one parsed reshape_for entry.
type ReshapeTarget struct {
	Table  string
	RuleID string
}

// Load reads and parses the config file from the given path.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// ApplyDefaults fills unset fields. It is safe to call more than once.
func (c *Config) ApplyDefaults() {
	if c.Version == 0 {
		c.Version = CurrentVersion
	}
	c.InputDir = ExpandHome(c.InputDir)
	c.OutputDir = ExpandHome(c.OutputDir)
	c.RulesFile = ExpandHome(c.RulesFile)
	c.SchemaFile = ExpandHome(c.SchemaFile)

	if c.OutputDir == "" {
		c.OutputDir = c.InputDir
	}
	if c.Separator == "" {
		c.Separator = "|"
	}
	if c.SchemaDetection == "" {
		c.SchemaDetection = "AUTO"
	}
	c.SchemaDetection = strings.ToUpper(c.SchemaDetection)
	if len(c.ExecutionGroups) == 0 {
		c.ExecutionGroups = []string{"1"}
	}
	if c.Views.Backend == "" {
		c.Views.Backend = "none"
	}
	c.Report.Directory = ExpandHome(c.Report.Directory)
	if c.Report.MongoDatabase == "" {
		c.Report.MongoDatabase = "opdbt"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = ExpandHome("~/.opdbt/logs/")
	}
}

// ReportDir is the directory run reports are written to.
func (c *Config) ReportDir() string {
	if c.Report.Directory != "" {
		return c.Report.Directory
	}
	return c.OutputDir
}

// Override keys, as bound to flags and OPDBT_* environment variables.
const (
	KeyInputDir        = "input-dir"
	KeyOutputDir       = "output-dir"
	KeySeparator       = "sep"
	KeySchemaDetection = "schema-detection"
	KeySkipValidation  = "skip-validation"
	KeyConsolidate     = "consolidate"
	KeyRulesFile       = "rules"
	KeyLogLevel        = "log-level"
)

// ApplyOverrides copies every key set in v over the file values.
func (c *Config) ApplyOverrides(v *viper.Viper) {
	if v == nil {
		return
	}
	str := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	str(KeyInputDir, &c.InputDir)
	str(KeyOutputDir, &c.OutputDir)
	str(KeySeparator, &c.Separator)
	str(KeySchemaDetection, &c.SchemaDetection)
	str(KeyRulesFile, &c.RulesFile)
	str(KeyLogLevel, &c.Logging.Level)

	if v.IsSet(KeySkipValidation) {
		c.SkipValidation = v.GetBool(KeySkipValidation)
	}
	if v.IsSet(KeyConsolidate) {
		c.ConsolidateDataframes = v.GetBool(KeyConsolidate)
	}
}

// ReshapeTargets parses reshape_for entries of the form TABLE:rule_id.
func (c *Config) ReshapeTargets() ([]ReshapeTarget, error) {
	out := make([]ReshapeTarget, 0, len(c.ReshapeFor))
	for _, entry := range c.ReshapeFor {
		table, rule, ok := strings.Cut(entry, ":")
		table, rule = strings.TrimSpace(table), strings.TrimSpace(rule)
		if !ok || table == "" || rule == "" {
			return nil, fmt.Errorf("invalid reshape_for entry %q: expected TABLE:rule_id", entry)
		}
		out = append(out, ReshapeTarget{Table: table, RuleID: rule})
	}
	return out, nil
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets() error {
	var err error
	c.Views.ConnectionString, err = ResolveValue(c.Views.ConnectionString)
	if err != nil {
		return fmt.Errorf("views connection string: %w", err)
	}
	c.Report.MongoURI, err = ResolveValue(c.Report.MongoURI)
	if err != nil {
		return fmt.Errorf("report mongo uri: %w", err)
	}
	return nil
}

// ResolveValue replaces every secret reference in val. References may be
// embedded, as in postgres://app:${ENV:PGPASS}@db/assess.
func ResolveValue(val string) (string, error) {
	var firstErr error
	out := secretPattern.ReplaceAllStringFunc(val, func(m string) string {
		if firstErr != nil {
			return m
		}
		parts := secretPattern.FindStringSubmatch(m)
		v, err := resolveRef(parts[1], parts[2])
		if err != nil {
			firstErr = err
			return m
		}
		return v
	})
	if firstErr != nil {
		return "", firstErr
	}
	return out, nil
}

func resolveRef(provider, ref string) (string, error) {
	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return resolveVault(ref)
	case "AWS_SM":
		return resolveAWSSecretsManager(ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
