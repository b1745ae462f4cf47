package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YAMLConfig represents the top-level datatap configuration file. Keys mirror
// the viper keys used by the CLI, so any value can also be supplied as a
// DATATAP_* environment variable.
type YAMLConfig struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Gateway GatewayConfig `yaml:"gateway"`
	Storage StorageConfig `yaml:"storage"`
	Jobs    JobsConfig    `yaml:"jobs"`
	Log     LoggingConfig `yaml:"log"`
}

// ServerConfig controls the HTTP server behavior.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	CORSOrigins     []string `yaml:"cors_origins"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// AuthConfig controls management API authentication.
type AuthConfig struct {
	JWTSecret        string     `yaml:"jwt_secret"`
	TokenTTL         string     `yaml:"token_ttl"`
	RetainKeySecrets bool       `yaml:"retain_key_secrets"`
	OIDC             OIDCConfig `yaml:"oidc"`
}

// OIDCConfig points at an external identity provider. An empty issuer
// disables it.
type OIDCConfig struct {
	Issuer       string `yaml:"issuer"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// GatewayConfig controls the generated endpoint gateway.
type GatewayConfig struct {
	Prefix        string `yaml:"prefix"`
	RecorderQueue int    `yaml:"recorder_queue"`
}

// StorageConfig selects where original uploads are archived.
type StorageConfig struct {
	Backend string             `yaml:"backend"` // none, local, s3, gcs, azure
	Local   LocalStorageConfig `yaml:"local"`
	S3      S3StorageConfig    `yaml:"s3"`
	GCS     GCSStorageConfig   `yaml:"gcs"`
	Azure   AzureStorageConfig `yaml:"azure"`
}

type LocalStorageConfig struct {
	Path string `yaml:"path"`
}

type S3StorageConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

type GCSStorageConfig struct {
	Bucket          string `yaml:"bucket"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

type AzureStorageConfig struct {
	AccountName string `yaml:"account_name"`
	AccountKey  string `yaml:"account_key"`
	Container   string `yaml:"container"`
	Endpoint    string `yaml:"endpoint"`
}

// JobsConfig controls background jobs.
type JobsConfig struct {
	KeyExpiryInterval string `yaml:"key_expiry_interval"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	content := os.ExpandEnv(string(data))

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			CORSOrigins:     []string{"*"},
			ShutdownTimeout: "30s",
		},
		Auth: AuthConfig{
			TokenTTL: "24h",
		},
		Gateway: GatewayConfig{
			Prefix:        "/api/v1",
			RecorderQueue: 1024,
		},
		Storage: StorageConfig{
			Backend: "none",
		},
		Jobs: JobsConfig{
			KeyExpiryInterval: "1h",
		},
		Log: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	data, err := yaml.Marshal(DefaultYAMLConfig())
	if err != nil {
		return err
	}
	header := []byte("# datatap configuration. Every key can be overridden with a DATATAP_* environment variable.\n")
	return os.WriteFile(path, append(header, data...), 0644)
}
