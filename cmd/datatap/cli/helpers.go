package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/gateway"
	"github.com/datatap/datatap/internal/handler"
	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/service"
	"github.com/datatap/datatap/internal/source"
	"github.com/datatap/datatap/internal/source/mssql"
	"github.com/datatap/datatap/internal/source/mysql"
	"github.com/datatap/datatap/internal/source/oracle"
	"github.com/datatap/datatap/internal/source/postgres"
	"github.com/datatap/datatap/internal/source/snowflake"
	"github.com/datatap/datatap/internal/source/sqlite"
	"github.com/datatap/datatap/internal/storage"
	"github.com/datatap/datatap/internal/telemetry"

	// Archive backends register themselves with the storage package.
	_ "github.com/datatap/datatap/internal/storage/azure"
	_ "github.com/datatap/datatap/internal/storage/gcs"
	_ "github.com/datatap/datatap/internal/storage/local"
	_ "github.com/datatap/datatap/internal/storage/s3"
)

const devJWTSecret = "datatap-dev-secret-change-me"

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from --data-dir flag,
// DATATAP_DATA_DIR env var, or ~/.datatap as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("DATATAP_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".datatap")
}

// openConfigStore opens the SQLite store under the data directory.
func openConfigStore() (*config.Store, error) {
	store, err := config.NewStore(resolveDataDir())
	if err != nil {
		return nil, fmt.Errorf("open config store: %w", err)
	}
	return store, nil
}

// newSourceRegistry creates a source registry with every import driver registered.
func newSourceRegistry() *source.Registry {
	registry := source.NewRegistry()
	registry.RegisterDriver("postgres", postgres.New)
	registry.RegisterDriver("mysql", mysql.New)
	registry.RegisterDriver("mssql", mssql.New)
	registry.RegisterDriver("snowflake", snowflake.New)
	registry.RegisterDriver("sqlite", sqlite.New)
	registry.RegisterDriver("oracle", oracle.New)
	return registry
}

// setDefaults seeds viper with the values a fresh config file would carry.
func setDefaults() {
	def := config.DefaultYAMLConfig()
	viper.SetDefault("server.host", def.Server.Host)
	viper.SetDefault("server.port", def.Server.Port)
	viper.SetDefault("server.cors_origins", def.Server.CORSOrigins)
	viper.SetDefault("server.shutdown_timeout", def.Server.ShutdownTimeout)
	viper.SetDefault("auth.token_ttl", def.Auth.TokenTTL)
	viper.SetDefault("auth.retain_key_secrets", false)
	viper.SetDefault("gateway.prefix", def.Gateway.Prefix)
	viper.SetDefault("gateway.recorder_queue", def.Gateway.RecorderQueue)
	viper.SetDefault("storage.backend", def.Storage.Backend)
	viper.SetDefault("jobs.key_expiry_interval", def.Jobs.KeyExpiryInterval)
	viper.SetDefault("log.level", def.Log.Level)
	viper.SetDefault("log.format", def.Log.Format)
}

// loadSettings reads the effective configuration out of viper. The YAML
// struct doubles as the settings type so config init, config show and serve
// agree on key names.
func loadSettings() *config.YAMLConfig {
	return &config.YAMLConfig{
		Server: config.ServerConfig{
			Host:            viper.GetString("server.host"),
			Port:            viper.GetInt("server.port"),
			CORSOrigins:     viper.GetStringSlice("server.cors_origins"),
			ShutdownTimeout: viper.GetString("server.shutdown_timeout"),
		},
		Auth: config.AuthConfig{
			JWTSecret:        viper.GetString("auth.jwt_secret"),
			TokenTTL:         viper.GetString("auth.token_ttl"),
			RetainKeySecrets: viper.GetBool("auth.retain_key_secrets"),
			OIDC: config.OIDCConfig{
				Issuer:       viper.GetString("auth.oidc.issuer"),
				ClientID:     viper.GetString("auth.oidc.client_id"),
				ClientSecret: viper.GetString("auth.oidc.client_secret"),
				RedirectURL:  viper.GetString("auth.oidc.redirect_url"),
			},
		},
		Gateway: config.GatewayConfig{
			Prefix:        viper.GetString("gateway.prefix"),
			RecorderQueue: viper.GetInt("gateway.recorder_queue"),
		},
		Storage: config.StorageConfig{
			Backend: viper.GetString("storage.backend"),
			Local:   config.LocalStorageConfig{Path: viper.GetString("storage.local.path")},
			S3: config.S3StorageConfig{
				Bucket:          viper.GetString("storage.s3.bucket"),
				Region:          viper.GetString("storage.s3.region"),
				Endpoint:        viper.GetString("storage.s3.endpoint"),
				AccessKeyID:     viper.GetString("storage.s3.access_key_id"),
				SecretAccessKey: viper.GetString("storage.s3.secret_access_key"),
				UsePathStyle:    viper.GetBool("storage.s3.use_path_style"),
			},
			GCS: config.GCSStorageConfig{
				Bucket:          viper.GetString("storage.gcs.bucket"),
				CredentialsFile: viper.GetString("storage.gcs.credentials_file"),
				Endpoint:        viper.GetString("storage.gcs.endpoint"),
			},
			Azure: config.AzureStorageConfig{
				AccountName: viper.GetString("storage.azure.account_name"),
				AccountKey:  viper.GetString("storage.azure.account_key"),
				Container:   viper.GetString("storage.azure.container"),
				Endpoint:    viper.GetString("storage.azure.endpoint"),
			},
		},
		Jobs: config.JobsConfig{
			KeyExpiryInterval: viper.GetString("jobs.key_expiry_interval"),
		},
		Log: config.LoggingConfig{
			Level:  viper.GetString("log.level"),
			Format: viper.GetString("log.format"),
		},
	}
}

// parseDuration parses a duration setting, falling back to def when the
// value is empty or malformed.
func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// newLogger builds the process logger from the log.* settings.
func newLogger(settings *config.YAMLConfig, dev bool, w io.Writer) *slog.Logger {
	level := settings.Log.Level
	if dev {
		level = "debug"
	}
	return telemetry.SetupLogger(settings.Log.Format, level, w)
}

// app bundles what the CLI commands and the server share.
type app struct {
	settings *config.YAMLConfig
	store    *config.Store
	sources  *source.Registry
	services handler.Services
	logger   *slog.Logger
}

// openApp opens the store and builds every service. OIDC discovery only
// runs when withOIDC is set, so offline commands never touch the network.
func openApp(ctx context.Context, logger *slog.Logger, withOIDC bool) (*app, error) {
	settings := loadSettings()
	if logger == nil {
		logger = newLogger(settings, false, os.Stderr)
	}

	store, err := openConfigStore()
	if err != nil {
		return nil, err
	}

	archive, err := storage.New(settings.Storage)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}

	var (
		external service.ExternalVerifier
		flow     handler.OIDCFlow
	)
	if withOIDC {
		provider, err := service.NewOIDCProvider(ctx, settings.Auth.OIDC)
		if err != nil {
			store.Close()
			return nil, err
		}
		if provider != nil {
			external = provider
			flow = provider
			logger.Info("oidc sign-in enabled", "issuer", provider.Issuer())
		}
	}

	jwtSecret := settings.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = devJWTSecret
	}

	sources := newSourceRegistry()
	prefix := settings.Gateway.Prefix
	return &app{
		settings: settings,
		store:    store,
		sources:  sources,
		logger:   logger,
		services: handler.Services{
			Auth:      service.NewAuthService(store, jwtSecret, parseDuration(settings.Auth.TokenTTL, 24*time.Hour), external),
			OIDC:      flow,
			Keys:      service.NewKeyService(store, settings.Auth.RetainKeySecrets),
			Datasets:  service.NewDatasetService(store, archive, sources, logger),
			Endpoints: service.NewEndpointService(store, prefix),
			Sources:   service.NewSourceService(store, sources),
			Users:     service.NewUserService(store),
		},
	}, nil
}

func (a *app) Close() {
	a.sources.CloseAll()
	a.store.Close()
}

// newGateway builds a gateway over the app's store. sink may be nil.
func (a *app) newGateway(sink gateway.Sink) *gateway.Gateway {
	return gateway.New(a.store, sink, a.settings.Gateway.Prefix, a.logger)
}

// operator is the identity CLI commands act as. Anyone with access to the
// data directory already controls the store.
var operator = &model.User{Name: "cli", Role: model.RoleAdmin, IsActive: true}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// --- PID file management ---

func pidFilePath() string {
	return filepath.Join(resolveDataDir(), "datatap.pid")
}

func writePID(pid int) error {
	dir := resolveDataDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(pid)), 0644)
}

func readPID() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePID() {
	os.Remove(pidFilePath())
}

func logFilePath() string {
	return filepath.Join(resolveDataDir(), "datatap.log")
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
