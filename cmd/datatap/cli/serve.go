package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datatap/datatap/internal/gateway"
	"github.com/datatap/datatap/internal/jobs"
	"github.com/datatap/datatap/internal/server"
)

const banner = `
     _       _        _
  __| | __ _| |_ __ _| |_ __ _ _ __
 / _' |/ _' | __/ _' | __/ _' | '_ \
| (_| | (_| | || (_| | || (_| | |_) |
 \__,_|\__,_|\__\__,_|\__\__,_| .__/
                              |_|
`

func newServeCmd() *cobra.Command {
	var (
		port   int
		host   string
		dev    bool
		daemon bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the datatap server",
		Long: `Start the HTTP server: the gateway under the configured prefix (default /api/v1),
the management API under /api/system, and the health, metrics and OpenAPI routes.`,
		Example: `  datatap serve
  datatap serve --port 9090 --dev
  datatap serve --daemon      # detach; stop with 'datatap stop'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if daemon {
				return startDaemon()
			}
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")
	cmd.Flags().BoolVarP(&daemon, "daemon", "d", false, "Run in the background, logging to the data directory")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

// startDaemon re-executes the binary without --daemon, detached from the
// terminal, with output appended to the log file.
func startDaemon() error {
	if pid, err := readPID(); err == nil && isProcessRunning(pid) {
		return fmt.Errorf("server already running (PID %d)", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := os.MkdirAll(resolveDataDir(), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(logFilePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()

	args := make([]string, 0, len(os.Args))
	for _, a := range os.Args[1:] {
		if a != "--daemon" && a != "-d" && a != "--daemon=true" {
			args = append(args, a)
		}
	}

	child := exec.Command(exe, args...)
	child.Stdout = logFile
	child.Stderr = logFile
	setSysProcAttr(child)
	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	fmt.Printf("datatap server started (PID %d)\n", child.Process.Pid)
	fmt.Printf("  Logs: %s\n", logFilePath())
	return child.Process.Release()
}

func runServe(dev bool) error {
	fmt.Print(banner)
	fmt.Println()

	settings := loadSettings()
	logger := newLogger(settings, dev, os.Stderr)

	if settings.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is not set; using the development secret. Set DATATAP_AUTH_JWT_SECRET in production")
	}

	ctx := context.Background()
	a, err := openApp(ctx, logger, true)
	if err != nil {
		return err
	}
	defer a.store.Close()
	logger.Info("config store initialized", "path", resolveDataDir(), "drivers", a.sources.Drivers())

	hasAdmin, err := a.store.HasAnyAdmin(ctx)
	if err != nil {
		logger.Warn("failed to check for admin", "error", err)
	}
	if !hasAdmin {
		logger.Warn("no admin account yet - register and call POST /api/system/auth/first-admin, or run: datatap user promote <email>")
	}

	recorder := gateway.NewRecorder(a.store, logger, settings.Gateway.RecorderQueue)
	sweeper := jobs.NewKeyExpirySweeper(a.store, parseDuration(settings.Jobs.KeyExpiryInterval, time.Hour), logger)

	srvCfg := server.DefaultConfig()
	srvCfg.Host = settings.Server.Host
	srvCfg.Port = settings.Server.Port
	srvCfg.ShutdownTimeout = parseDuration(settings.Server.ShutdownTimeout, srvCfg.ShutdownTimeout)
	if len(settings.Server.CORSOrigins) > 0 {
		srvCfg.CORSOrigins = settings.Server.CORSOrigins
	}

	srv := server.New(srvCfg, server.Deps{
		Store:    a.store,
		Gateway:  a.newGateway(recorder),
		Recorder: recorder,
		Sweeper:  sweeper,
		Sources:  a.sources,
		Services: a.services,
	}, logger)

	if err := writePID(os.Getpid()); err != nil {
		logger.Warn("failed to write PID file", "error", err)
	}
	defer removePID()

	printEndpoints(os.Stdout, settings.Server.Host, settings.Server.Port, settings.Gateway.Prefix)
	return srv.ListenAndServe()
}

func printEndpoints(w io.Writer, host string, port int, prefix string) {
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	base := fmt.Sprintf("http://%s:%d", host, port)
	fmt.Fprintf(w, "→ datatap %s\n", versionString())
	fmt.Fprintf(w, "→ Gateway:    %s%s\n", base, prefix)
	fmt.Fprintf(w, "→ Management: %s/api/system\n", base)
	fmt.Fprintf(w, "→ OpenAPI:    %s/openapi.json\n", base)
	fmt.Fprintf(w, "→ Metrics:    %s/metrics\n", base)
	fmt.Fprintf(w, "→ Health:     %s/healthz\n", base)
	fmt.Fprintln(w)
}

// discardLogger is used by commands whose output is the data itself.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
