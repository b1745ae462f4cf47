package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/datatap/datatap/internal/gateway"
	dmcp "github.com/datatap/datatap/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		port      int
		apiKey    string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that lets AI agents discover
endpoints, read dataset schemas and query endpoints through the gateway.
Supports stdio (default) and streamable HTTP transports.

Queries go through the same key checks as HTTP callers. Pass --api-key (or set
DATATAP_MCP_API_KEY) to give the agent a default key; otherwise it must supply
one per query. Calls are written to the request log like any other.`,
		Example: `  datatap mcp --api-key dtap_...                  # stdio mode
  datatap mcp --transport http --port 3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd, transport, port, apiKey)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().IntVar(&port, "port", 3001, "HTTP port (only used with --transport http)")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "Default API key for query_endpoint")

	return cmd
}

func runMCP(cmd *cobra.Command, transport string, port int, apiKey string) error {
	if transport != "stdio" && transport != "http" {
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}
	if apiKey == "" {
		apiKey = viper.GetString("mcp.api_key")
	}

	// stdout belongs to the protocol in stdio mode, so logs go to stderr.
	settings := loadSettings()
	logger := newLogger(settings, false, os.Stderr)

	a, err := openApp(cmd.Context(), logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	recorder := gateway.NewRecorder(a.store, logger, settings.Gateway.RecorderQueue)
	recorder.Start()
	defer recorder.Close(cmd.Context())

	mcpSrv := dmcp.NewMCPServer(a.store, a.newGateway(recorder), apiKey, versionString(), logger)

	if transport == "http" {
		return mcpSrv.ServeHTTP(fmt.Sprintf(":%d", port))
	}
	return mcpSrv.ServeStdio()
}
