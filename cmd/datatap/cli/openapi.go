package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/datatap/datatap/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		outputFile string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI document for the gateway",
		Long: `Generate an OpenAPI 3.1 document describing every active endpoint: its route,
query parameters (paging, sorting and one filter per dataset field) and the
shape of its rows after projection. The running server serves the same
document at /openapi.json.`,
		Example: `  datatap openapi                 # JSON to stdout
  datatap openapi -o openapi.json
  datatap openapi --format yaml -o openapi.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			endpoints, err := a.store.ListEndpoints(ctx, true)
			if err != nil {
				return fmt.Errorf("list endpoints: %w", err)
			}
			datasets, err := a.store.ListDatasets(ctx)
			if err != nil {
				return fmt.Errorf("list datasets: %w", err)
			}
			doc := openapi.GenerateGatewaySpec(endpoints, datasets, a.settings.Gateway.Prefix)

			var out []byte
			switch format {
			case "json":
				out, err = json.MarshalIndent(doc, "", "  ")
			case "yaml":
				// Round-trip through JSON so the YAML uses the document's
				// JSON field names.
				var raw []byte
				if raw, err = json.Marshal(doc); err == nil {
					var generic interface{}
					if err = json.Unmarshal(raw, &generic); err == nil {
						out, err = yaml.Marshal(generic)
					}
				}
			default:
				return fmt.Errorf("unsupported format %q; use json or yaml", format)
			}
			if err != nil {
				return fmt.Errorf("encode document: %w", err)
			}

			if outputFile == "" {
				_, err = cmd.OutOrStdout().Write(append(out, '\n'))
				return err
			}
			if err := os.WriteFile(outputFile, out, 0644); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s (%d endpoints)\n", outputFile, len(endpoints))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json or yaml")

	return cmd
}
