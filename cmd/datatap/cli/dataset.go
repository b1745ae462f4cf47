package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/datatap/datatap/internal/contract"
	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/service"
)

func newDatasetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dataset",
		Aliases: []string{"datasets", "ds"},
		Short:   "Manage datasets",
		Long:    "List datasets, import them from a JSON/CSV file or a SQL source, refresh and delete them.",
	}

	cmd.AddCommand(newDatasetListCmd())
	cmd.AddCommand(newDatasetImportCmd())
	cmd.AddCommand(newDatasetRefreshCmd())
	cmd.AddCommand(newDatasetDeleteCmd())

	return cmd
}

// ---------- dataset list ----------

func newDatasetListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List datasets",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			datasets, err := a.services.Datasets.List(ctx)
			if err != nil {
				return fmt.Errorf("list datasets: %w", err)
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, datasets)
			}
			if len(datasets) == 0 {
				fmt.Fprintln(w, "No datasets yet. Use 'datatap dataset import' to add one.")
				return nil
			}
			fmt.Fprintf(w, "%-5s %-24s %-11s %-8s %-7s %-7s\n", "ID", "NAME", "SOURCE", "RECORDS", "LOCK", "ACTIVE")
			for _, ds := range datasets {
				fmt.Fprintf(w, "%-5d %-24s %-11s %-8d %-7s %-7s\n",
					ds.ID, ds.Name, ds.Source, ds.RecordCount, ds.SchemaLock, yesNo(ds.IsActive))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- dataset import ----------

type importOptions struct {
	file        string
	sourceID    int64
	table       string
	query       string
	name        string
	description string
	schemaLock  string
	maxRows     int
}

func newDatasetImportCmd() *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create a dataset from a file or a SQL source",
		Long: `Create a dataset from a .json or .csv file (--file), or by running a read-only
query against a registered source (--source with --table or --query).`,
		Example: `  datatap dataset import --file people.csv
  datatap dataset import --file orders.json --name orders --schema-lock auto
  datatap dataset import --source 1 --table customers --max-rows 5000
  datatap dataset import --source 1 --query "SELECT id, name FROM customers WHERE active" --name active_customers`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDatasetImport(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "JSON or CSV file to upload")
	cmd.Flags().Int64Var(&opts.sourceID, "source", 0, "Source id to import from")
	cmd.Flags().StringVar(&opts.table, "table", "", "Table to import (with --source)")
	cmd.Flags().StringVar(&opts.query, "query", "", "SELECT statement to import (with --source)")
	cmd.Flags().StringVar(&opts.name, "name", "", "Dataset name (default: file or table name)")
	cmd.Flags().StringVar(&opts.description, "description", "", "Dataset description")
	cmd.Flags().StringVar(&opts.schemaLock, "schema-lock", model.SchemaLockNone, "Schema lock: none, auto or strict")
	cmd.Flags().IntVar(&opts.maxRows, "max-rows", 0, "Row cap for source imports (default 10000)")
	cmd.MarkFlagsMutuallyExclusive("file", "source")
	cmd.MarkFlagsOneRequired("file", "source")

	return cmd
}

func runDatasetImport(ctx context.Context, w io.Writer, opts importOptions) error {
	a, err := openApp(ctx, discardLogger(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	var ds *model.Dataset
	if opts.file != "" {
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return fmt.Errorf("read %s: %w", opts.file, err)
		}
		ds, err = a.services.Datasets.Upload(ctx, service.DatasetInput{
			Name:        opts.name,
			Description: opts.description,
			SchemaLock:  opts.schemaLock,
		}, filepath.Base(opts.file), data, nil)
		if err != nil {
			return fmt.Errorf("upload dataset: %w", err)
		}
	} else {
		if opts.table == "" && opts.query == "" {
			return errors.New("--source needs --table or --query")
		}
		ds, err = a.services.Datasets.Import(ctx, service.ImportInput{
			SourceID:    opts.sourceID,
			Name:        opts.name,
			Description: opts.description,
			Table:       opts.table,
			Query:       opts.query,
			MaxRows:     opts.maxRows,
			SchemaLock:  opts.schemaLock,
		}, nil)
		if err != nil {
			return fmt.Errorf("import dataset: %w", err)
		}
	}

	fmt.Fprintf(w, "Created dataset %d %q: %d records\n", ds.ID, ds.Name, ds.RecordCount)
	for field, typ := range ds.Schema {
		fmt.Fprintf(w, "  %-24s %s\n", field, typ)
	}
	if ds.ArchivePath != "" {
		fmt.Fprintf(w, "  archived at %s\n", ds.ArchivePath)
	}
	return nil
}

// ---------- dataset refresh ----------

func newDatasetRefreshCmd() *cobra.Command {
	var maxRows int

	cmd := &cobra.Command{
		Use:   "refresh <id>",
		Short: "Re-run the import behind a SQL-imported dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			ds, drift, err := a.services.Datasets.Refresh(ctx, id, maxRows)
			if err != nil {
				return fmt.Errorf("refresh dataset: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Refreshed dataset %d %q: %d records\n", ds.ID, ds.Name, ds.RecordCount)
			printDrift(w, drift)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxRows, "max-rows", 0, "Row cap (default 10000)")

	return cmd
}

func printDrift(w io.Writer, drift *contract.DriftReport) {
	if drift == nil || !drift.HasDrift {
		fmt.Fprintln(w, "  schema unchanged")
		return
	}
	fmt.Fprintf(w, "  schema drift: %d additive, %d breaking\n", drift.AdditiveCount, drift.BreakingCount)
	for _, item := range drift.Items {
		fmt.Fprintf(w, "    %-9s %s\n", item.Type, item.Description)
	}
}

// ---------- dataset delete ----------

func newDatasetDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a dataset",
		Long:    "Delete a dataset and its archived upload. Fails while an endpoint still serves it.",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.services.Datasets.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete dataset: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted dataset %d\n", id)
			return nil
		},
	}
}
