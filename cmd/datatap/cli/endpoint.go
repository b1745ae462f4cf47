package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/service"
)

func newEndpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "endpoint",
		Aliases: []string{"endpoints", "ep"},
		Short:   "Manage gateway endpoints",
		Long:    "Bind datasets to gateway routes, and list, toggle or delete those routes.",
	}

	cmd.AddCommand(newEndpointListCmd())
	cmd.AddCommand(newEndpointCreateCmd())
	cmd.AddCommand(newEndpointToggleCmd())
	cmd.AddCommand(newEndpointDeleteCmd())

	return cmd
}

// ---------- endpoint list ----------

func newEndpointListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			endpoints, err := a.services.Endpoints.List(ctx, operator)
			if err != nil {
				return fmt.Errorf("list endpoints: %w", err)
			}

			w := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(w, endpoints)
			}
			if len(endpoints) == 0 {
				fmt.Fprintln(w, "No endpoints yet. Use 'datatap endpoint create' to publish a dataset.")
				return nil
			}
			fmt.Fprintf(w, "%-5s %-7s %-32s %-8s %-7s %-9s %-16s\n", "ID", "METHOD", "PATH", "DATASET", "ACTIVE", "REQUESTS", "LAST ACCESSED")
			for _, ep := range endpoints {
				fmt.Fprintf(w, "%-5d %-7s %-32s %-8d %-7s %-9d %-16s\n",
					ep.ID, ep.Method, ep.Path, ep.DatasetID, yesNo(ep.IsActive), ep.RequestCount, formatTime(ep.LastAccessed))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- endpoint create ----------

func newEndpointCreateCmd() *cobra.Command {
	var (
		in         service.EndpointInput
		noPaginate bool
		pageSize   int
		include    []string
		exclude    []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Publish a dataset under a gateway route",
		Example: `  datatap endpoint create --name People --path people --dataset 1
  datatap endpoint create --name "Public people" --path people/public --dataset 1 --exclude email --page-size 25`,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := model.DefaultResponseConfig()
			resp.Pagination = !noPaginate
			if pageSize > 0 {
				resp.PageSize = pageSize
			}
			resp.IncludeFields = include
			resp.ExcludeFields = exclude
			in.Response = &resp
			return runEndpointCreate(cmd.Context(), cmd.OutOrStdout(), in)
		},
	}

	cmd.Flags().StringVar(&in.Name, "name", "", "Endpoint name (required)")
	cmd.Flags().StringVar(&in.Description, "description", "", "Endpoint description")
	cmd.Flags().StringVar(&in.Method, "method", "GET", "HTTP method: GET, POST, PUT or DELETE")
	cmd.Flags().StringVar(&in.Path, "path", "", "Route, with or without the gateway prefix (required)")
	cmd.Flags().Int64Var(&in.DatasetID, "dataset", 0, "Dataset id to serve (required)")
	cmd.Flags().IntVar(&in.RateLimit, "rate-limit", 0, "Requests per minute recorded on the endpoint (informational)")
	cmd.Flags().BoolVar(&noPaginate, "no-pagination", false, "Return every matching row in one response")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, fmt.Sprintf("Default page size (default %d)", model.DefaultPageSize))
	cmd.Flags().StringSliceVar(&include, "include", nil, "Only return these fields")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Drop these fields (ignored when --include is set)")
	cmd.MarkFlagRequired("name")
	cmd.MarkFlagRequired("path")
	cmd.MarkFlagRequired("dataset")

	return cmd
}

func runEndpointCreate(ctx context.Context, w io.Writer, in service.EndpointInput) error {
	a, err := openApp(ctx, discardLogger(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	ep, err := a.services.Endpoints.Create(ctx, in, nil)
	if err != nil {
		return fmt.Errorf("create endpoint: %w", err)
	}
	fmt.Fprintf(w, "Created endpoint %d: %s %s -> dataset %d\n", ep.ID, ep.Method, ep.Path, ep.DatasetID)
	return nil
}

// ---------- endpoint toggle ----------

func newEndpointToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Activate or deactivate an endpoint",
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

			current, err := a.services.Endpoints.Get(ctx, id, operator)
			if err != nil {
				return fmt.Errorf("get endpoint: %w", err)
			}
			ep, err := a.services.Endpoints.SetActive(ctx, id, !current.IsActive)
			if err != nil {
				return fmt.Errorf("toggle endpoint: %w", err)
			}
			state := "inactive"
			if ep.IsActive {
				state = "active"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Endpoint %d (%s %s) is now %s\n", ep.ID, ep.Method, ep.Path, state)
			return nil
		},
	}
}

// ---------- endpoint delete ----------

func newEndpointDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete an endpoint",
		Long:    "Delete an endpoint and remove it from every key's allow-list.",
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

			if err := a.services.Endpoints.Delete(ctx, id); err != nil {
				return fmt.Errorf("delete endpoint: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted endpoint %d\n", id)
			return nil
		},
	}
}
