package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/datatap/datatap/internal/model"
	"github.com/datatap/datatap/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, toggle, regenerate and delete the API keys that authenticate gateway calls.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyToggleCmd())
	cmd.AddCommand(newKeyRegenerateCmd())
	cmd.AddCommand(newKeyDeleteCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name      string
		endpoints []int64
		userID    int64
		rateLimit int
		expiresIn time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long: `Generate a new API key. Without --endpoint the key reaches every endpoint;
with one or more --endpoint flags it is limited to those. The raw key is shown once.`,
		Example: `  datatap key create --name "CI pipeline"
  datatap key create --name partner --endpoint 3 --endpoint 7 --expires-in 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := service.KeyInput{
				Name:        name,
				Scope:       model.ScopeAll,
				EndpointIDs: endpoints,
				RateLimit:   rateLimit,
			}
			if len(endpoints) > 0 {
				in.Scope = model.ScopeSpecific
			}
			if userID > 0 {
				in.UserID = &userID
			}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn).UTC()
				in.ExpiresAt = &at
			}
			return runKeyCreate(cmd.Context(), cmd.OutOrStdout(), in)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable key name (required)")
	cmd.Flags().Int64SliceVar(&endpoints, "endpoint", nil, "Restrict the key to this endpoint id (repeatable)")
	cmd.Flags().Int64Var(&userID, "user", 0, "Owning user id (default: shared)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per minute recorded on the key (informational)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Expire the key after this long (e.g. 720h)")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runKeyCreate(ctx context.Context, w io.Writer, in service.KeyInput) error {
	a, err := openApp(ctx, discardLogger(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	issued, err := a.services.Keys.Create(ctx, in, nil)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Fprintln(w, "API key created:")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  ID:    %d\n", issued.ID)
	fmt.Fprintf(w, "  Name:  %s\n", issued.Name)
	fmt.Fprintf(w, "  Key:   %s\n", issued.Key)
	fmt.Fprintf(w, "  Scope: %s\n", describeScope(issued.APIKey))
	if issued.ExpiresAt != nil {
		fmt.Fprintf(w, "  Expires: %s\n", formatTime(issued.ExpiresAt))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Save this key now - it cannot be retrieved again.")
	return nil
}

func describeScope(k *model.APIKey) string {
	if k.Scope == model.ScopeAll {
		return "all endpoints"
	}
	ids := make([]string, len(k.EndpointIDs))
	for i, id := range k.EndpointIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return "endpoints " + strings.Join(ids, ", ")
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.Context(), cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, w io.Writer, jsonOutput bool) error {
	a, err := openApp(ctx, discardLogger(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	keys, err := a.services.Keys.List(ctx, operator)
	if err != nil {
		return fmt.Errorf("list api keys: %w", err)
	}

	if jsonOutput {
		return printJSON(w, keys)
	}

	if len(keys) == 0 {
		fmt.Fprintln(w, "No API keys configured. Use 'datatap key create' to create one.")
		return nil
	}

	fmt.Fprintf(w, "%-5s %-18s %-20s %-8s %-16s %-8s %-16s\n", "ID", "PREFIX", "NAME", "STATUS", "SCOPE", "USAGE", "LAST USED")
	for _, k := range keys {
		scope := k.Scope
		if k.Scope == model.ScopeSpecific {
			scope = fmt.Sprintf("%d endpoints", len(k.EndpointIDs))
		}
		fmt.Fprintf(w, "%-5d %-18s %-20s %-8s %-16s %-8d %-16s\n",
			k.ID, k.KeyPrefix, k.Name, k.Status, scope, k.UsageCount, formatTime(k.LastUsed))
	}
	return nil
}

// ---------- key toggle ----------

func newKeyToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "toggle <id>",
		Aliases: []string{"revoke"},
		Short:   "Switch a key between active and revoked",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			key, err := a.services.Keys.Toggle(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("toggle api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %d (%s) is now %s\n", key.ID, key.Name, key.Status)
			return nil
		},
	}
}

// ---------- key regenerate ----------

func newKeyRegenerateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regenerate <id>",
		Short: "Issue a new secret for a key",
		Long:  "Replace a key's secret. The old secret stops working immediately and the usage counter resets.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			issued, err := a.services.Keys.Regenerate(cmd.Context(), id)
			if err != nil {
				return fmt.Errorf("regenerate api key: %w", err)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "New secret for API key %d (%s):\n\n  %s\n\n", issued.ID, issued.Name, issued.Key)
			fmt.Fprintln(w, "  Save this key now - it cannot be retrieved again.")
			return nil
		},
	}
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Permanently delete a key",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), discardLogger(), false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.services.Keys.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("delete api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key %d\n", id)
			return nil
		},
	}
}
