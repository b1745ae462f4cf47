package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/datatap/datatap/internal/config"
	"github.com/datatap/datatap/internal/model"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "user",
		Aliases: []string{"users"},
		Short:   "Manage management API accounts",
		Long:    "Create, list and promote the accounts that sign in to the management API.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserPromoteCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		admin    bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a local account",
		Example: `  datatap user create --email admin@example.com --name Admin --admin
  datatap user create --email dev@example.com  # prompts for password`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				pw, err := promptPassword()
				if err != nil {
					return err
				}
				password = pw
			}
			if name == "" {
				name = email
			}
			return runUserCreate(cmd.Context(), cmd.OutOrStdout(), name, email, password, admin)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringVar(&name, "name", "", "Display name (defaults to the email)")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	cmd.MarkFlagRequired("email")

	return cmd
}

// promptPassword reads a password twice from the terminal without echo.
func promptPassword() (string, error) {
	fmt.Print("Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Println()

	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Println()

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

func runUserCreate(ctx context.Context, w io.Writer, name, email, password string, admin bool) error {
	a, err := openApp(ctx, discardLogger(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	session, err := a.services.Auth.Register(ctx, name, email, password)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	user := session.User
	if admin {
		if user, err = a.services.Users.SetRole(ctx, operator, user.ID, model.RoleAdmin); err != nil {
			return fmt.Errorf("grant admin: %w", err)
		}
	}

	fmt.Fprintf(w, "Created %s account %q (id %d)\n", user.Role, user.Email, user.ID)
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd.Context(), cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(ctx context.Context, w io.Writer, jsonOutput bool) error {
	a, err := openApp(ctx, discardLogger(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.services.Users.List(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	if jsonOutput {
		return printJSON(w, users)
	}

	if len(users) == 0 {
		fmt.Fprintln(w, "No accounts yet. Use 'datatap user create' to create one.")
		return nil
	}

	fmt.Fprintf(w, "%-5s %-30s %-20s %-6s %-9s %-7s %-16s\n", "ID", "EMAIL", "NAME", "ROLE", "PROVIDER", "ACTIVE", "LAST LOGIN")
	for _, u := range users {
		fmt.Fprintf(w, "%-5d %-30s %-20s %-6s %-9s %-7s %-16s\n",
			u.ID, u.Email, u.Name, u.Role, u.Provider, yesNo(u.IsActive), formatTime(u.LastLoginAt))
	}
	return nil
}

// ---------- user promote ----------

func newUserPromoteCmd() *cobra.Command {
	var demote bool

	cmd := &cobra.Command{
		Use:   "promote <email|id>",
		Short: "Grant (or with --demote, remove) the admin role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := model.RoleAdmin
			if demote {
				role = model.RoleUser
			}
			return runUserPromote(cmd.Context(), cmd.OutOrStdout(), args[0], role)
		},
	}

	cmd.Flags().BoolVar(&demote, "demote", false, "Set the role back to user")

	return cmd
}

func runUserPromote(ctx context.Context, w io.Writer, ref, role string) error {
	a, err := openApp(ctx, discardLogger(), false)
	if err != nil {
		return err
	}
	defer a.Close()

	user, err := lookupUser(ctx, a.store, ref)
	if err != nil {
		return err
	}
	if user, err = a.services.Users.SetRole(ctx, operator, user.ID, role); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	fmt.Fprintf(w, "%s is now %s\n", user.Email, user.Role)
	return nil
}

// lookupUser resolves a numeric id or an email address.
func lookupUser(ctx context.Context, store *config.Store, ref string) (*model.User, error) {
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		u, err := store.GetUser(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("user %d: %w", id, err)
		}
		return u, nil
	}
	u, err := store.GetUserByEmail(ctx, config.NormalizeEmail(ref))
	if err != nil {
		return nil, fmt.Errorf("user %q: %w", ref, err)
	}
	return u, nil
}
