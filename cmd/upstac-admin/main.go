package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/upstac/platform/pkg/app"
	"github.com/upstac/platform/pkg/common/config"
	"github.com/upstac/platform/pkg/common/logger"
	"github.com/upstac/platform/pkg/seed"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "upstac-admin",
		Short: "Administrative tasks for the UPSTAC test request platform",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init()
		},
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withApp(fn func(a *app.App) error) error {
	a, err := app.New(config.Load())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				return a.Migrate()
			})
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load users and test requests from a YAML fixture file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			fixtures := seed.DefaultFixtures()
			if file != "" {
				loaded, err := seed.LoadFile(file)
				if err != nil {
					return err
				}
				fixtures = loaded
			}

			return withApp(func(a *app.App) error {
				if err := a.Migrate(); err != nil {
					return err
				}
				summary, err := a.Seeder().Apply(context.Background(), fixtures)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "users: %d created, %d skipped\nrequests: %d created, %d skipped\n",
					summary.UsersCreated, summary.UsersSkipped, summary.RequestsCreated, summary.RequestsSkipped)
				return nil
			})
		},
	}
	cmd.Flags().String("file", "", "fixture file (defaults to the built-in fixtures)")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for an existing user",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			if email == "" {
				return fmt.Errorf("--email is required")
			}
			return withApp(func(a *app.App) error {
				user, err := a.Users.GetUserByEmail(cmd.Context(), email)
				if err != nil {
					return fmt.Errorf("lookup %s: %w", email, err)
				}
				token, expiresAt, err := a.Tokens.IssueToken(user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n# role=%s expires=%s\n", token, user.Role, expiresAt.Format("2006-01-02T15:04:05Z07:00"))
				return nil
			})
		},
	}
	cmd.Flags().String("email", "", "account e-mail")
	return cmd
}
