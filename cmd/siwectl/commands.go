package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bengobox/signin-service/internal/app"
	"github.com/bengobox/signin-service/internal/config"
	"github.com/bengobox/signin-service/internal/database"
	"github.com/bengobox/signin-service/internal/logger"
	"github.com/bengobox/signin-service/internal/services/signin"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: withDB(func(cmd *cobra.Command, cfg *config.Config, db *sqlx.DB) error {
				if err := database.RunMigrations(db, cfg.Database.Driver); err != nil {
					return err
				}
				return printVersion(cmd, cfg, db)
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back every migration",
			RunE: withDB(func(cmd *cobra.Command, cfg *config.Config, db *sqlx.DB) error {
				if err := database.RollbackMigrations(db, cfg.Database.Driver); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations rolled back")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the applied schema version",
			RunE:  withDB(printVersion),
		},
	)
	return cmd
}

func printVersion(cmd *cobra.Command, cfg *config.Config, db *sqlx.DB) error {
	version, dirty, err := database.MigrationVersion(db, cfg.Database.Driver)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version %d (dirty=%t)\n", version, dirty)
	return nil
}

func newSetupDBCmd() *cobra.Command {
	var adminURL string
	cmd := &cobra.Command{
		Use:   "setup-db",
		Short: "Create the Postgres database if it does not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			created, err := database.EnsureDatabase(cmd.Context(), cfg.Database, adminURL)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintln(cmd.OutOrStdout(), "database created")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "database already present")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&adminURL, "admin-url", "", "connection URL used to issue CREATE DATABASE")
	return cmd
}

func newUnlinkCmd() *cobra.Command {
	var accountID, provider string
	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Remove a provider link from an account",
		RunE: withCore(func(cmd *cobra.Command, core *app.Core) error {
			id, err := uuid.Parse(accountID)
			if err != nil {
				return fmt.Errorf("invalid account id: %w", err)
			}
			if err := core.SignIn.Unlink(cmd.Context(), id, provider, signin.RequestMeta{UserAgent: "siwectl"}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlinked %s from %s\n", provider, id)
			return nil
		}),
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	cmd.Flags().StringVar(&provider, "provider", "", "google, microsoft or apple")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func newAuthURLCmd() *cobra.Command {
	var provider, redirectTo string
	cmd := &cobra.Command{
		Use:   "auth-url",
		Short: "Print the consent URL a sign-in button would open",
		RunE: withCore(func(cmd *cobra.Command, core *app.Core) error {
			target, err := core.SignIn.BeginAuth(cmd.Context(), provider, redirectTo)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), target)
			return nil
		}),
	}
	cmd.Flags().StringVar(&provider, "provider", "", "google, microsoft or apple")
	cmd.Flags().StringVar(&redirectTo, "redirect-to", "", "page to land on after sign-in")
	_ = cmd.MarkFlagRequired("provider")
	return cmd
}

func newAuditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List recent sign-in audit entries",
		RunE: withCore(func(cmd *cobra.Command, core *app.Core) error {
			entries, err := core.Auditor.ListRecent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tACTION\tPROVIDER\tACCOUNT\tIP")
			for _, e := range entries {
				account := "-"
				if e.AccountID != nil {
					account = e.AccountID.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.OccurredAt.Format("2006-01-02 15:04:05"), e.Action, e.Provider, account, e.IPAddress)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	return cmd
}

func withDB(run func(*cobra.Command, *config.Config, *sqlx.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		db, err := database.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()
		return run(cmd, cfg, db)
	}
}

func withCore(run func(*cobra.Command, *app.Core) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log, err := logger.New(cfg.App.Environment, "warn")
		if err != nil {
			return err
		}
		defer log.Sync() //nolint:errcheck // best effort

		core, err := app.NewCore(cmd.Context(), cfg, log)
		if err != nil {
			log.Error("bootstrap", zap.Error(err))
			return err
		}
		defer core.Close()
		return run(cmd, core)
	}
}
