package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/router-for-me/hazardguard/internal/app"
	"github.com/router-for-me/hazardguard/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const envAdminPassword = "HAZARDGUARD_ADMIN_PASSWORD"

// main runs the CLI entrypoint and exits on unrecoverable command errors.
func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if errRun := newRootCmd().ExecuteContext(ctx); errRun != nil {
		log.WithError(errRun).Error("command failed")
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	appConfig := func() (config.AppConfig, error) {
		appCfg, errEnv := config.LoadFromEnv()
		if errEnv != nil {
			return config.AppConfig{}, errEnv
		}
		if strings.TrimSpace(cfgPath) != "" {
			appCfg.ConfigPath = config.ResolveConfigPath(cfgPath)
		}
		return appCfg, nil
	}

	rootCmd := &cobra.Command{
		Use:           "hazardguard",
		Short:         "Request guard with leaky-bucket throttling and blocking",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (or env CONFIG_PATH)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the guard in front of the configured upstream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, errCfg := appConfig()
			if errCfg != nil {
				return errCfg
			}
			return app.RunServer(cmd.Context(), appCfg)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, errCfg := appConfig()
			if errCfg != nil {
				return errCfg
			}
			if errMigrate := app.Migrate(cmd.Context(), appCfg); errMigrate != nil {
				return errMigrate
			}
			fmt.Fprintln(cmd.OutOrStdout(), "database migrated")
			return nil
		},
	}

	adminCmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	var (
		adminPassword    string
		adminSuper       bool
		adminPermissions []string
	)
	adminCreateCmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create an admin account",
		Long: `Creates an admin account. The first admin is always a super admin.
The password is taken from --password, then $` + envAdminPassword + `, then
the first line of stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, errCfg := appConfig()
			if errCfg != nil {
				return errCfg
			}
			password, errPassword := resolvePassword(cmd, adminPassword)
			if errPassword != nil {
				return errPassword
			}
			admin, errCreate := app.CreateAdmin(cmd.Context(), appCfg, app.CreateAdminParams{
				Username:    args[0],
				Password:    password,
				SuperAdmin:  adminSuper,
				Permissions: adminPermissions,
			})
			if errCreate != nil {
				return errCreate
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created admin %q (id=%d, super=%v)\n", admin.Username, admin.ID, admin.IsSuperAdmin)
			return nil
		},
	}
	adminCreateCmd.Flags().StringVar(&adminPassword, "password", "", "admin password")
	adminCreateCmd.Flags().BoolVar(&adminSuper, "super", false, "grant every permission")
	adminCreateCmd.Flags().StringSliceVar(&adminPermissions, "permission", nil, `permission key, e.g. "GET /v0/admin/events" (repeatable)`)
	adminCmd.AddCommand(adminCreateCmd)

	hazardsCmd := &cobra.Command{
		Use:   "hazards",
		Short: "Inspect hazard definitions",
	}
	hazardsCheckCmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a hazards file and print the evaluation order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.CheckHazards(args[0], cmd.OutOrStdout())
		},
	}
	hazardsCmd.AddCommand(hazardsCheckCmd)

	unblockCmd := &cobra.Command{
		Use:   "unblock <client>",
		Short: "Lift a client's blockage in the shared store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appCfg, errCfg := appConfig()
			if errCfg != nil {
				return errCfg
			}
			hazard, errUnblock := app.Unblock(cmd.Context(), appCfg, args[0])
			if errUnblock != nil {
				return errUnblock
			}
			fmt.Fprintf(cmd.OutOrStdout(), "lifted blockage of %s (hazard %s)\n", args[0], hazard)
			return nil
		},
	}

	rootCmd.AddCommand(serveCmd, migrateCmd, adminCmd, hazardsCmd, unblockCmd)
	return rootCmd
}

var errNoPassword = errors.New("no password given")

func resolvePassword(cmd *cobra.Command, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv(envAdminPassword); env != "" {
		return env, nil
	}
	fmt.Fprint(cmd.ErrOrStderr(), "password: ")
	line, errRead := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		if errRead != nil {
			return "", fmt.Errorf("%w: %v", errNoPassword, errRead)
		}
		return "", errNoPassword
	}
	return password, nil
}
