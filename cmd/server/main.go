package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheGojiOG/servervisor/internal/auth"
	"github.com/TheGojiOG/servervisor/internal/config"
	"github.com/TheGojiOG/servervisor/internal/database"
	"github.com/TheGojiOG/servervisor/internal/logging"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "servervisor",
		Short:         "Supervise game server processes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $CONFIG_PATH or ./configs/config.yaml)")

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the supervisor and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	})

	var down bool
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations(configPath, down)
		},
	}
	migrateCmd.Flags().BoolVar(&down, "down", false, "Revert the most recently applied migration instead")
	cmd.AddCommand(migrateCmd)

	cmd.AddCommand(newTokenCommand(&configPath))

	return cmd
}

func newTokenCommand(configPath *string) *cobra.Command {
	var subject, scope string

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			defer logging.Close()

			if cfg.Security.Auth.JWTSecret == "" {
				return fmt.Errorf("security.auth.jwt_secret is not set")
			}
			if !auth.ValidScope(scope) {
				return fmt.Errorf("unknown scope %q", scope)
			}

			manager := auth.NewTokenManager(cfg.Security.Auth.JWTSecret, cfg.Security.Auth.Issuer, cfg.TokenTTLDuration())
			token, expiresAt, err := manager.Issue(subject, scope)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "Expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "admin", "Token subject recorded in request logs")
	cmd.Flags().StringVar(&scope, "scope", auth.ScopeAdmin, "Token scope (admin or read)")
	return cmd
}

// loadConfig reads the config file and initializes process logging
func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		configPath = config.GetConfigPath()
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := setupLogging(cfg); err != nil {
		return nil, "", fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, configPath, nil
}

func setupLogging(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Logging.File) == "" {
		dataDir := cfg.Storage.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		cfg.Logging.File = filepath.Join(dataDir, "logs", "servervisor.log")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Logging.File), 0755); err != nil {
		return err
	}
	_, err := logging.Init(cfg.Logging)
	return err
}

func runMigrations(configPath string, down bool) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	defer logging.Close()

	db, err := database.NewDB(cfg.Database.Path, database.WithMaxConnections(cfg.Database.MaxConnections))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	if down {
		version, err := db.Rollback()
		if err != nil {
			return fmt.Errorf("rollback failed: %w", err)
		}
		if version == "" {
			log.Println("No migrations to revert")
		}
		return nil
	}

	pending, err := db.PendingMigrations()
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	if len(pending) == 0 {
		log.Println("No pending migrations")
		return nil
	}

	log.Printf("Applying %d migrations...", len(pending))
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed successfully")
	return nil
}
