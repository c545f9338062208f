package main

import (
	"context"
	"fmt"

	"github.com/ampguard/telemetry-core/internal/config"
	"github.com/ampguard/telemetry-core/internal/identity"
	"github.com/ampguard/telemetry-core/pkg/log"
	"github.com/ampguard/telemetry-core/pkg/security"
	"github.com/ampguard/telemetry-core/pkg/storage"
	"github.com/ampguard/telemetry-core/pkg/types"
	"github.com/spf13/cobra"
)

var createAdminCmd = &cobra.Command{
	Use:   "createadmin",
	Short: "Create the first admin user",
	RunE: func(cmd *cobra.Command, args []string) error {
		login, _ := cmd.Flags().GetString("login")
		email, _ := cmd.Flags().GetString("email")
		password, _ := cmd.Flags().GetString("password")
		if login == "" || email == "" || password == "" {
			return fmt.Errorf("createadmin: --login, --email, and --password are required")
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		log.Init(log.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})

		store, err := storage.Open(storage.Config{DSN: cfg.DatabaseURL, MaxConns: 5})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		tokens := security.NewTokenIssuer([]byte(cfg.TokenSigningSecret), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
		identitySvc := identity.New(store, tokens, cfg.BcryptCost, cfg.RateLimitLoginPerMinute)

		user, err := identitySvc.CreateUser(context.Background(), login, email, password, types.RoleAdmin)
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}

		fmt.Printf("created admin user %s (%s)\n", user.Login, user.ID)
		return nil
	},
}

func init() {
	createAdminCmd.Flags().String("login", "", "admin login")
	createAdminCmd.Flags().String("email", "", "admin email")
	createAdminCmd.Flags().String("password", "", "admin password")
}
