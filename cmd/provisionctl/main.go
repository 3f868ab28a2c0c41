package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"semaphore/provisioning/internal/auth"
	"semaphore/provisioning/internal/config"
	"semaphore/provisioning/internal/logging"
	"semaphore/provisioning/internal/policy"
	"semaphore/provisioning/internal/provisioning"
	"semaphore/provisioning/internal/repository"
)

var (
	cfg    config.ToolConfig
	logger *zap.Logger

	bootstrapEmail    string
	bootstrapPassword string

	grantUID string

	tokenUID   string
	tokenRoles []string
	tokenTTL   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "provisionctl",
	Short:         "Operator tooling for the account provisioning service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadTool()
		if err != nil {
			return err
		}
		logger, err = logging.New(cfg.LogLevel)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the account and profile schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer closeStore()
		if err := store.Migrate(cmd.Context()); err != nil {
			return err
		}
		logger.Info("schema applied")
		return nil
	},
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap-superadmin",
	Short: "Create the first superAdmin account",
	Long: `superAdmin accounts cannot be created through the provisioning endpoints.
This command writes one directly to the account store.

Example:
  provisionctl bootstrap-superadmin --email root@school.test --password "$ROOT_PASSWORD"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		service := provisioning.New(provisioning.Deps{
			Accounts:   store,
			Profiles:   store,
			Logger:     logger,
			BcryptCost: cfg.BcryptCost,
		})
		result, err := service.BootstrapSuperAdmin(cmd.Context(), bootstrapEmail, bootstrapPassword)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), result.UID)
		return nil
	},
}

var grantCmd = &cobra.Command{
	Use:   "grant-superadmin",
	Short: "Add the superAdmin claim to an existing account",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer closeStore()

		if err := grantSuperAdmin(cmd.Context(), store, grantUID); err != nil {
			return err
		}
		logger.Info("superAdmin granted", zap.String("uid", grantUID))
		return nil
	},
}

var mintTokenCmd = &cobra.Command{
	Use:   "mint-token",
	Short: "Sign an HS256 caller token for local testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required to mint tokens")
		}
		roles, err := parseRoles(tokenRoles)
		if err != nil {
			return err
		}
		token, err := auth.NewToken(cfg.JWTSecret, cfg.JWTIssuer, tokenTTL, auth.ClaimsFor(tokenUID, roles...))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

type claimStore interface {
	Claims(ctx context.Context, uid string) (map[string]bool, error)
	SetClaims(ctx context.Context, uid string, claims map[string]bool) error
}

// grantSuperAdmin adds the superAdmin claim and keeps every claim the account
// already holds.
func grantSuperAdmin(ctx context.Context, store claimStore, uid string) error {
	claims, err := store.Claims(ctx, uid)
	if err != nil {
		return err
	}
	merged := make(map[string]bool, len(claims)+1)
	for claim, value := range claims {
		merged[claim] = value
	}
	merged[string(policy.RoleSuperAdmin)] = true
	return store.SetClaims(ctx, uid, merged)
}

func openStore(cmd *cobra.Command) (*repository.Store, func(), error) {
	pool, err := repository.NewPool(cmd.Context(), cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewStore(pool), pool.Close, nil
}

func parseRoles(values []string) ([]policy.Role, error) {
	roles := make([]policy.Role, 0, len(values))
	for _, value := range values {
		role, ok := policy.ParseRole(value)
		if !ok {
			return nil, fmt.Errorf("unknown role %q (want one of %s)", value, roleNames())
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func roleNames() string {
	names := make([]string, 0, len(policy.Roles))
	for _, role := range policy.Roles {
		names = append(names, role.String())
	}
	return strings.Join(names, ", ")
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapEmail, "email", "", "account email")
	bootstrapCmd.Flags().StringVar(&bootstrapPassword, "password", "", "account password")
	_ = bootstrapCmd.MarkFlagRequired("email")
	_ = bootstrapCmd.MarkFlagRequired("password")

	grantCmd.Flags().StringVar(&grantUID, "uid", "", "account uid")
	_ = grantCmd.MarkFlagRequired("uid")

	mintTokenCmd.Flags().StringVar(&tokenUID, "uid", "", "token subject")
	mintTokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "role claim to set (repeatable)")
	mintTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = mintTokenCmd.MarkFlagRequired("uid")

	rootCmd.AddCommand(migrateCmd, bootstrapCmd, grantCmd, mintTokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
