package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/smallbiznis/stitchery/internal/auth"
	"github.com/smallbiznis/stitchery/internal/authorization"
	"github.com/smallbiznis/stitchery/internal/clock"
	"github.com/smallbiznis/stitchery/internal/config"
	"github.com/smallbiznis/stitchery/internal/marketmetrics"
	"github.com/smallbiznis/stitchery/internal/migration"
	"github.com/smallbiznis/stitchery/internal/observability"
	"github.com/smallbiznis/stitchery/internal/scheduler"
	"github.com/smallbiznis/stitchery/internal/seed"
	"github.com/smallbiznis/stitchery/internal/server"
	"github.com/smallbiznis/stitchery/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "stitchery",
		Short:   "Stitchery embroidery marketplace",
		Version: readVersionFromEnv(),
	}
	root.AddCommand(newServeCmd(), newMigrateCmd(), newSeedCmd(), newTokenCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run migrations, then the API server and scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(migration.Module)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(fx.Invoke(func(conn *gorm.DB, log *zap.Logger) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				if err := migration.Rollback(sqlDB); err != nil {
					return err
				}
				log.Info("migration rolled back")
				return nil
			}))
		},
	}, &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(fx.Invoke(func(conn *gorm.DB) error {
				sqlDB, err := conn.DB()
				if err != nil {
					return err
				}
				version, dirty, err := migration.Version(sqlDB)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
				return nil
			}))
		},
	})
	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert default pricing tiers, packages, features and policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnce(
				migration.Module,
				clock.Module,
				fx.Provide(authorization.NewEnforcer),
				fx.Invoke(runSeed),
			)
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		userID string
		email  string
		role   string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token for local testing",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := snowflake.ParseString(strings.TrimSpace(userID))
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid --user %q", userID)
			}
			verifier, err := auth.NewVerifier(config.Load().AuthJWTSecret)
			if err != nil {
				return err
			}
			token, err := verifier.Issue(auth.Identity{UserID: id, Email: email, Role: role}, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user snowflake id")
	cmd.Flags().StringVar(&email, "email", "", "email claim")
	cmd.Flags().StringVar(&role, "role", auth.RoleCustomer, "customer, service or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func runServe() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
		scheduler.Module,
		marketmetrics.Module,
	)
	app.Run()
}

// runOnce starts an app for its invoke side effects and stops it again.
func runOnce(opts ...fx.Option) error {
	base := []fx.Option{
		config.Module,
		observability.Module,
		fx.Provide(registerSnowflake),
		db.Module,
	}
	app := fx.New(append(base, opts...)...)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.Stop(context.Background())
}

func runSeed(conn *gorm.DB, node *snowflake.Node, clk clock.Clock, enforcer *casbin.SyncedEnforcer, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	result, err := seed.Catalog(ctx, conn, node, clk.Now())
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	if err := seed.Policies(enforcer); err != nil {
		return fmt.Errorf("seed policies: %w", err)
	}
	log.Info("seed complete",
		zap.Int("tiers", result.Tiers),
		zap.Int("packages", result.Packages),
		zap.Int("features", result.Features),
	)
	return nil
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func readVersionFromEnv() string {
	if v := strings.TrimSpace(os.Getenv("APP_VERSION")); v != "" {
		return v
	}
	return "dev"
}
