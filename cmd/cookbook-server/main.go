package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/cookbook/pkg/cookbook/auth"
	"github.com/mikepea/cookbook/pkg/cookbook/config"
	"github.com/mikepea/cookbook/pkg/cookbook/database"
	"github.com/mikepea/cookbook/pkg/cookbook/logging"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"github.com/mikepea/cookbook/pkg/cookbook/ratelimit"
	"github.com/mikepea/cookbook/pkg/cookbook/server"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"
)

// @title Cookbook API
// @version 1.0
// @description Recipe management with per-user tags and ingredients.

// @contact.name Cookbook Support
// @contact.url https://github.com/mikepea/cookbook

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT or API key. Format: "Bearer {token}" or "Token {key}"

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "cookbook-server",
		Usage: "Recipe API server",
		Flags: config.Flags(),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Wait for the database, migrate and serve the API",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Create or update the database schema",
				Action: migrate,
			},
			{
				Name:   "wait-for-db",
				Usage:  "Block until the database answers",
				Action: waitForDB,
			},
			{
				Name:  "create-superuser",
				Usage: "Create a staff account with full privileges",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true, Usage: "account email"},
					&cli.StringFlag{Name: "name", Value: "Admin", Usage: "display name"},
					&cli.StringFlag{
						Name:     "password",
						Required: true,
						Usage:    "account password",
						Sources:  cli.EnvVars("COOKBOOK_SUPERUSER_PASSWORD"),
					},
				},
				Action: createSuperuser,
			},
		},
		DefaultCommand: "serve",
	}
}

// setup reads the configuration and opens the store
func setup(cmd *cli.Command) (*config.Config, *gorm.DB, *slog.Logger, error) {
	cfg, err := config.FromCommand(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	slog.SetDefault(log)

	db, err := database.Open(cfg.DBPath, database.Config{
		LogSQL: logging.ParseLevel(cfg.LogLevel) == slog.LevelDebug,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, db, log, nil
}

func waitFor(ctx context.Context, cfg *config.Config, db *gorm.DB, log *slog.Logger) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql handle: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.WaitTimeout)
	defer cancel()
	return database.Wait(ctx, sqlDB, 0, log)
}

func waitForDB(ctx context.Context, cmd *cli.Command) error {
	cfg, db, log, err := setup(cmd)
	if err != nil {
		return err
	}
	return waitFor(ctx, cfg, db, log)
}

func migrate(ctx context.Context, cmd *cli.Command) error {
	cfg, db, log, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := waitFor(ctx, cfg, db, log); err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	log.Info("database migrations completed")
	return nil
}

func createSuperuser(ctx context.Context, cmd *cli.Command) error {
	_, db, log, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	user, err := auth.CreateUser(db.WithContext(ctx), cmd.String("email"), cmd.String("password"), cmd.String("name"))
	if err != nil {
		return err
	}
	if err := db.Model(user).Updates(map[string]interface{}{"is_staff": true, "is_superuser": true}).Error; err != nil {
		return fmt.Errorf("failed to grant staff: %w", err)
	}

	log.Info("created superuser", slog.String("email", user.Email), slog.Uint64("id", uint64(user.ID)))
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, db, log, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := cfg.ValidateServe(); err != nil {
		return err
	}

	if err := waitFor(ctx, cfg, db, log); err != nil {
		return err
	}
	if err := models.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return err
	}

	limiter := ratelimit.New(cfg.TokenRate, cfg.TokenBurst, ratelimit.DefaultIdleTTL)
	defer limiter.Stop()

	gin.SetMode(gin.ReleaseMode)
	router := server.NewRouter(db, server.Options{
		Signer:     signer,
		MediaRoot:  cfg.MediaRoot,
		TokenLimit: limiter,
		Logger:     log,
	})

	return server.Run(ctx, cfg.Addr(), server.WithCORS(router, cfg.CORSOrigins), log)
}
