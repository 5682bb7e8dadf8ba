// Package server wires the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mikepea/cookbook/pkg/cookbook/admin"
	"github.com/mikepea/cookbook/pkg/cookbook/apikeys"
	"github.com/mikepea/cookbook/pkg/cookbook/attributes"
	"github.com/mikepea/cookbook/pkg/cookbook/auth"
	"github.com/mikepea/cookbook/pkg/cookbook/database"
	"github.com/mikepea/cookbook/pkg/cookbook/images"
	"github.com/mikepea/cookbook/pkg/cookbook/importexport"
	"github.com/mikepea/cookbook/pkg/cookbook/logging"
	"github.com/mikepea/cookbook/pkg/cookbook/metrics"
	"github.com/mikepea/cookbook/pkg/cookbook/models"
	"github.com/mikepea/cookbook/pkg/cookbook/ratelimit"
	"github.com/mikepea/cookbook/pkg/cookbook/recipes"
	"github.com/mikepea/cookbook/pkg/cookbook/resolver"
	"github.com/mikepea/cookbook/pkg/cookbook/service"
	"github.com/rs/cors"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	_ "github.com/mikepea/cookbook/api/swagger"
)

// ShutdownTimeout bounds how long in-flight requests get on shutdown
const ShutdownTimeout = 30 * time.Second

// Options carries what the router needs besides the database
type Options struct {
	Signer     *auth.Signer
	MediaRoot  string
	TokenLimit *ratelimit.KeyedRateLimiter
	Logger     *slog.Logger
}

// NewRouter registers every route on a fresh engine
func NewRouter(db *gorm.DB, opts Options) *gin.Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(opts.Logger), metrics.Middleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", metrics.Handler())
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	r.Static("/media", opts.MediaRoot)

	imageStore := images.NewStore(opts.MediaRoot)
	recipeSvc := service.NewRecipeService(db, resolver.New(), imageStore, opts.Logger)
	tagSvc := service.NewAttributeService[models.Tag](db)
	ingredientSvc := service.NewAttributeService[models.Ingredient](db)

	api := r.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			if err := database.Ping(c.Request.Context(), db); err != nil {
				_ = c.Error(err)
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "service": "cookbook"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "cookbook"})
		})

		// Accepts JWT or API key
		combinedAuth := apikeys.CombinedAuthMiddleware(db, opts.Signer)

		var tokenMiddleware []gin.HandlerFunc
		if opts.TokenLimit != nil {
			tokenMiddleware = append(tokenMiddleware, ratelimit.Middleware(opts.TokenLimit))
		}
		auth.NewHandler(db, opts.Signer).RegisterRoutes(api, combinedAuth, tokenMiddleware...)

		authed := api.Group("", combinedAuth)
		apikeys.NewHandler(db).RegisterRoutes(authed)
		recipes.NewHandler(recipeSvc).RegisterRoutes(authed)
		importexport.NewHandler(recipeSvc).RegisterRoutes(authed)
		attributes.NewHandler[models.Tag](tagSvc).RegisterRoutes(authed)
		attributes.NewHandler[models.Ingredient](ingredientSvc).RegisterRoutes(authed)

		adminGroup := api.Group("/admin", combinedAuth, auth.RequireStaff())
		admin.NewHandler(db, imageStore).RegisterRoutes(adminGroup)
	}

	return r
}

// WithCORS wraps h so browsers on origins may call the API. No origins
// leaves h untouched.
func WithCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(h)
}

// Run serves h on addr until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, addr string, h http.Handler, log *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting server", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
