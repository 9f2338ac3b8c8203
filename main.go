package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdusco/qrlinks/internal/analytics"
	"github.com/abdusco/qrlinks/internal/auth"
	"github.com/abdusco/qrlinks/internal/config"
	"github.com/abdusco/qrlinks/internal/db"
	"github.com/abdusco/qrlinks/internal/geo"
	"github.com/abdusco/qrlinks/internal/handler"
	"github.com/abdusco/qrlinks/internal/links"
	"github.com/abdusco/qrlinks/internal/logger"
	"github.com/abdusco/qrlinks/internal/metrics"
	"github.com/abdusco/qrlinks/internal/quota"
	"github.com/abdusco/qrlinks/internal/repo"
	"github.com/abdusco/qrlinks/internal/shortener"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration from environment")
	}

	if err := logger.Setup(cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("failed to set up logging")
	}

	log.Info().
		Interface("config", cfg).
		Msg("current configuration")

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("starting application")

	dbInstance, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbInstance.Close()

	geoResolver, err := geo.Open(cfg.GeoIPDatabasePath)
	if err != nil {
		return err
	}
	defer geoResolver.Close()

	usersRepo := repo.NewUsersRepo(dbInstance)
	linksRepo := repo.NewLinksRepo(dbInstance)
	clicksRepo := repo.NewClicksRepo(dbInstance)
	quotaRepo := repo.NewQuotaRepo(dbInstance)
	reconciliationRepo := repo.NewReconciliationRepo(dbInstance)

	tracker := quota.NewTracker(quotaRepo)
	yourls := shortener.New(cfg.ShortenerBaseURL, cfg.ShortenerToken, cfg.ShortenerTimeout)
	linkService := links.NewService(tracker, yourls, linksRepo, reconciliationRepo)
	analyticsService := analytics.NewService(clicksRepo, linksRepo)
	authenticator := auth.NewAuthenticator(usersRepo, cfg.JWTSecret)

	e := echo.New()
	defer e.Close()

	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler

	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	authHandler := handler.NewAuthHandler(authenticator)
	e.POST("/register", authHandler.Register)
	e.POST("/login", authHandler.Login)
	e.GET("/logout", authHandler.Logout)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	api := e.Group("/api")
	api.Use(auth.NewAuthMiddleware(authenticator))

	linkHandler := handler.NewLinkHandler(linkService, tracker)
	api.GET("/me", linkHandler.Me)
	api.POST("/links", linkHandler.CreateLink)
	api.GET("/links", linkHandler.ListLinks)
	api.PUT("/links/:id", linkHandler.UpdateLink)
	api.PUT("/links/:id/qr", linkHandler.AttachQR)
	api.GET("/links/:id/qr.png", linkHandler.QRCode)
	api.GET("/links/:id/upstream-stats", linkHandler.UpstreamStats)

	analyticsHandler := handler.NewAnalyticsHandler(analyticsService)
	api.GET("/analytics/traffic", analyticsHandler.Traffic)
	api.GET("/analytics/links/:id", analyticsHandler.LinkDetails)

	if cfg.IngestToken != "" {
		ingestHandler := handler.NewIngestHandler(clicksRepo, geoResolver, cfg.IngestToken)
		e.POST("/ingest/clicks", ingestHandler.IngestClick, ingestHandler.RequireToken)
	} else {
		log.Info().Msg("INGEST_TOKEN is empty, click ingestion disabled")
	}

	address := cfg.Host + ":" + cfg.Port
	log.Info().Str("address", address).Msg("server starting")

	// Run server and handle graceful shutdown
	runServer(ctx, e, address)

	return nil
}

func runServer(ctx context.Context, e *echo.Echo, address string) {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(address)
	}()

	// Wait for context cancellation (Ctrl+C or SIGTERM)
	<-ctx.Done()

	log.Info().Msg("shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during graceful shutdown")
	}

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}
