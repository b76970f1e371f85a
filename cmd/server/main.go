package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/companionlab/companion-server/internal/auth"
	"github.com/companionlab/companion-server/internal/call"
	"github.com/companionlab/companion-server/internal/config"
	"github.com/companionlab/companion-server/internal/database"
	"github.com/companionlab/companion-server/internal/handler"
	"github.com/companionlab/companion-server/internal/jobs"
	"github.com/companionlab/companion-server/internal/middleware"
	"github.com/companionlab/companion-server/internal/redis"
	"github.com/companionlab/companion-server/internal/repository"
	"github.com/companionlab/companion-server/internal/service"
	"github.com/companionlab/companion-server/internal/sse"
	"github.com/companionlab/companion-server/internal/voice"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	isProduction := os.Getenv("FLY_APP_NAME") != ""
	if err := cfg.Validate(isProduction); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	db, err := database.Connect(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("database connected")

	if cfg.RunMigrations {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
	}

	redisClient, err := redis.NewClient(context.Background(), cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	presets, err := config.LoadAssistantPresets()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load assistant presets")
	}

	companionRepo := repository.NewCompanionRepository(db.DB)
	historyRepo := repository.NewSessionHistoryRepository(db.DB)
	bookmarkRepo := repository.NewBookmarkRepository(db.DB)

	broker := sse.NewBroker(redisClient)
	defer broker.Close()

	bookmarkService, err := service.NewBookmarkService(cfg.BookmarksMode, service.BookmarkDeps{
		Bookmarks:  bookmarkRepo,
		Companions: companionRepo,
		Redis:      redisClient,
		Publisher:  broker,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to configure bookmarks")
	}
	log.Info().Str("mode", bookmarkService.Mode()).Msg("bookmarks configured")

	entitlementService := service.NewEntitlementService(companionRepo)
	companionService := service.NewCompanionService(companionRepo, entitlementService, bookmarkService, db)
	historyService := service.NewHistoryService(historyRepo)

	callManager := call.NewManager(
		voice.NewProviderFactory(cfg.VoiceAPIURL, cfg.VoiceAPIKey),
		presets, historyService, broker,
	)
	defer callManager.CloseAll()

	var verifier middleware.TokenVerifier
	switch {
	case cfg.AuthJWKSURL != "":
		v, err := auth.NewJWKSVerifier(context.Background(), cfg.AuthJWKSURL, cfg.AuthIssuer)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create jwks token verifier")
		}
		defer v.Close()
		verifier = v
	case cfg.AuthJWTSecret != "":
		v, err := auth.NewVerifier(cfg.AuthJWTSecret, cfg.AuthIssuer)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create token verifier")
		}
		verifier = v
	default:
		log.Warn().Msg("AUTH_JWKS_URL and AUTH_JWT_SECRET are empty: every request is anonymous")
	}

	authMiddleware := middleware.NewAuthMiddleware(verifier)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, "api", config.DefaultRateLimitPerMin)
	callStartLimit := middleware.NewRedisRateLimitMiddleware(redisClient.Client, "call-start", config.CallStartRateLimitPerMin)

	companionHandler := handler.NewCompanionHandler(companionService, bookmarkService)
	meHandler := handler.NewMeHandler(companionService, historyService, bookmarkService, entitlementService)
	homeHandler := handler.NewHomeHandler(companionService, historyService)
	callHandler := handler.NewCallHandler(companionService, callManager, broker, callStartLimit.Handler)
	eventsHandler := handler.NewEventsHandler(broker)
	healthHandler := handler.NewHealthHandler(map[string]handler.HealthCheck{
		"database": db.Ping,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(middleware.LimitBody(middleware.DefaultMaxBodySize))

	r.Get("/health", healthHandler.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIHeaders(isProduction))
		r.Use(authMiddleware.Handler)
		r.Use(rateLimitMiddleware.Handler)

		r.Get("/events", eventsHandler.ServeHTTP)
		r.Get("/home", homeHandler.ServeHTTP)
		r.Get("/bookmarks/enabled", companionHandler.BookmarksEnabled)
		r.Mount("/companions", companionHandler.Routes())
		r.Mount("/me", meHandler.Routes())
		r.Mount("/calls", callHandler.Routes())
	})

	cleanupJob := jobs.NewCleanupJob(callManager, cfg.CallSessionTTL(), config.CleanupJobInterval)
	cleanupJob.Start()
	defer cleanupJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
