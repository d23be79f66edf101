package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/scoredesk/scoredesk-api/internal/config"
	"github.com/scoredesk/scoredesk-api/internal/domain/scratchcard"
	"github.com/scoredesk/scoredesk-api/internal/domain/term"
	"github.com/scoredesk/scoredesk-api/internal/middleware"
	"github.com/scoredesk/scoredesk-api/internal/pkg/database"
	"github.com/scoredesk/scoredesk-api/internal/pkg/events"
	"github.com/scoredesk/scoredesk-api/internal/pkg/jwt"
	"github.com/scoredesk/scoredesk-api/internal/pkg/logger"
	"github.com/scoredesk/scoredesk-api/internal/pkg/ratelimit"
	pkgresponse "github.com/scoredesk/scoredesk-api/internal/pkg/response"
	"github.com/scoredesk/scoredesk-api/internal/pkg/storage"
	"github.com/scoredesk/scoredesk-api/migrations"
)

const (
	accessTokenTTL = 15 * time.Minute
	pruneInterval  = 5 * time.Minute
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting ScoreDesk API")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), time.Minute)
	if err := migrations.Apply(migrateCtx, db); err != nil {
		cancelMigrate()
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}
	if version, err := migrations.Version(migrateCtx, db); err == nil {
		log.Info().Int64("version", version).Msg("Database schema up to date")
	}
	cancelMigrate()

	redis, err := database.NewRedis(cfg.RedisURL, database.RedisOptions{ClientName: "scoredesk-api"})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var limiter ratelimit.Limiter
	if redis != nil {
		limiter = ratelimit.NewRedisLimiter(redis, "scoredesk:attempts", cfg.CardPinAttempts, cfg.CardPinWindow)
	} else {
		local := ratelimit.NewLocalLimiter(cfg.CardPinAttempts, cfg.CardPinWindow)
		go pruneLoop(ctx, local)
		limiter = local
	}

	publisher := newPublisher(cfg)
	defer publisher.Close()

	manifests, err := storage.New(storage.Config{
		Driver:            cfg.StorageDriver,
		LocalPath:         cfg.StorageLocalPath,
		LocalURL:          cfg.StorageLocalURL,
		S3Endpoint:        cfg.S3Endpoint,
		S3Region:          cfg.S3Region,
		S3Bucket:          cfg.S3Bucket,
		S3AccessKey:       cfg.S3AccessKey,
		S3SecretKey:       cfg.S3SecretKey,
		R2AccountID:       cfg.R2AccountID,
		R2AccessKeyID:     cfg.R2AccessKeyID,
		R2AccessKeySecret: cfg.R2AccessKeySecret,
		R2BucketName:      cfg.R2BucketName,
		R2PublicURL:       cfg.R2PublicURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create manifest storage")
	}

	jwtService := jwt.NewService(cfg.JWTSecret, accessTokenTTL)

	// ---------- Repositories ----------
	termRepo := term.NewRepository(db)
	cardRepo := scratchcard.NewRepository(db)

	// ---------- Services ----------
	termService := term.NewService(termRepo)
	cardService := scratchcard.NewService(cardRepo, publisher, manifests, scratchcard.Policy{
		AllowUnscopedTerm:     cfg.CardAllowUnscopedTerm,
		BindStudentOnFirstUse: cfg.CardBindStudent,
	})

	// ---------- Handlers ----------
	cardHandler := scratchcard.NewHandler(cardService, termService)

	r := newRouter(cfg.AllowedOrigins, middleware.Auth(jwtService), limiter, cardHandler, func(w http.ResponseWriter, r *http.Request) {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			pkgresponse.ServiceUnavailable(w, "Database unavailable", time.Second)
			return
		}
		if err := database.PingRedis(pingCtx, redis); err != nil {
			// Limits fall open without Redis.
			pkgresponse.OK(w, map[string]string{"status": "degraded", "version": "1.0.0"})
			return
		}
		pkgresponse.OK(w, map[string]string{"status": "ok", "version": "1.0.0"})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func newRouter(allowedOrigins []string, authMiddleware func(http.Handler) http.Handler, limiter ratelimit.Limiter, cards *scratchcard.Handler, health http.HandlerFunc) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(allowedOrigins))

	r.Get("/health", health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/scratch-cards", cards.Routes(authMiddleware, limiter))
		r.Mount("/results", cards.ResultRoutes(authMiddleware, limiter))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Mount("/scratch-cards", cards.AdminRoutes(authMiddleware))
	})

	return r
}

func newPublisher(cfg *config.Config) events.Publisher {
	if cfg.AMQPURL == "" {
		log.Warn().Msg("AMQP_URL not set, card events are discarded")
		return events.Nop{}
	}
	p, err := events.NewProducer(cfg.AMQPURL, cfg.EventsExchange)
	if err != nil {
		log.Error().Err(err).Msg("Failed to connect to RabbitMQ, card events are discarded")
		return events.Nop{}
	}
	return p
}

func pruneLoop(ctx context.Context, l *ratelimit.LocalLimiter) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Prune(); n > 0 {
				log.Debug().Int("buckets", n).Msg("Pruned idle attempt buckets")
			}
		}
	}
}
