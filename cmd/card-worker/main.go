package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/scoredesk/scoredesk-api/internal/config"
	"github.com/scoredesk/scoredesk-api/internal/domain/scratchcard"
	"github.com/scoredesk/scoredesk-api/internal/pkg/database"
	"github.com/scoredesk/scoredesk-api/internal/pkg/events"
	"github.com/scoredesk/scoredesk-api/internal/pkg/logger"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to init logger")
	}

	log.Info().Str("schedule", cfg.CardExpirySchedule).Msg("Starting card-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL, database.PoolConfig{MaxOpenConns: 4})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQPURL != "" {
		p, err := events.NewProducer(cfg.AMQPURL, cfg.EventsExchange)
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to RabbitMQ, expiry events are discarded")
		} else {
			publisher = p
		}
	}
	defer publisher.Close()

	svc := scratchcard.NewService(scratchcard.NewRepository(db), publisher, nil, scratchcard.Policy{
		AllowUnscopedTerm:     cfg.CardAllowUnscopedTerm,
		BindStudentOnFirstUse: cfg.CardBindStudent,
	})

	worker, err := scratchcard.NewExpiryWorker(svc, cfg.CardExpirySchedule)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule expiry sweep")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker.Start()
	<-ctx.Done()
	log.Info().Msg("Shutdown signal received")
	worker.Stop()
	log.Info().Msg("card-worker stopped")
}
