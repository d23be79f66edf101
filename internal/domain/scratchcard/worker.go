package scratchcard

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

const sweepTimeout = 30 * time.Second

// ExpiryWorker runs the expiry sweep on a cron schedule.
type ExpiryWorker struct {
	svc  *Service
	cron *cron.Cron
}

// NewExpiryWorker schedules the sweep. schedule accepts standard cron
// expressions and descriptors such as "@every 15m".
func NewExpiryWorker(svc *Service, schedule string) (*ExpiryWorker, error) {
	l := log.With().Str("component", "card_expiry").Logger()
	cronLog := cron.PrintfLogger(&l)

	w := &ExpiryWorker{
		svc: svc,
		cron: cron.New(
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
	}
	if _, err := w.cron.AddFunc(schedule, w.sweep); err != nil {
		return nil, fmt.Errorf("invalid expiry schedule %q: %w", schedule, err)
	}
	return w, nil
}

// Start runs one sweep immediately and then follows the schedule.
func (w *ExpiryWorker) Start() {
	log.Info().Msg("Starting card expiry worker...")
	go w.sweep()
	w.cron.Start()
}

// Stop waits for a running sweep to finish.
func (w *ExpiryWorker) Stop() {
	log.Info().Msg("Stopping card expiry worker...")
	<-w.cron.Stop().Done()
}

func (w *ExpiryWorker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	count, err := w.svc.ExpireDue(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire scratch cards")
		return
	}
	if count > 0 {
		log.Info().Int("count", count).Msg("Expired scratch cards")
	}
}
