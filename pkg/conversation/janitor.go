package conversation

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Janitor periodically removes terminal conversations past their retention
// window. Records are process-lived otherwise; without the sweep an
// abandoned UI would leak finished conversations.
type Janitor struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
	logger    zerolog.Logger
}

// JanitorConfig holds janitor configuration.
type JanitorConfig struct {
	Store     *Store
	Retention time.Duration // how long terminal records are kept
	Interval  time.Duration // sweep cadence
	Logger    zerolog.Logger
}

// NewJanitor creates a janitor; Start schedules the sweep.
func NewJanitor(cfg JanitorConfig) (*Janitor, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}

	j := &Janitor{
		store:     cfg.Store,
		retention: cfg.Retention,
		cron:      cron.New(),
		logger:    cfg.Logger,
	}

	spec := fmt.Sprintf("@every %s", cfg.Interval)
	if _, err := j.cron.AddFunc(spec, j.sweep); err != nil {
		return nil, fmt.Errorf("failed to schedule sweep: %w", err)
	}

	return j, nil
}

// Start begins the scheduled sweeps.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info().Dur("retention", j.retention).Msg("Conversation janitor started")
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one sweep immediately.
func (j *Janitor) Sweep() int {
	return j.store.SweepTerminal(time.Now().Add(-j.retention))
}

func (j *Janitor) sweep() {
	j.Sweep()
}
