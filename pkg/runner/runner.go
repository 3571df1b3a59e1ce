package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/halcyon-sec/vigil/pkg/scriptqueue"
)

// DefaultPollInterval is how often the runner checks each attached
// target's queue.
const DefaultPollInterval = 100 * time.Millisecond

// Evaluator runs a script against one page and returns the combined
// result string, console logs included.
type Evaluator interface {
	Eval(ctx context.Context, code string) (string, error)
}

// Runner is the in-process reference consumer of the script queue: it
// polls per-target FIFOs, evaluates dequeued snippets, and pushes results
// back. The production consumer is a page-side runner behind the gateway
// websocket; this one drives a local page for development and tests.
type Runner struct {
	queue        *scriptqueue.Queue
	pollInterval time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	targets map[string]Evaluator
}

// Config holds runner configuration.
type Config struct {
	Queue        *scriptqueue.Queue
	PollInterval time.Duration
	Logger       zerolog.Logger
}

// New creates a runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("script queue is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Runner{
		queue:        cfg.Queue,
		pollInterval: cfg.PollInterval,
		logger:       cfg.Logger,
		targets:      make(map[string]Evaluator),
	}, nil
}

// Attach registers a target's evaluator. A second attach for the same
// target replaces the first.
func (r *Runner) Attach(targetID string, eval Evaluator) {
	r.mu.Lock()
	r.targets[targetID] = eval
	r.mu.Unlock()
	r.logger.Info().Str("target_id", targetID).Msg("Target attached")
}

// Detach removes a target and rejects its pending executions.
func (r *Runner) Detach(targetID string) {
	r.mu.Lock()
	delete(r.targets, targetID)
	r.mu.Unlock()
	r.queue.CancelTarget(targetID)
	r.logger.Info().Str("target_id", targetID).Msg("Target detached")
}

// Run polls until ctx is done. Blocking; run it in its own goroutine.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drainOnce(ctx)
		}
	}
}

// drainOnce serves at most one job per attached target.
func (r *Runner) drainOnce(ctx context.Context) {
	r.mu.Lock()
	targets := make(map[string]Evaluator, len(r.targets))
	for id, eval := range r.targets {
		targets[id] = eval
	}
	r.mu.Unlock()

	for targetID, eval := range targets {
		job, ok := r.queue.Dequeue(targetID)
		if !ok {
			continue
		}

		result, err := eval.Eval(ctx, job.Code)
		if err != nil {
			r.logger.Debug().
				Str("execution_id", job.ID).
				Str("target_id", targetID).
				Err(err).
				Msg("Script evaluation failed")
			r.queue.Reject(job.ID, err.Error())
			continue
		}
		r.queue.Resolve(job.ID, result)
	}
}
