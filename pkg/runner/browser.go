package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/rs/zerolog"
)

// DefaultSyncInterval is how often the watcher reconciles the attached
// targets against the browser's open pages.
const DefaultSyncInterval = 2 * time.Second

// ConnectBrowser attaches to a running browser over its DevTools
// endpoint. The caller owns the returned handle and should Close it.
func ConnectBrowser(ctx context.Context, cdpURL string) (*rod.Browser, error) {
	if cdpURL == "" {
		return nil, fmt.Errorf("devtools url is required")
	}
	browser := rod.New().ControlURL(cdpURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser at %s: %w", cdpURL, err)
	}
	return browser, nil
}

// Watcher keeps a runner's attached targets in sync with a live
// browser: every open page becomes a target keyed by its DevTools
// target id, and closed pages are detached so their queued work fails
// fast instead of timing out.
type Watcher struct {
	browser      *rod.Browser
	runner       *Runner
	syncInterval time.Duration
	evalTimeout  time.Duration
	logger       zerolog.Logger

	attached map[string]bool
}

// WatcherConfig holds watcher configuration.
type WatcherConfig struct {
	Browser      *rod.Browser
	Runner       *Runner
	SyncInterval time.Duration
	EvalTimeout  time.Duration
	Logger       zerolog.Logger
}

// NewWatcher creates a watcher.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Browser == nil {
		return nil, fmt.Errorf("browser is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	return &Watcher{
		browser:      cfg.Browser,
		runner:       cfg.Runner,
		syncInterval: cfg.SyncInterval,
		evalTimeout:  cfg.EvalTimeout,
		logger:       cfg.Logger,
		attached:     make(map[string]bool),
	}, nil
}

// Run reconciles until ctx is done, then detaches everything. Blocking;
// run it in its own goroutine alongside Runner.Run.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.syncInterval)
	defer ticker.Stop()

	w.sync()
	for {
		select {
		case <-ctx.Done():
			for id := range w.attached {
				w.runner.Detach(id)
			}
			return
		case <-ticker.C:
			w.sync()
		}
	}
}

func (w *Watcher) sync() {
	pages, err := w.browser.Pages()
	if err != nil {
		w.logger.Warn().Err(err).Msg("Failed to list browser pages")
		return
	}

	seen := make(map[string]bool, len(pages))
	for _, page := range pages {
		id := string(page.TargetID)
		seen[id] = true
		if !w.attached[id] {
			w.runner.Attach(id, NewPageEvaluator(page, w.evalTimeout))
			w.attached[id] = true
		}
	}
	for id := range w.attached {
		if !seen[id] {
			w.runner.Detach(id)
			delete(w.attached, id)
		}
	}
}
