package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/halcyon-sec/vigil/internal/config"
	"github.com/halcyon-sec/vigil/internal/logger"
	"github.com/halcyon-sec/vigil/internal/observability"
	"github.com/halcyon-sec/vigil/pkg/conversation"
	"github.com/halcyon-sec/vigil/pkg/gateway"
	"github.com/halcyon-sec/vigil/pkg/modelclient"
	"github.com/halcyon-sec/vigil/pkg/netcache"
	"github.com/halcyon-sec/vigil/pkg/orchestrator"
	"github.com/halcyon-sec/vigil/pkg/runner"
	"github.com/halcyon-sec/vigil/pkg/scriptqueue"
	"github.com/halcyon-sec/vigil/pkg/tools"
)

const defaultSystemPrompt = `You are a security analyst examining the network
traffic of a web application. Use the capture tools to inspect requests and
responses, and the script tools to probe the live page. Report findings
concretely, citing the requests they came from.`

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Vigil gateway",
	Long: `Start the Vigil gateway in the foreground.
The gateway accepts network captures, serves conversation requests, and
brokers in-page script execution until interrupted.`,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := config.NewValidator().Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Logging.Level
	if cmd.Flags().Changed("log-level") || level == "" {
		level = logLevel
	}
	log, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := observability.InitAuditLogger(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer observability.GetAuditLogger().Close()

	cache := netcache.NewMemoryCache(cfg.Cache.Capacity)
	queue := scriptqueue.New(scriptqueue.Config{
		Timeout: cfg.ScriptTimeout(),
		Logger:  zl,
	})

	executor := tools.NewExecutor(zl)
	if err := tools.RegisterNetworkTools(executor, cache); err != nil {
		return fmt.Errorf("failed to register network tools: %w", err)
	}
	if err := tools.RegisterScriptTools(executor, queue, cache); err != nil {
		return fmt.Errorf("failed to register script tools: %w", err)
	}

	model, err := modelclient.New(modelclient.Config{
		APIKey:  cfg.Model.APIKey,
		BaseURL: cfg.Model.BaseURL,
		Model:   cfg.Model.Model,
		Logger:  zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	store := conversation.NewStore(zl)
	systemPrompt := cfg.Model.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	orch, err := orchestrator.New(orchestrator.Config{
		Store:         store,
		Model:         orchestrator.NewModelStreamer(model),
		Executor:      executor,
		Logger:        zl,
		SystemPrompt:  systemPrompt,
		MaxTurns:      cfg.Conversation.MaxTurns,
		MaxHistory:    cfg.Conversation.MaxHistoryMessages,
		MaxTokens:     cfg.Model.MaxTokens,
		LoopThreshold: cfg.Conversation.LoopThreshold,
		Temperature:   cfg.Model.Temperature,
	})
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	janitor, err := conversation.NewJanitor(conversation.JanitorConfig{
		Store:     store,
		Retention: cfg.Retention(),
		Interval:  cfg.SweepInterval(),
		Logger:    zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create janitor: %w", err)
	}

	server, err := gateway.NewServer(gateway.Config{
		Addr:         cfg.Gateway.Addr,
		SharedSecret: cfg.Gateway.SharedSecret,
		Orchestrator: orch,
		Queue:        queue,
		Cache:        cache,
		Logger:       zl,
	})
	if err != nil {
		return fmt.Errorf("failed to create gateway: %w", err)
	}

	// With a DevTools URL configured the gateway drives the pages itself;
	// otherwise script jobs wait for a websocket runner to connect.
	runnerCtx, stopRunner := context.WithCancel(cmd.Context())
	defer stopRunner()
	var runnerWG sync.WaitGroup
	if cfg.Browser.CDPUrl != "" {
		browser, err := runner.ConnectBrowser(runnerCtx, cfg.Browser.CDPUrl)
		if err != nil {
			return err
		}
		defer browser.Close()

		pageRunner, err := runner.New(runner.Config{Queue: queue, Logger: zl})
		if err != nil {
			return fmt.Errorf("failed to create runner: %w", err)
		}
		watcher, err := runner.NewWatcher(runner.WatcherConfig{
			Browser:     browser,
			Runner:      pageRunner,
			EvalTimeout: cfg.ScriptTimeout(),
			Logger:      zl,
		})
		if err != nil {
			return fmt.Errorf("failed to create browser watcher: %w", err)
		}

		runnerWG.Add(2)
		go func() {
			defer runnerWG.Done()
			pageRunner.Run(runnerCtx)
		}()
		go func() {
			defer runnerWG.Done()
			watcher.Run(runnerCtx)
		}()
		log.Info().Str("cdp_url", cfg.Browser.CDPUrl).Msg("In-process page runner attached")
	}

	janitor.Start()
	if err := server.Start(); err != nil {
		janitor.Stop()
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	log.Info().Str("addr", cfg.Gateway.Addr).Msg("Vigil gateway started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	log.Info().Msg("Shutting down")

	// Stop taking new work, then unwind in dependency order: the gateway
	// first so no handler enqueues into a closed queue, then the loops.
	if err := server.Stop(); err != nil {
		log.Warn().Err(err).Msg("Gateway shutdown reported an error")
	}
	orch.AbortAll()
	orch.Wait()
	stopRunner()
	runnerWG.Wait()
	queue.Close()
	janitor.Stop()

	log.Info().Msg("Vigil gateway stopped")
	return nil
}
