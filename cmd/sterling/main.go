package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agent-sterling-go/internal/agent"
	"github.com/agent-sterling-go/internal/api"
	"github.com/agent-sterling-go/internal/config"
	"github.com/agent-sterling-go/internal/i18n"
	"github.com/agent-sterling-go/internal/middleware"
	"github.com/agent-sterling-go/internal/notify"
	"github.com/agent-sterling-go/internal/services/storage"
	"github.com/agent-sterling-go/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string
	envFile    string
	autoStart  bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sterling",
		Short:         "Agent Sterling, an automated Mastodon persona",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to .env file")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the control API and dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(autoStart)
		},
	}
	serveCmd.Flags().BoolVar(&autoStart, "start", false, "Start the services immediately")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the services headless until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHeadless()
		},
	}

	rootCmd.AddCommand(serveCmd, runCmd)
	return rootCmd
}

type app struct {
	cfg       *config.Config
	log       *logrus.Logger
	processor *agent.Processor
	ledger    storage.Ledger
	telegram  *notify.TelegramHook
}

func bootstrap() (*app, error) {
	// A missing .env file is fine
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load %s: %v\n", envFile, err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	feed := agent.NewLogFeed()
	log.AddHook(feed)

	a := &app{cfg: cfg, log: log}
	if cfg.Notify.Telegram.Enabled {
		hook, err := notify.NewTelegramHook(cfg.Notify.Telegram)
		if err != nil {
			log.WithError(err).Warn("Telegram notifications disabled")
		} else {
			log.AddHook(hook)
			a.telegram = hook
		}
	}

	metrics := middleware.NewMetrics()
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	ledger, err := storage.NewLedger(cfg, log, metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.ledger = ledger

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("failed to initialize i18n: %w", err)
	}

	a.processor = agent.NewProcessor(agent.Options{
		Config:    cfg,
		Logger:    log,
		Metrics:   metrics,
		Ledger:    ledger,
		Feed:      feed,
		Localizer: localizer,
	})
	return a, nil
}

func (a *app) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if a.processor.Running() {
		if err := a.processor.Stop(ctx); err != nil {
			a.log.WithError(err).Error("Failed to stop processor")
		}
	}
	if err := a.ledger.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close storage")
	}
	a.log.Info("Agent Sterling stopped")
	if a.telegram != nil {
		a.telegram.Close()
	}
}

func serve(start bool) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if start {
		if err := a.processor.Start(ctx, agent.StartRequest{}); err != nil {
			a.log.WithError(err).Error("Failed to start processor")
		}
	}

	server := api.NewServer(a.processor, a.cfg.Server.StaticDir, a.log)
	return server.ListenAndServe(ctx, a.cfg.Server.Port)
}

func runHeadless() error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.processor.Start(ctx, agent.StartRequest{}); err != nil {
		return fmt.Errorf("failed to start processor: %w", err)
	}

	<-ctx.Done()
	a.log.Info("Shutdown signal received")
	return nil
}
