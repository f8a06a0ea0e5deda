package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"trendtrader/api"
	"trendtrader/internal/config"
	"trendtrader/internal/store"
	"trendtrader/pkg/trader"
	"trendtrader/pkg/upbit"
)

var (
	cfgFile string
	paper   bool
	logger  *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "trend-trader",
		Short: "Unattended spot trend trading engine",
		Long:  `An unattended trading engine that scans for short-term upward trends, manages a bounded set of concurrent positions, and supervises every order through its full lifecycle`,
		Run:   runTrader,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&paper, "paper", false, "simulate fills instead of sending live orders")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runTrader(cmd *cobra.Command, args []string) {
	// Credentials come from .env in development
	_ = godotenv.Load()

	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	// Load configuration
	cfg, v, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	// Strategy parameters live behind an atomically swapped snapshot so
	// edits to the config file apply without a restart.
	configs := config.NewStore(cfg.Strategy, logger)
	configs.Watch(v)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize the exchange gateway
	client := upbit.NewClient(
		cfg.Exchange.RestURL,
		cfg.Exchange.AccessKey,
		cfg.Exchange.SecretKey,
		cfg.Exchange.RateLimit,
		logger,
	)

	var gateway trader.Gateway = client
	if paper || cfg.Exchange.Paper {
		gateway = upbit.NewPaperGateway(client, cfg.Strategy.TradeAmount*float64(cfg.Strategy.MaxSlots), logger)
	}

	// Trade archive; a broken database degrades to in-memory operation.
	var recorder store.Recorder
	if sqlite, err := store.NewSQLiteRecorder(cfg.Database.Path, logger); err != nil {
		logger.WithError(err).Error("Trade archive unavailable, continuing without persistence")
		recorder = store.NewNoopRecorder()
	} else {
		recorder = sqlite
		defer sqlite.Close()
	}

	// Create the trading engine
	engine := trader.New(gateway, configs, recorder, cfg.Database.StateFile, logger)

	// Live quote stream feeds prices for held symbols
	stream := upbit.NewQuoteStream(cfg.Exchange.WsURL, engine.OnQuote, logger)
	engine.SetQuoteSubscriber(func(symbols []string) {
		if err := stream.Subscribe(symbols); err != nil {
			logger.WithError(err).Warn("Quote subscription update failed")
		}
	})
	go stream.Run(ctx)

	// Start the engine
	if err := engine.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start trading engine")
	}

	// Start API server
	apiServer := api.NewServer(engine, configs, logger, fmt.Sprintf("%d", cfg.Server.Port))
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Trend trader is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	// Graceful shutdown
	engine.Stop()
	cancel()

	logger.Info("Trend trader stopped")
}
