package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/illmade-knight/go-eventsink/pkg/config"
	"github.com/illmade-knight/go-eventsink/pkg/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("EVENTSINK_CONFIG"), "path to an optional YAML config file")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "sinkworker").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration.")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	subCfg := broker.LoadDefaultSubscriberConfig(cfg.Brokers, cfg.Worker.GroupID)
	subCfg.StartFrom = cfg.Worker.StartFrom
	subCfg.StopGrace = cfg.Worker.StopGrace
	subscriber, err := broker.NewSubscriber(subCfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the broker.")
	}

	worker, err := service.NewWorker(cfg, subscriber, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to construct worker.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start worker.")
	}

	<-ctx.Done()
	logger.Info().Msg("Termination signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.StopGrace)
	defer cancel()
	if err := worker.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown completed with errors.")
		os.Exit(1)
	}
}
