package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-eventsink/pkg/broker"
	"github.com/illmade-knight/go-eventsink/pkg/config"
	"github.com/illmade-knight/go-eventsink/pkg/ingest"
	"github.com/illmade-knight/go-eventsink/pkg/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("EVENTSINK_CONFIG"), "path to an optional YAML config file")
	flag.Parse()

	logger := zerolog.New(os.Stderr).With().Timestamp().Str("service", "ingestor").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid configuration.")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	publisher, err := broker.NewPublisher(broker.LoadDefaultPublisherConfig(cfg.Brokers), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the broker.")
	}

	api := ingest.NewService(ingest.ServiceConfig{
		LogTopic:    cfg.Ingest.LogTopic,
		MetricTopic: cfg.Ingest.MetricTopic,
	}, publisher, logger)

	server := service.NewServer(cfg.Ingest.HTTPPort, logger)
	api.Register(server.Mux())

	if err := server.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start HTTP server.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Msg("Termination signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown failed.")
	}
	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("Publisher close failed.")
	}
}
