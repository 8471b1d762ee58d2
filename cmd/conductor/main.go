package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smilemakc/conductor/internal/config"
	"github.com/smilemakc/conductor/internal/infrastructure/logger"
	"github.com/smilemakc/conductor/internal/infrastructure/metadata"
	"github.com/smilemakc/conductor/internal/infrastructure/monitoring"
	"github.com/smilemakc/conductor/internal/service"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to the configuration file")
		console    = flag.Bool("console", false, "Human-readable log output")
	)
	flag.Parse()

	settings, err := config.Load(*configPath)
	if err != nil {
		println("cannot load configuration:", err.Error())
		os.Exit(1)
	}

	log := logger.Setup(settings.LogLevel, *console)
	log.Info().Str("bus", settings.RabbitMQ.Host).Msg("starting conductor")

	metrics := monitoring.NewMetrics()
	if settings.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			server := &http.Server{Addr: settings.MetricsAddr, Handler: mux}
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		log.Info().Str("addr", settings.MetricsAddr).Msg("metrics listener enabled")
	}

	var journal monitoring.Journal
	if settings.EventsDSN != "" {
		store := monitoring.NewEventStore(settings.EventsDSN)
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.InitSchema(initCtx); err != nil {
			cancel()
			log.Error().Err(err).Msg("cannot initialize report journal")
			os.Exit(1)
		}
		cancel()
		defer store.Close()
		journal = store
		log.Info().Msg("report journal enabled")
	}

	var fetcher *metadata.Fetcher
	if settings.MetadataURL != "" {
		fetcher = metadata.NewFetcher(settings.MetadataURL, settings.DataDir, log)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := service.New(settings, service.DefaultClients(settings, log), fetcher,
		journal, metrics, log)
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("service stopped")
		os.Exit(1)
	}
	log.Info().Msg("conductor stopped")
}
