// Command worldstats serves the combined country statistics API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/go-worldstats/pkg/api"
	"github.com/illmade-knight/go-worldstats/pkg/cache"
	"github.com/illmade-knight/go-worldstats/pkg/config"
	"github.com/illmade-knight/go-worldstats/pkg/country"
	"github.com/illmade-knight/go-worldstats/pkg/enrichment"
	"github.com/illmade-knight/go-worldstats/pkg/metrics"
	"github.com/illmade-knight/go-worldstats/pkg/microservice"
	"github.com/illmade-knight/go-worldstats/pkg/upstream"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worldstats exited with error")
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.LogPretty {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "world-data-explorer-backend").Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Background workers outlive the signal so Stop can drain them.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()

	clock := clockwork.NewRealClock()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	memory := cache.NewMemoryCache(cache.MemoryConfig{
		MaxEntries:   cfg.Cache.MaxEntries,
		CleanupEvery: cfg.Cache.CleanupEvery,
	}, clock)
	memory.StartJanitor(workCtx)

	storeOpts := []cache.StoreOption{cache.WithMetrics(m), cache.WithWriteTimeout(cfg.Cache.WriteTimeout)}
	durable, err := newDurableStore(ctx, cfg, clock, logger)
	if err != nil {
		return err
	}
	if durable != nil {
		storeOpts = append(storeOpts, cache.WithDurable(durable))
	}
	store := cache.NewStore(memory, logger, storeOpts...)
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close cache store")
		}
	}()

	client := upstream.NewClient(upstream.ClientConfig{
		Timeout:       cfg.Upstream.Timeout,
		UserAgent:     cfg.Upstream.UserAgent,
		RatePerSecond: cfg.Upstream.RatePerSecond,
		Burst:         cfg.Upstream.Burst,
	}, &http.Client{}, m, logger)
	fetchers := upstream.NewFetchers(client, upstream.Endpoints{
		RestCountries: cfg.Upstream.RestCountries,
		WorldBank:     cfg.Upstream.WorldBank,
		OWID:          cfg.Upstream.OWID,
		Wikidata:      cfg.Upstream.Wikidata,
	}, store, logger)

	aggOpts := []country.Option{
		country.WithClock(clock),
		country.WithMetrics(m),
		country.WithEnrichment(enrichment.QueueConfig{
			NumWorkers:  cfg.Enrichment.Workers,
			QueueSize:   cfg.Enrichment.QueueSize,
			TaskTimeout: cfg.Enrichment.TaskTimeout,
		}),
	}
	exporter, closeExport, err := newExporter(ctx, cfg, clock, m, logger)
	if err != nil {
		return err
	}
	defer closeExport()
	if exporter != nil {
		aggOpts = append(aggOpts, country.WithExporter(exporter))
	}

	aggregator, err := country.NewAggregator(fetchers, store, logger, aggOpts...)
	if err != nil {
		return err
	}
	aggregator.Start(workCtx)
	if exporter != nil {
		exporter.Start(workCtx)
	}

	handler := api.New(aggregator, registry, cfg.RequestTimeout, logger)
	server := microservice.New(microservice.ServerConfig{
		Addr:              cfg.Addr(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       120 * time.Second,
	}, handler.Routes(), logger)
	if err := server.Start(); err != nil {
		return err
	}

	if cfg.Prefetch.Enabled {
		prefetcher := country.NewPrefetcher(aggregator, country.PrefetchConfig{
			Regions:     cfg.Prefetch.Regions,
			Concurrency: cfg.Prefetch.Concurrency,
			Pace:        cfg.Prefetch.Pace,
		}, logger)
		go func() {
			warmed, err := prefetcher.Run(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn().Err(err).Msg("Prefetch stopped early")
				return
			}
			logger.Info().Int("countries", warmed).Msg("Prefetch finished")
		}()
	}

	logger.Info().Str("addr", server.Addr()).Msg("worldstats is running")
	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case serveErr = <-server.Errors():
		logger.Error().Err(serveErr).Msg("Server stopped, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	errs := []error{serveErr}
	if err := server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := aggregator.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if exporter != nil {
		if err := exporter.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
