package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-worldstats/pkg/cache"
	"github.com/illmade-knight/go-worldstats/pkg/config"
	"github.com/illmade-knight/go-worldstats/pkg/export"
	"github.com/illmade-knight/go-worldstats/pkg/metrics"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

func clientOptions(cfg *config.Config) []option.ClientOption {
	if cfg.CredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(cfg.CredentialsFile)}
}

// newDurableStore returns nil for the memory-only backend.
func newDurableStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger zerolog.Logger) (cache.DurableStore, error) {
	switch cfg.Cache.Backend {
	case config.BackendRedis:
		return cache.NewRedisStore(ctx, &cache.RedisConfig{
			URL:       cfg.Cache.RedisURL,
			Addr:      cfg.Cache.RedisAddr,
			Password:  cfg.Cache.RedisPassword,
			DB:        cfg.Cache.RedisDB,
			KeyPrefix: cfg.Cache.KeyPrefix,
		}, clock, logger)
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("firestore.NewClient: %w", err)
		}
		return cache.NewFirestoreStore(&cache.FirestoreConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: cfg.Cache.FirestoreCollection,
		}, client, clock, logger)
	case config.BackendSQLite:
		return cache.OpenSQLiteStore(cfg.Cache.SQLitePath, clock, logger)
	case config.BackendPostgres:
		return cache.NewPostgresStore(ctx, cfg.Cache.PostgresDSN, clock, logger)
	default:
		logger.Info().Msg("No durable cache configured, using memory only.")
		return nil, nil
	}
}

// newExporter builds the snapshot exporter. It returns nil when no sink is
// configured. The returned cleanup closes clients the batchers do not own.
func newExporter(ctx context.Context, cfg *config.Config, clock clockwork.Clock, m *metrics.Metrics, logger zerolog.Logger) (*export.RecordExporter, func(), error) {
	cleanup := func() {}
	if !cfg.Export.Enabled() {
		return nil, cleanup, nil
	}

	batcherCfg := func(sink string) export.BatcherConfig {
		return export.BatcherConfig{
			Sink:          sink,
			BatchSize:     cfg.Export.BatchSize,
			FlushInterval: cfg.Export.FlushInterval,
			InsertTimeout: cfg.Export.InsertTimeout,
		}
	}

	var batchers []*export.Batcher[export.Snapshot]
	var closers []func() error

	if cfg.Export.BigQueryDataset != "" {
		bq, err := export.NewBigQueryClient(ctx, cfg.ProjectID, cfg.CredentialsFile, logger)
		if err != nil {
			return nil, cleanup, err
		}
		closers = append(closers, bq.Close)
		inserter, err := export.NewBigQueryInserter[export.Snapshot](ctx, bq, export.BigQueryConfig{
			ProjectID:       cfg.ProjectID,
			DatasetID:       cfg.Export.BigQueryDataset,
			TableID:         cfg.Export.BigQueryTable,
			CredentialsFile: cfg.CredentialsFile,
		}, logger)
		if err != nil {
			_ = bq.Close()
			return nil, cleanup, err
		}
		batchers = append(batchers, export.NewBatcher[export.Snapshot](batcherCfg("bigquery"), inserter, m, logger))
	}

	if cfg.Export.PubSubTopic != "" {
		ps, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			closeAll(closers, logger)
			return nil, cleanup, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		closers = append(closers, ps.Close)
		publisher, err := export.NewPubSubPublisher(ctx, ps, cfg.Export.PubSubTopic, logger)
		if err != nil {
			closeAll(closers, logger)
			return nil, cleanup, err
		}
		batchers = append(batchers, export.NewBatcher[export.Snapshot](batcherCfg("pubsub"), publisher, m, logger))
	}

	cleanup = func() { closeAll(closers, logger) }
	return export.NewRecordExporter(clock, logger, batchers...), cleanup, nil
}

func closeAll(closers []func() error, logger zerolog.Logger) {
	for _, c := range closers {
		if err := c(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close client")
		}
	}
}
