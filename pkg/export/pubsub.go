package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubSubPublisher publishes each snapshot as one JSON event.
type PubSubPublisher struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewPubSubPublisher verifies that topicID exists.
func NewPubSubPublisher(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*PubSubPublisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}
	return &PubSubPublisher{
		topic:  topic,
		logger: logger.With().Str("component", "PubSubPublisher").Str("topic_id", topicID).Logger(),
	}, nil
}

// InsertBatch publishes every snapshot and waits for all results.
func (p *PubSubPublisher) InsertBatch(ctx context.Context, items []*Snapshot) error {
	results := make([]*pubsub.PublishResult, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal snapshot %s: %w", item.ID, err)
		}
		results = append(results, p.topic.Publish(ctx, &pubsub.Message{
			Data: data,
			Attributes: map[string]string{
				"code":        item.Code,
				"snapshot_id": item.ID,
			},
		}))
	}

	var errs []error
	for _, r := range results {
		if _, err := r.Get(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%d of %d snapshots failed to publish: %w", len(errs), len(items), errors.Join(errs...))
	}
	p.logger.Debug().Int("batch_size", len(items)).Msg("Published snapshot batch.")
	return nil
}

// Close flushes pending messages.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	return nil
}
