// Package pubsub publishes item outcomes to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobfeed-publisher/internal/crawl"
	"github.com/JakeFAU/jobfeed-publisher/internal/logging"
)

// Publisher sends one JSON message per outcome.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger *zap.Logger
}

// New wraps an existing topic handle. The caller owns the client.
func New(topic *pubsub.Topic, logger *zap.Logger) *Publisher {
	return &Publisher{topic: topic, logger: logging.OrNop(logger).Named("notify")}
}

// Dial connects with Application Default Credentials and verifies the topic exists.
func Dial(ctx context.Context, projectID, topicID string, logger *zap.Logger) (*Publisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil || !exists {
		if closeErr := client.Close(); closeErr != nil {
			logging.OrNop(logger).Warn("close pubsub client failed", zap.Error(closeErr))
		}
		if err != nil {
			return nil, fmt.Errorf("check topic %q: %w", topicID, err)
		}
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	p := New(topic, logger)
	p.client = client
	return p, nil
}

// Notify publishes o and waits for the server ack.
func (p *Publisher) Notify(ctx context.Context, o crawl.Outcome) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"run_id": o.RunID,
			"status": string(o.Status),
		},
	}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	p.logger.Debug("outcome published", zap.String("message_id", id), zap.String("url", o.URL))
	return nil
}

// Close flushes pending messages and releases the client when Dial created it.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}
