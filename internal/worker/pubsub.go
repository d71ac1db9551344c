package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// PubSubHandler handles Pub/Sub messages for the worker.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	runner           *JobRunner
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Runner           *JobRunner
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// One cycle runs at a time, so a deep backlog only produces skips.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 4
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		runner:           cfg.Runner,
		logger:           cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages. It blocks until ctx is done.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if HandleMessage(ctx, h.runner, h.logger.With().Str("message_id", msg.ID).Logger(), msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

// HandleMessage runs the job encoded in data and reports whether the message
// should be acknowledged. Unknown job types are acknowledged to prevent
// redelivery; malformed payloads and failed jobs are not.
func HandleMessage(ctx context.Context, runner *JobRunner, logger zerolog.Logger, data []byte) bool {
	logger.Debug().Msg("received pubsub message")

	msg, err := ParseJobMessage(data)
	if err != nil {
		logger.Error().Err(err).Msg("failed to parse message")
		return false
	}

	logger = logger.With().Str("job_type", msg.JobType).Logger()
	if msg.RequestID != "" {
		logger = logger.With().Str("request_id", msg.RequestID).Logger()
	}

	result, err := runner.Run(ctx, msg)
	switch {
	case errors.Is(err, ErrUnknownJob):
		logger.Warn().Msg("unknown job type")
		return true
	case err != nil:
		logger.Error().Err(err).Msg("job failed")
		return false
	}

	logger.Info().
		Dur("duration", result.Duration).
		Bool("skipped", result.Skipped).
		Msg("job completed successfully")
	return true
}
