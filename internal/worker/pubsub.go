package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
)

// ErrUnknownJobType is returned by Dispatch for job types it does not handle.
// Such messages are acked so they are not redelivered.
var ErrUnknownJobType = errors.New("unknown job type")

// ErrMalformedMessage is returned by Dispatch when the payload is not a valid OpsMessage.
var ErrMalformedMessage = errors.New("malformed ops message")

// OpsMessage is an operator command.
type OpsMessage struct {
	JobType     string `json:"job_type"`
	RequestedBy string `json:"requested_by,omitempty"`
}

// Resetter clears the storage resilience state.
type Resetter interface {
	Reset()
}

// Dispatcher runs operator commands.
type Dispatcher struct {
	refresher *HealthRefresher
	storage   Resetter
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher that probes with refresher and resets storage.
func NewDispatcher(refresher *HealthRefresher, storage Resetter, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{refresher: refresher, storage: storage, logger: logger}
}

// Dispatch parses data and runs the command it names.
func (d *Dispatcher) Dispatch(ctx context.Context, data []byte) (string, error) {
	var msg OpsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch msg.JobType {
	case JobHealthCheck:
		return msg.JobType, d.healthCheck(ctx)
	case JobResetStorage:
		d.storage.Reset()
		d.logger.Warn().
			Str("requested_by", msg.RequestedBy).
			Msg("storage resilience state reset by operator")
		return msg.JobType, nil
	default:
		return msg.JobType, fmt.Errorf("%w: %q", ErrUnknownJobType, msg.JobType)
	}
}

func (d *Dispatcher) healthCheck(ctx context.Context) error {
	result := d.refresher.Run(ctx)
	if !result.Usable() {
		return errors.New("health check failed: no usable storage")
	}
	return nil
}

// PubSubHandler receives operator commands from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	dispatcher       *Dispatcher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	Dispatcher       *Dispatcher
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Commands run one at a time.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 1
	subscriber.ReceiveSettings.MaxExtension = 2 * time.Minute

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		dispatcher:       cfg.Dispatcher,
		logger:           cfg.Logger,
	}, nil
}

// Start processes messages until ctx is cancelled.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub ops handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	jobType, err := h.dispatcher.Dispatch(ctx, msg.Data)
	if Acknowledge(err) {
		if err != nil {
			logger.Warn().Err(err).Msg("ignoring ops message")
		} else {
			logger.Info().
				Str("job_type", jobType).
				Dur("duration", time.Since(startTime)).
				Msg("ops job completed")
		}
		msg.Ack()
		return
	}

	logger.Error().Err(err).Str("job_type", jobType).Msg("ops job failed")
	msg.Nack()
}

// Acknowledge reports whether a message whose dispatch returned err should be acked.
// Unknown job types are acked; malformed payloads and failed jobs are redelivered.
func Acknowledge(err error) bool {
	return err == nil || errors.Is(err, ErrUnknownJobType)
}
