package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/erimias46/babrber-frontend-sub000/pkg/logging"
)

// HandlerFunc adapts a function to DeliveryHandler.
type HandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error { return f(ctx, entry) }

// Dispatcher routes outbox entries by type. Every route must succeed for the
// entry to count as delivered, so a failing route causes redelivery to all.
type Dispatcher struct {
	mu     sync.RWMutex
	routes map[string][]DeliveryHandler
	all    []DeliveryHandler
	logger *logging.Logger
}

func NewDispatcher(logger *logging.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{routes: make(map[string][]DeliveryHandler), logger: logger}
}

// On registers a handler for one event type.
func (d *Dispatcher) On(eventType string, h DeliveryHandler) *Dispatcher {
	if h == nil {
		return d
	}
	d.mu.Lock()
	d.routes[eventType] = append(d.routes[eventType], h)
	d.mu.Unlock()
	return d
}

// OnAll registers a handler for every event type.
func (d *Dispatcher) OnAll(h DeliveryHandler) *Dispatcher {
	if h == nil {
		return d
	}
	d.mu.Lock()
	d.all = append(d.all, h)
	d.mu.Unlock()
	return d
}

func (d *Dispatcher) Handle(ctx context.Context, entry OutboxEntry) error {
	d.mu.RLock()
	handlers := append(append([]DeliveryHandler(nil), d.routes[entry.Type]...), d.all...)
	d.mu.RUnlock()

	if len(handlers) == 0 {
		d.logger.Debug("outbox entry has no route", "type", entry.Type, "event_id", entry.ID)
		return nil
	}
	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Decode unmarshals an entry payload into a typed event.
func Decode[T CanonicalEvent](entry OutboxEntry) (T, error) {
	var evt T
	if err := json.Unmarshal(entry.Payload, &evt); err != nil {
		return evt, fmt.Errorf("events: decode %s: %w", entry.Type, err)
	}
	return evt, nil
}

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSForwarder publishes every entry as an Envelope to an SQS queue.
type SQSForwarder struct {
	client   sqsAPI
	queueURL string
}

// NewSQSForwarder creates a forwarder around the provided SQS client.
func NewSQSForwarder(client *sqs.Client, queueURL string) *SQSForwarder {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	return newSQSForwarder(client, queueURL)
}

func newSQSForwarder(client sqsAPI, queueURL string) *SQSForwarder {
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSForwarder{client: client, queueURL: queueURL}
}

func (f *SQSForwarder) Handle(ctx context.Context, entry OutboxEntry) error {
	body, err := json.Marshal(EnvelopeFor(entry))
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	_, err = f.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(f.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(entry.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: failed to send SQS message: %w", err)
	}
	return nil
}
