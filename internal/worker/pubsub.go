package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/routepulse/routepulse/internal/city"
	"github.com/routepulse/routepulse/internal/insights"
	"github.com/routepulse/routepulse/internal/records"
	"github.com/routepulse/routepulse/internal/telemetry"
	"github.com/routepulse/routepulse/internal/upstream"
)

// Message types understood by the worker.
const (
	MessageCompute         = "compute"
	MessageCacheInvalidate = "cache_invalidate"
	MessageCacheWarm       = "cache_warm"
)

// Error codes carried by failed compute responses.
const (
	ErrorCodeInvalidRequest = "invalid_request"
	ErrorCodeNotFound       = "not_found"
	ErrorCodeSuperseded     = "superseded"
	ErrorCodeUnavailable    = "unavailable"
	ErrorCodeInternal       = "internal"
)

// Message is one inbound Pub/Sub message. Compute messages carry the request
// fields inline; cache_invalidate messages use cityId (empty for all cities).
type Message struct {
	Type string        `json:"type"`
	Kind insights.Kind `json:"kind,omitempty"`
	insights.Request
}

// ComputeResponse is published for every compute message. Exactly one of
// Payload and Error is set.
type ComputeResponse struct {
	RequestID string         `json:"requestId,omitempty"`
	Kind      insights.Kind  `json:"kind"`
	CityID    string         `json:"cityId"`
	RouteID   string         `json:"routeId,omitempty"`
	Payload   any            `json:"payload,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError describes a failed computation.
type ResponseError struct {
	Code    string                `json:"code"`
	Message string                `json:"message"`
	Fields  []insights.FieldIssue `json:"fields,omitempty"`
}

// Publisher delivers compute responses.
type Publisher interface {
	Publish(ctx context.Context, resp ComputeResponse) error
}

// Invalidator drops cached insights.
type Invalidator interface {
	InvalidateCity(ctx context.Context, cityID string) (int, error)
	InvalidateAll(ctx context.Context) (int, error)
}

// Insights is the service the processor dispatches to.
type Insights interface {
	Computer
	Invalidator
}

// Processor decodes and dispatches worker messages independent of transport.
type Processor struct {
	insights   Insights
	publisher  Publisher
	refreshJob *RefreshJob
	logger     zerolog.Logger
	tracer     trace.Tracer
}

// ProcessorConfig holds configuration for a Processor.
type ProcessorConfig struct {
	Insights  Insights
	Publisher Publisher

	// RefreshJob serves cache_warm messages; optional.
	RefreshJob *RefreshJob
	Logger     zerolog.Logger
}

// NewProcessor creates a new message processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	return &Processor{
		insights:   cfg.Insights,
		publisher:  cfg.Publisher,
		refreshJob: cfg.RefreshJob,
		logger:     cfg.Logger,
		tracer:     telemetry.Tracer(meterName),
	}
}

// Handle processes one message. A nil error means the message should be
// acked; an error means it should be redelivered.
func (p *Processor) Handle(ctx context.Context, data []byte) error {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// Redelivery cannot fix a malformed payload
		p.logger.Error().Err(err).Msg("failed to parse message")
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "worker."+msg.Type, trace.WithAttributes(
		attribute.String("message.type", msg.Type),
		attribute.String("city.id", msg.CityID),
		attribute.String("request.id", msg.RequestID),
	))
	defer span.End()

	var err error
	switch msg.Type {
	case MessageCompute:
		err = p.handleCompute(ctx, msg)
	case MessageCacheInvalidate:
		err = p.handleInvalidate(ctx, msg)
	case MessageCacheWarm:
		err = p.handleWarm(ctx)
	default:
		p.logger.Warn().Str("type", msg.Type).Msg("unknown message type")
		return nil // Ack unknown messages to prevent redelivery
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (p *Processor) handleCompute(ctx context.Context, msg Message) error {
	resp := ComputeResponse{
		RequestID: msg.RequestID,
		Kind:      msg.Kind,
		CityID:    msg.CityID,
		RouteID:   msg.RouteID,
	}

	payload, err := p.insights.Compute(ctx, msg.Kind, msg.Request)
	switch {
	case err == nil:
		resp.Payload = payload
	case errors.Is(err, context.Canceled):
		// Shutting down; let another instance take it
		return err
	default:
		resp.Error = responseError(err)
		p.logger.Warn().Err(err).
			Str("request_id", msg.RequestID).
			Str("kind", string(msg.Kind)).
			Str("city_id", msg.CityID).
			Str("code", resp.Error.Code).
			Msg("compute request failed")
	}

	if err := p.publisher.Publish(ctx, resp); err != nil {
		return fmt.Errorf("publishing response for %s: %w", msg.RequestID, err)
	}
	return nil
}

func (p *Processor) handleInvalidate(ctx context.Context, msg Message) error {
	var (
		n   int
		err error
	)
	if msg.CityID != "" {
		n, err = p.insights.InvalidateCity(ctx, msg.CityID)
	} else {
		n, err = p.insights.InvalidateAll(ctx)
	}
	if err != nil {
		return err
	}
	p.logger.Info().Str("city_id", msg.CityID).Int("keys", n).Msg("cache invalidated")
	return nil
}

func (p *Processor) handleWarm(ctx context.Context) error {
	if p.refreshJob == nil {
		p.logger.Warn().Msg("cache warm requested but no warm job configured")
		return nil
	}
	result, err := p.refreshJob.Run(ctx)
	if err != nil {
		return err
	}

	// Consider it successful if at most half failed.
	if result.Failed > result.Succeeded {
		return fmt.Errorf("too many warm failures: %d/%d", result.Failed, result.TotalJobs)
	}
	return nil
}

func responseError(err error) *ResponseError {
	var verr *insights.ValidationError
	switch {
	case errors.As(err, &verr):
		return &ResponseError{Code: ErrorCodeInvalidRequest, Message: "request validation failed", Fields: verr.Issues}
	case errors.Is(err, insights.ErrUnknownKind):
		return &ResponseError{Code: ErrorCodeInvalidRequest, Message: err.Error()}
	case errors.Is(err, city.ErrCityNotFound), errors.Is(err, records.ErrUnknownCity):
		return &ResponseError{Code: ErrorCodeNotFound, Message: err.Error()}
	case errors.Is(err, insights.ErrSuperseded):
		return &ResponseError{Code: ErrorCodeSuperseded, Message: err.Error()}
	case errors.Is(err, upstream.ErrCircuitOpen), errors.Is(err, city.ErrCatalogueUnavailable):
		return &ResponseError{Code: ErrorCodeUnavailable, Message: err.Error()}
	default:
		return &ResponseError{Code: ErrorCodeInternal, Message: "computation failed"}
	}
}

// TopicPublisher publishes compute responses to a Pub/Sub topic.
type TopicPublisher struct {
	publisher *pubsub.Publisher
}

// NewTopicPublisher creates a publisher for topic.
func NewTopicPublisher(client *pubsub.Client, topic string) *TopicPublisher {
	return &TopicPublisher{publisher: client.Publisher(topic)}
}

// Publish encodes resp and waits for the server to accept it.
func (t *TopicPublisher) Publish(ctx context.Context, resp ComputeResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	result := t.publisher.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"request_id": resp.RequestID,
			"kind":       string(resp.Kind),
			"city_id":    resp.CityID,
		},
	})
	_, err = result.Get(ctx)
	return err
}

// Stop flushes pending messages.
func (t *TopicPublisher) Stop() {
	t.publisher.Stop()
}

// PubSubHandler receives worker messages from a Pub/Sub subscription.
type PubSubHandler struct {
	client           *pubsub.Client
	subscriber       *pubsub.Subscriber
	subscriptionName string
	processor        *Processor
	publisher        *TopicPublisher
	logger           zerolog.Logger
}

// PubSubConfig holds configuration for the Pub/Sub handler.
type PubSubConfig struct {
	ProjectID        string
	SubscriptionName string
	ResponseTopic    string
	Insights         Insights
	RefreshJob       *RefreshJob
	Logger           zerolog.Logger
}

// NewPubSubHandler creates a new Pub/Sub handler.
func NewPubSubHandler(ctx context.Context, cfg PubSubConfig) (*PubSubHandler, error) {
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	subscriber := client.Subscriber(cfg.SubscriptionName)

	// Configure receive settings.
	subscriber.ReceiveSettings.MaxOutstandingMessages = 10
	subscriber.ReceiveSettings.MaxExtension = 10 * time.Minute

	publisher := NewTopicPublisher(client, cfg.ResponseTopic)

	return &PubSubHandler{
		client:           client,
		subscriber:       subscriber,
		subscriptionName: cfg.SubscriptionName,
		publisher:        publisher,
		processor: NewProcessor(ProcessorConfig{
			Insights:   cfg.Insights,
			Publisher:  publisher,
			RefreshJob: cfg.RefreshJob,
			Logger:     cfg.Logger,
		}),
		logger: cfg.Logger,
	}, nil
}

// Start begins processing Pub/Sub messages.
func (h *PubSubHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("subscription", h.subscriptionName).
		Msg("starting pubsub handler")

	return h.subscriber.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		h.handleMessage(ctx, msg)
	})
}

// Close flushes the response publisher and closes the Pub/Sub client.
func (h *PubSubHandler) Close() error {
	h.publisher.Stop()
	return h.client.Close()
}

func (h *PubSubHandler) handleMessage(ctx context.Context, msg *pubsub.Message) {
	startTime := time.Now()

	logger := h.logger.With().
		Str("message_id", msg.ID).
		Str("publish_time", msg.PublishTime.Format(time.RFC3339)).
		Logger()

	logger.Debug().Msg("received pubsub message")

	if err := h.processor.Handle(ctx, msg.Data); err != nil {
		logger.Error().Err(err).Msg("message failed")
		msg.Nack()
		return
	}

	logger.Debug().
		Dur("duration", time.Since(startTime)).
		Msg("message processed")
	msg.Ack()
}
