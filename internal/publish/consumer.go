package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/logreplay/internal/logging"
	"github.com/austindbirch/logreplay/internal/tracing"
)

// Received is a result or failure envelope read back from a topic. The
// failure fields are empty for replay.result messages.
type Received struct {
	Type       string `json:"type"`
	Version    string `json:"version"`
	At         string `json:"at"`
	Kind       string `json:"kind,omitempty"`
	HTTPStatus int    `json:"http_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	Result     Result `json:"result"`

	TraceHeaders map[string]string `json:"trace_headers,omitempty"`
}

// Handler decodes envelopes from an NSQ consumer and passes them to fn.
// Undecodable or unknown payloads are logged and finished, never requeued.
// An error from fn requeues the message.
type Handler struct {
	fn     func(context.Context, Received) error
	logger *logging.Logger
}

var _ nsq.Handler = (*Handler)(nil)

func NewHandler(fn func(context.Context, Received) error, logger *logging.Logger) *Handler {
	return &Handler{fn: fn, logger: logger}
}

func (h *Handler) HandleMessage(m *nsq.Message) error {
	var r Received
	if err := json.Unmarshal(m.Body, &r); err != nil {
		h.logger.Plain().WithError(err).Error("bad envelope payload")
		return nil // terminal: don't retry bad payloads
	}
	if (r.Type != ResultType && r.Type != FailureType) || r.Version != Version {
		h.logger.Plain().WithFields(map[string]any{"type": r.Type, "version": r.Version}).Warn("unknown envelope")
		return nil
	}

	// Extract trace context from the envelope and start span
	ctx := tracing.ExtractTraceFromNSQ(context.Background(), r.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "replay.consume",
		attribute.String("run_id", r.Result.RunID),
		attribute.Int64("seq", r.Result.Seq),
		attribute.String("envelope.type", r.Type),
	)
	defer span.End()

	if err := h.fn(ctx, r); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("handle %s seq %d: %w", r.Type, r.Result.Seq, err)
	}
	return nil
}

// NewConsumer subscribes h to topic on channel. Call Connect to start it.
func NewConsumer(topic, channel string, maxInFlight int, h *Handler) (*nsq.Consumer, error) {
	conf := nsq.NewConfig()
	conf.MaxInFlight = maxInFlight
	consumer, err := nsq.NewConsumer(topic, channel, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq consumer: %w", err)
	}
	consumer.SetLoggerLevel(nsq.LogLevelWarning)
	consumer.AddHandler(h)
	return consumer, nil
}

// Connect attaches the consumer to nsqd directly, or through lookupd when
// an nsqlookupd HTTP address is given.
func Connect(consumer *nsq.Consumer, nsqdAddr, lookupdAddr string) error {
	if lookupdAddr != "" {
		if err := consumer.ConnectToNSQLookupd(lookupdAddr); err != nil {
			return fmt.Errorf("connect to lookupd: %w", err)
		}
		return nil
	}
	// Connecting directly to nsqd creates the channel up front
	if err := consumer.ConnectToNSQD(nsqdAddr); err != nil {
		return fmt.Errorf("connect to nsqd: %w", err)
	}
	return nil
}
