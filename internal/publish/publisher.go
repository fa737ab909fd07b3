// Package publish streams replay outcomes to NSQ so other services can follow
// a run as it happens.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/austindbirch/logreplay/internal/replay"
	"github.com/austindbirch/logreplay/internal/tracing"
)

// Producer is the part of *nsq.Producer the publisher needs.
type Producer interface {
	Publish(topic string, body []byte) error
}

// Options names the topics envelopes go to. An empty FailureTopic disables
// failure envelopes.
type Options struct {
	RunID        string
	Topic        string
	FailureTopic string
}

// Publisher is a replay.Sink publishing one envelope per outcome.
type Publisher struct {
	producer Producer
	opts     Options
	now      func() time.Time
}

func NewPublisher(producer Producer, opts Options) (*Publisher, error) {
	if producer == nil {
		return nil, errors.New("nsq producer is required")
	}
	if opts.Topic == "" {
		return nil, errors.New("result topic is required")
	}
	return &Publisher{producer: producer, opts: opts, now: time.Now}, nil
}

// Write publishes the result envelope and, for failures, the failure
// envelope. Both are attempted even if the first publish fails.
func (p *Publisher) Write(ctx context.Context, o replay.Outcome) error {
	headers := tracing.PropagateTraceToNSQ(ctx)
	if len(headers) == 0 {
		headers = nil
	}
	at := p.now()

	err := p.publish(ctx, p.opts.Topic, NewResultEnvelope(p.opts.RunID, o, at, headers))
	if o.Failed() && p.opts.FailureTopic != "" {
		err = errors.Join(err, p.publish(ctx, p.opts.FailureTopic, NewFailureEnvelope(p.opts.RunID, o, at, headers)))
	}
	return err
}

func (p *Publisher) publish(ctx context.Context, topic string, envelope any) error {
	b, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.producer.Publish(topic, b); err != nil {
		tracing.SetSpanError(ctx, err)
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	tracing.AddSpanEvent(ctx, "nsq.published", attribute.String("topic", topic))
	return nil
}

// Dial connects a producer to nsqd and checks that it answers.
func Dial(addr string) (*nsq.Producer, error) {
	conf := nsq.NewConfig()
	prod, err := nsq.NewProducer(addr, conf)
	if err != nil {
		return nil, fmt.Errorf("nsq producer: %w", err)
	}
	prod.SetLoggerLevel(nsq.LogLevelWarning)
	if err := prod.Ping(); err != nil {
		prod.Stop()
		return nil, fmt.Errorf("ping nsqd %s: %w", addr, err)
	}
	return prod, nil
}
