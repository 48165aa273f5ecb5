// Package queue moves inbound activities through Kafka: the ingress publishes
// raw bodies, and a pool of processors hands them to the inbox.
package queue

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/MbinOrg/mbin-sub001/activitypub"
	"github.com/segmentio/kafka-go"
)

// Header keys set on dead-lettered messages.
const (
	HeaderError       = "dlq_error"
	HeaderAttempts    = "dlq_attempts"
	HeaderSourceTopic = "dlq_source_topic"
	HeaderOffset      = "dlq_source_offset"
)

// Reader exposes the minimal kafka.Reader interface needed by the processor.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler applies one raw activity. *activitypub.Inbox satisfies it.
type Handler interface {
	Process(ctx context.Context, raw []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, raw []byte) error

func (f HandlerFunc) Process(ctx context.Context, raw []byte) error { return f(ctx, raw) }

// Writer writes messages to a topic. *Publisher satisfies it.
type Writer interface {
	WriteMessages(ctx context.Context, topic string, msgs ...kafka.Message) error
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetry sets how often a retryable failure is attempted and the
// exponential backoff between attempts.
func WithRetry(maxAttempts int, base, ceiling time.Duration) Option {
	return func(p *Processor) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if base > 0 {
			p.backoffBase = base
		}
		if ceiling > 0 {
			p.backoffMax = ceiling
		}
	}
}

// WithDeadLetter sends messages that exhaust their retries to topic.
func WithDeadLetter(w Writer, topic string) Option {
	return func(p *Processor) {
		p.dlq = w
		p.dlqTopic = topic
	}
}

// Processor pulls activities from Kafka and applies them with a Handler.
// Acked and discarded messages are committed; retryable failures are retried
// in place and dead-lettered once attempts run out.
type Processor struct {
	reader      Reader
	handler     Handler
	logger      *log.Logger
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	dlq         Writer
	dlqTopic    string
	sleep       func(context.Context, time.Duration) error
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:      reader,
		handler:     handler,
		logger:      log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		maxAttempts: 5,
		backoffBase: 500 * time.Millisecond,
		backoffMax:  30 * time.Second,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run starts a blocking loop that processes Kafka messages until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return err
			}
			p.logger.Printf("fetch error: %v", err)
			continue
		}

		if err := p.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// handle processes msg to completion. It only returns an error when ctx is
// done, in which case the message is left uncommitted.
func (p *Processor) handle(ctx context.Context, msg kafka.Message) error {
	for attempt := 1; ; attempt++ {
		err := p.handler.Process(ctx, msg.Value)

		switch activitypub.Classify(err) {
		case activitypub.DispositionAck:
			p.commit(ctx, msg)
			recordMessage(msg, "ack")
			return nil

		case activitypub.DispositionDiscard:
			p.logger.Printf("discarding message (topic=%s, partition=%d, offset=%d): %v", msg.Topic, msg.Partition, msg.Offset, err)
			p.commit(ctx, msg)
			recordMessage(msg, "discard")
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}
		if attempt >= p.maxAttempts {
			p.deadLetter(ctx, msg, err, attempt)
			return nil
		}

		delay := p.backoff(attempt)
		p.logger.Printf("retrying message (offset=%d, attempt=%d) in %s: %v", msg.Offset, attempt, delay, err)
		recordRetry(msg.Topic)
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (p *Processor) deadLetter(ctx context.Context, msg kafka.Message, cause error, attempts int) {
	if p.dlq == nil {
		p.logger.Printf("giving up on message (offset=%d) after %d attempts: %v", msg.Offset, attempts, cause)
		p.commit(ctx, msg)
		recordMessage(msg, "dropped")
		return
	}

	headers := append([]kafka.Header{}, msg.Headers...)
	headers = append(headers,
		kafka.Header{Key: HeaderError, Value: []byte(cause.Error())},
		kafka.Header{Key: HeaderAttempts, Value: []byte(strconv.Itoa(attempts))},
		kafka.Header{Key: HeaderSourceTopic, Value: []byte(msg.Topic)},
		kafka.Header{Key: HeaderOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
	)
	dead := kafka.Message{Key: msg.Key, Value: msg.Value, Headers: headers}

	if err := p.dlq.WriteMessages(ctx, p.dlqTopic, dead); err != nil {
		// Left uncommitted so it is seen again after a rebalance.
		p.logger.Printf("dead letter error (offset=%d): %v", msg.Offset, err)
		recordMessage(msg, "dead_letter_failed")
		return
	}
	p.commit(ctx, msg)
	recordMessage(msg, "dead_letter")
}

func (p *Processor) commit(ctx context.Context, msg kafka.Message) {
	if err := p.reader.CommitMessages(ctx, msg); err != nil {
		p.logger.Printf("commit error: %v", err)
	}
}

// backoff doubles from backoffBase and is capped at backoffMax.
func (p *Processor) backoff(attempt int) time.Duration {
	d := p.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.backoffMax {
			return p.backoffMax
		}
	}
	return min(d, p.backoffMax)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
