package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ReaderConfig describes the consumer group the pool joins.
type ReaderConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	Workers int
}

// NewKafkaReaders opens one reader per worker, all in the same group, so
// Kafka spreads the topic's partitions across them.
func NewKafkaReaders(cfg ReaderConfig) []Reader {
	n := max(cfg.Workers, 1)
	readers := make([]Reader, 0, n)
	for i := 0; i < n; i++ {
		readers = append(readers, kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			Topic:          cfg.Topic,
			MinBytes:       1e3,
			MaxBytes:       10e6,
			CommitInterval: time.Second,
		}))
	}
	return readers
}

// Pool runs one Processor per reader.
type Pool struct {
	readers    []Reader
	processors []*Processor
}

func NewPool(readers []Reader, handler Handler, opts ...Option) *Pool {
	p := &Pool{readers: readers}
	for _, r := range readers {
		p.processors = append(p.processors, NewProcessor(r, handler, opts...))
	}
	return p
}

// Run blocks until every processor has stopped, which happens once ctx is
// cancelled or a reader reports cancellation.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, proc := range p.processors {
		wg.Add(1)
		go func(proc *Processor) {
			defer wg.Done()
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				proc.logger.Printf("processor stopped: %v", err)
			}
		}(proc)
	}
	wg.Wait()
}

// Close closes every reader.
func (p *Pool) Close() error {
	var errs []error
	for _, r := range p.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
