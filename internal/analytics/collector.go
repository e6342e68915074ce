// Package analytics publishes suggest telemetry events to Kafka for offline
// analysis of latency, cache behavior, and provider coverage. Events are
// buffered and dropped under backpressure; telemetry never slows a request.
package analytics

import (
	"context"
	"log/slog"
	"time"

	"github.com/mozilla-services/merino/pkg/kafka"
	"github.com/mozilla-services/merino/pkg/logger"
)

// SuggestEvent describes one served suggestion request.
type SuggestEvent struct {
	RequestID      string    `json:"request_id"`
	Providers      []string  `json:"providers,omitempty"`
	ClientVariants []string  `json:"client_variants,omitempty"`
	AcceptsEnglish bool      `json:"accepts_english"`
	Country        string    `json:"country,omitempty"`
	FormFactor     string    `json:"form_factor,omitempty"`
	SuggestionsN   int       `json:"suggestions"`
	CacheStatus    string    `json:"cache_status"`
	LatencyMs      int64     `json:"latency_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// Collector buffers events and publishes them in the background.
type Collector struct {
	producer *kafka.Producer
	eventCh  chan SuggestEvent
	logger   *slog.Logger
	done     chan struct{}
}

// NewCollector creates a Collector with the given buffer size.
func NewCollector(producer *kafka.Producer, bufferSize int) *Collector {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	return &Collector{
		producer: producer,
		eventCh:  make(chan SuggestEvent, bufferSize),
		logger:   logger.WithComponent("analytics-collector"),
		done:     make(chan struct{}),
	}
}

// Start launches the publishing goroutine. It drains remaining events when
// ctx is cancelled.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for {
			select {
			case event, ok := <-c.eventCh:
				if !ok {
					return
				}
				c.publish(ctx, event)
			case <-ctx.Done():
				c.drainRemaining()
				return
			}
		}
	}()
	c.logger.Info("analytics collector started", "buffer_size", cap(c.eventCh))
}

// Track enqueues an event, dropping it if the buffer is full.
func (c *Collector) Track(event SuggestEvent) {
	select {
	case c.eventCh <- event:
	default:
		c.logger.Warn("suggest event dropped (buffer full)")
	}
}

// Close stops accepting events and waits for the publisher to finish.
func (c *Collector) Close() {
	close(c.eventCh)
	<-c.done
}

func (c *Collector) publish(ctx context.Context, event SuggestEvent) {
	if err := c.producer.Publish(ctx, kafka.Event{Key: "suggest", Value: event}); err != nil {
		c.logger.Error("failed to publish suggest event", "error", err)
	}
}

func (c *Collector) drainRemaining() {
	for {
		select {
		case event, ok := <-c.eventCh:
			if !ok {
				return
			}
			c.publish(context.Background(), event)
		default:
			return
		}
	}
}
