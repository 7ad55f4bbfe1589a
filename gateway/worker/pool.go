// Package worker provides an asynchronous worker pool that publishes
// interaction events through an eventstream.Publisher.
//
// The pool decouples event delivery from the gateway's HTTP hot path so that a
// slow or unreachable broker never delays a client response.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/switchboard/pkg/eventstream"
)

var (
	defaultNumWorkers     uint = 3
	defaultJobQueueSize   uint = 256
	defaultPublishTimeout      = 10 * time.Second
)

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher receives every dequeued event.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// PublishTimeout bounds a single publish call (defaults to 10s).
	PublishTimeout time.Duration

	// OnDrop is called for every event rejected by a full queue.
	OnDrop func(*eventstream.InteractionEvent)

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool publishes interaction events asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan *eventstream.InteractionEvent
	wg     sync.WaitGroup
	logger *zap.Logger

	// closeMu guards closed so Enqueue never sends on a closed channel.
	closeMu sync.RWMutex
	closed  bool
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, errors.New("worker pool requires a publisher")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.PublishTimeout <= 0 {
		c.PublishTimeout = defaultPublishTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan *eventstream.InteractionEvent, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits an event for publishing. It never blocks: it returns true
// if enqueued, false if the queue is full or the pool is closed, resulting in
// the event being dropped.
func (p *Pool) Enqueue(event *eventstream.InteractionEvent) bool {
	if event == nil {
		return false
	}

	p.closeMu.RLock()
	defer p.closeMu.RUnlock()

	if p.closed {
		p.logger.Warn("event not queued, pool closed",
			zap.String("event_type", event.EventType),
			zap.String("interaction_id", event.Interaction.ID),
		)
		return false
	}

	select {
	case p.queue <- event:
		p.logger.Debug("event queued",
			zap.String("event_type", event.EventType),
			zap.String("interaction_id", event.Interaction.ID),
		)
		return true
	default:
		p.logger.Error("event not queued, queue full, event dropped",
			zap.String("event_type", event.EventType),
			zap.String("interaction_id", event.Interaction.ID),
		)
		if p.config.OnDrop != nil {
			p.config.OnDrop(event)
		}
		return false
	}
}

// Close signals workers to stop and waits for in-flight events to drain.
// Call this during graceful shutdown after the gateway HTTP server has stopped.
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.closeMu.Unlock()

	p.wg.Wait()
}

// worker is the inner worker thread that continuously pulls events off the queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for event := range p.queue {
		p.publish(event)
	}

	p.logger.Debug("worker stopped", zap.Uint("worker_id", id))
}

// publish delivers one event. Failures are logged only.
func (p *Pool) publish(event *eventstream.InteractionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	if err := p.config.Publisher.PublishInteraction(ctx, event); err != nil {
		p.logger.Warn("failed to publish interaction event",
			zap.String("event_type", event.EventType),
			zap.String("interaction_id", event.Interaction.ID),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("interaction event published",
		zap.String("event_type", event.EventType),
		zap.String("event_id", event.EventID),
		zap.String("interaction_id", event.Interaction.ID),
	)
}
