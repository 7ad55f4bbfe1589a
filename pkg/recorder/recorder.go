// Package recorder mirrors every gateway interaction into a durable
// storage.InteractionRecord. A record receives exactly one terminal write,
// whether the interaction streamed, failed before the first chunk, or lost
// its client half way through.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/switchboard/pkg/eventstream"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/logger"
	"github.com/papercomputeco/switchboard/pkg/storage"
)

// ErrFinished is returned by a second call to Interaction.Finish.
var ErrFinished = errors.New("interaction already finished")

const writeTimeout = 10 * time.Second

// Notifier receives lifecycle events. Enqueue must not block.
type Notifier interface {
	Enqueue(event *eventstream.InteractionEvent) bool
}

// Options configures a Recorder.
type Options struct {
	Driver   storage.Driver
	Notifier Notifier
	Logger   *zap.Logger

	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Recorder creates Interactions.
type Recorder struct {
	driver   storage.Driver
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Recorder.
func New(opts Options) *Recorder {
	r := &Recorder{
		driver:   opts.Driver,
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if r.logger == nil {
		r.logger = logger.Nop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Request describes the interaction being recorded.
type Request struct {
	ID         string
	ProviderID string
	Model      string
	Streaming  bool
	RawRequest json.RawMessage
}

// Result is the terminal outcome of an interaction.
type Result struct {
	// Response is the complete canonical response. It is nil on failure.
	Response *llm.MessagesResponse

	// Content is the accumulated text trace, possibly partial.
	Content string

	Usage      llm.Usage
	StatusCode int
	Err        error
}

// Interaction is the handle of one in-flight record.
type Interaction struct {
	r       *Recorder
	rec     storage.InteractionRecord
	created bool
	once    sync.Once
}

// Begin starts recording. A streaming interaction is written immediately,
// with no response, so that it stays auditable even if the upstream call
// never yields a chunk. A non-streaming interaction is written once, by
// Finish. A failed initial write is logged and retried as a full insert by
// Finish.
func (r *Recorder) Begin(ctx context.Context, req Request) *Interaction {
	in := &Interaction{
		r: r,
		rec: storage.InteractionRecord{
			ID:         req.ID,
			ProviderID: req.ProviderID,
			Model:      req.Model,
			Streaming:  req.Streaming,
			RawRequest: req.RawRequest,
			CreatedAt:  r.now(),
		},
	}

	if !req.Streaming {
		return in
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()

	if err := r.driver.Create(wctx, &in.rec); err != nil {
		r.logger.Warn("failed to create interaction record",
			zap.String("interaction_id", req.ID),
			zap.String("provider", req.ProviderID),
			zap.Error(err),
		)
		return in
	}

	in.created = true
	r.publish(eventstream.EventTypeInteractionCreated, &in.rec)

	return in
}

// ID returns the interaction id.
func (in *Interaction) ID() string {
	return in.rec.ID
}

// Finish applies the terminal write. Only the first call writes; later calls
// return ErrFinished. The write is detached from ctx cancellation so that an
// interaction whose client disconnected is still recorded.
func (in *Interaction) Finish(ctx context.Context, res Result) error {
	err := ErrFinished
	in.once.Do(func() {
		err = in.commit(ctx, res)
	})
	return err
}

// commit is the single terminal write path shared by streaming and
// non-streaming interactions.
func (in *Interaction) commit(ctx context.Context, res Result) error {
	r := in.r
	started := in.rec.CreatedAt
	completedAt := r.now()

	c := &storage.Completion{
		Content:      res.Content,
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
		ResponseTime: completedAt.Sub(started),
		StatusCode:   res.StatusCode,
		CompletedAt:  completedAt,
	}
	if res.Err != nil {
		c.Error = res.Err.Error()
	}
	if res.Response != nil && res.Err == nil {
		raw, err := json.Marshal(res.Response)
		if err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
		c.RawResponse = raw
	}

	wctx, cancel := writeContext(ctx)
	defer cancel()

	var err error
	if in.created {
		err = r.driver.Update(wctx, in.rec.ID, c)
	} else {
		c.Apply(&in.rec)
		err = r.driver.Create(wctx, &in.rec)
	}
	if err != nil {
		r.logger.Error("failed to complete interaction record",
			zap.String("interaction_id", in.rec.ID),
			zap.String("provider", in.rec.ProviderID),
			zap.Error(err),
		)
		return fmt.Errorf("recording interaction %s: %w", in.rec.ID, err)
	}

	if in.created {
		c.Apply(&in.rec)
	}

	r.logger.Debug("interaction recorded",
		zap.String("interaction_id", in.rec.ID),
		zap.String("provider", in.rec.ProviderID),
		zap.Int("status", res.StatusCode),
		zap.Int64("response_time_ms", in.rec.ResponseTimeMs),
	)
	r.publish(eventstream.EventTypeInteractionCompleted, &in.rec)

	return nil
}

func (r *Recorder) publish(eventType string, rec *storage.InteractionRecord) {
	if r.notifier == nil {
		return
	}
	r.notifier.Enqueue(eventstream.NewInteractionEvent(eventType, rec, r.now()))
}

func writeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
}
