// Package gateway provides the HTTP front door of switchboard: a canonical
// messages endpoint that routes every request to the system default provider,
// the OAuth authorization endpoints, and the interaction audit trail.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/papercomputeco/switchboard/gateway/header"
	"github.com/papercomputeco/switchboard/gateway/worker"
	"github.com/papercomputeco/switchboard/pkg/dispatch"
	"github.com/papercomputeco/switchboard/pkg/eventstream"
	"github.com/papercomputeco/switchboard/pkg/eventstream/nop"
	"github.com/papercomputeco/switchboard/pkg/llm"
	"github.com/papercomputeco/switchboard/pkg/llm/provider"
	"github.com/papercomputeco/switchboard/pkg/metrics"
	"github.com/papercomputeco/switchboard/pkg/normalize"
	"github.com/papercomputeco/switchboard/pkg/oauth"
	"github.com/papercomputeco/switchboard/pkg/recorder"
	"github.com/papercomputeco/switchboard/pkg/storage"
	"github.com/papercomputeco/switchboard/pkg/translate"
)

const messagesPath = "/v1/messages"

type localKey string

const callerLocal localKey = "caller"

// Gateway accepts canonical message requests, forwards them to the selected
// upstream provider and records every interaction.
type Gateway struct {
	config        Config
	driver        storage.Driver
	dispatcher    *dispatch.Dispatcher
	oauth         *oauth.Manager
	recorder      *recorder.Recorder
	workerPool    *worker.Pool
	publisher     eventstream.Publisher
	metrics       *metrics.Metrics
	logger        *zap.Logger
	server        *fiber.App
	headerHandler *header.Handler
}

// New creates a new Gateway.
// The driver receives one record per interaction; lifecycle events are
// published asynchronously through the worker pool.
func New(config Config, driver storage.Driver, logger *zap.Logger) (*Gateway, error) {
	if driver == nil {
		return nil, errors.New("storage driver is required")
	}
	if config.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	publisher := config.Publisher
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	m := config.Metrics
	if m == nil {
		m = metrics.New()
	}

	wp, err := worker.NewPool(&worker.Config{
		Publisher:  publisher,
		NumWorkers: config.NumWorkers,
		QueueSize:  config.QueueSize,
		OnDrop: func(*eventstream.InteractionEvent) {
			m.EventDropped()
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	g := &Gateway{
		config:     config,
		driver:     driver,
		dispatcher: config.Dispatcher,
		oauth:      config.OAuth,
		recorder: recorder.New(recorder.Options{
			Driver:   driver,
			Notifier: wp,
			Logger:   logger,
			Now:      config.Now,
		}),
		workerPool:    wp,
		publisher:     publisher,
		metrics:       m,
		logger:        logger,
		headerHandler: header.NewHandler(config.APIKeys),
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
		// Values from Params, Query and Get outlive the handler: OAuth
		// sessions keep the provider id, streams keep caller credentials.
		Immutable:    true,
		ErrorHandler: g.errorHandler,
	})

	app.Use(fiberrecover.New())

	// Event streams must reach the client unbuffered.
	app.Use(compress.New(compress.Config{
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == messagesPath
		},
	}))

	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	v1 := app.Group("/v1", g.authenticate)
	v1.Post("/messages", g.handleMessages)
	v1.Get("/interactions", g.handleListInteractions)
	v1.Get("/interactions/:id", g.handleGetInteraction)

	if g.oauth != nil {
		g.registerOAuthRoutes(app)
	}

	g.server = app
	return g, nil
}

// Run starts the gateway server on the given listening address
func (g *Gateway) Run() error {
	g.logger.Info("starting gateway server",
		zap.String("listen", g.config.ListenAddr),
	)

	return g.server.Listen(g.config.ListenAddr)
}

// Close stops accepting connections, waits for in-flight streams, drains the
// event pool and closes the publisher.
func (g *Gateway) Close() error {
	err := g.server.Shutdown()
	g.workerPool.Close()
	return errors.Join(err, g.publisher.Close())
}

// authenticate checks the inbound credential and carries it on the request.
func (g *Gateway) authenticate(c *fiber.Ctx) error {
	caller := g.headerHandler.Caller(c)
	if !g.headerHandler.Authorized(caller) {
		return fiber.NewError(fiber.StatusUnauthorized, "invalid or missing api key")
	}

	c.Locals(callerLocal, caller)
	return c.Next()
}

// handleMessages serves POST /v1/messages. Validation and provider selection
// happen before anything is recorded; once the adapter is prepared the
// interaction receives exactly one terminal write.
func (g *Gateway) handleMessages(c *fiber.Ctx) error {
	startTime := time.Now()

	caller, _ := c.Locals(callerLocal).(dispatch.Caller)
	ctx := dispatch.WithCaller(c.UserContext(), caller)

	// The body is owned by fasthttp and reused after the handler returns.
	body := append([]byte(nil), c.Body()...)

	var req llm.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("%w: decoding request body: %w", llm.ErrInvalidRequest, err)
	}

	target, err := g.dispatcher.Select(ctx)
	if err != nil {
		return err
	}

	chat, err := normalize.Normalize(&req, target)
	if err != nil {
		return err
	}

	adapter, err := g.dispatcher.Prepare(ctx, target)
	if err != nil {
		return err
	}

	id := llm.NewMessageID()
	c.Set(header.RequestIDHeader, id)

	g.logger.Debug("dispatching request",
		zap.String("interaction_id", id),
		zap.String("provider", target.ID),
		zap.String("model", chat.Model),
		zap.Bool("stream", req.Stream),
		zap.Int("message_count", len(chat.Messages)),
	)

	in := g.recorder.Begin(ctx, recorder.Request{
		ID:         id,
		ProviderID: target.ID,
		Model:      chat.Model,
		Streaming:  req.Stream,
		RawRequest: body,
	})

	if req.Stream {
		return g.handleStreaming(c, caller, adapter, chat, in, startTime)
	}

	return g.handleNonStreaming(ctx, c, adapter, chat, in, startTime)
}

// handleNonStreaming performs one upstream call and answers with the
// canonical JSON response.
func (g *Gateway) handleNonStreaming(ctx context.Context, c *fiber.Ctx, adapter provider.Adapter, chat *llm.ChatRequest, in *recorder.Interaction, startTime time.Time) error {
	resp, err := adapter.Complete(ctx, chat)
	if err != nil {
		g.finish(ctx, in, adapter.Name(), false, recorder.Result{
			StatusCode: fiber.StatusBadGateway,
			Err:        err,
		}, startTime)
		return c.Status(fiber.StatusBadGateway).JSON(llm.NewErrorResponse(llm.ErrorTypeAPI, err.Error()))
	}

	resp.ID = in.ID()
	g.finish(ctx, in, adapter.Name(), false, recorder.Result{
		Response:   resp,
		Content:    llm.FlattenContent(resp.Content),
		Usage:      resp.Usage,
		StatusCode: fiber.StatusOK,
	}, startTime)

	return c.Status(fiber.StatusOK).JSON(resp)
}

// handleStreaming answers with a canonical event stream translated from the
// adapter's chunks.
func (g *Gateway) handleStreaming(c *fiber.Ctx, caller dispatch.Caller, adapter provider.Adapter, chat *llm.ChatRequest, in *recorder.Interaction, startTime time.Time) error {
	// fasthttp recycles its RequestCtx after the handler returns, but the
	// stream is produced in a separate goroutine, so the upstream call gets
	// its own context. It is cancelled once the translator stops pulling,
	// which includes the client going away.
	ctx, cancel := context.WithCancel(dispatch.WithCaller(context.Background(), caller))

	g.headerHandler.SetStreamHeaders(c)
	c.Status(fiber.StatusOK)

	// pw.Write blocks until fasthttp reads from pr and flushes the chunk to
	// the socket, so a slow client slows the upstream read.
	pr, pw := io.Pipe()
	go g.streamToPipe(ctx, cancel, pw, adapter, chat, in, startTime)

	// Unknown size (-1) triggers chunked transfer encoding in fasthttp.
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

func (g *Gateway) streamToPipe(ctx context.Context, cancel context.CancelFunc, pw *io.PipeWriter, adapter provider.Adapter, chat *llm.ChatRequest, in *recorder.Interaction, startTime time.Time) {
	defer cancel()

	t := translate.New(in.ID(), chat.Model, translate.NewSSESink(pw))
	out := t.Run(adapter.Stream(ctx, chat))

	cancel()
	pw.Close()

	if out.WriteFailed {
		g.logger.Debug("client disconnected mid-stream",
			zap.String("interaction_id", in.ID()),
			zap.Error(out.Err),
		)
	}

	g.finish(ctx, in, adapter.Name(), true, recorder.Result{
		Response:   out.Response,
		Content:    out.Trace,
		Usage:      out.Usage,
		StatusCode: fiber.StatusOK,
		Err:        out.Err,
	}, startTime)
}

// finish applies the terminal write and reports the interaction.
func (g *Gateway) finish(ctx context.Context, in *recorder.Interaction, providerID string, streaming bool, res recorder.Result, startTime time.Time) {
	duration := time.Since(startTime)

	// Write failures are logged by the recorder.
	_ = in.Finish(ctx, res)

	g.metrics.ObserveRequest(providerID, streaming, res.StatusCode, duration)
	g.metrics.ObserveTokens(providerID, res.Usage.InputTokens, res.Usage.OutputTokens)

	if res.Err != nil {
		g.logger.Warn("interaction failed",
			zap.String("interaction_id", in.ID()),
			zap.String("provider", providerID),
			zap.Bool("stream", streaming),
			zap.Duration("duration", duration),
			zap.Error(res.Err),
		)
		return
	}

	g.logger.Debug("interaction completed",
		zap.String("interaction_id", in.ID()),
		zap.String("provider", providerID),
		zap.Bool("stream", streaming),
		zap.Int("input_tokens", res.Usage.InputTokens),
		zap.Int("output_tokens", res.Usage.OutputTokens),
		zap.Duration("duration", duration),
	)
}

func (g *Gateway) handleGetInteraction(c *fiber.Ctx) error {
	rec, err := g.driver.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

func (g *Gateway) handleListInteractions(c *fiber.Ctx) error {
	limit := c.QueryInt("limit")
	if limit < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "limit must not be negative")
	}

	recs, err := g.driver.List(c.UserContext(), storage.ListOptions{
		ProviderID: c.Query("provider"),
		Limit:      limit,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"interactions": recs})
}

func zapRequest(c *fiber.Ctx, err error) []zap.Field {
	return []zap.Field{
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err),
	}
}
