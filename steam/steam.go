// Package steam assembles a ready to use Platform from a handful of options.
package steam

import (
	"context"
	"time"

	"go.uber.org/zap"

	mem "steamkit/adapters/memory"
	"steamkit/core"
	"steamkit/engine"
	"steamkit/realtime"
)

// Option configures the platform builder.
type Option func(*config)

type config struct {
	storage  engine.Storage
	mode     engine.DispatchMode
	queue    int
	workers  int
	logger   *zap.Logger
	schemas  []core.Schema
	secret   []byte
	ttl      time.Duration
	hub      *realtime.Hub
	handlers []func(context.Context, core.CallbackMsg)
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async callback dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithQueueSize bounds the async dispatch queue.
func WithQueueSize(n int) Option { return func(c *config) { c.queue = n } }

// WithWorkers bounds concurrent async operations; zero runs them inline.
func WithWorkers(n int) Option { return func(c *config) { c.workers = n } }

func WithLogger(l *zap.Logger) Option { return func(c *config) { c.logger = l } }

// WithSchemas registers stats schemas up front.
func WithSchemas(s ...core.Schema) Option {
	return func(c *config) { c.schemas = append(c.schemas, s...) }
}

func WithTicketSecret(secret []byte) Option { return func(c *config) { c.secret = secret } }

// WithTicketTTL makes tickets older than ttl fail validation. Zero never expires them.
func WithTicketTTL(ttl time.Duration) Option { return func(c *config) { c.ttl = ttl } }

// WithRealtime wires a realtime hub to receive every callback.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithHandler subscribes handler to every callback.
func WithHandler(handler func(context.Context, core.CallbackMsg)) Option {
	return func(c *config) { c.handlers = append(c.handlers, handler) }
}

// Service is a Platform together with the dispatcher it owns.
type Service struct {
	*engine.Platform
	bus   *engine.Dispatcher
	unsub []func()
}

// New builds a configured platform. If not provided, defaults are used:
//   - storage: in-memory
//   - dispatch: async, 1024 queued callbacks
//   - workers: 8
func New(opts ...Option) (*Service, error) {
	cfg := &config{mode: engine.DispatchAsync, queue: 1024, workers: 8}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	if cfg.logger == nil {
		cfg.logger = zap.NewNop()
	}

	bus := engine.NewDispatcher(cfg.mode, engine.WithQueueSize(cfg.queue), engine.WithDispatchLogger(cfg.logger))
	p, err := engine.NewPlatform(cfg.storage,
		engine.WithDispatcher(bus),
		engine.WithWorkers(cfg.workers),
		engine.WithLogger(cfg.logger),
		engine.WithSchemas(cfg.schemas...),
		engine.WithTicketSecret(cfg.secret),
		engine.WithTicketTTL(cfg.ttl),
	)
	if err != nil {
		bus.Close()
		return nil, err
	}

	s := &Service{Platform: p, bus: bus}
	if cfg.hub != nil {
		s.unsub = append(s.unsub, p.SubscribeAll(cfg.hub.Broadcast))
	}
	for _, h := range cfg.handlers {
		s.unsub = append(s.unsub, p.SubscribeAll(h))
	}
	return s, nil
}

// Close stops the platform, then drains and stops its dispatcher.
func (s *Service) Close() {
	for _, u := range s.unsub {
		u()
	}
	s.Platform.Close()
	s.bus.Close()
}
