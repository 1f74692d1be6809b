package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"steamkit/core"
)

// Sink posts callback messages to configured HTTP endpoints.
// It is synchronous for determinism; attach it to an async dispatcher to keep
// slow endpoints off the posting path.
type Sink struct {
	client    *http.Client
	endpoints []string
	only      map[int]struct{}
	logger    *zap.Logger
}

// Option configures a Sink.
type Option func(*Sink)

// WithClient overrides the HTTP client (defaults to 2s timeout).
func WithClient(c *http.Client) Option {
	return func(s *Sink) {
		if c != nil {
			s.client = c
		}
	}
}

// WithCallbacks restricts delivery to the given discriminants.
func WithCallbacks(ids ...int) Option {
	return func(s *Sink) {
		s.only = make(map[int]struct{}, len(ids))
		for _, id := range ids {
			s.only[id] = struct{}{}
		}
	}
}

// WithLogger reports delivery failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a webhook sink.
func New(endpoints []string, opts ...Option) *Sink {
	s := &Sink{
		client: &http.Client{Timeout: 2 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.endpoints = append([]string{}, endpoints...)
	return s
}

// OnCallback posts the message JSON to all endpoints. Failures are logged and
// never reach the caller.
func (s *Sink) OnCallback(ctx context.Context, msg core.CallbackMsg) {
	if len(s.endpoints) == 0 {
		return
	}
	if s.only != nil {
		if _, ok := s.only[msg.Callback]; !ok {
			return
		}
	}
	body, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("webhook encode failed", zap.String("callback", msg.Name()), zap.Error(err))
		return
	}
	for _, ep := range s.endpoints {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep, bytes.NewReader(body))
		if err != nil {
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Steamkit-Callback", strconv.Itoa(msg.Callback))
		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Warn("webhook delivery failed", zap.String("endpoint", ep), zap.Error(err))
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode >= 300 {
			s.logger.Warn("webhook rejected", zap.String("endpoint", ep), zap.Int("status", resp.StatusCode))
		}
	}
}
