package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	wsadapter "steamkit/adapters/websocket"
	"steamkit/core"
	"steamkit/engine"
	"steamkit/realtime"
)

// MaxBodySize limits request bodies to 1MB.
const MaxBodySize = 1 << 20

// maxWait caps ?wait= on call result polls.
const maxWait = 30 * time.Second

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables CORS for the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup drops idle buckets older than this. Zero keeps them.
	RateLimitCleanup time.Duration
	// HealthChecks are run by /healthz in addition to the platform availability check.
	HealthChecks map[string]func(context.Context) error
	Logger       *zap.Logger
}

type api struct {
	p        *engine.Platform
	validate *validator.Validate
	logger   *zap.Logger
	checks   map[string]func(context.Context) error
}

// NewMux builds an http.Handler exposing the platform REST API and WebSocket stream.
// Client routes, including call results at calls/{call}, live under
// {prefix}/clients/{huser}; operator routes under {prefix}/admin.
func NewMux(p *engine.Platform, hub *realtime.Hub, opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &api{p: p, validate: validator.New(), logger: logger, checks: opts.HealthChecks}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	if opts.AllowCORSOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{opts.AllowCORSOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
			ExposedHeaders: []string{"X-Request-ID"},
			MaxAge:         300,
		}))
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		r.Use(withRateLimit(newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup)))
	}

	routes := func(r chi.Router) {
		r.Get("/healthz", a.healthCheck)

		r.Group(func(r chi.Router) {
			if len(opts.APIKeys) > 0 {
				r.Use(withAPIKeyAuth(opts.APIKeys))
			}
			if hub != nil {
				r.Handle("/ws", wsadapter.Handler(hub))
			}

			r.Post("/clients", a.connect)
			r.Route("/clients/{huser}", func(r chi.Router) {
				r.Use(a.withClient)
				r.Get("/", a.clientState)
				r.Delete("/", a.disconnect)
				a.userRoutes(r)
				a.statsRoutes(r)
				a.leaderboardRoutes(r)
				r.Get("/calls/{call}", a.callResult)
			})

			r.Post("/tickets/validate", a.validateTicket)

			r.Route("/admin", func(r chi.Router) {
				r.Put("/availability", a.setAvailability)
				r.Post("/bans", a.banAccount)
				r.Put("/friends/{steamid}", a.setFriends)
				r.Post("/denials", a.denyGameServer)
				r.Put("/schemas", a.registerSchema)
			})
		})
	}

	if prefix := strings.TrimRight(opts.PathPrefix, "/"); prefix != "" {
		r.Route(prefix, routes)
	} else {
		routes(r)
	}
	return r
}

// healthCheck reports platform availability and the configured dependency checks.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"platform": "ok"}
	healthy := a.p.Available()
	if !healthy {
		checks["platform"] = "unavailable"
	}
	for name, check := range a.checks {
		if err := check(r.Context()); err != nil {
			a.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "failed"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}
	writeJSON(w, status, map[string]any{
		"status":        state,
		"checks":        checks,
		"pending_calls": a.p.Calls().Pending(),
	})
}

// callResult takes the one-shot result of an async call begun by the client in
// the path. With ?wait= it blocks up to that long; otherwise a call still
// running answers 202. Calls of other clients are reported as unknown.
func (a *api) callResult(w http.ResponseWriter, r *http.Request) {
	call, err := parseUint(chi.URLParam(r, "call"))
	if err != nil || call == 0 {
		writeError(w, http.StatusBadRequest, "invalid_call", "call must be a positive integer", nil)
		return
	}
	id := core.APICall(call)
	if owner, ok := a.p.Calls().Owner(id); !ok || owner != clientFrom(r).HSteamUser() {
		writeError(w, http.StatusNotFound, core.ResultInvalidParam.String(), "unknown call", nil)
		return
	}

	wait, err := parseWait(r.URL.Query().Get("wait"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_wait", err.Error(), nil)
		return
	}

	calls := a.p.Calls()
	if wait == 0 {
		if msg, ok := calls.Result(id); ok {
			writeJSON(w, http.StatusOK, msg)
			return
		}
		done, failed := calls.IsCompleted(id)
		if !done && failed {
			writeError(w, http.StatusNotFound, core.ResultInvalidParam.String(), "unknown call", nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"call": id, "pending": true})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), wait)
	defer cancel()
	msg, err := calls.Await(ctx, id)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusAccepted, map[string]any{"call": id, "pending": true})
	case errors.Is(err, core.ErrInvalidHandle):
		writeError(w, http.StatusNotFound, core.ResultInvalidParam.String(), "unknown call", nil)
	case err != nil:
		a.fail(w, err)
	default:
		writeJSON(w, http.StatusOK, msg)
	}
}

func parseUint(s string) (uint64, error) { return strconv.ParseUint(s, 10, 64) }

func parseWait(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, errors.New("wait must be a non-negative duration such as 5s")
	}
	if d > maxWait {
		d = maxWait
	}
	return d, nil
}

// Helpers

// decode reads a JSON body and validates it with the struct's validate tags.
func (a *api) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error(), nil)
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Field()] = fe.Tag()
			}
			writeError(w, http.StatusBadRequest, "validation_failed", "request validation failed", fields)
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSON(w, status, apiError{Code: code, Message: msg, Details: details})
}

// fail maps a domain error to a status and its result code.
func (a *api) fail(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidParam), errors.Is(err, core.ErrInvalidSteamID),
		errors.Is(err, core.ErrNameTooLong), errors.Is(err, core.ErrWrongStatType),
		errors.Is(err, core.ErrTooManyDetails), errors.Is(err, core.ErrBufferTooSmall),
		errors.Is(err, core.ErrInvalidHandle), errors.Is(err, core.ErrVersionMismatch):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound), errors.Is(err, core.ErrStatNotFound),
		errors.Is(err, core.ErrAchievementNotFound), errors.Is(err, core.ErrLeaderboardNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrNotLoggedOn), errors.Is(err, core.ErrNoStats), errors.Is(err, core.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, core.ErrBanned):
		status = http.StatusForbidden
	case errors.Is(err, core.ErrInvalidTicket):
		status = http.StatusUnauthorized
	case errors.Is(err, core.ErrServiceUnavailable), errors.Is(err, core.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, core.ResultFromError(err).String(), err.Error(), nil)
}

// requestID tags every request and response with X-Request-ID.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", w.Header().Get("X-Request-ID")),
			)
		})
	}
}
