package analytics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"steamkit/core"
)

// BridgeHook fans one callback stream out to multiple hooks.
type BridgeHook struct{ hooks []Hook }

func NewBridge(hooks ...Hook) *BridgeHook { return &BridgeHook{hooks: hooks} }

func (b *BridgeHook) OnCallback(ctx context.Context, msg core.CallbackMsg) {
	for _, h := range b.hooks {
		h.OnCallback(ctx, msg)
	}
}

// Sources are the runtime counters exported as gauges and counters.
// Any nil func is skipped.
type Sources struct {
	Posted         func() uint64
	Flushed        func() uint64
	CallsBegun     func() uint64
	CallsCompleted func() uint64
	CallsPending   func() int
	Subscribers    func() int
}

// Metrics is a Hook that exports callback traffic to Prometheus.
type Metrics struct {
	callbacks    *prometheus.CounterVec
	failedCalls  prometheus.Counter
	achievements *prometheus.CounterVec
	scores       *prometheus.CounterVec
	logons       *prometheus.CounterVec
}

// NewMetrics registers the steamkit collectors on reg.
func NewMetrics(reg prometheus.Registerer, src Sources) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steamkit_callbacks_total",
			Help: "Total number of callbacks delivered, by record name",
		}, []string{"callback"}),
		failedCalls: f.NewCounter(prometheus.CounterOpts{
			Name: "steamkit_api_calls_failed_total",
			Help: "Total number of async calls that completed as failed",
		}),
		achievements: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steamkit_achievements_unlocked_total",
			Help: "Total number of achievement unlocks, by game",
		}, []string{"game"}),
		scores: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steamkit_scores_uploaded_total",
			Help: "Total number of leaderboard uploads, by whether the score changed",
		}, []string{"changed"}),
		logons: f.NewCounterVec(prometheus.CounterOpts{
			Name: "steamkit_logons_total",
			Help: "Total number of logon outcomes",
		}, []string{"outcome"}),
	}

	counter := func(name, help string, fn func() uint64) {
		if fn == nil {
			return
		}
		f.NewCounterFunc(prometheus.CounterOpts{Name: name, Help: help}, func() float64 { return float64(fn()) })
	}
	gauge := func(name, help string, fn func() int) {
		if fn == nil {
			return
		}
		f.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 { return float64(fn()) })
	}
	counter("steamkit_dispatch_posted_total", "Total number of callbacks posted to the dispatcher", src.Posted)
	counter("steamkit_dispatch_flushed_total", "Total number of queued callbacks dropped on overflow", src.Flushed)
	counter("steamkit_api_calls_begun_total", "Total number of async calls started", src.CallsBegun)
	counter("steamkit_api_calls_completed_total", "Total number of async calls completed", src.CallsCompleted)
	gauge("steamkit_api_calls_pending", "Current number of async calls awaiting completion", src.CallsPending)
	gauge("steamkit_stream_subscribers", "Current number of live callback stream subscribers", src.Subscribers)
	return m
}

func (m *Metrics) OnCallback(_ context.Context, msg core.CallbackMsg) {
	m.callbacks.WithLabelValues(msg.Name()).Inc()
	if msg.Failed {
		m.failedCalls.Inc()
		return
	}
	switch p := msg.Param.(type) {
	case core.SteamServersConnected:
		m.logons.WithLabelValues("connected").Inc()
	case core.SteamServerConnectFailure:
		m.logons.WithLabelValues(p.Result.String()).Inc()
	case core.UserAchievementStored:
		if p.Unlocked() {
			m.achievements.WithLabelValues(p.GameID.String()).Inc()
		}
	case core.LeaderboardScoreUploaded:
		if p.Success == 1 {
			changed := "false"
			if p.ScoreChanged == 1 {
				changed = "true"
			}
			m.scores.WithLabelValues(changed).Inc()
		}
	}
}
