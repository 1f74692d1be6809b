package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AggregationPeriod represents different time periods for aggregation
type AggregationPeriod string

const (
	PeriodDaily   AggregationPeriod = "daily"
	PeriodWeekly  AggregationPeriod = "weekly"
	PeriodMonthly AggregationPeriod = "monthly"
)

// Totals are the summed activity counters of a period.
type Totals struct {
	Logons          int64 `json:"logons"`
	ConnectFailures int64 `json:"connect_failures"`
	StatsStored     int64 `json:"stats_stored"`
	PersistFailures int64 `json:"persist_failures"`
	Achievements    int64 `json:"achievements_unlocked"`
	ScoresUploaded  int64 `json:"scores_uploaded"`
	PersonalBests   int64 `json:"personal_bests"`
	FailedCalls     int64 `json:"failed_calls"`
}

func (t *Totals) add(o Totals) {
	t.Logons += o.Logons
	t.ConnectFailures += o.ConnectFailures
	t.StatsStored += o.StatsStored
	t.PersistFailures += o.PersistFailures
	t.Achievements += o.Achievements
	t.ScoresUploaded += o.ScoresUploaded
	t.PersonalBests += o.PersonalBests
	t.FailedCalls += o.FailedCalls
}

// AggregatedData represents aggregated analytics data
type AggregatedData struct {
	Period    AggregationPeriod `json:"period"`
	Key       string            `json:"key"` // e.g., "2024-01-01" for daily, "2024-W01" for weekly
	StartTime time.Time         `json:"start_time"`
	EndTime   time.Time         `json:"end_time"`

	ActiveSessions int `json:"active_sessions"`
	Totals

	CreatedAt time.Time `json:"created_at"`
}

// AggregationEngine handles periodic aggregation of analytics data
type AggregationEngine struct {
	mu sync.RWMutex

	activity *Activity
	logger   *zap.Logger

	aggregations map[AggregationPeriod]map[string]*AggregatedData

	aggregationInterval time.Duration
	lastAggregation     time.Time
}

func NewAggregationEngine(activity *Activity, aggregationInterval time.Duration, logger *zap.Logger) *AggregationEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AggregationEngine{
		activity: activity,
		logger:   logger,
		aggregations: map[AggregationPeriod]map[string]*AggregatedData{
			PeriodDaily:   {},
			PeriodWeekly:  {},
			PeriodMonthly: {},
		},
		aggregationInterval: aggregationInterval,
		lastAggregation:     time.Now(),
	}
}

// AggregateNow forces an immediate aggregation of all periods
func (ae *AggregationEngine) AggregateNow() error {
	return ae.aggregateAt(time.Now().UTC())
}

func (ae *AggregationEngine) aggregateAt(now time.Time) error {
	ae.mu.Lock()
	defer ae.mu.Unlock()
	now = now.UTC()

	if err := ae.aggregateDaily(now); err != nil {
		return fmt.Errorf("failed to aggregate daily data: %w", err)
	}
	if err := ae.aggregateWeekly(now); err != nil {
		return fmt.Errorf("failed to aggregate weekly data: %w", err)
	}
	if err := ae.aggregateMonthly(now); err != nil {
		return fmt.Errorf("failed to aggregate monthly data: %w", err)
	}
	ae.lastAggregation = now
	return nil
}

// sumDays adds up the day counters of [start, start+days).
func (ae *AggregationEngine) sumDays(start time.Time, days int) Totals {
	ae.activity.mu.RLock()
	defer ae.activity.mu.RUnlock()
	var t Totals
	for i := 0; i < days; i++ {
		t.add(ae.activity.dayTotals(start.AddDate(0, 0, i).Format("2006-01-02")))
	}
	return t
}

func (ae *AggregationEngine) aggregateDaily(now time.Time) error {
	today := now.Format("2006-01-02")
	startTime := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	ae.aggregations[PeriodDaily][today] = &AggregatedData{
		Period:         PeriodDaily,
		Key:            today,
		StartTime:      startTime,
		EndTime:        startTime.Add(24 * time.Hour),
		ActiveSessions: ae.activity.GetDailyActive(today),
		Totals:         ae.sumDays(startTime, 1),
		CreatedAt:      now,
	}
	return nil
}

// aggregateWeekly aggregates data for the current ISO week
func (ae *AggregationEngine) aggregateWeekly(now time.Time) error {
	weekKey := getWeekKey(now)

	// Calculate week start (Monday)
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	startTime := time.Date(now.Year(), now.Month(), now.Day()-daysSinceMonday, 0, 0, 0, 0, time.UTC)

	ae.aggregations[PeriodWeekly][weekKey] = &AggregatedData{
		Period:         PeriodWeekly,
		Key:            weekKey,
		StartTime:      startTime,
		EndTime:        startTime.AddDate(0, 0, 7),
		ActiveSessions: ae.activity.GetWeeklyActive(weekKey),
		Totals:         ae.sumDays(startTime, 7),
		CreatedAt:      now,
	}
	return nil
}

// aggregateMonthly aggregates data for the current month
func (ae *AggregationEngine) aggregateMonthly(now time.Time) error {
	monthKey := getMonthKey(now)
	startTime := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	endTime := startTime.AddDate(0, 1, 0)

	ae.aggregations[PeriodMonthly][monthKey] = &AggregatedData{
		Period:         PeriodMonthly,
		Key:            monthKey,
		StartTime:      startTime,
		EndTime:        endTime,
		ActiveSessions: ae.activity.GetMonthlyActive(monthKey),
		Totals:         ae.sumDays(startTime, int(endTime.Sub(startTime).Hours()/24)),
		CreatedAt:      now,
	}
	return nil
}

// GetAggregatedData returns aggregated data for a specific period and key
func (ae *AggregationEngine) GetAggregatedData(period AggregationPeriod, key string) (*AggregatedData, bool) {
	ae.mu.RLock()
	defer ae.mu.RUnlock()
	data, exists := ae.aggregations[period][key]
	return data, exists
}

// GetAllAggregatedData returns all aggregated data for a specific period, oldest first
func (ae *AggregationEngine) GetAllAggregatedData(period AggregationPeriod) []*AggregatedData {
	ae.mu.RLock()
	defer ae.mu.RUnlock()
	result := make([]*AggregatedData, 0, len(ae.aggregations[period]))
	for _, data := range ae.aggregations[period] {
		result = append(result, data)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime.Before(result[j].StartTime) })
	return result
}

// Start runs periodic aggregation until ctx is done.
func (ae *AggregationEngine) Start(ctx context.Context) {
	ticker := time.NewTicker(ae.aggregationInterval)
	defer ticker.Stop()

	if err := ae.AggregateNow(); err != nil {
		ae.logger.Error("initial aggregation failed", zap.Error(err))
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ae.AggregateNow(); err != nil {
				ae.logger.Error("periodic aggregation failed", zap.Error(err))
			}
		}
	}
}

// ExportData exports aggregated data to JSON format
func (ae *AggregationEngine) ExportData(period AggregationPeriod) ([]byte, error) {
	return json.MarshalIndent(ae.GetAllAggregatedData(period), "", "  ")
}

// ExportToFile writes the JSON export of a period to filename.
func (ae *AggregationEngine) ExportToFile(period AggregationPeriod, filename string) error {
	data, err := ae.ExportData(period)
	if err != nil {
		return err
	}
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filename)
}
