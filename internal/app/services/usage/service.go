// Package usage aggregates per-user API traffic for the analytics page:
// daily series, per-endpoint breakdowns, summary cards, and CSV export.
package usage

import (
	"context"
	"encoding/csv"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/chainpulse/console/internal/apperr"
	domain "github.com/chainpulse/console/internal/app/domain/usage"
	"github.com/chainpulse/console/internal/app/storage"
	"github.com/chainpulse/console/internal/cache"
	"github.com/chainpulse/console/pkg/logger"
)

// Collector fetches raw usage samples for a user from the metrics backend.
// The backing system is a deployment concern; anything that can answer a
// windowed query fits.
type Collector interface {
	FetchSamples(ctx context.Context, userID string, from, to time.Time) ([]domain.Sample, error)
}

// Tag scopes cache invalidation to one user's usage views.
func Tag(userID string) string { return cache.Tag("usage", userID) }

// Range is a half-open [From, To) query window.
type Range struct {
	From time.Time
	To   time.Time
}

// LastDays builds a range covering the previous n whole days up to now.
func LastDays(n int, now time.Time) Range {
	to := now.UTC()
	return Range{From: to.AddDate(0, 0, -n), To: to}
}

// Service serves the usage page.
type Service struct {
	collector Collector
	rollups   storage.UsageStore
	cache     *cache.Cache
	log       *logger.Logger
}

func NewService(collector Collector, rollups storage.UsageStore, c *cache.Cache, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		collector: collector,
		rollups:   rollups,
		cache:     c,
		log:       log,
	}
}

// DailySeries groups the window's samples into one point per day, zero-filling
// days with no traffic so charts render a continuous axis.
func (s *Service) DailySeries(ctx context.Context, userID string, r Range) ([]domain.DailyPoint, error) {
	key := cache.BuildKey("usage-daily", userID, rangeFilter(r))
	opts := cache.Options{TTL: cache.TTLShort, Tags: []string{Tag(userID)}}
	return cache.Fetch(ctx, s.cache, key, opts, func(ctx context.Context) ([]domain.DailyPoint, error) {
		samples, err := s.fetch(ctx, userID, r)
		if err != nil {
			return nil, err
		}
		return groupByDay(samples, r), nil
	})
}

// ByEndpoint aggregates the window per endpoint, busiest first.
func (s *Service) ByEndpoint(ctx context.Context, userID string, r Range) ([]domain.EndpointStat, error) {
	key := cache.BuildKey("usage-endpoints", userID, rangeFilter(r))
	opts := cache.Options{TTL: cache.TTLShort, Tags: []string{Tag(userID)}}
	return cache.Fetch(ctx, s.cache, key, opts, func(ctx context.Context) ([]domain.EndpointStat, error) {
		samples, err := s.fetch(ctx, userID, r)
		if err != nil {
			return nil, err
		}
		return groupByEndpoint(samples), nil
	})
}

// Summarize produces the headline totals for the window.
func (s *Service) Summarize(ctx context.Context, userID string, r Range) (domain.Summary, error) {
	key := cache.BuildKey("usage-summary", userID, rangeFilter(r))
	opts := cache.Options{TTL: cache.TTLShort, Tags: []string{Tag(userID)}}
	return cache.Fetch(ctx, s.cache, key, opts, func(ctx context.Context) (domain.Summary, error) {
		samples, err := s.fetch(ctx, userID, r)
		if err != nil {
			return domain.Summary{}, err
		}
		return summarize(samples), nil
	})
}

// ExportCSV renders the window's daily series as CSV.
func (s *Service) ExportCSV(ctx context.Context, userID string, r Range) ([]byte, error) {
	points, err := s.DailySeries(ctx, userID, r)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	w := csv.NewWriter(&b)
	_ = w.Write([]string{"day", "requests", "errors"})
	for _, p := range points {
		_ = w.Write([]string{p.Day, strconv.FormatInt(p.Requests, 10), strconv.FormatInt(p.Errors, 10)})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, apperr.WrapServiceError("usage", "export_csv", err)
	}
	return []byte(b.String()), nil
}

// RollupDay persists one user's aggregate for the given day. Invoked by the
// scheduled rollup for every active user.
func (s *Service) RollupDay(ctx context.Context, userID string, day time.Time) error {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	samples, err := s.fetch(ctx, userID, Range{From: from, To: to})
	if err != nil {
		return err
	}

	var requests, errors int64
	for _, sm := range samples {
		requests += sm.Count
		if sm.StatusCode >= 400 {
			errors += sm.Count
		}
	}

	if err := s.rollups.UpsertDailyRollup(ctx, domain.DailyRollup{
		UserID:   userID,
		Day:      from.Format("2006-01-02"),
		Requests: requests,
		Errors:   errors,
	}); err != nil {
		return apperr.WrapServiceError("usage", "rollup", err)
	}

	if _, err := s.cache.Invalidate(ctx, Tag(userID)); err != nil {
		s.log.WithError(err).Warn("usage cache invalidation failed")
	}
	return nil
}

// History reads persisted rollups, for windows older than the collector's
// retention.
func (s *Service) History(ctx context.Context, userID string, r Range) ([]domain.DailyRollup, error) {
	return s.rollups.ListDailyRollups(ctx, userID, r.From, r.To)
}

func (s *Service) fetch(ctx context.Context, userID string, r Range) ([]domain.Sample, error) {
	if !r.To.After(r.From) {
		return nil, apperr.NewValidationError("range", "end must be after start")
	}
	samples, err := s.collector.FetchSamples(ctx, userID, r.From, r.To)
	if err != nil {
		return nil, apperr.WrapServiceError("usage", "fetch_samples", err)
	}
	return samples, nil
}

func rangeFilter(r Range) map[string]any {
	return map[string]any{
		"from": r.From.UTC().Format(time.RFC3339),
		"to":   r.To.UTC().Format(time.RFC3339),
	}
}

func groupByDay(samples []domain.Sample, r Range) []domain.DailyPoint {
	byDay := make(map[string]*domain.DailyPoint)
	for d := r.From.UTC().Truncate(24 * time.Hour); d.Before(r.To); d = d.AddDate(0, 0, 1) {
		day := d.Format("2006-01-02")
		byDay[day] = &domain.DailyPoint{Day: day}
	}

	for _, sm := range samples {
		day := sm.Timestamp.UTC().Format("2006-01-02")
		point, ok := byDay[day]
		if !ok {
			point = &domain.DailyPoint{Day: day}
			byDay[day] = point
		}
		point.Requests += sm.Count
		if sm.StatusCode >= 400 {
			point.Errors += sm.Count
		}
	}

	out := make([]domain.DailyPoint, 0, len(byDay))
	for _, p := range byDay {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out
}

func groupByEndpoint(samples []domain.Sample) []domain.EndpointStat {
	type acc struct {
		stat       domain.EndpointStat
		latencySum float64
	}
	byEndpoint := make(map[string]*acc)
	for _, sm := range samples {
		a, ok := byEndpoint[sm.Endpoint]
		if !ok {
			a = &acc{stat: domain.EndpointStat{Endpoint: sm.Endpoint}}
			byEndpoint[sm.Endpoint] = a
		}
		a.stat.Requests += sm.Count
		if sm.StatusCode >= 400 {
			a.stat.Errors += sm.Count
		}
		a.latencySum += sm.LatencyMS * float64(sm.Count)
	}

	out := make([]domain.EndpointStat, 0, len(byEndpoint))
	for _, a := range byEndpoint {
		if a.stat.Requests > 0 {
			a.stat.AvgLatencyMS = a.latencySum / float64(a.stat.Requests)
		}
		out = append(out, a.stat)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Requests != out[j].Requests {
			return out[i].Requests > out[j].Requests
		}
		return out[i].Endpoint < out[j].Endpoint
	})
	return out
}

func summarize(samples []domain.Sample) domain.Summary {
	var out domain.Summary
	var latencySum float64
	perEndpoint := make(map[string]int64)
	for _, sm := range samples {
		out.TotalRequests += sm.Count
		if sm.StatusCode >= 400 {
			out.TotalErrors += sm.Count
		}
		latencySum += sm.LatencyMS * float64(sm.Count)
		perEndpoint[sm.Endpoint] += sm.Count
	}
	if out.TotalRequests > 0 {
		out.ErrorRate = float64(out.TotalErrors) / float64(out.TotalRequests)
		out.AvgLatencyMS = latencySum / float64(out.TotalRequests)
	}

	var top string
	var topCount int64
	for endpoint, count := range perEndpoint {
		if count > topCount || (count == topCount && endpoint < top) {
			top, topCount = endpoint, count
		}
	}
	out.TopEndpoint = top
	return out
}
