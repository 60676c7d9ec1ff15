// Package usage defines the analytics shapes served to the dashboard.
package usage

import "time"

// Sample is one aggregated observation from the metrics collector.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	Endpoint   string    `json:"endpoint"`
	StatusCode int       `json:"status_code"`
	Count      int64     `json:"count"`
	LatencyMS  float64   `json:"latency_ms"`
}

// DailyPoint is one day of request volume.
type DailyPoint struct {
	Day      string `json:"day"` // YYYY-MM-DD
	Requests int64  `json:"requests"`
	Errors   int64  `json:"errors"`
}

// EndpointStat aggregates volume and latency per endpoint.
type EndpointStat struct {
	Endpoint     string  `json:"endpoint"`
	Requests     int64   `json:"requests"`
	Errors       int64   `json:"errors"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

// Summary is the headline card on the usage page.
type Summary struct {
	TotalRequests int64   `json:"total_requests"`
	TotalErrors   int64   `json:"total_errors"`
	ErrorRate     float64 `json:"error_rate"`
	AvgLatencyMS  float64 `json:"avg_latency_ms"`
	TopEndpoint   string  `json:"top_endpoint,omitempty"`
}

// DailyRollup is a persisted per-user, per-day aggregate produced by the
// scheduled rollup job.
type DailyRollup struct {
	UserID    string    `json:"user_id"`
	Day       string    `json:"day"`
	Requests  int64     `json:"requests"`
	Errors    int64     `json:"errors"`
	CreatedAt time.Time `json:"created_at"`
}
