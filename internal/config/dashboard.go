package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datatap/datatap/internal/model"
)

// dashboardDays is the width of the daily request histogram.
const dashboardDays = 7

// DashboardStats aggregates counts and recent usage for the admin dashboard.
func (s *Store) DashboardStats(ctx context.Context, now time.Time) (*model.DashboardStats, error) {
	stats := &model.DashboardStats{
		TopEndpoints: []model.EndpointUsage{},
		Daily:        []model.DailyCount{},
	}
	now = now.UTC()
	dayAgo := now.Add(-24 * time.Hour)

	counts := []struct {
		dst *int
		q   string
	}{
		{&stats.Datasets, "SELECT COUNT(*) FROM datasets"},
		{&stats.Endpoints, "SELECT COUNT(*) FROM endpoints"},
		{&stats.ActiveEndpoints, "SELECT COUNT(*) FROM endpoints WHERE is_active = 1"},
		{&stats.APIKeys, "SELECT COUNT(*) FROM api_keys"},
		{&stats.ActiveAPIKeys, "SELECT COUNT(*) FROM api_keys WHERE status = 'active'"},
		{&stats.Users, "SELECT COUNT(*) FROM users"},
	}
	for _, c := range counts {
		if err := s.db.GetContext(ctx, c.dst, c.q); err != nil {
			return nil, fmt.Errorf("dashboard count: %w", err)
		}
	}

	if err := s.db.GetContext(ctx, &stats.TotalRequests, "SELECT COUNT(*) FROM request_logs"); err != nil {
		return nil, fmt.Errorf("dashboard total requests: %w", err)
	}

	var recent struct {
		Requests int64           `db:"requests"`
		Errors   sql.NullInt64   `db:"errors"`
		Latency  sql.NullFloat64 `db:"latency"`
	}
	const recentQ = `SELECT COUNT(*) AS requests,
		SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS errors,
		AVG(latency_ms) AS latency
		FROM request_logs WHERE created_at >= ?`
	if err := s.db.GetContext(ctx, &recent, recentQ, dayAgo); err != nil {
		return nil, fmt.Errorf("dashboard recent requests: %w", err)
	}
	stats.Requests24h = recent.Requests
	stats.Errors24h = recent.Errors.Int64
	stats.AvgLatencyMs = recent.Latency.Float64

	const topQ = `SELECT id, name, method, path, request_count FROM endpoints
		WHERE request_count > 0 ORDER BY request_count DESC, id LIMIT 5`
	if err := s.db.SelectContext(ctx, &stats.TopEndpoints, topQ); err != nil {
		return nil, fmt.Errorf("dashboard top endpoints: %w", err)
	}

	// Timestamps are stored as UTC text, so the first ten characters are the day.
	since := now.AddDate(0, 0, -(dashboardDays - 1)).Truncate(24 * time.Hour)
	const dailyQ = `SELECT substr(created_at, 1, 10) AS day, COUNT(*) AS requests,
		SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS errors
		FROM request_logs WHERE created_at >= ?
		GROUP BY day ORDER BY day`
	var daily []model.DailyCount
	if err := s.db.SelectContext(ctx, &daily, dailyQ, since); err != nil {
		return nil, fmt.Errorf("dashboard daily requests: %w", err)
	}

	// Fill gaps so the histogram always has one bucket per day.
	byDay := make(map[string]model.DailyCount, len(daily))
	for _, d := range daily {
		byDay[d.Day] = d
	}
	for i := 0; i < dashboardDays; i++ {
		day := since.AddDate(0, 0, i).Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = model.DailyCount{Day: day}
		}
		stats.Daily = append(stats.Daily, d)
	}

	return stats, nil
}
