package prefetch

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Source reads the raw dashboard counters.
type Source interface {
	Count(ctx context.Context, metric Metric, barangayID int64, asOf time.Time) (int64, error)
	ApprovedBarangays(ctx context.Context) ([]int64, error)
}

// PGSource implements Source using PostgreSQL.
type PGSource struct {
	pool *pgxpool.Pool
}

// NewSource constructs a PostgreSQL source.
func NewSource(pool *pgxpool.Pool) *PGSource {
	return &PGSource{pool: pool}
}

type countQuery struct {
	sql      string
	withAsOf bool
}

var countQueries = map[Metric]countQuery{
	MetricResidents:       {sql: `SELECT COUNT(*) FROM residents WHERE barangay_id = $1 AND archived_at IS NULL`},
	MetricHouseholds:      {sql: `SELECT COUNT(*) FROM households WHERE barangay_id = $1`},
	MetricPendingRequests: {sql: `SELECT COUNT(*) FROM document_requests WHERE barangay_id = $1 AND status = 'pending'`},
	MetricOpenEmergencies: {sql: `SELECT COUNT(*) FROM emergency_reports WHERE barangay_id = $1 AND status IN ('open', 'responding')`},
	MetricNewFeedback:     {sql: `SELECT COUNT(*) FROM feedback WHERE barangay_id = $1 AND status = 'new'`},
	MetricUpcomingEvents:  {sql: `SELECT COUNT(*) FROM events WHERE barangay_id = $1 AND (start_at >= $2 OR is_recurring)`, withAsOf: true},
}

// Count runs the counter query for metric.
func (s *PGSource) Count(ctx context.Context, metric Metric, barangayID int64, asOf time.Time) (int64, error) {
	q, ok := countQueries[metric]
	if !ok {
		return 0, fmt.Errorf("prefetch: unknown metric %q", metric)
	}
	args := []any{barangayID}
	if q.withAsOf {
		args = append(args, asOf)
	}
	var n int64
	if err := s.pool.QueryRow(ctx, q.sql, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("prefetch: count %s: %w", metric, err)
	}
	return n, nil
}

// ApprovedBarangays lists the barangays whose dashboards are warmed nightly.
func (s *PGSource) ApprovedBarangays(ctx context.Context) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM barangays WHERE is_approved ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("prefetch: list barangays: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

var _ Source = (*PGSource)(nil)
