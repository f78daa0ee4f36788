package records

import (
	"context"
	"fmt"
	"math"
	"time"

	"cloud.google.com/go/civil"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/routepulse/routepulse/internal/historical"
)

// isoOffsetLayout writes timestamps with the city's UTC offset.
const isoOffsetLayout = "2006-01-02T15:04:05-07:00"

// PostgresSource reads records and routes from PostgreSQL.
type PostgresSource struct {
	pool     *pgxpool.Pool
	encoding historical.TimeEncoding
}

// NewPostgresSource creates a source that renders record times in enc.
func NewPostgresSource(pool *pgxpool.Pool, enc historical.TimeEncoding) *PostgresSource {
	return &PostgresSource{pool: pool, encoding: enc}
}

// FetchRecords implements Source. Weekdays are taken and record times
// rendered in the zone of the window bounds. Local time strings carry their
// date alongside.
func (s *PostgresSource) FetchRecords(ctx context.Context, cityID string, sel Selection) ([]historical.HistoricalRecord, error) {
	query := `
		SELECT route_id, record_time, duration_seconds, static_duration_seconds
		FROM historical_records
		WHERE city_id = $1 AND record_time BETWEEN $2 AND $3
		  AND ($4::int[] IS NULL OR EXTRACT(DOW FROM record_time AT TIME ZONE $5)::int = ANY($4))
		ORDER BY record_time, route_id
	`

	loc := sel.Window.Start.Location()
	rows, err := s.pool.Query(ctx, query, cityID, sel.Window.Start, sel.Window.End, sel.DayNumbers(), loc.String())
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []historical.HistoricalRecord
	for rows.Next() {
		var (
			routeID          string
			at               time.Time
			duration, static *float64
		)
		if err := rows.Scan(&routeID, &at, &duration, &static); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		local := at.In(loc)
		rec := historical.HistoricalRecord{
			RouteID:               routeID,
			RecordTime:            s.formatTime(local),
			DurationSeconds:       nullableSeconds(duration),
			StaticDurationSeconds: nullableSeconds(static),
		}
		if s.encoding == historical.EncodingLocalTimeString {
			d := civil.DateOf(local)
			rec.LocalDate = &d
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return out, nil
}

// ValidRouteIDs implements RouteSource.
func (s *PostgresSource) ValidRouteIDs(ctx context.Context, cityID string) (historical.RouteSet, error) {
	routes, err := s.routes(ctx, cityID)
	if err != nil {
		return nil, err
	}
	return validIDs(routes), nil
}

// StaticDurations implements RouteSource.
func (s *PostgresSource) StaticDurations(ctx context.Context, cityID string) (map[string]float64, error) {
	routes, err := s.routes(ctx, cityID)
	if err != nil {
		return nil, err
	}
	return staticDurations(routes), nil
}

func (s *PostgresSource) routes(ctx context.Context, cityID string) ([]Route, error) {
	query := `
		SELECT id, status, static_duration_seconds
		FROM routes
		WHERE city_id = $1 AND status = $2
		ORDER BY id
	`

	rows, err := s.pool.Query(ctx, query, cityID, RouteStatusRunning)
	if err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	defer rows.Close()

	var routes []Route
	for rows.Next() {
		var (
			r      Route
			static *float64
		)
		if err := rows.Scan(&r.ID, &r.Status, &static); err != nil {
			return nil, fmt.Errorf("scan route: %w", err)
		}
		r.StaticDurationSeconds = nullableSeconds(static)
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query routes: %w", err)
	}
	return routes, nil
}

func (s *PostgresSource) formatTime(t time.Time) string {
	if s.encoding == historical.EncodingLocalTimeString {
		return t.Format("15:04:05")
	}
	return t.Format(isoOffsetLayout)
}

func nullableSeconds(v *float64) historical.Seconds {
	if v == nil {
		return historical.Seconds(math.NaN())
	}
	return historical.Seconds(*v)
}
