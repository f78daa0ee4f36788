package city

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository. The
// available date range is derived from the bounds of the city's records.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL city repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const citySelect = `
	SELECT
		c.id, c.name, c.timezone, c.use_cases,
		c.center_lat, c.center_lon,
		MIN(h.record_time), MAX(h.record_time)
	FROM cities c
	LEFT JOIN historical_records h ON h.city_id = c.id
`

// List implements Repository.
func (r *PostgresRepository) List(ctx context.Context) ([]*City, error) {
	query := citySelect + `
		GROUP BY c.id, c.name, c.timezone, c.use_cases, c.center_lat, c.center_lon
		ORDER BY c.id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	defer rows.Close()

	var cities []*City
	for rows.Next() {
		c, err := scanCity(rows)
		if err != nil {
			return nil, err
		}
		cities = append(cities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cities: %w", err)
	}
	return cities, nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*City, error) {
	query := citySelect + `
		WHERE c.id = $1
		GROUP BY c.id, c.name, c.timezone, c.use_cases, c.center_lat, c.center_lon
	`

	c, err := scanCity(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCityNotFound
		}
		return nil, err
	}
	return c, nil
}

func scanCity(row pgx.Row) (*City, error) {
	var (
		c           City
		lat, lon    *float64
		first, last *time.Time
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Timezone, &c.UseCases, &lat, &lon, &first, &last); err != nil {
		return nil, err
	}

	if lat != nil && lon != nil {
		c.Center = &Point{Lat: *lat, Lon: *lon}
	}

	if first != nil && last != nil {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w: city %s: %q", ErrInvalidTimezone, c.ID, c.Timezone)
		}
		c.AvailableDateRanges = AvailableRangeFromBounds(*first, *last, loc)
	}
	return &c, nil
}
