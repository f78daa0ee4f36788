package city

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/civil"

	"github.com/routepulse/routepulse/internal/historical"
)

const timezoneSuffix = "_TIMEZONE"

// EnvRepository reads the catalogue from environment variables. A city FOO
// is declared by FOO_TIMEZONE and described by:
//
//	FOO_NAME             display name (defaults to the ID)
//	FOO_DATA_START_DATE  first date with data, YYYY-MM-DD
//	FOO_DATA_END_DATE    last date with data, YYYY-MM-DD
//	FOO_USECASES         comma-separated list
//	FOO_CENTER           "lat,lon"
type EnvRepository struct {
	mem *InMemoryRepository
}

// NewEnvRepository parses cities from environ, usually os.Environ().
// Cities with incomplete or invalid settings are reported in the error and
// left out; the others are still served.
func NewEnvRepository(environ []string) (*EnvRepository, error) {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			vars[k] = v
		}
	}

	mem := NewInMemoryRepository()
	var problems []string
	for key, tz := range vars {
		if !strings.HasSuffix(key, timezoneSuffix) || tz == "" {
			continue
		}
		prefix := strings.TrimSuffix(key, timezoneSuffix)
		c, err := cityFromEnv(prefix, tz, vars)
		if err != nil {
			problems = append(problems, err.Error())
			continue
		}
		mem.Put(c)
	}

	repo := &EnvRepository{mem: mem}
	if len(problems) > 0 {
		return repo, fmt.Errorf("invalid city configuration: %s", strings.Join(problems, "; "))
	}
	return repo, nil
}

func cityFromEnv(prefix, tz string, vars map[string]string) (*City, error) {
	id := strings.ToLower(prefix)
	c := &City{
		ID:       id,
		Name:     vars[prefix+"_NAME"],
		Timezone: tz,
	}
	if c.Name == "" {
		c.Name = id
	}

	start, err := civil.ParseDate(vars[prefix+"_DATA_START_DATE"])
	if err != nil {
		return nil, fmt.Errorf("%s_DATA_START_DATE: %w", prefix, err)
	}
	end, err := civil.ParseDate(vars[prefix+"_DATA_END_DATE"])
	if err != nil {
		return nil, fmt.Errorf("%s_DATA_END_DATE: %w", prefix, err)
	}
	c.AvailableDateRanges = historical.DateRange{StartDate: start, EndDate: end}

	if raw := vars[prefix+"_USECASES"]; raw != "" {
		for _, u := range strings.Split(raw, ",") {
			if u = strings.TrimSpace(u); u != "" {
				c.UseCases = append(c.UseCases, u)
			}
		}
	}

	if raw := vars[prefix+"_CENTER"]; raw != "" {
		p, err := parsePoint(raw)
		if err != nil {
			return nil, fmt.Errorf("%s_CENTER: %w", prefix, err)
		}
		c.Center = p
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parsePoint(raw string) (*Point, error) {
	latStr, lonStr, ok := strings.Cut(raw, ",")
	if !ok {
		return nil, fmt.Errorf("expected lat,lon, got %q", raw)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return nil, err
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return nil, err
	}
	return &Point{Lat: lat, Lon: lon}, nil
}

// List implements Repository.
func (r *EnvRepository) List(ctx context.Context) ([]*City, error) {
	return r.mem.List(ctx)
}

// Get implements Repository.
func (r *EnvRepository) Get(ctx context.Context, id string) (*City, error) {
	return r.mem.Get(ctx, id)
}
