package records

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/routepulse/routepulse/internal/historical"
	"github.com/routepulse/routepulse/internal/upstream"
)

// HTTPSource reads the static demo documents published per city:
//
//	{base}/{city}/historical.json  array of records
//	{base}/{city}/routes.json      array of routes
type HTTPSource struct {
	baseURL string
	client  *upstream.Client
}

// NewHTTPSource creates a source rooted at baseURL.
func NewHTTPSource(baseURL string, client *upstream.Client) *HTTPSource {
	return &HTTPSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

func (s *HTTPSource) documentURL(cityID, name string) string {
	return s.baseURL + "/" + url.PathEscape(cityID) + "/" + name
}

// FetchRecords implements Source. The demo documents are not indexed by
// time, so the whole document is returned.
func (s *HTTPSource) FetchRecords(ctx context.Context, cityID string, _ Selection) ([]historical.HistoricalRecord, error) {
	var out []historical.HistoricalRecord
	if err := s.client.GetJSON(ctx, s.documentURL(cityID, "historical.json"), &out); err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCity, cityID)
		}
		return nil, fmt.Errorf("fetch records: %w", err)
	}
	return out, nil
}

// ValidRouteIDs implements RouteSource.
func (s *HTTPSource) ValidRouteIDs(ctx context.Context, cityID string) (historical.RouteSet, error) {
	routes, err := s.routes(ctx, cityID)
	if err != nil {
		return nil, err
	}
	return validIDs(routes), nil
}

// StaticDurations implements RouteSource.
func (s *HTTPSource) StaticDurations(ctx context.Context, cityID string) (map[string]float64, error) {
	routes, err := s.routes(ctx, cityID)
	if err != nil {
		return nil, err
	}
	return staticDurations(routes), nil
}

func (s *HTTPSource) routes(ctx context.Context, cityID string) ([]Route, error) {
	var routes []Route
	if err := s.client.GetJSON(ctx, s.documentURL(cityID, "routes.json"), &routes); err != nil {
		if errors.Is(err, upstream.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCity, cityID)
		}
		return nil, fmt.Errorf("fetch routes: %w", err)
	}
	return routes, nil
}
