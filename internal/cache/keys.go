package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Result kinds.
const (
	KindHistorical        = "historical"
	KindRouteMetrics      = "route-metrics"
	KindRouteSpecific     = "route-specific"
	KindAverageTravelTime = "average-travel-time"
)

const (
	keyNamespace = "hist"
	hashLength   = 32
)

// CityPrefix is the prefix shared by every result key of a city.
func CityPrefix(cityID string) string {
	return fmt.Sprintf("%s:%s:", keyNamespace, cityID)
}

// AllPrefix is the prefix shared by every result key.
func AllPrefix() string {
	return keyNamespace + ":"
}

// QueryKey builds the key of a query result. The query is reduced to a
// canonical JSON form with sorted object keys, so structurally equal queries
// share a key whatever their field order.
func QueryKey(kind, cityID string, query any) (string, error) {
	canonical, err := Canonical(query)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%s%s:%s", CityPrefix(cityID), kind, hex.EncodeToString(sum[:])[:hashLength]), nil
}

// Canonical returns the JSON encoding of v with object keys sorted at every
// level.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode query: %w", err)
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}
