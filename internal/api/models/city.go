package models

import "github.com/routepulse/routepulse/internal/city"

// CityList is the response of GET /v1/cities.
type CityList struct {
	Items []*city.City `json:"items"`
}

// CacheInvalidateRequest is the body of POST /v1/admin/cache/invalidate. An
// empty CityID invalidates every city.
type CacheInvalidateRequest struct {
	CityID string `json:"cityId,omitempty"`
}
