package models

import (
	"github.com/routepulse/routepulse/internal/historical"
	"github.com/routepulse/routepulse/internal/insights"
)

// InsightsRequest is the body of every insights endpoint. The city and route
// come from the URL path.
type InsightsRequest struct {
	RequestID       string                 `json:"requestId,omitempty"`
	Filters         historical.TimeFilters `json:"filters"`
	IncludePerRoute bool                   `json:"includePerRoute,omitempty"`
	Slot            string                 `json:"slot,omitempty"`
	Replay          bool                   `json:"replay,omitempty"`
}

// ToRequest builds the service request for cityID and routeID.
func (r InsightsRequest) ToRequest(cityID, routeID string) insights.Request {
	return insights.Request{
		RequestID:       r.RequestID,
		CityID:          cityID,
		RouteID:         routeID,
		Filters:         r.Filters,
		IncludePerRoute: r.IncludePerRoute,
		Slot:            r.Slot,
		Replay:          r.Replay,
	}
}

// InsightsResponse wraps a computation result with the request it answers.
type InsightsResponse struct {
	RequestID  string        `json:"requestId,omitempty"`
	Kind       insights.Kind `json:"kind"`
	CityID     string        `json:"cityId"`
	RouteID    string        `json:"routeId,omitempty"`
	ComputedAt Timestamp     `json:"computedAt"`
	Data       any           `json:"data"`
}

// FieldErrorsFromIssues converts validation issues to problem field errors.
func FieldErrorsFromIssues(issues []insights.FieldIssue) []FieldError {
	out := make([]FieldError, 0, len(issues))
	for _, is := range issues {
		out = append(out, FieldError{Field: is.Field, Message: is.Message, Code: "INVALID"})
	}
	return out
}
