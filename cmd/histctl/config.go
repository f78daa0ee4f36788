package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"cloud.google.com/go/civil"
	"github.com/BurntSushi/toml"

	"github.com/routepulse/routepulse/internal/city"
	"github.com/routepulse/routepulse/internal/historical"
	"github.com/routepulse/routepulse/internal/records"
)

// FileConfig represents the TOML configuration file.
type FileConfig struct {
	// Mode is "demo" (ISO timestamps) or "live" (local time strings).
	Mode      string     `toml:"mode"`
	Tolerance float64    `toml:"tolerance"`
	City      CityConfig `toml:"city"`
	Data      DataConfig `toml:"data"`
	Auth      AuthConfig `toml:"auth"`

	// dir is the directory of the config file; data paths are relative to it.
	dir string
}

// CityConfig describes the single city a dataset belongs to.
type CityConfig struct {
	ID        string `toml:"id"`
	Name      string `toml:"name"`
	Timezone  string `toml:"timezone"`
	StartDate string `toml:"start_date"`
	EndDate   string `toml:"end_date"`
}

// DataConfig points at the JSON documents, in the same shape the demo data
// server publishes.
type DataConfig struct {
	Records string `toml:"records"`
	Routes  string `toml:"routes"`
}

// AuthConfig holds the admin token settings.
type AuthConfig struct {
	SigningKey string `toml:"signing_key"`
}

// LoadConfig reads a TOML config from the given path. Missing file is not an error.
func LoadConfig(path string) (FileConfig, error) {
	if path == "" {
		return FileConfig{}, fmt.Errorf("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return FileConfig{dir: "."}, nil
		}
		return FileConfig{}, fmt.Errorf("failed to stat config: %w", err)
	}
	var cfg FileConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return FileConfig{}, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.dir = filepath.Dir(path)
	return cfg, nil
}

// Encoding returns the time encoding for Mode, defaulting to demo.
func (c FileConfig) Encoding() (historical.TimeEncoding, error) {
	if c.Mode == "" {
		return historical.EncodingISOWithOffset, nil
	}
	return historical.ParseTimeEncoding(c.Mode)
}

// CityModel builds and validates the configured city.
func (c FileConfig) CityModel() (*city.City, error) {
	if c.City.ID == "" {
		return nil, fmt.Errorf("[city] id is required")
	}
	start, err := civil.ParseDate(c.City.StartDate)
	if err != nil {
		return nil, fmt.Errorf("[city] start_date: %w", err)
	}
	end, err := civil.ParseDate(c.City.EndDate)
	if err != nil {
		return nil, fmt.Errorf("[city] end_date: %w", err)
	}

	m := &city.City{
		ID:                  c.City.ID,
		Name:                c.City.Name,
		Timezone:            c.City.Timezone,
		AvailableDateRanges: historical.DateRange{StartDate: start, EndDate: end},
	}
	if m.Name == "" {
		m.Name = m.ID
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// LoadDataset reads the record and route documents into an in-memory store.
func (c FileConfig) LoadDataset() (*records.InMemorySource, error) {
	if c.Data.Records == "" {
		return nil, fmt.Errorf("[data] records is required")
	}

	var recs []historical.HistoricalRecord
	if err := c.readJSON(c.Data.Records, &recs); err != nil {
		return nil, fmt.Errorf("reading records: %w", err)
	}

	var routes []records.Route
	if c.Data.Routes != "" {
		if err := c.readJSON(c.Data.Routes, &routes); err != nil {
			return nil, fmt.Errorf("reading routes: %w", err)
		}
	} else {
		routes = routesFromRecords(recs)
	}

	store := records.NewInMemorySource()
	store.SetRecords(c.City.ID, recs)
	store.SetRoutes(c.City.ID, routes)
	return store, nil
}

func (c FileConfig) readJSON(path string, dest any) error {
	if !filepath.IsAbs(path) && c.dir != "" {
		path = filepath.Join(c.dir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// routesFromRecords treats every route seen in recs as running, with the
// static duration of its last record.
func routesFromRecords(recs []historical.HistoricalRecord) []records.Route {
	index := make(map[string]int)
	var routes []records.Route
	for _, r := range recs {
		if r.RouteID == "" {
			continue
		}
		i, ok := index[r.RouteID]
		if !ok {
			i = len(routes)
			index[r.RouteID] = i
			routes = append(routes, records.Route{ID: r.RouteID, Status: records.RouteStatusRunning})
		}
		routes[i].StaticDurationSeconds = r.StaticDurationSeconds
	}
	return routes
}
