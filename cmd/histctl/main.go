// Package main provides histctl, the offline CLI for running travel-time
// aggregations over local JSON exports and for admin chores.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/routepulse/routepulse/internal/auth"
	"github.com/routepulse/routepulse/internal/city"
	"github.com/routepulse/routepulse/internal/database"
	"github.com/routepulse/routepulse/internal/historical"
	"github.com/routepulse/routepulse/internal/insights"
)

const defaultConfigPath = "histctl.toml"

var (
	configPath string
	verbose    bool

	queryPeriod    string
	queryDays      []string
	queryHours     string
	queryStart     string
	queryEnd       string
	queryPerRoute  bool
	queryReference string

	tokenSubject string
	tokenScopes  []string
	tokenTTL     time.Duration
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "histctl",
		Short:         "Historical travel-time analytics over local data",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the TOML config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log skipped records to stderr")

	rootCmd.AddCommand(newQueryCmd("aggregate", "Hourly and daily aggregates for the city", insights.KindHistorical, cobra.NoArgs))
	rootCmd.AddCommand(newQueryCmd("route-metrics", "Network-wide delay metrics", insights.KindRouteMetrics, cobra.NoArgs))
	rootCmd.AddCommand(newQueryCmd("route <routeId>", "Metrics for a single route", insights.KindRouteSpecific, cobra.ExactArgs(1)))
	rootCmd.AddCommand(newQueryCmd("avg-travel-time", "Average travel time by hour", insights.KindAverageTravelTime, cobra.NoArgs))
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newMigrateCmd())

	return rootCmd
}

func newQueryCmd(use, short string, kind insights.Kind, args cobra.PositionalArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			var routeID string
			if len(args) > 0 {
				routeID = args[0]
			}
			return runQuery(cmd, kind, routeID)
		},
	}

	cmd.Flags().StringVar(&queryPeriod, "period", "", "time period: last-week, last-month, last-week-to-last-week or custom (default: all)")
	cmd.Flags().StringSliceVar(&queryDays, "days", nil, "day names to include, or \"all\"")
	cmd.Flags().StringVar(&queryHours, "hours", "", "inclusive hour range START-END; wraps past midnight when START > END")
	cmd.Flags().StringVar(&queryStart, "start", "", "first date of a custom period, YYYY-MM-DD")
	cmd.Flags().StringVar(&queryEnd, "end", "", "last date of a custom period, YYYY-MM-DD")
	cmd.Flags().StringVar(&queryReference, "now", "", "reference instant for live-mode data, RFC 3339 (default: now)")
	if kind == insights.KindRouteMetrics {
		cmd.Flags().BoolVar(&queryPerRoute, "per-route", false, "include per-route maps")
	}
	return cmd
}

func runQuery(cmd *cobra.Command, kind insights.Kind, routeID string) error {
	fileCfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	filters, err := buildFilters(queryPeriod, queryDays, queryHours, queryStart, queryEnd)
	if err != nil {
		return err
	}

	svc, err := newOfflineService(fileCfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	result, err := svc.Compute(cmd.Context(), kind, insights.Request{
		CityID:          fileCfg.City.ID,
		RouteID:         routeID,
		Filters:         filters,
		IncludePerRoute: queryPerRoute,
	})
	if err != nil {
		var verr *insights.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("invalid query: %w", verr)
		}
		return err
	}
	return writeJSON(cmd.OutOrStdout(), result)
}

func newOfflineService(fileCfg FileConfig, logOut io.Writer) (*insights.Service, error) {
	enc, err := fileCfg.Encoding()
	if err != nil {
		return nil, fmt.Errorf("mode: %w", err)
	}
	c, err := fileCfg.CityModel()
	if err != nil {
		return nil, err
	}
	store, err := fileCfg.LoadDataset()
	if err != nil {
		return nil, err
	}

	log := zerolog.Nop()
	if verbose {
		log = zerolog.New(zerolog.ConsoleWriter{Out: logOut}).Level(zerolog.DebugLevel)
	}

	now := time.Now
	if queryReference != "" {
		ref, err := time.Parse(time.RFC3339, queryReference)
		if err != nil {
			return nil, fmt.Errorf("--now: %w", err)
		}
		now = func() time.Time { return ref }
	}

	return insights.NewService(insights.Config{
		Cities:    city.NewInMemoryRepository(c),
		Records:   store,
		Encoding:  enc,
		Tolerance: fileCfg.Tolerance,
		Debounce:  -1,
		Now:       now,
		Logger:    log,
	})
}

// buildFilters turns command-line flags into TimeFilters.
func buildFilters(period string, days []string, hours, start, end string) (historical.TimeFilters, error) {
	f := historical.TimeFilters{
		TimePeriod: historical.TimePeriod(period),
		Days:       days,
	}

	if hours != "" {
		hr, err := parseHourRange(hours)
		if err != nil {
			return f, fmt.Errorf("--hours: %w", err)
		}
		f.HourRange = hr
	}
	if start != "" {
		d, err := civil.ParseDate(start)
		if err != nil {
			return f, fmt.Errorf("--start: %w", err)
		}
		f.StartDate = &d
	}
	if end != "" {
		d, err := civil.ParseDate(end)
		if err != nil {
			return f, fmt.Errorf("--end: %w", err)
		}
		f.EndDate = &d
	}
	return f, nil
}

func parseHourRange(s string) (*historical.HourRange, error) {
	startStr, endStr, ok := strings.Cut(s, "-")
	if !ok {
		return nil, fmt.Errorf("expected START-END, got %q", s)
	}
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(endStr))
	if err != nil {
		return nil, fmt.Errorf("end: %w", err)
	}
	return &historical.HourRange{Start: start, End: end}, nil
}

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Manage admin tokens",
	}

	issueCmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a signed admin token",
		Args:  cobra.NoArgs,
		RunE:  runTokenIssue,
	}
	issueCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject, usually the operator's email")
	issueCmd.Flags().StringSliceVar(&tokenScopes, "scope", []string{auth.ScopeCacheInvalidate}, "granted scopes")
	issueCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "token lifetime")
	_ = issueCmd.MarkFlagRequired("subject")

	tokenCmd.AddCommand(issueCmd)
	return tokenCmd
}

func runTokenIssue(cmd *cobra.Command, _ []string) error {
	fileCfg, err := LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	key := os.Getenv("JWT_SIGNING_KEY")
	if key == "" {
		key = fileCfg.Auth.SigningKey
	}

	tokens := auth.NewTokenService(auth.TokenConfig{SigningKey: key})
	token, expiresAt, err := tokens.Issue(tokenSubject, tokenScopes, tokenTTL)
	if err != nil {
		return err
	}

	return writeJSON(cmd.OutOrStdout(), map[string]any{
		"token":     token,
		"subject":   tokenSubject,
		"scopes":    tokenScopes,
		"expiresAt": expiresAt.UTC().Format(time.RFC3339),
	})
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the record store schema in the database named by DB_* or DATABASE_URL",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			pool, err := database.Connect(ctx, database.ConfigFromEnv())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
