package harvest

import (
	"context"
	"fmt"
	"time"
)

// knownSource is the static catalog of source names the daemon's
// `[harvest] enabled` config list may name, each with the freshness
// interval and measurement name spec §4.9 assigns it.
var knownSource = map[string]struct {
	measurement string
	interval    time.Duration
}{
	"weather":     {"weather_external", WeatherInterval},
	"forecast":    {"forecast", ForecastInterval},
	"solar":       {"solar_times", SolarInterval},
	"electricity": {"electricity_price", ElectricityInterval},
	"market":      {"market_price", MarketInterval},
	"tourism":     {"tourism_index", TourismInterval},
}

// unimplementedFetch satisfies FetchFunc for a source name with no
// vendor client wired in this build. It still exercises the harvester's
// scheduling and backoff loop (every call fails and backs off) rather
// than being silently absent from the Harvester's source list.
func unimplementedFetch(name string) FetchFunc {
	return func(ctx context.Context) (map[string]float64, error) {
		return nil, fmt.Errorf("harvest source %q has no vendor client configured", name)
	}
}

// BuildConfiguredSources turns the names from HarvestConfig.Enabled into
// Source values the Harvester can schedule. Unknown names are skipped
// with a returned error listing them, so a typo in config surfaces at
// startup instead of being silently ignored.
func BuildConfiguredSources(names []string) ([]Source, error) {
	sources := make([]Source, 0, len(names))
	var unknown []string
	for _, name := range names {
		kind, ok := knownSource[name]
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		sources = append(sources, Source{
			Name:        name,
			Measurement: kind.measurement,
			Interval:    kind.interval,
			Fetch:       unimplementedFetch(name),
		})
	}
	if len(unknown) > 0 {
		return sources, fmt.Errorf("harvest: unknown source(s) in config: %v", unknown)
	}
	return sources, nil
}
