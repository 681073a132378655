package harvest

import (
	"context"
	"log"
	"time"

	"github.com/hydroloop/gateway/internal/domain"
	"github.com/hydroloop/gateway/internal/infra/metrics"
)

// FetchFunc retrieves one source's current field values. Implementations
// live outside this package (HTTP clients to weather/solar/market/
// tourism providers) since no such client exists anywhere in the
// reference corpus; this package only owns scheduling, backoff, and
// snapshot publication.
type FetchFunc func(ctx context.Context) (map[string]float64, error)

// Source describes one scheduled external-context feed.
type Source struct {
	Name        string
	Measurement string
	Interval    time.Duration
	Fetch       FetchFunc
}

// Default freshness intervals per source kind, per spec §4.9.
const (
	WeatherInterval     = 15 * time.Minute
	ForecastInterval    = time.Hour
	SolarInterval       = 6 * time.Hour
	ElectricityInterval = time.Hour
	MarketInterval      = 24 * time.Hour
	TourismInterval     = 24 * time.Hour

	maxBackoff = time.Hour
)

// Harvester runs one goroutine per source, each cooperative (a source
// never has two fetches in flight at once), with exponential backoff on
// fetch failure capped at maxBackoff.
type Harvester struct {
	store   *Store
	tsdb    domain.TimeSeriesWriter
	logger  *log.Logger
	sources []Source
	now     func() time.Time
}

// New creates a harvester publishing into store and tsdb for the given
// sources.
func New(store *Store, tsdb domain.TimeSeriesWriter, logger *log.Logger, sources []Source) *Harvester {
	return &Harvester{store: store, tsdb: tsdb, logger: logger, sources: sources, now: time.Now}
}

// Run starts every source's scheduling loop; call in a goroutine. Each
// loop exits when ctx is done.
func (h *Harvester) Run(ctx context.Context) {
	for _, src := range h.sources {
		go h.runSource(ctx, src)
	}
}

func (h *Harvester) runSource(ctx context.Context, src Source) {
	interval := src.Interval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		values, err := src.Fetch(ctx)
		fetchedAt := h.now()
		if err != nil {
			metrics.HarvestFetches.WithLabelValues(src.Name, "error").Inc()
			h.logger.Printf("harvest: %s fetch failed: %v", src.Name, err)
			interval *= 2
			if interval > maxBackoff {
				interval = maxBackoff
			}
			timer.Reset(interval)
			continue
		}
		metrics.HarvestFetches.WithLabelValues(src.Name, "ok").Inc()

		interval = src.Interval
		validUntil := fetchedAt.Add(src.Interval)
		entries := make(map[string]domain.ContextEntry, len(values))
		for field, v := range values {
			entries[field] = domain.ContextEntry{
				Source:     src.Name,
				Field:      field,
				Value:      v,
				FetchedAt:  fetchedAt,
				ValidUntil: validUntil,
			}
		}
		h.store.Publish(entries)
		h.tsdb.Write(domain.TSPoint{
			Measurement: src.Measurement,
			Tags:        map[string]string{"source": src.Name},
			Fields:      values,
			At:          fetchedAt,
		})

		timer.Reset(interval)
	}
}
