package sunrise

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stars4all/tessd/internal/database"
	"github.com/stars4all/tessd/internal/metrics"
)

// tickPeriod doubles as the half-width of the midnight window: the
// daily sweep fires on the first tick that lands within tickPeriod of
// midnight UTC, at most once per day.
const tickPeriod = time.Hour

// Store is the slice of the database the cache needs.
type Store interface {
	LocationsForSun(ctx context.Context) ([]database.Location, error)
	UpdateSunTimes(ctx context.Context, batch []database.SunTimes) error
}

// Options is the reloadable part of the cache configuration.
type Options struct {
	BatchPerc    int           // batch size as percent of the location count
	BatchMinSize int           // lower bound on the batch size
	Pause        time.Duration // sleep between batches
}

// Cache keeps the sunrise/sunset columns of location_t fresh. One sweep
// per day, batched so that no single write transaction stalls the
// readings path.
type Cache struct {
	store Store
	eph   Ephemeris
	log   zerolog.Logger
	now   func() time.Time

	mu      sync.Mutex
	opts    Options
	lastRun time.Time
}

func NewCache(store Store, eph Ephemeris, opts Options, log zerolog.Logger) *Cache {
	return &Cache{
		store: store,
		eph:   eph,
		log:   log.With().Str("component", "sunrise").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
		opts:  opts,
	}
}

// Reload swaps the batching knobs; the running sweep keeps its old ones.
func (c *Cache) Reload(opts Options) {
	c.mu.Lock()
	c.opts = opts
	c.mu.Unlock()
}

// Run sweeps once unconditionally, then hourly whenever a new day
// starts. Blocks until the context is cancelled.
func (c *Cache) Run(ctx context.Context) {
	c.Sweep(ctx)

	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.due(c.now()) {
				c.Sweep(ctx)
			}
		}
	}
}

// due reports whether a sweep should fire: within tickPeriod of
// midnight UTC and not yet run today.
func (c *Cache) due(now time.Time) bool {
	c.mu.Lock()
	last := c.lastRun
	c.mu.Unlock()

	if sameDay(now, last) {
		return false
	}
	midnight := now.Truncate(24 * time.Hour)
	off := now.Sub(midnight)
	if off > 12*time.Hour {
		off = 24*time.Hour - off
	}
	return off <= tickPeriod
}

// Sweep recomputes sunrise/sunset for every location with known
// coordinates, walking them in ascending id order in batches. Only a
// completed sweep counts as the day's run; a failed one is retried on
// the next tick inside the midnight window.
func (c *Cache) Sweep(ctx context.Context) {
	now := c.now()
	c.mu.Lock()
	opts := c.opts
	c.mu.Unlock()

	locs, err := c.store.LocationsForSun(ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("cannot list locations for sun sweep")
		return
	}
	if len(locs) == 0 {
		c.log.Debug().Msg("no locations with known coordinates")
		c.stamp(now)
		return
	}

	size := opts.BatchPerc * len(locs) / 100
	if size < opts.BatchMinSize {
		size = opts.BatchMinSize
	}
	c.log.Info().Int("locations", len(locs)).Int("batch_size", size).Msg("sun sweep started")

	for start := 0; start < len(locs); start += size {
		end := start + size
		if end > len(locs) {
			end = len(locs)
		}
		batch := make([]database.SunTimes, 0, end-start)
		for _, loc := range locs[start:end] {
			rise, set, state := c.eph.SunTimes(loc.Longitude, loc.Latitude, loc.Elevation, now)
			batch = append(batch, database.SunTimes{
				LocationID: loc.ID,
				Sunrise:    FormatSun(rise, state),
				Sunset:     FormatSun(set, state),
			})
		}
		if err := c.store.UpdateSunTimes(ctx, batch); err != nil {
			c.log.Error().Err(err).Int64("first_location", batch[0].LocationID).Msg("sun batch write failed")
			return
		}
		metrics.SunriseBatchesTotal.Inc()

		if end < len(locs) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(opts.Pause):
			}
		}
	}
	c.stamp(now)
	c.log.Info().Int("locations", len(locs)).Msg("sun sweep finished")
}

func (c *Cache) stamp(now time.Time) {
	c.mu.Lock()
	c.lastRun = now
	c.mu.Unlock()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
