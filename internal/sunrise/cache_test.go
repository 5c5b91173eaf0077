package sunrise

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stars4all/tessd/internal/database"
)

type fakeCacheStore struct {
	locs      []database.Location
	listErr   error
	updateErr error
	batches   [][]database.SunTimes
}

func (f *fakeCacheStore) LocationsForSun(context.Context) ([]database.Location, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.locs, nil
}

func (f *fakeCacheStore) UpdateSunTimes(_ context.Context, batch []database.SunTimes) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.batches = append(f.batches, batch)
	return nil
}

type fakeEphemeris struct {
	state SunState
}

func (f *fakeEphemeris) SunTimes(_, _, _ float64, date time.Time) (time.Time, time.Time, SunState) {
	if f.state != SunNormal {
		return time.Time{}, time.Time{}, f.state
	}
	y, m, d := date.Date()
	rise := time.Date(y, m, d, 6, 30, 0, 0, time.UTC)
	set := time.Date(y, m, d, 19, 45, 0, 0, time.UTC)
	return rise, set, SunNormal
}

func manyLocations(n int) []database.Location {
	locs := make([]database.Location, n)
	for i := range locs {
		locs[i] = database.Location{ID: int64(i + 1), Longitude: -3.7, Latitude: 40.4, Elevation: 667}
	}
	return locs
}

func newTestCache(store *fakeCacheStore, eph Ephemeris, opts Options) *Cache {
	c := NewCache(store, eph, opts, zerolog.Nop())
	c.now = func() time.Time { return time.Date(2024, 6, 1, 0, 20, 0, 0, time.UTC) }
	return c
}

func TestSweepBatching(t *testing.T) {
	store := &fakeCacheStore{locs: manyLocations(250)}
	c := newTestCache(store, &fakeEphemeris{}, Options{BatchPerc: 10, BatchMinSize: 50, Pause: 0})

	c.Sweep(context.Background())

	// 10% of 250 is below the floor of 50, so 5 batches of 50.
	if len(store.batches) != 5 {
		t.Fatalf("batches = %d, want 5", len(store.batches))
	}
	for i, b := range store.batches {
		if len(b) != 50 {
			t.Errorf("batch %d size = %d, want 50", i, len(b))
		}
	}
	// Ascending location order across batch boundaries.
	if store.batches[0][0].LocationID != 1 || store.batches[4][49].LocationID != 250 {
		t.Errorf("batch order: first=%d last=%d", store.batches[0][0].LocationID, store.batches[4][49].LocationID)
	}
}

func TestSweepPercAboveFloor(t *testing.T) {
	store := &fakeCacheStore{locs: manyLocations(1000)}
	c := newTestCache(store, &fakeEphemeris{}, Options{BatchPerc: 20, BatchMinSize: 50, Pause: 0})

	c.Sweep(context.Background())

	if len(store.batches) != 5 {
		t.Fatalf("batches = %d, want 5 of 200", len(store.batches))
	}
	if len(store.batches[0]) != 200 {
		t.Errorf("batch size = %d, want 200", len(store.batches[0]))
	}
}

func TestSweepWritesTimesAndSentinels(t *testing.T) {
	t.Run("normal_day", func(t *testing.T) {
		store := &fakeCacheStore{locs: manyLocations(1)}
		c := newTestCache(store, &fakeEphemeris{}, Options{BatchPerc: 10, BatchMinSize: 50})
		c.Sweep(context.Background())

		st := store.batches[0][0]
		if st.Sunrise != "2024-06-01T06:30:00" || st.Sunset != "2024-06-01T19:45:00" {
			t.Errorf("sun times = %q / %q", st.Sunrise, st.Sunset)
		}
	})

	t.Run("polar_night", func(t *testing.T) {
		store := &fakeCacheStore{locs: manyLocations(1)}
		c := newTestCache(store, &fakeEphemeris{state: SunNeverUp}, Options{BatchPerc: 10, BatchMinSize: 50})
		c.Sweep(context.Background())

		st := store.batches[0][0]
		if st.Sunrise != SentinelNeverUp || st.Sunset != SentinelNeverUp {
			t.Errorf("sun times = %q / %q, want sentinels", st.Sunrise, st.Sunset)
		}
	})
}

func TestSweepSkipsWhenEmpty(t *testing.T) {
	store := &fakeCacheStore{}
	c := newTestCache(store, &fakeEphemeris{}, Options{BatchPerc: 10, BatchMinSize: 50})
	c.Sweep(context.Background())
	if len(store.batches) != 0 {
		t.Errorf("batches = %d, want none", len(store.batches))
	}
}

func TestDue(t *testing.T) {
	c := newTestCache(&fakeCacheStore{}, &fakeEphemeris{}, Options{})

	midday := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	if c.due(midday) {
		t.Error("due at midday")
	}
	afterMidnight := time.Date(2024, 6, 2, 0, 40, 0, 0, time.UTC)
	if !c.due(afterMidnight) {
		t.Error("not due shortly after midnight")
	}
	beforeMidnight := time.Date(2024, 6, 2, 23, 30, 0, 0, time.UTC)
	if !c.due(beforeMidnight) {
		t.Error("not due shortly before midnight")
	}

	c.Sweep(context.Background()) // stamps lastRun at the fake now (2024-06-01)
	sameDayAgain := time.Date(2024, 6, 1, 0, 50, 0, 0, time.UTC)
	if c.due(sameDayAgain) {
		t.Error("due twice on the same day")
	}
}

// A sweep that fails must stay due, so the next tick inside the
// midnight window retries instead of waiting a whole day.
func TestSweepFailureRetriesSameDay(t *testing.T) {
	later := time.Date(2024, 6, 1, 0, 50, 0, 0, time.UTC)

	t.Run("list_failure", func(t *testing.T) {
		store := &fakeCacheStore{locs: manyLocations(1), listErr: errors.New("db down")}
		c := newTestCache(store, &fakeEphemeris{}, Options{BatchPerc: 10, BatchMinSize: 50})

		c.Sweep(context.Background())
		if !c.due(later) {
			t.Fatal("failed sweep counted as the day's run")
		}

		store.listErr = nil
		c.Sweep(context.Background())
		if c.due(later) {
			t.Error("successful sweep did not count as the day's run")
		}
	})

	t.Run("batch_write_failure", func(t *testing.T) {
		store := &fakeCacheStore{locs: manyLocations(1), updateErr: errors.New("db down")}
		c := newTestCache(store, &fakeEphemeris{}, Options{BatchPerc: 10, BatchMinSize: 50})

		c.Sweep(context.Background())
		if !c.due(later) {
			t.Error("failed sweep counted as the day's run")
		}
	})
}

func TestParseSunRoundTrip(t *testing.T) {
	rise := time.Date(2024, 6, 1, 6, 30, 0, 0, time.UTC)
	got, state, err := ParseSun(FormatSun(rise, SunNormal))
	if err != nil || state != SunNormal || !got.Equal(rise) {
		t.Errorf("round trip = %v/%v/%v", got, state, err)
	}

	_, state, err = ParseSun(SentinelAlwaysUp)
	if err != nil || state != SunAlwaysUp {
		t.Errorf("sentinel parse = %v/%v", state, err)
	}
	if _, _, err = ParseSun("garbage"); err == nil {
		t.Error("garbage accepted")
	}
}
