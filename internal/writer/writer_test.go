package writer

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stars4all/tessd/internal/database"
	"github.com/stars4all/tessd/internal/ingest"
	"github.com/stars4all/tessd/internal/registry"
)

type fakeIdentity struct {
	resolved  map[string]*registry.Resolved
	registers []ingest.Registration
}

func (f *fakeIdentity) Register(_ context.Context, reg ingest.Registration) error {
	f.registers = append(f.registers, reg)
	// A registration makes the device resolvable, like the real registry.
	f.resolved[reg.Name] = &registry.Resolved{TessID: int64(len(f.registers)), LocationID: -1, ObserverID: -1, Authorised: true}
	return nil
}

func (f *fakeIdentity) Resolve(_ context.Context, name string) (*registry.Resolved, error) {
	return f.resolved[name], nil
}

func (f *fakeIdentity) TakeCounters() registry.Counters { return registry.Counters{} }

type fakeWriterStore struct {
	inserted   []database.ReadingRow
	inserted4c []database.ReadingRow
	flushes    int
	result     *database.FlushResult // overrides the all-inserted default
	sunrise    *string
	sunset     *string
}

func (f *fakeWriterStore) InsertReadings(_ context.Context, rows []database.ReadingRow) database.FlushResult {
	f.flushes++
	f.inserted = append(f.inserted, rows...)
	if f.result != nil {
		return *f.result
	}
	return database.FlushResult{Inserted: len(rows)}
}

func (f *fakeWriterStore) InsertReadings4C(_ context.Context, rows []database.ReadingRow) database.FlushResult {
	f.flushes++
	f.inserted4c = append(f.inserted4c, rows...)
	return database.FlushResult{Inserted: len(rows)}
}

func (f *fakeWriterStore) LatestUnits(_ context.Context, src string) (int64, error) {
	if src == "Publisher" {
		return 1, nil
	}
	return 2, nil
}

func (f *fakeWriterStore) FindSunTimes(context.Context, int64) (*string, *string, error) {
	return f.sunrise, f.sunset, nil
}

type fakePool struct{ resets int }

func (f *fakePool) Reset() { f.resets++ }

func newTestWriter(opts Options) (*Writer, *fakeIdentity, *fakeWriterStore, *ingest.Queue[ingest.Registration], *ingest.Queue[ingest.Reading]) {
	id := &fakeIdentity{resolved: make(map[string]*registry.Resolved)}
	store := &fakeWriterStore{}
	regQ := ingest.NewQueue[ingest.Registration](64)
	readQ := ingest.NewQueue[ingest.Reading](64)
	w := New(regQ, readQ, id, store, NewDaytimeFilter(store, nightEphemeris{}), nil, nil, opts, zerolog.Nop())
	w.now = func() time.Time { return time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC) }
	return w, id, store, regQ, readQ
}

func reading(name string, seq int64, ts time.Time) ingest.Reading {
	return ingest.Reading{
		Name:     name,
		Seq:      seq,
		Rev:      1,
		Channels: []ingest.Channel{{Freq: 1000, Mag: 19.5}},
		Tamb:     7,
		Tsky:     -18,
		Tstamp:   ts,
	}
}

func at(hour, min, sec int) time.Time {
	return time.Date(2024, 5, 1, hour, min, sec, 0, time.UTC)
}

func TestTickRegistrationsBeforeReadings(t *testing.T) {
	w, id, store, regQ, readQ := newTestWriter(Options{SecsResolution: 1})
	ctx := context.Background()

	// Reading for a device whose registration is still queued behind it.
	if err := readQ.Put(ctx, reading("t-001", 1, at(23, 0, 0))); err != nil {
		t.Fatal(err)
	}
	if err := regQ.Put(ctx, ingest.Registration{Name: "t-001", MAC: "AA:BB:CC:DD:EE:01", Bands: []ingest.Band{{Calib: 20.5}}, Tstamp: at(22, 59, 59)}); err != nil {
		t.Fatal(err)
	}

	w.tick(ctx)

	if len(id.registers) != 1 {
		t.Fatalf("registrations applied = %d, want 1", len(id.registers))
	}
	if w.counters.NotRegistered != 0 {
		t.Error("reading did not resolve against the just-applied registration")
	}
	if w.buf.len() != 1 {
		t.Errorf("buffered rows = %d, want 1", w.buf.len())
	}
	if store.flushes != 0 {
		t.Errorf("flushes = %d before the buffer fills", store.flushes)
	}
}

func TestProcessRejections(t *testing.T) {
	t.Run("not_registered", func(t *testing.T) {
		w, _, _, _, readQ := newTestWriter(Options{SecsResolution: 1})
		ctx := context.Background()
		readQ.Put(ctx, reading("nobody", 1, at(23, 0, 0)))
		w.tick(ctx)
		if w.counters.NotRegistered != 1 {
			t.Errorf("counters = %+v", w.counters)
		}
	})

	t.Run("not_authorised", func(t *testing.T) {
		w, id, _, _, readQ := newTestWriter(Options{SecsResolution: 1, AuthFilter: true})
		id.resolved["t-001"] = &registry.Resolved{TessID: 1, Authorised: false}
		ctx := context.Background()
		readQ.Put(ctx, reading("t-001", 1, at(23, 0, 0)))
		w.tick(ctx)
		if w.counters.NotAuthorised != 1 {
			t.Errorf("counters = %+v", w.counters)
		}
	})

	t.Run("unauthorised_passes_without_auth_filter", func(t *testing.T) {
		w, id, _, _, readQ := newTestWriter(Options{SecsResolution: 1, AuthFilter: false})
		id.resolved["t-001"] = &registry.Resolved{TessID: 1, Authorised: false}
		ctx := context.Background()
		readQ.Put(ctx, reading("t-001", 1, at(23, 0, 0)))
		w.tick(ctx)
		if w.counters.NotAuthorised != 0 || w.buf.len() != 1 {
			t.Errorf("counters = %+v, buffered = %d", w.counters, w.buf.len())
		}
	})

	t.Run("lack_sunrise", func(t *testing.T) {
		w, id, _, _, readQ := newTestWriter(Options{SecsResolution: 1, AuthFilter: true})
		id.resolved["t-001"] = &registry.Resolved{TessID: 1, Authorised: true}
		// fakeWriterStore sunrise/sunset stay nil: never computed.
		ctx := context.Background()
		readQ.Put(ctx, reading("t-001", 1, at(23, 0, 0)))
		w.tick(ctx)
		if w.counters.LackSunrise != 1 {
			t.Errorf("counters = %+v", w.counters)
		}
	})

	t.Run("daytime", func(t *testing.T) {
		w, id, store, _, readQ := newTestWriter(Options{SecsResolution: 1, AuthFilter: true})
		id.resolved["t-001"] = &registry.Resolved{TessID: 1, Authorised: true}
		rise, set := "2024-05-01T06:30:00", "2024-05-01T19:45:00"
		store.sunrise, store.sunset = &rise, &set
		ctx := context.Background()
		readQ.Put(ctx, reading("t-001", 1, at(12, 0, 0)))
		readQ.Put(ctx, reading("t-001", 2, at(23, 0, 0)))
		w.tick(ctx)
		if w.counters.Sunrise != 1 {
			t.Errorf("counters = %+v", w.counters)
		}
		if w.buf.len() != 1 {
			t.Errorf("night reading not buffered, buf = %d", w.buf.len())
		}
	})
}

func TestBufferFlushAtSize(t *testing.T) {
	w, id, store, _, readQ := newTestWriter(Options{SecsResolution: 1})
	id.resolved["t-001"] = &registry.Resolved{TessID: 7, LocationID: -1, ObserverID: -1, Authorised: true}
	ctx := context.Background()

	for i := 0; i < bufferSize+3; i++ {
		readQ.Put(ctx, reading("t-001", int64(i), at(23, 0, i)))
	}
	w.tick(ctx)

	if store.flushes != 1 {
		t.Fatalf("flushes = %d, want 1", store.flushes)
	}
	if len(store.inserted) != bufferSize {
		t.Errorf("inserted = %d, want %d", len(store.inserted), bufferSize)
	}
	if w.buf.len() != 3 {
		t.Errorf("left buffered = %d, want 3", w.buf.len())
	}
	// FIFO order survives into the batch.
	for i, row := range store.inserted {
		if row.Seq != int64(i) {
			t.Errorf("row %d has seq %d", i, row.Seq)
		}
	}
	if store.inserted[0].TessID != 7 || store.inserted[0].UnitsID != 2 {
		t.Errorf("row keys = %+v", store.inserted[0])
	}
}

func TestFourChannelRowsUseOwnBuffer(t *testing.T) {
	w, id, store, _, readQ := newTestWriter(Options{SecsResolution: 1})
	id.resolved["tess4c-1"] = &registry.Resolved{TessID: 1, Authorised: true}
	ctx := context.Background()

	r := reading("tess4c-1", 1, at(23, 0, 0))
	r.Channels = []ingest.Channel{
		{Freq: 100, Mag: 20.1}, {Freq: 101, Mag: 20.2},
		{Freq: 102, Mag: 20.3}, {Freq: 103, Mag: 20.4},
	}
	for i := 0; i < bufferSize; i++ {
		r.Seq = int64(i)
		readQ.Put(ctx, r)
	}
	w.tick(ctx)

	if len(store.inserted4c) != bufferSize || len(store.inserted) != 0 {
		t.Errorf("inserted4c = %d, inserted = %d", len(store.inserted4c), len(store.inserted))
	}
	if len(store.inserted4c[0].Freq) != 4 {
		t.Errorf("channels = %d, want 4", len(store.inserted4c[0].Freq))
	}
}

func TestDuplicateCounting(t *testing.T) {
	w, id, store, _, readQ := newTestWriter(Options{SecsResolution: 1})
	id.resolved["t-001"] = &registry.Resolved{TessID: 1, Authorised: true}
	store.result = &database.FlushResult{Inserted: 8, Duplicate: 2}
	ctx := context.Background()

	for i := 0; i < bufferSize; i++ {
		readQ.Put(ctx, reading("t-001", int64(i), at(23, 0, i)))
	}
	w.tick(ctx)

	if w.counters.NAccepted != 8 || w.counters.Duplicate != 2 {
		t.Errorf("counters = %+v", w.counters)
	}
}

func TestPauseAndResume(t *testing.T) {
	w, id, _, _, readQ := newTestWriter(Options{SecsResolution: 1})
	id.resolved["t-001"] = &registry.Resolved{TessID: 1, Authorised: true}
	ctx := context.Background()

	readQ.Put(ctx, reading("t-001", 1, at(23, 0, 0)))
	w.Pause()
	w.tick(ctx)
	if readQ.Len() != 1 {
		t.Error("paused writer drained the queue")
	}

	w.Resume()
	w.tick(ctx)
	if readQ.Len() != 0 || w.buf.len() != 1 {
		t.Error("resumed writer did not drain")
	}
}

func TestPauseResetsPoolWhenConfigured(t *testing.T) {
	id := &fakeIdentity{resolved: make(map[string]*registry.Resolved)}
	store := &fakeWriterStore{}
	pool := &fakePool{}
	regQ := ingest.NewQueue[ingest.Registration](4)
	readQ := ingest.NewQueue[ingest.Reading](4)

	w := New(regQ, readQ, id, store, NewDaytimeFilter(store, nightEphemeris{}), nil, pool,
		Options{SecsResolution: 1, CloseWhenPause: true}, zerolog.Nop())
	w.Pause()
	w.Pause() // idempotent: already paused, no second reset
	if pool.resets != 1 {
		t.Errorf("pool resets = %d, want 1", pool.resets)
	}

	w.Resume()
	w.Reload(Options{SecsResolution: 1, CloseWhenPause: false})
	w.Pause()
	if pool.resets != 1 {
		t.Errorf("pool resets = %d after reload, want still 1", pool.resets)
	}
}

// Rows buffered below the flush threshold are dropped at shutdown, not
// flushed. The broker redelivers them on the next start.
func TestShutdownDiscardsBufferedRows(t *testing.T) {
	w, id, store, _, readQ := newTestWriter(Options{SecsResolution: 1})
	id.resolved["t-001"] = &registry.Resolved{TessID: 1, Authorised: true}
	ctx, cancel := context.WithCancel(context.Background())

	for i := 0; i < 5; i++ {
		readQ.Put(ctx, reading("t-001", int64(i), at(23, 0, i)))
	}
	w.tick(ctx)
	if w.buf.len() != 5 {
		t.Fatalf("buffered = %d, want 5", w.buf.len())
	}

	cancel()
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
	if len(store.inserted) != 0 {
		t.Errorf("shutdown flushed %d rows, want 0", len(store.inserted))
	}
}

// Stats serves the HTTP handler goroutine while the run goroutine is
// buffering rows; the snapshot must never touch the buffers directly.
// Run with -race.
func TestStatsConcurrentWithTick(t *testing.T) {
	w, id, _, _, readQ := newTestWriter(Options{SecsResolution: 1})
	id.resolved["t-001"] = &registry.Resolved{TessID: 1, Authorised: true}
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			w.Stats()
		}
	}()
	for i := 0; i < 27; i++ {
		readQ.Put(ctx, reading("t-001", int64(i), at(23, 0, i%60)))
		w.tick(ctx)
	}
	<-done

	// 27 rows through a size-10 buffer leaves 7 behind.
	if got := w.Stats().Buffered; got != 7 {
		t.Errorf("Buffered = %d, want 7", got)
	}
}

func TestRoundDateTime(t *testing.T) {
	cases := []struct {
		name     string
		ts       time.Time
		res      int
		wantDate int32
		wantTime int32
	}{
		{"exact_second", time.Date(2024, 5, 1, 22, 0, 31, 0, time.UTC), 1, 20240501, 220031},
		{"round_up_minute", time.Date(2024, 5, 1, 22, 0, 31, 0, time.UTC), 60, 20240501, 220100},
		{"round_down_minute", time.Date(2024, 5, 1, 22, 0, 29, 0, time.UTC), 60, 20240501, 220000},
		{"day_rollover", time.Date(2024, 5, 1, 23, 59, 59, 0, time.UTC), 60, 20240502, 0},
		{"half_step", time.Date(2024, 5, 1, 22, 0, 15, 0, time.UTC), 30, 20240501, 220030},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, tm := roundDateTime(tc.ts, tc.res)
			if d != tc.wantDate || tm != tc.wantTime {
				t.Errorf("roundDateTime = %d/%06d, want %d/%06d", d, tm, tc.wantDate, tc.wantTime)
			}
		})
	}
}

func TestStatsAggregates(t *testing.T) {
	if min, mean, max := durStats([]time.Duration{3, 1, 2}); min != 1 || mean != 2 || max != 3 {
		t.Errorf("durStats = %v/%v/%v", min, mean, max)
	}
	if min, mean, max := intStats(nil); min != 0 || mean != 0 || max != 0 {
		t.Errorf("intStats(nil) = %v/%v/%v", min, mean, max)
	}
}
