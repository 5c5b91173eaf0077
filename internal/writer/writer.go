package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/stars4all/tessd/internal/database"
	"github.com/stars4all/tessd/internal/ingest"
	"github.com/stars4all/tessd/internal/metrics"
	"github.com/stars4all/tessd/internal/registry"
)

// tickPeriod is the queue poll cadence; statPeriod the counter log one.
const (
	tickPeriod = time.Second
	statPeriod = time.Hour
)

// Store is the slice of the database the writer needs.
type Store interface {
	InsertReadings(ctx context.Context, rows []database.ReadingRow) database.FlushResult
	InsertReadings4C(ctx context.Context, rows []database.ReadingRow) database.FlushResult
	LatestUnits(ctx context.Context, timestampSource string) (int64, error)
}

// Identity is the registry surface the writer drives.
type Identity interface {
	Register(ctx context.Context, reg ingest.Registration) error
	Resolve(ctx context.Context, name string) (*registry.Resolved, error)
	TakeCounters() registry.Counters
}

// Pool lets the writer drop database connections while paused.
type Pool interface {
	Reset()
}

// Options is the reloadable part of the writer configuration.
type Options struct {
	SecsResolution int
	AuthFilter     bool
	CloseWhenPause bool
	StatsMode      string // condensed | detailed | off
}

// Counters classify every dequeued reading; logged and reset hourly.
type Counters struct {
	NReadings     int64 // dequeued
	NAccepted     int64
	NotRegistered int64
	NotAuthorised int64
	LackSunrise   int64
	Sunrise       int64
	Duplicate     int64
	Other         int64
}

// Snapshot is the cumulative state exposed on the stats endpoint.
type Snapshot struct {
	Paused        bool              `json:"paused"`
	RegisterQueue int               `json:"register_queue"`
	ReadingsQueue int               `json:"readings_queue"`
	Buffered      int               `json:"buffered"`
	Readings      Counters          `json:"readings"`
	Registry      registry.Counters `json:"registry"`
	MQTT          ingest.Counters   `json:"mqtt"`
}

// Writer drains the staging queues once per second: registrations first
// so that a brand-new device's first reading resolves, then the
// readings that were enqueued when the tick started. Accepted rows
// accumulate in per-shape buffers flushed as batched inserts.
type Writer struct {
	registerQ  *ingest.Queue[ingest.Registration]
	readingsQ  *ingest.Queue[ingest.Reading]
	identity   Identity
	store      Store
	filter     *DaytimeFilter
	subscriber *ingest.Subscriber
	pool       Pool
	log        zerolog.Logger
	now        func() time.Time

	mu     sync.Mutex
	opts   Options
	paused bool

	// buffered mirrors the fill level of the per-shape buffers for the
	// stats endpoint; the buffers themselves stay run-goroutine-only.
	buffered atomic.Int64

	// Owned by the run goroutine past this point.
	counters Counters
	totals   Counters
	regTotal registry.Counters
	subTotal ingest.Counters
	ioTimes  []time.Duration
	pending  []int
	unitsIDs map[ingest.TimestampSource]int64
	buf      *buffer
	buf4c    *buffer
}

func New(registerQ *ingest.Queue[ingest.Registration], readingsQ *ingest.Queue[ingest.Reading],
	identity Identity, store Store, filter *DaytimeFilter, sub *ingest.Subscriber,
	pool Pool, opts Options, log zerolog.Logger) *Writer {
	return &Writer{
		registerQ:  registerQ,
		readingsQ:  readingsQ,
		identity:   identity,
		store:      store,
		filter:     filter,
		subscriber: sub,
		pool:       pool,
		log:        log.With().Str("component", "writer").Logger(),
		now:        func() time.Time { return time.Now().UTC() },
		opts:       opts,
		unitsIDs:   make(map[ingest.TimestampSource]int64),
		buf:        newBuffer(bufferSize),
		buf4c:      newBuffer(bufferSize),
	}
}

// Reload swaps the writer knobs at the next tick boundary.
func (w *Writer) Reload(opts Options) {
	w.mu.Lock()
	w.opts = opts
	w.mu.Unlock()
}

// Pause stops the drain step; queues keep filling up to their bounds.
func (w *Writer) Pause() {
	w.mu.Lock()
	closePool := !w.paused && w.opts.CloseWhenPause && w.pool != nil
	w.paused = true
	w.mu.Unlock()
	w.log.Info().Msg("writer paused")
	if closePool {
		w.pool.Reset()
	}
}

func (w *Writer) Resume() {
	w.mu.Lock()
	w.paused = false
	w.mu.Unlock()
	w.log.Info().Msg("writer resumed")
}

func (w *Writer) Paused() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.paused
}

// Run ticks until the context is cancelled. Rows still buffered at
// shutdown are dropped in favor of a prompt exit; at most 2x9 readings,
// redelivered by the broker on the next start anyway.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()
	stats := time.NewTicker(statPeriod)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			if n := w.buf.len() + w.buf4c.len(); n > 0 {
				w.log.Warn().Int("rows", n).Msg("shutdown discards buffered rows")
			}
			return
		case <-stats.C:
			w.logStats()
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *Writer) tick(ctx context.Context) {
	start := w.now()
	regLen := w.registerQ.Len()
	readLen := w.readingsQ.Len()
	w.pending = append(w.pending, regLen+readLen)
	metrics.QueueDepth.WithLabelValues("register").Set(float64(regLen))
	metrics.QueueDepth.WithLabelValues("readings").Set(float64(readLen))

	w.mu.Lock()
	paused := w.paused
	opts := w.opts
	w.mu.Unlock()

	if !paused {
		w.drainRegistrations(ctx)
		w.drainReadings(ctx, readLen, opts)
	}

	elapsed := w.now().Sub(start)
	w.ioTimes = append(w.ioTimes, elapsed)
	metrics.WriterTickSeconds.Observe(elapsed.Seconds())
}

func (w *Writer) drainRegistrations(ctx context.Context) {
	for {
		reg, ok := w.registerQ.TryGet()
		if !ok {
			return
		}
		if err := w.identity.Register(ctx, reg); err != nil {
			w.log.Error().Err(err).Str("name", reg.Name).Str("mac", reg.MAC).Msg("registration failed")
		}
	}
}

// drainReadings processes at most the queue length measured at tick
// start, so a fast publisher cannot pin the writer inside one tick.
func (w *Writer) drainReadings(ctx context.Context, limit int, opts Options) {
	for i := 0; i < limit; i++ {
		r, ok := w.readingsQ.TryGet()
		if !ok {
			return
		}
		w.process(ctx, &r, opts)
	}
}

func (w *Writer) process(ctx context.Context, r *ingest.Reading, opts Options) {
	w.counters.NReadings++

	res, err := w.identity.Resolve(ctx, r.Name)
	if err != nil {
		w.counters.Other++
		w.log.Error().Err(err).Str("name", r.Name).Msg("registry resolution failed")
		metrics.ReadingsRejectedTotal.WithLabelValues("other").Inc()
		return
	}
	if res == nil {
		w.counters.NotRegistered++
		w.log.Debug().Str("name", r.Name).Msg("reading from unregistered photometer")
		metrics.ReadingsRejectedTotal.WithLabelValues("not_registered").Inc()
		return
	}

	if opts.AuthFilter {
		if !res.Authorised {
			w.counters.NotAuthorised++
			metrics.ReadingsRejectedTotal.WithLabelValues("not_authorised").Inc()
			return
		}
		verdict, err := w.filter.Check(ctx, r, res.LocationID)
		if err != nil {
			w.log.Warn().Err(err).Str("name", r.Name).Msg("daytime filter lookup failed")
		}
		switch verdict {
		case RejectDaytime:
			w.counters.Sunrise++
			metrics.ReadingsRejectedTotal.WithLabelValues("sunrise").Inc()
			return
		case RejectLackSunrise:
			w.counters.LackSunrise++
			metrics.ReadingsRejectedTotal.WithLabelValues("lack_sunrise").Inc()
			return
		}
	}

	unitsID, err := w.lookupUnits(ctx, r.TstampSrc)
	if err != nil {
		w.counters.Other++
		w.log.Error().Err(err).Str("source", string(r.TstampSrc)).Msg("units lookup failed")
		metrics.ReadingsRejectedTotal.WithLabelValues("other").Inc()
		return
	}

	dateID, timeID := roundDateTime(r.Tstamp, opts.SecsResolution)
	row := database.ReadingRow{
		DateID:     dateID,
		TimeID:     timeID,
		TessID:     res.TessID,
		LocationID: res.LocationID,
		ObserverID: res.ObserverID,
		UnitsID:    unitsID,
		Seq:        r.Seq,
		Tamb:       r.Tamb,
		Tsky:       r.Tsky,
		Az:         r.Az,
		Alt:        r.Alt,
		Long:       r.Long,
		Lat:        r.Lat,
		Height:     r.Height,
		WdBm:       r.WdBm,
		Hash:       r.Hash,
	}
	for _, ch := range r.Channels {
		row.Freq = append(row.Freq, ch.Freq)
		row.Mag = append(row.Mag, ch.Mag)
	}

	if r.FourChannel() {
		if w.buf4c.add(row) {
			w.flush(ctx, w.buf4c, true)
		}
	} else {
		if w.buf.add(row) {
			w.flush(ctx, w.buf, false)
		}
	}
	w.buffered.Store(int64(w.buf.len() + w.buf4c.len()))
}

func (w *Writer) flush(ctx context.Context, b *buffer, fourChannel bool) {
	rows := b.take()
	var res database.FlushResult
	shape := "tessw"
	if fourChannel {
		res = w.store.InsertReadings4C(ctx, rows)
		shape = "tess4c"
	} else {
		res = w.store.InsertReadings(ctx, rows)
	}
	w.counters.NAccepted += int64(res.Inserted)
	w.counters.Duplicate += int64(res.Duplicate)
	w.counters.Other += int64(res.Other)
	metrics.ReadingsStoredTotal.WithLabelValues(shape).Add(float64(res.Inserted))
	metrics.ReadingsRejectedTotal.WithLabelValues("duplicate").Add(float64(res.Duplicate))
	metrics.ReadingsRejectedTotal.WithLabelValues("other").Add(float64(res.Other))
}

// lookupUnits resolves and caches the units row per timestamp source.
func (w *Writer) lookupUnits(ctx context.Context, src ingest.TimestampSource) (int64, error) {
	if id, ok := w.unitsIDs[src]; ok {
		return id, nil
	}
	id, err := w.store.LatestUnits(ctx, string(src))
	if err != nil {
		return 0, err
	}
	w.unitsIDs[src] = id
	return id, nil
}

// Stats returns the cumulative totals since boot plus live queue state.
func (w *Writer) Stats() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Snapshot{
		Paused:        w.paused,
		RegisterQueue: w.registerQ.Len(),
		ReadingsQueue: w.readingsQ.Len(),
		Buffered:      int(w.buffered.Load()),
		Readings:      w.totals,
		Registry:      w.regTotal,
		MQTT:          w.subTotal,
	}
}

// roundDateTime rounds a timestamp to the configured resolution and
// splits it into the dimension keys (YYYYMMDD, HHMMSS). Rounding may
// carry into the next day; the split happens after.
func roundDateTime(t time.Time, secsResolution int) (dateID, timeID int32) {
	step := time.Duration(secsResolution) * time.Second
	r := t.UTC().Round(step)
	y, m, d := r.Date()
	dateID = int32(y*10000 + int(m)*100 + d)
	timeID = int32(r.Hour()*10000 + r.Minute()*100 + r.Second())
	return dateID, timeID
}
