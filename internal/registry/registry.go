package registry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stars4all/tessd/internal/ingest"
	"github.com/stars4all/tessd/internal/metrics"
)

// ZPThreshold is the minimum zero-point delta that counts as a real
// calibration change. Smaller wobble is firmware rounding noise and is
// treated as a reboot.
const ZPThreshold = 0.005

const (
	ModelTESSW  = "TESS-W"
	ModelTESS4C = "TESS4C"
)

// Counters are the per-branch registry statistics, logged and reset
// hourly together with the writer's.
type Counters struct {
	NRegister  int64
	NCreation  int64
	NReboot    int64
	NRename    int64
	NZPChange  int64
	NReplace   int64
	NOverriden int64
}

// Registry is the photometer identity state machine. Every registration
// message lands in exactly one of four branches depending on whether
// the MAC and the name are already bound. All decisions read through to
// the store; there is deliberately no name->photometer cache, stale
// entries under concurrent renames used to fabricate ZP-change events.
type Registry struct {
	store Store
	log   zerolog.Logger

	mu       sync.Mutex
	counters Counters
}

func New(store Store, log zerolog.Logger) *Registry {
	return &Registry{
		store: store,
		log:   log.With().Str("component", "registry").Logger(),
	}
}

// Register applies one registration message to the bitemporal record.
// The effective time is the message timestamp truncated to seconds.
func (r *Registry) Register(ctx context.Context, reg ingest.Registration) error {
	eff := reg.Tstamp.Truncate(time.Second)
	r.count(func(c *Counters) { c.NRegister++ })

	prevName, macBound, err := r.store.LookupMAC(ctx, reg.MAC)
	if err != nil {
		return err
	}
	prevMAC, nameBound, err := r.store.LookupName(ctx, reg.Name)
	if err != nil {
		return err
	}

	switch {
	case !macBound && !nameBound:
		return r.create(ctx, reg, eff)
	case macBound && !nameBound:
		return r.rename(ctx, reg, prevName, eff)
	case !macBound && nameBound:
		return r.replace(ctx, reg, prevMAC, eff)
	default:
		if prevMAC == reg.MAC && prevName == reg.Name {
			return r.maybeUpdateManagedAttributes(ctx, reg, eff)
		}
		return r.override(ctx, reg, prevName, prevMAC, eff)
	}
}

func (r *Registry) create(ctx context.Context, reg ingest.Registration, eff time.Time) error {
	if err := r.store.CreatePhotometer(ctx, photometerFrom(reg), reg.Name, eff); err != nil {
		return err
	}
	r.count(func(c *Counters) { c.NCreation++ })
	metrics.RegistrationsTotal.WithLabelValues("created").Inc()
	r.log.Info().Str("name", reg.Name).Str("mac", reg.MAC).Msg("brand new photometer registered")
	return nil
}

func (r *Registry) rename(ctx context.Context, reg ingest.Registration, prevName string, eff time.Time) error {
	if err := r.store.RenameAssociation(ctx, reg.MAC, reg.Name, eff); err != nil {
		return err
	}
	r.count(func(c *Counters) { c.NRename++ })
	metrics.RegistrationsTotal.WithLabelValues("renamed").Inc()
	r.log.Info().
		Str("mac", reg.MAC).
		Str("old_name", prevName).
		Str("new_name", reg.Name).
		Msg("photometer renamed")
	return nil
}

func (r *Registry) replace(ctx context.Context, reg ingest.Registration, prevMAC string, eff time.Time) error {
	if err := r.store.ReplacePhotometer(ctx, photometerFrom(reg), reg.Name, eff); err != nil {
		return err
	}
	r.count(func(c *Counters) { c.NReplace++ })
	metrics.RegistrationsTotal.WithLabelValues("replaced").Inc()
	r.log.Info().
		Str("name", reg.Name).
		Str("old_mac", prevMAC).
		Str("new_mac", reg.MAC).
		Msg("photometer hardware replaced")
	return nil
}

func (r *Registry) override(ctx context.Context, reg ingest.Registration, prevName, prevMAC string, eff time.Time) error {
	if err := r.store.OverrideAssociations(ctx, reg.Name, reg.MAC, eff); err != nil {
		return err
	}
	r.count(func(c *Counters) { c.NOverriden++ })
	metrics.RegistrationsTotal.WithLabelValues("overridden").Inc()
	// prevName's MAC was taken over; the name keeps its history but no
	// longer resolves until a new registration claims it.
	r.log.Warn().
		Str("name", reg.Name).
		Str("mac", reg.MAC).
		Str("orphaned_name", prevName).
		Str("unbound_mac", prevMAC).
		Msg("associations overridden, a name is left orphaned")
	return nil
}

func (r *Registry) maybeUpdateManagedAttributes(ctx context.Context, reg ingest.Registration, eff time.Time) error {
	old, err := r.store.FindPhotometerByName(ctx, reg.Name)
	if err != nil {
		return err
	}
	if old == nil {
		// Association said Current but the photometer row is gone.
		// Self-heal by inserting the row again.
		return r.create(ctx, reg, eff)
	}

	next := photometerFrom(reg)
	if !attributesChanged(old, &next) {
		r.count(func(c *Counters) { c.NReboot++ })
		metrics.RegistrationsTotal.WithLabelValues("reboot").Inc()
		r.log.Info().Str("name", reg.Name).Str("mac", reg.MAC).Msg("photometer reboot detected")
		return nil
	}

	next.Authorised = old.Authorised
	next.Registered = old.Registered
	next.LocationID = old.LocationID
	next.ObserverID = old.ObserverID
	if err := r.store.UpdatePhotometerAttributes(ctx, next, eff); err != nil {
		return err
	}
	r.count(func(c *Counters) { c.NZPChange++ })
	metrics.RegistrationsTotal.WithLabelValues("zp_change").Inc()
	r.log.Info().
		Str("name", reg.Name).
		Str("mac", reg.MAC).
		Floats64("old_zp", old.ZeroPoints).
		Floats64("new_zp", next.ZeroPoints).
		Msg("calibration change recorded")
	return nil
}

// Resolve maps a device name to the fact-table foreign keys. It reads
// through on every call.
func (r *Registry) Resolve(ctx context.Context, name string) (*Resolved, error) {
	p, err := r.store.FindPhotometerByName(ctx, name)
	if err != nil || p == nil {
		return nil, err
	}
	return &Resolved{
		TessID:     p.ID,
		LocationID: p.LocationID,
		ObserverID: p.ObserverID,
		Authorised: p.Authorised,
	}, nil
}

// TakeCounters returns the current counters and resets them.
func (r *Registry) TakeCounters() Counters {
	r.mu.Lock()
	c := r.counters
	r.counters = Counters{}
	r.mu.Unlock()
	return c
}

func (r *Registry) count(f func(*Counters)) {
	r.mu.Lock()
	f(&r.counters)
	r.mu.Unlock()
}

// attributesChanged compares the managed attributes: any zero point
// moving by ZPThreshold or more, or any filter label differing. A
// channel-count change is always a change.
func attributesChanged(old, next *Photometer) bool {
	if old.NChannels != next.NChannels {
		return true
	}
	for i := range next.ZeroPoints {
		if math.Abs(next.ZeroPoints[i]-old.ZeroPoints[i]) >= ZPThreshold {
			return true
		}
	}
	for i := range next.Filters {
		if next.Filters[i] != old.Filters[i] {
			return true
		}
	}
	return false
}

// photometerFrom builds the attribute row a registration announces,
// with the defaults a freshly created device gets.
func photometerFrom(reg ingest.Registration) Photometer {
	p := Photometer{
		MAC:        reg.MAC,
		NChannels:  len(reg.Bands),
		Model:      ModelTESSW,
		Firmware:   reg.Firmware,
		Authorised: false,
		Registered: RegisteredAutomatic,
		LocationID: DefaultLocationID,
		ObserverID: DefaultObserverID,
	}
	if reg.FourChannel() {
		p.Model = ModelTESS4C
	}
	for _, b := range reg.Bands {
		p.ZeroPoints = append(p.ZeroPoints, b.Calib)
		p.Filters = append(p.Filters, b.Band)
	}
	return p
}
