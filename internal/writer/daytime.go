package writer

import (
	"context"
	"time"

	"github.com/stars4all/tessd/internal/ingest"
	"github.com/stars4all/tessd/internal/sunrise"
)

// Verdict is the outcome of the daytime filter for one reading.
type Verdict int

const (
	Accept Verdict = iota
	RejectDaytime
	RejectLackSunrise
)

// SunStore reads the cached per-location sun times.
type SunStore interface {
	FindSunTimes(ctx context.Context, locationID int64) (sunriseCol, sunsetCol *string, err error)
}

// DaytimeFilter rejects readings taken with the sun above the horizon.
// Fixed devices are judged against the cached sunrise/sunset of their
// assigned location; mobile devices (GPS in the reading) get an
// on-demand ephemeris run at the reading's own position and date.
type DaytimeFilter struct {
	store SunStore
	eph   sunrise.Ephemeris
}

func NewDaytimeFilter(store SunStore, eph sunrise.Ephemeris) *DaytimeFilter {
	return &DaytimeFilter{store: store, eph: eph}
}

func (f *DaytimeFilter) Check(ctx context.Context, r *ingest.Reading, locationID int64) (Verdict, error) {
	if r.Mobile() {
		rise, set, state := f.eph.SunTimes(*r.Long, *r.Lat, *r.Height, r.Tstamp)
		return judge(r.Tstamp, rise, set, state), nil
	}

	riseCol, setCol, err := f.store.FindSunTimes(ctx, locationID)
	if err != nil {
		return RejectLackSunrise, err
	}
	// NULL columns: the location has no usable coordinates, so there is
	// no way to tell day from night.
	if riseCol == nil || setCol == nil {
		return RejectLackSunrise, nil
	}
	rise, state, err := sunrise.ParseSun(*riseCol)
	if err != nil {
		return RejectLackSunrise, err
	}
	set, _, err := sunrise.ParseSun(*setCol)
	if err != nil {
		return RejectLackSunrise, err
	}
	return judge(r.Tstamp, rise, set, state), nil
}

// judge applies the day/night decision. On circumpolar days the sun
// never crossing the horizon means permanent night (accept everything)
// and never setting means permanent day (reject everything).
func judge(tstamp, rise, set time.Time, state sunrise.SunState) Verdict {
	switch state {
	case sunrise.SunNeverUp:
		return Accept
	case sunrise.SunAlwaysUp:
		return RejectDaytime
	}
	if tstamp.After(rise) && tstamp.Before(set) {
		return RejectDaytime
	}
	return Accept
}
