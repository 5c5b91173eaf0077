package sunrise

import (
	"fmt"
	"time"

	gosunrise "github.com/nathan-osman/go-sunrise"
)

// SunState classifies a (location, day) pair. At polar latitudes the
// sun may not cross the horizon at all on a given day.
type SunState int

const (
	SunNormal SunState = iota
	SunNeverUp
	SunAlwaysUp
)

// Sentinels stored in the sunrise/sunset columns for circumpolar days.
const (
	SentinelNeverUp  = "Never Up"
	SentinelAlwaysUp = "Always Up"
)

// timeLayout is the stored form of computed sun times.
const timeLayout = "2006-01-02T15:04:05"

// Ephemeris computes the sun crossing times for one location and day.
// On circumpolar days rise and set are zero and the state tells which
// side of the horizon the sun stayed on.
type Ephemeris interface {
	SunTimes(lon, lat, elev float64, date time.Time) (rise, set time.Time, state SunState)
}

// solar is the production ephemeris. The horizon is in degrees below
// (negative) or above the geometric horizon; -0.567 approximates the
// upper-limb-plus-refraction convention.
type solar struct {
	horizon float64
}

func NewSolar(horizonDeg float64) Ephemeris {
	return &solar{horizon: horizonDeg}
}

func (s *solar) SunTimes(lon, lat, _ float64, date time.Time) (time.Time, time.Time, SunState) {
	y, m, d := date.UTC().Date()
	rise, set := gosunrise.TimeOfElevation(lat, lon, s.horizon, y, m, d)
	if rise.IsZero() && set.IsZero() {
		// No crossing: probe the elevation at local solar noon to tell
		// midnight sun from polar night.
		noon := time.Date(y, m, d, 12, 0, 0, 0, time.UTC).Add(-time.Duration(lon / 15.0 * float64(time.Hour)))
		if gosunrise.Elevation(lat, lon, noon) > s.horizon {
			return time.Time{}, time.Time{}, SunAlwaysUp
		}
		return time.Time{}, time.Time{}, SunNeverUp
	}
	return rise, set, SunNormal
}

// FormatSun renders a computed crossing (or its absence) for storage.
func FormatSun(t time.Time, state SunState) string {
	switch state {
	case SunNeverUp:
		return SentinelNeverUp
	case SunAlwaysUp:
		return SentinelAlwaysUp
	default:
		return t.UTC().Format(timeLayout)
	}
}

// ParseSun is the inverse of FormatSun, used by the daytime filter on
// the stored column values.
func ParseSun(s string) (time.Time, SunState, error) {
	switch s {
	case SentinelNeverUp:
		return time.Time{}, SunNeverUp, nil
	case SentinelAlwaysUp:
		return time.Time{}, SunAlwaysUp, nil
	}
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, SunNormal, fmt.Errorf("stored sun time %q: %w", s, err)
	}
	return t, SunNormal, nil
}
