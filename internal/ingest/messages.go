package ingest

import "time"

// TimestampSource records who stamped a message: the publishing photometer
// or this subscriber. It selects the units dimension row for a reading.
type TimestampSource string

const (
	SourcePublisher  TimestampSource = "Publisher"
	SourceSubscriber TimestampSource = "Subscriber"
)

// Channel is one filter channel of a reading. Single-channel TESS-W devices
// carry exactly one; TESS4C devices carry four.
type Channel struct {
	Freq float64 // Hz
	Mag  float64 // mag/arcsec^2
}

// Reading is a validated, normalized telemetry sample ready for staging.
// Optional payload fields are pointers; nil means absent.
type Reading struct {
	Name     string
	Seq      int64
	Rev      int
	Channels []Channel
	Tamb     float64 // box temperature, Celsius
	Tsky     float64 // sky temperature, Celsius

	Az     *float64
	Alt    *float64
	Long   *float64
	Lat    *float64
	Height *float64
	WdBm   *int // RSSI
	Hash   *string

	Tstamp    time.Time
	TstampSrc TimestampSource
}

// FourChannel reports whether the reading came from a TESS4C device.
func (r *Reading) FourChannel() bool { return len(r.Channels) == 4 }

// Mobile reports whether the reading embeds a GPS fix. Mobile readings get
// their sunrise/sunset computed on demand instead of from the location cache.
func (r *Reading) Mobile() bool { return r.Lat != nil && r.Long != nil && r.Height != nil }

// Band is one filter channel of a registration: the filter name and its
// zero-point calibration constant.
type Band struct {
	Band  string
	Calib float64
}

// Registration is a validated, normalized self-announcement. Bands has one
// entry for TESS-W (empty band name) and four for TESS4C.
type Registration struct {
	Name     string
	MAC      string
	Rev      int
	Firmware string
	Bands    []Band

	Tstamp    time.Time
	TstampSrc TimestampSource
}

// FourChannel reports whether the registration came from a TESS4C device.
func (r *Registration) FourChannel() bool { return len(r.Bands) == 4 }
