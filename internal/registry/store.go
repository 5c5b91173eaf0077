package registry

import (
	"context"
	"time"
)

// Sentinels shared with the persisted schema.
const (
	ValidCurrent = "Current"
	ValidExpired = "Expired"

	RegisteredAutomatic = "Automatic"
	RegisteredManual    = "Manual"
	RegisteredUnknown   = "Unknown"

	// Rows for devices nobody has placed yet point at the default
	// location and observer.
	DefaultLocationID = -1
	DefaultObserverID = -1
)

// Photometer is the Current attribute row of a device, keyed by MAC.
// Both the attribute history and the name association are bitemporal:
// a change expires the Current row and inserts a fresh one.
type Photometer struct {
	ID         int64
	MAC        string
	ZeroPoints []float64 // zp1..zp4, one entry per channel
	Filters    []string  // filter1..filter4, empty strings for TESS-W
	NChannels  int
	Model      string
	Firmware   string
	Authorised bool
	Registered string
	LocationID int64
	ObserverID int64
}

// Resolved is what the writer needs to turn a reading into a fact row.
type Resolved struct {
	TessID     int64
	LocationID int64
	ObserverID int64
	Authorised bool
}

// Store is the persistence contract of the registry. Lookup methods are
// idempotent reads; the remaining methods are the branch transactions of
// the state machine, each committing all of its expirations and
// insertions atomically or none of them.
type Store interface {
	// LookupMAC returns the name Currently associated with mac.
	LookupMAC(ctx context.Context, mac string) (name string, ok bool, err error)
	// LookupName returns the MAC Currently associated with name.
	LookupName(ctx context.Context, name string) (mac string, ok bool, err error)
	// FindPhotometerByName resolves name to its Current photometer row
	// through the Current association. Returns nil when unresolved.
	FindPhotometerByName(ctx context.Context, name string) (*Photometer, error)

	// CreatePhotometer inserts a Current photometer row and a Current
	// (name, mac) association. Brand-new branch.
	CreatePhotometer(ctx context.Context, p Photometer, name string, eff time.Time) error
	// RenameAssociation expires the Current association of mac and
	// inserts a Current (newName, mac) one. Rename branch.
	RenameAssociation(ctx context.Context, mac, newName string, eff time.Time) error
	// ReplacePhotometer inserts a Current photometer row for new
	// hardware, expires the Current association of name and inserts a
	// Current (name, p.MAC) one. Replacement branch.
	ReplacePhotometer(ctx context.Context, p Photometer, name string, eff time.Time) error
	// OverrideAssociations expires the Current associations of both
	// name and mac and inserts a Current (name, mac) one. Photometer
	// rows are not touched.
	OverrideAssociations(ctx context.Context, name, mac string, eff time.Time) error
	// UpdatePhotometerAttributes expires the Current row of p.MAC and
	// inserts p as the new Current row, both stamped at eff.
	UpdatePhotometerAttributes(ctx context.Context, p Photometer, eff time.Time) error
}
