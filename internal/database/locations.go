package database

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
)

// Location is a placed site with usable coordinates. Coordinate columns
// are text with an Unknown sentinel; rows carrying the sentinel never
// reach the ephemeris and keep NULL sunrise/sunset.
type Location struct {
	ID        int64
	Longitude float64
	Latitude  float64
	Elevation float64
}

// SunTimes is the computed result written back per location. Sunrise
// and Sunset hold a formatted timestamp or a circumpolar sentinel.
type SunTimes struct {
	LocationID int64
	Sunrise    string
	Sunset     string
}

// LocationsForSun returns every location with fully known coordinates,
// in ascending id order. Rows whose coordinate text does not parse are
// logged and skipped, same as the Unknown sentinel.
func (db *DB) LocationsForSun(ctx context.Context) ([]Location, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT location_id, longitude, latitude, elevation
		FROM location_t
		WHERE longitude <> $1 AND latitude <> $1 AND elevation <> $1
		ORDER BY location_id ASC
	`, Unknown)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locs []Location
	for rows.Next() {
		var (
			loc            Location
			lon, lat, elev string
		)
		if err := rows.Scan(&loc.ID, &lon, &lat, &elev); err != nil {
			return nil, err
		}
		var perr error
		if loc.Longitude, perr = strconv.ParseFloat(lon, 64); perr == nil {
			if loc.Latitude, perr = strconv.ParseFloat(lat, 64); perr == nil {
				loc.Elevation, perr = strconv.ParseFloat(elev, 64)
			}
		}
		if perr != nil {
			db.log.Warn().Int64("location_id", loc.ID).Err(perr).Msg("unparsable coordinates, location skipped")
			continue
		}
		locs = append(locs, loc)
	}
	return locs, rows.Err()
}

// UpdateSunTimes writes one batch of computed sunrise/sunset values in
// a single transaction.
func (db *DB) UpdateSunTimes(ctx context.Context, batch []SunTimes) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, st := range batch {
		_, err := tx.Exec(ctx,
			`UPDATE location_t SET sunrise = $2, sunset = $3 WHERE location_id = $1`,
			st.LocationID, st.Sunrise, st.Sunset)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// FindSunTimes returns the cached sunrise/sunset of a location. Nil
// pointers mean the location was never computed (unknown coordinates).
func (db *DB) FindSunTimes(ctx context.Context, locationID int64) (sunrise, sunset *string, err error) {
	err = db.Pool.QueryRow(ctx,
		`SELECT sunrise, sunset FROM location_t WHERE location_id = $1`,
		locationID).Scan(&sunrise, &sunset)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	return sunrise, sunset, err
}
