package database

import (
	"context"
	"fmt"
)

// SeedDimensions populates the dimension tables on boot: one date_t row
// per day of the configured year range, one time_t row per
// secs_resolution step of the day, the two timestamp-source rows of
// tess_units_t, and the default location/observer rows devices point at
// until an operator places them. Every statement is idempotent, so
// re-seeding an existing database is harmless and a resolution change
// only adds the missing rows.
func (db *DB) SeedDimensions(ctx context.Context, yearStart, yearEnd, secsResolution int) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO date_t (date_id, sql_date, day, day_year, julian_day, weekday, weekday_number, month_number, month, year)
		SELECT to_char(d, 'YYYYMMDD')::int,
		       d::date,
		       EXTRACT(DAY FROM d)::int,
		       EXTRACT(DOY FROM d)::int,
		       to_char(d, 'J')::double precision - 0.5,
		       to_char(d, 'FMDay'),
		       EXTRACT(ISODOW FROM d)::int,
		       EXTRACT(MONTH FROM d)::int,
		       to_char(d, 'FMMonth'),
		       EXTRACT(YEAR FROM d)::int
		FROM generate_series($1::date, $2::date, interval '1 day') AS d
		ON CONFLICT (date_id) DO NOTHING
	`, fmt.Sprintf("%04d-01-01", yearStart), fmt.Sprintf("%04d-12-31", yearEnd))
	if err != nil {
		return fmt.Errorf("seeding date_t: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO time_t (time_id, time, hour, minute, second, day_fraction)
		SELECT (s / 3600) * 10000 + ((s % 3600) / 60) * 100 + (s % 60),
		       to_char(make_time(s / 3600, (s % 3600) / 60, (s % 60)::double precision), 'HH24:MI:SS'),
		       s / 3600,
		       (s % 3600) / 60,
		       s % 60,
		       s / 86400.0
		FROM generate_series(0, 86399, $1) AS s
		ON CONFLICT (time_id) DO NOTHING
	`, secsResolution)
	if err != nil {
		return fmt.Errorf("seeding time_t: %w", err)
	}

	for _, src := range []string{"Publisher", "Subscriber"} {
		_, err = tx.Exec(ctx, `
			INSERT INTO tess_units_t (timestamp_source)
			SELECT $1 WHERE NOT EXISTS (SELECT 1 FROM tess_units_t WHERE timestamp_source = $1)
		`, src)
		if err != nil {
			return fmt.Errorf("seeding tess_units_t: %w", err)
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO location_t (location_id) VALUES ($1) ON CONFLICT (location_id) DO NOTHING`,
		defaultLocationID)
	if err != nil {
		return fmt.Errorf("seeding location_t: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO observer_t (observer_id) VALUES ($1) ON CONFLICT (observer_id) DO NOTHING`,
		defaultObserverID)
	if err != nil {
		return fmt.Errorf("seeding observer_t: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	db.log.Info().
		Int("year_start", yearStart).
		Int("year_end", yearEnd).
		Int("secs_resolution", secsResolution).
		Msg("dimension tables seeded")
	return nil
}
