package database

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ReadingRow is a fully resolved fact row, ready for either readings
// table. Freq/Mag hold one entry for TESS-W rows and four for TESS4C.
type ReadingRow struct {
	DateID     int32
	TimeID     int32
	TessID     int64
	LocationID int64
	ObserverID int64
	UnitsID    int64
	Seq        int64
	Freq       []float64
	Mag        []float64
	Tamb       float64
	Tsky       float64
	Az         *float64
	Alt        *float64
	Long       *float64
	Lat        *float64
	Height     *float64
	WdBm       *int
	Hash       *string
}

// FlushResult classifies the per-row outcome of one buffer flush.
type FlushResult struct {
	Inserted  int
	Duplicate int
	Other     int
}

const insertReadingSQL = `
	INSERT INTO tess_readings_t (date_id, time_id, tess_id, location_id, observer_id, units_id,
		sequence_number, frequency, magnitude, box_temperature, sky_temperature,
		azimuth, altitude, longitude, latitude, elevation, signal_strength, hash)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

const insertReading4CSQL = `
	INSERT INTO tess_readings4c_t (date_id, time_id, tess_id, location_id, observer_id, units_id,
		sequence_number, freq1, mag1, freq2, mag2, freq3, mag3, freq4, mag4,
		box_temperature, sky_temperature,
		azimuth, altitude, longitude, latitude, elevation, signal_strength, hash)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)`

func readingArgs(r ReadingRow) []any {
	return []any{r.DateID, r.TimeID, r.TessID, r.LocationID, r.ObserverID, r.UnitsID,
		r.Seq, r.Freq[0], r.Mag[0], r.Tamb, r.Tsky,
		r.Az, r.Alt, r.Long, r.Lat, r.Height, r.WdBm, r.Hash}
}

func reading4CArgs(r ReadingRow) []any {
	return []any{r.DateID, r.TimeID, r.TessID, r.LocationID, r.ObserverID, r.UnitsID,
		r.Seq, r.Freq[0], r.Mag[0], r.Freq[1], r.Mag[1], r.Freq[2], r.Mag[2], r.Freq[3], r.Mag[3],
		r.Tamb, r.Tsky,
		r.Az, r.Alt, r.Long, r.Lat, r.Height, r.WdBm, r.Hash}
}

// InsertReadings appends single-channel rows to tess_readings_t.
func (db *DB) InsertReadings(ctx context.Context, rows []ReadingRow) FlushResult {
	return db.insertRows(ctx, insertReadingSQL, readingArgs, rows)
}

// InsertReadings4C appends four-channel rows to tess_readings4c_t.
func (db *DB) InsertReadings4C(ctx context.Context, rows []ReadingRow) FlushResult {
	return db.insertRows(ctx, insertReading4CSQL, reading4CArgs, rows)
}

// insertRows first tries the whole buffer as one batched transaction.
// When any row fails the transaction rolls back and the rows are
// retried one by one, so a single duplicate never costs the nine good
// rows that shared its buffer. Unique violations are duplicates
// (redelivered frames), anything else counts as Other.
func (db *DB) insertRows(ctx context.Context, sql string, args func(ReadingRow) []any, rows []ReadingRow) FlushResult {
	if len(rows) == 0 {
		return FlushResult{}
	}
	if err := db.insertBatch(ctx, sql, args, rows); err == nil {
		return FlushResult{Inserted: len(rows)}
	}

	var res FlushResult
	for i := range rows {
		_, err := db.Pool.Exec(ctx, sql, args(rows[i])...)
		switch {
		case err == nil:
			res.Inserted++
		case isUniqueViolation(err):
			res.Duplicate++
			db.log.Debug().
				Int64("tess_id", rows[i].TessID).
				Int64("seq", rows[i].Seq).
				Msg("duplicate reading dropped")
		default:
			res.Other++
			db.log.Error().Err(err).
				Int64("tess_id", rows[i].TessID).
				Int64("seq", rows[i].Seq).
				Msg("reading insert failed")
		}
	}
	return res
}

func (db *DB) insertBatch(ctx context.Context, sql string, args func(ReadingRow) []any, rows []ReadingRow) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range rows {
		batch.Queue(sql, args(rows[i])...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
