package database

import "context"

// LatestUnits resolves the most recent units row for a timestamp
// source. The writer caches the result per source; units rows change
// only when the schema is reseeded.
func (db *DB) LatestUnits(ctx context.Context, timestampSource string) (int64, error) {
	var id int64
	err := db.Pool.QueryRow(ctx, `
		SELECT units_id FROM tess_units_t
		WHERE timestamp_source = $1
		ORDER BY units_id DESC
		LIMIT 1
	`, timestampSource).Scan(&id)
	return id, err
}
