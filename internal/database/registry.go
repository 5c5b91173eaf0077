package database

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/stars4all/tessd/internal/registry"
)

const (
	defaultLocationID = registry.DefaultLocationID
	defaultObserverID = registry.DefaultObserverID
)

// Compile-time check that DB satisfies the registry persistence contract.
var _ registry.Store = (*DB)(nil)

func (db *DB) LookupMAC(ctx context.Context, mac string) (string, bool, error) {
	var name string
	err := db.Pool.QueryRow(ctx, `
		SELECT name FROM name_to_mac_t
		WHERE mac_address = $1 AND valid_state = $2
	`, mac, registry.ValidCurrent).Scan(&name)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return name, true, nil
}

func (db *DB) LookupName(ctx context.Context, name string) (string, bool, error) {
	var mac string
	err := db.Pool.QueryRow(ctx, `
		SELECT mac_address FROM name_to_mac_t
		WHERE name = $1 AND valid_state = $2
	`, name, registry.ValidCurrent).Scan(&mac)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return mac, true, nil
}

// FindPhotometerByName joins the Current association with the Current
// attribute row of its MAC.
func (db *DB) FindPhotometerByName(ctx context.Context, name string) (*registry.Photometer, error) {
	var (
		p       registry.Photometer
		zp      [4]*float64
		filters [4]string
	)
	err := db.Pool.QueryRow(ctx, `
		SELECT t.tess_id, t.mac_address,
		       t.zp1, t.filter1, t.zp2, t.filter2, t.zp3, t.filter3, t.zp4, t.filter4,
		       t.nchannels, t.model, t.firmware,
		       t.authorised, t.registered, t.location_id, t.observer_id
		FROM tess_t AS t
		JOIN name_to_mac_t AS a ON a.mac_address = t.mac_address
		WHERE a.name = $1 AND a.valid_state = $2 AND t.valid_state = $2
	`, name, registry.ValidCurrent).Scan(
		&p.ID, &p.MAC,
		&zp[0], &filters[0], &zp[1], &filters[1], &zp[2], &filters[2], &zp[3], &filters[3],
		&p.NChannels, &p.Model, &p.Firmware,
		&p.Authorised, &p.Registered, &p.LocationID, &p.ObserverID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for i := 0; i < p.NChannels; i++ {
		v := 0.0
		if zp[i] != nil {
			v = *zp[i]
		}
		p.ZeroPoints = append(p.ZeroPoints, v)
		p.Filters = append(p.Filters, filters[i])
	}
	return &p, nil
}

func (db *DB) CreatePhotometer(ctx context.Context, p registry.Photometer, name string, eff time.Time) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertPhotometer(ctx, tx, p, eff); err != nil {
		return err
	}
	if err := insertAssociation(ctx, tx, name, p.MAC, eff); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) RenameAssociation(ctx context.Context, mac, newName string, eff time.Time) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := expireAssociationByMAC(ctx, tx, mac, eff); err != nil {
		return err
	}
	if err := insertAssociation(ctx, tx, newName, mac, eff); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) ReplacePhotometer(ctx context.Context, p registry.Photometer, name string, eff time.Time) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := insertPhotometer(ctx, tx, p, eff); err != nil {
		return err
	}
	if err := expireAssociationByName(ctx, tx, name, eff); err != nil {
		return err
	}
	if err := insertAssociation(ctx, tx, name, p.MAC, eff); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) OverrideAssociations(ctx context.Context, name, mac string, eff time.Time) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := expireAssociationByName(ctx, tx, name, eff); err != nil {
		return err
	}
	if err := expireAssociationByMAC(ctx, tx, mac, eff); err != nil {
		return err
	}
	if err := insertAssociation(ctx, tx, name, mac, eff); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (db *DB) UpdatePhotometerAttributes(ctx context.Context, p registry.Photometer, eff time.Time) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE tess_t SET valid_until = $2, valid_state = $3
		WHERE mac_address = $1 AND valid_state = $4
	`, p.MAC, eff, registry.ValidExpired, registry.ValidCurrent)
	if err != nil {
		return err
	}
	if err := insertPhotometer(ctx, tx, p, eff); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertPhotometer(ctx context.Context, tx pgx.Tx, p registry.Photometer, eff time.Time) error {
	var (
		zp      [4]*float64
		filters [4]string
	)
	for i := range p.ZeroPoints {
		v := p.ZeroPoints[i]
		zp[i] = &v
		filters[i] = p.Filters[i]
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO tess_t (mac_address,
			zp1, filter1, zp2, filter2, zp3, filter3, zp4, filter4,
			nchannels, model, firmware, authorised, registered,
			location_id, observer_id, valid_since, valid_until, valid_state)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, p.MAC,
		zp[0], filters[0], zp[1], filters[1], zp[2], filters[2], zp[3], filters[3],
		p.NChannels, p.Model, p.Firmware, p.Authorised, p.Registered,
		p.LocationID, p.ObserverID, eff, InfiniteTime, registry.ValidCurrent)
	return err
}

func insertAssociation(ctx context.Context, tx pgx.Tx, name, mac string, eff time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO name_to_mac_t (name, mac_address, valid_since, valid_until, valid_state)
		VALUES ($1, $2, $3, $4, $5)
	`, name, mac, eff, InfiniteTime, registry.ValidCurrent)
	return err
}

func expireAssociationByMAC(ctx context.Context, tx pgx.Tx, mac string, eff time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE name_to_mac_t SET valid_until = $2, valid_state = $3
		WHERE mac_address = $1 AND valid_state = $4
	`, mac, eff, registry.ValidExpired, registry.ValidCurrent)
	return err
}

func expireAssociationByName(ctx context.Context, tx pgx.Tx, name string, eff time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE name_to_mac_t SET valid_until = $2, valid_state = $3
		WHERE name = $1 AND valid_state = $4
	`, name, eff, registry.ValidExpired, registry.ValidCurrent)
	return err
}
