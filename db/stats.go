package db

import (
	"context"

	"github.com/MbinOrg/mbin-sub001/domain"
)

const (
	sqlCountLocalActors   = `SELECT COUNT(*) FROM actors WHERE kind = ? AND ap_id IS NULL AND is_deleted = 0`
	sqlCountLocalContent  = `SELECT COUNT(*) FROM contents WHERE ap_id IS NULL AND visibility = 'visible'`
	sqlCountRemoteDomains = `SELECT COUNT(DISTINCT ap_domain) FROM actors WHERE ap_id IS NOT NULL`
)

// Stats summarizes the instance for NodeInfo.
type Stats struct {
	LocalUsers     int
	LocalMagazines int
	LocalPosts     int
	KnownInstances int
}

// ReadStats counts local actors and content.
func (t *Tx) ReadStats() (*Stats, error) {
	var s Stats
	if err := t.queryRow(sqlCountLocalActors, string(domain.ActorUser)).Scan(&s.LocalUsers); err != nil {
		return nil, mapError(err)
	}
	if err := t.queryRow(sqlCountLocalActors, string(domain.ActorMagazine)).Scan(&s.LocalMagazines); err != nil {
		return nil, mapError(err)
	}
	if err := t.queryRow(sqlCountLocalContent).Scan(&s.LocalPosts); err != nil {
		return nil, mapError(err)
	}
	if err := t.queryRow(sqlCountRemoteDomains).Scan(&s.KnownInstances); err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

// Ping checks that the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}
