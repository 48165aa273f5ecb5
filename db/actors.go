package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

const actorColumns = `id, kind, name, display_name, about, ap_id, ap_domain, ap_profile_id, ap_public_url,
	ap_inbox_url, ap_shared_inbox_url, ap_followers_url, ap_moderators_url, ap_featured_url,
	ap_followers_count, ap_fetched_at, public_key_pem, old_public_key_pem, private_key_pem,
	last_key_rotation_at, followers_count, followers_delta, is_banned, is_deleted, created_at`

const (
	sqlInsertActor = `INSERT INTO actors(` + actorColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	sqlUpdateActor = `UPDATE actors SET name = ?, display_name = ?, about = ?, ap_public_url = ?,
		ap_inbox_url = ?, ap_shared_inbox_url = ?, ap_followers_url = ?, ap_moderators_url = ?,
		ap_featured_url = ?, ap_followers_count = ?, ap_fetched_at = ?, public_key_pem = ?,
		old_public_key_pem = ?, private_key_pem = ?, last_key_rotation_at = ?, followers_count = ?,
		followers_delta = ?, is_banned = ?, is_deleted = ? WHERE id = ?`
	sqlSelectActorById  = `SELECT ` + actorColumns + ` FROM actors WHERE id = ?`
	sqlSelectActorByURI = `SELECT ` + actorColumns + ` FROM actors
		WHERE ap_id = ? OR ap_profile_id = ? OR (ap_public_url = ? AND ap_public_url != '')
		ORDER BY ap_id = ? DESC LIMIT 1`
	sqlSelectLocalActor = `SELECT ` + actorColumns + ` FROM actors WHERE ap_id IS NULL AND kind = ? AND name = ?`
	sqlSelectActorByCollection = `SELECT ` + actorColumns + ` FROM actors
		WHERE (ap_moderators_url = ? OR ap_featured_url = ?) AND kind = 'magazine' LIMIT 1`
	sqlCountFollowers = `SELECT
		(SELECT COUNT(*) FROM magazine_subscriptions WHERE magazine_id = ? AND pending = 0) +
		(SELECT COUNT(*) FROM user_follows WHERE following_id = ? AND pending = 0)`
)

var sqlSelectModeratorActors = `SELECT ` + prefixed("a", actorColumns) + ` FROM actors a
	INNER JOIN moderators m ON m.user_id = a.id
	WHERE m.magazine_id = ? ORDER BY m.created_at ASC`

func (t *Tx) CreateActor(a *domain.Actor) error {
	_, err := t.exec(sqlInsertActor,
		a.Id,
		string(a.Kind),
		a.Name,
		a.DisplayName,
		a.About,
		nullString(a.ApId),
		a.ApDomain,
		nullString(a.ApProfileId),
		a.ApPublicUrl,
		a.ApInboxUrl,
		a.ApSharedInboxUrl,
		a.ApFollowersUrl,
		a.ApModeratorsUrl,
		a.ApFeaturedUrl,
		a.ApFollowersCount,
		utc(a.ApFetchedAt),
		a.PublicKeyPem,
		a.OldPublicKeyPem,
		a.PrivateKeyPem,
		utc(a.LastKeyRotationAt),
		a.FollowersCount,
		a.FollowersDelta,
		a.IsBanned,
		a.IsDeleted,
		utc(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert actor %s: %w", a.Name, err)
	}
	return nil
}

func (t *Tx) UpdateActor(a *domain.Actor) error {
	return expectRow(t.exec(sqlUpdateActor,
		a.Name,
		a.DisplayName,
		a.About,
		a.ApPublicUrl,
		a.ApInboxUrl,
		a.ApSharedInboxUrl,
		a.ApFollowersUrl,
		a.ApModeratorsUrl,
		a.ApFeaturedUrl,
		a.ApFollowersCount,
		utc(a.ApFetchedAt),
		a.PublicKeyPem,
		a.OldPublicKeyPem,
		a.PrivateKeyPem,
		utc(a.LastKeyRotationAt),
		a.FollowersCount,
		a.FollowersDelta,
		a.IsBanned,
		a.IsDeleted,
		a.Id,
	))
}

func (t *Tx) ReadActorById(id uuid.UUID) (*domain.Actor, error) {
	return scanActor(t.queryRow(sqlSelectActorById, id))
}

// ReadActorByURI finds an actor by federation id, actor document URL or public
// profile URL.
func (t *Tx) ReadActorByURI(uri string) (*domain.Actor, error) {
	if uri == "" {
		return nil, domain.ErrNotFound
	}
	return scanActor(t.queryRow(sqlSelectActorByURI, uri, uri, uri, uri))
}

func (t *Tx) ReadLocalActor(kind domain.ActorKind, name string) (*domain.Actor, error) {
	return scanActor(t.queryRow(sqlSelectLocalActor, string(kind), name))
}

// ReadActorByCollectionURI finds the remote magazine owning a moderators or
// featured collection.
func (t *Tx) ReadActorByCollectionURI(uri string) (*domain.Actor, error) {
	if uri == "" {
		return nil, domain.ErrNotFound
	}
	return scanActor(t.queryRow(sqlSelectActorByCollection, uri, uri))
}

// CountFollowers counts confirmed subscribers of a magazine or followers of a user.
func (t *Tx) CountFollowers(actorId uuid.UUID) (int, error) {
	var n int
	if err := t.queryRow(sqlCountFollowers, actorId, actorId).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (t *Tx) ReadModeratorActors(magazineId uuid.UUID) ([]*domain.Actor, error) {
	rows, err := t.query(sqlSelectModeratorActors, magazineId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actors []*domain.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, err
		}
		actors = append(actors, a)
	}
	return actors, mapError(rows.Err())
}

type scanner interface {
	Scan(dest ...any) error
}

func scanActor(row scanner) (*domain.Actor, error) {
	var a domain.Actor
	var kind string
	var apId, apProfileId sql.NullString
	err := row.Scan(
		&a.Id,
		&kind,
		&a.Name,
		&a.DisplayName,
		&a.About,
		&apId,
		&a.ApDomain,
		&apProfileId,
		&a.ApPublicUrl,
		&a.ApInboxUrl,
		&a.ApSharedInboxUrl,
		&a.ApFollowersUrl,
		&a.ApModeratorsUrl,
		&a.ApFeaturedUrl,
		&a.ApFollowersCount,
		&a.ApFetchedAt,
		&a.PublicKeyPem,
		&a.OldPublicKeyPem,
		&a.PrivateKeyPem,
		&a.LastKeyRotationAt,
		&a.FollowersCount,
		&a.FollowersDelta,
		&a.IsBanned,
		&a.IsDeleted,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	a.Kind = domain.ActorKind(kind)
	a.ApId = apId.String
	a.ApProfileId = apProfileId.String
	return &a, nil
}

// prefixed qualifies every column of a column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
