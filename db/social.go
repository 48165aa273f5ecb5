package db

import (
	"fmt"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertVote = `INSERT INTO votes(id, actor_id, content_id, choice, ap_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	sqlUpdateVote = `UPDATE votes SET choice = ?, ap_id = ?, created_at = ? WHERE id = ?`
	sqlSelectVote = `SELECT id, actor_id, content_id, choice, ap_id, created_at FROM votes
		WHERE actor_id = ? AND content_id = ?`
	sqlDeleteVote = `DELETE FROM votes WHERE id = ?`

	subscriptionColumns     = `id, magazine_id, user_id, follow_ap_id, pending, created_at`
	sqlInsertSubscription   = `INSERT INTO magazine_subscriptions(` + subscriptionColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	sqlUpdateSubscription   = `UPDATE magazine_subscriptions SET follow_ap_id = ?, pending = ? WHERE id = ?`
	sqlSelectSubscription   = `SELECT ` + subscriptionColumns + ` FROM magazine_subscriptions WHERE magazine_id = ? AND user_id = ?`
	sqlSelectSubscriptionAp = `SELECT ` + subscriptionColumns + ` FROM magazine_subscriptions WHERE follow_ap_id = ? LIMIT 1`
	sqlDeleteSubscription   = `DELETE FROM magazine_subscriptions WHERE id = ?`

	userFollowColumns     = `id, follower_id, following_id, follow_ap_id, pending, created_at`
	sqlInsertUserFollow   = `INSERT INTO user_follows(` + userFollowColumns + `) VALUES (?, ?, ?, ?, ?, ?)`
	sqlUpdateUserFollow   = `UPDATE user_follows SET follow_ap_id = ?, pending = ? WHERE id = ?`
	sqlSelectUserFollow   = `SELECT ` + userFollowColumns + ` FROM user_follows WHERE follower_id = ? AND following_id = ?`
	sqlSelectUserFollowAp = `SELECT ` + userFollowColumns + ` FROM user_follows WHERE follow_ap_id = ? LIMIT 1`
	sqlDeleteUserFollow   = `DELETE FROM user_follows WHERE id = ?`

	sqlSelectSubscriberInboxes = `SELECT DISTINCT CASE WHEN a.ap_shared_inbox_url != '' THEN a.ap_shared_inbox_url ELSE a.ap_inbox_url END AS inbox
		FROM actors a
		WHERE a.ap_id IS NOT NULL AND a.is_deleted = 0 AND (
			a.id IN (SELECT user_id FROM magazine_subscriptions WHERE magazine_id = ? AND pending = 0)
			OR a.id IN (SELECT follower_id FROM user_follows WHERE following_id = ? AND pending = 0)
		)
		ORDER BY inbox`
)

// ReadVote returns the vote an actor cast on a content subject.
func (t *Tx) ReadVote(actorId, contentId uuid.UUID) (*domain.Vote, error) {
	var v domain.Vote
	var choice int
	err := t.queryRow(sqlSelectVote, actorId, contentId).Scan(
		&v.Id, &v.ActorId, &v.ContentId, &choice, &v.ApId, &v.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	v.Choice = domain.VoteChoice(choice)
	return &v, nil
}

func (t *Tx) CreateVote(v *domain.Vote) error {
	_, err := t.exec(sqlInsertVote, v.Id, v.ActorId, v.ContentId, int(v.Choice), v.ApId, utc(v.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert vote: %w", err)
	}
	return nil
}

func (t *Tx) UpdateVote(v *domain.Vote) error {
	return expectRow(t.exec(sqlUpdateVote, int(v.Choice), v.ApId, utc(v.CreatedAt), v.Id))
}

func (t *Tx) DeleteVote(id uuid.UUID) error {
	return expectRow(t.exec(sqlDeleteVote, id))
}

func (t *Tx) ReadSubscription(magazineId, userId uuid.UUID) (*domain.MagazineSubscription, error) {
	return scanSubscription(t.queryRow(sqlSelectSubscription, magazineId, userId))
}

// ReadSubscriptionByFollowURI finds a subscription by the Follow activity that
// created it.
func (t *Tx) ReadSubscriptionByFollowURI(uri string) (*domain.MagazineSubscription, error) {
	if uri == "" {
		return nil, domain.ErrNotFound
	}
	return scanSubscription(t.queryRow(sqlSelectSubscriptionAp, uri))
}

func (t *Tx) CreateSubscription(s *domain.MagazineSubscription) error {
	_, err := t.exec(sqlInsertSubscription, s.Id, s.MagazineId, s.UserId, s.FollowApId, s.Pending, utc(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

func (t *Tx) UpdateSubscription(s *domain.MagazineSubscription) error {
	return expectRow(t.exec(sqlUpdateSubscription, s.FollowApId, s.Pending, s.Id))
}

func (t *Tx) DeleteSubscription(id uuid.UUID) error {
	return expectRow(t.exec(sqlDeleteSubscription, id))
}

func scanSubscription(row scanner) (*domain.MagazineSubscription, error) {
	var s domain.MagazineSubscription
	if err := row.Scan(&s.Id, &s.MagazineId, &s.UserId, &s.FollowApId, &s.Pending, &s.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &s, nil
}

func (t *Tx) ReadUserFollow(followerId, followingId uuid.UUID) (*domain.UserFollow, error) {
	return scanUserFollow(t.queryRow(sqlSelectUserFollow, followerId, followingId))
}

func (t *Tx) ReadUserFollowByFollowURI(uri string) (*domain.UserFollow, error) {
	if uri == "" {
		return nil, domain.ErrNotFound
	}
	return scanUserFollow(t.queryRow(sqlSelectUserFollowAp, uri))
}

func (t *Tx) CreateUserFollow(f *domain.UserFollow) error {
	_, err := t.exec(sqlInsertUserFollow, f.Id, f.FollowerId, f.FollowingId, f.FollowApId, f.Pending, utc(f.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert follow: %w", err)
	}
	return nil
}

func (t *Tx) UpdateUserFollow(f *domain.UserFollow) error {
	return expectRow(t.exec(sqlUpdateUserFollow, f.FollowApId, f.Pending, f.Id))
}

func (t *Tx) DeleteUserFollow(id uuid.UUID) error {
	return expectRow(t.exec(sqlDeleteUserFollow, id))
}

func scanUserFollow(row scanner) (*domain.UserFollow, error) {
	var f domain.UserFollow
	if err := row.Scan(&f.Id, &f.FollowerId, &f.FollowingId, &f.FollowApId, &f.Pending, &f.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &f, nil
}

// DeleteRelationsByActor removes every subscription, follow and vote of a
// deleted actor, in both directions.
func (t *Tx) DeleteRelationsByActor(actorId uuid.UUID) error {
	stmts := []string{
		`DELETE FROM magazine_subscriptions WHERE user_id = ? OR magazine_id = ?`,
		`DELETE FROM user_follows WHERE follower_id = ? OR following_id = ?`,
		`DELETE FROM votes WHERE actor_id = ? OR actor_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := t.exec(stmt, actorId, actorId); err != nil {
			return fmt.Errorf("failed to delete relations of %s: %w", actorId, err)
		}
	}
	return nil
}

// ReadSubscriberInboxes returns the distinct inboxes of the remote subscribers
// and followers of a local actor, preferring shared inboxes.
func (t *Tx) ReadSubscriberInboxes(actorId uuid.UUID) ([]string, error) {
	rows, err := t.query(sqlSelectSubscriberInboxes, actorId, actorId)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inboxes []string
	for rows.Next() {
		var inbox string
		if err := rows.Scan(&inbox); err != nil {
			return nil, err
		}
		if inbox != "" {
			inboxes = append(inboxes, inbox)
		}
	}
	return inboxes, mapError(rows.Err())
}
