package db

import (
	"errors"
	"fmt"

	"github.com/MbinOrg/mbin-sub001/domain"
)

const (
	sqlSelectProcessed = `SELECT 1 FROM processed_activities WHERE activity_uri = ?`
	sqlInsertProcessed = `INSERT INTO processed_activities(activity_uri, outcome, processed_at) VALUES (?, ?, ?)
		ON CONFLICT(activity_uri) DO NOTHING`

	activityColumns   = `id, activity_uri, activity_type, actor_uri, object_uri, raw_json, inner_activity_id, created_at`
	sqlInsertActivity = `INSERT INTO activities(` + activityColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	sqlSelectActivity = `SELECT ` + activityColumns + ` FROM activities WHERE activity_uri = ?`
)

// IsActivityProcessed reports whether the ledger already holds an activity id.
func (t *Tx) IsActivityProcessed(uri string) (bool, error) {
	var one int
	err := mapError(t.queryRow(sqlSelectProcessed, uri).Scan(&one))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkActivityProcessed records an activity id in the ledger. The first
// outcome recorded for an id wins.
func (t *Tx) MarkActivityProcessed(p *domain.ProcessedActivity) error {
	if _, err := t.exec(sqlInsertProcessed, p.ActivityURI, string(p.Outcome), utc(p.ProcessedAt)); err != nil {
		return fmt.Errorf("failed to mark %s processed: %w", p.ActivityURI, err)
	}
	return nil
}

// CreateActivity appends an activity to the audit log.
func (t *Tx) CreateActivity(a *domain.Activity) error {
	_, err := t.exec(sqlInsertActivity,
		a.Id,
		a.ActivityURI,
		a.ActivityType,
		a.ActorURI,
		a.ObjectURI,
		a.RawJSON,
		a.InnerActivityId,
		utc(a.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity %s: %w", a.ActivityURI, err)
	}
	return nil
}

func (t *Tx) ReadActivityByURI(uri string) (*domain.Activity, error) {
	var a domain.Activity
	err := t.queryRow(sqlSelectActivity, uri).Scan(
		&a.Id, &a.ActivityURI, &a.ActivityType, &a.ActorURI, &a.ObjectURI, &a.RawJSON, &a.InnerActivityId, &a.CreatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &a, nil
}
