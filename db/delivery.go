package db

import (
	"fmt"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

const (
	sqlInsertDelivery = `INSERT INTO delivery_queue(id, inbox_uri, activity_json, actor_id, attempts, next_retry_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	sqlSelectPendingDeliveries = `SELECT id, inbox_uri, activity_json, actor_id, attempts, next_retry_at, created_at
		FROM delivery_queue WHERE next_retry_at <= ? ORDER BY created_at ASC LIMIT ?`
	sqlUpdateDelivery = `UPDATE delivery_queue SET attempts = ?, next_retry_at = ? WHERE id = ?`
	sqlDeleteDelivery = `DELETE FROM delivery_queue WHERE id = ?`

	instanceColumns   = `domain, last_successful_deliver, last_failed_deliver, failed_delivers, is_dead, is_banned, is_explicitly_allowed, updated_at`
	sqlSelectInstance = `SELECT ` + instanceColumns + ` FROM instances WHERE domain = ?`
	sqlUpsertInstance = `INSERT INTO instances(` + instanceColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(domain) DO UPDATE SET
			last_successful_deliver = excluded.last_successful_deliver,
			last_failed_deliver = excluded.last_failed_deliver,
			failed_delivers = excluded.failed_delivers,
			is_dead = excluded.is_dead,
			is_banned = excluded.is_banned,
			is_explicitly_allowed = excluded.is_explicitly_allowed,
			updated_at = excluded.updated_at`
)

// EnqueueDelivery adds an outbound activity to the delivery queue.
func (t *Tx) EnqueueDelivery(item *domain.DeliveryQueueItem) error {
	_, err := t.exec(sqlInsertDelivery,
		item.Id, item.InboxURI, item.ActivityJSON, item.ActorId, item.Attempts, utc(item.NextRetryAt), utc(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery to %s: %w", item.InboxURI, err)
	}
	return nil
}

// ReadPendingDeliveries returns queue items due at now, oldest first.
func (t *Tx) ReadPendingDeliveries(now time.Time, limit int) ([]domain.DeliveryQueueItem, error) {
	rows, err := t.query(sqlSelectPendingDeliveries, utc(now), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.DeliveryQueueItem
	for rows.Next() {
		var item domain.DeliveryQueueItem
		if err := rows.Scan(&item.Id, &item.InboxURI, &item.ActivityJSON, &item.ActorId,
			&item.Attempts, &item.NextRetryAt, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, mapError(rows.Err())
}

func (t *Tx) UpdateDeliveryAttempt(item *domain.DeliveryQueueItem) error {
	return expectRow(t.exec(sqlUpdateDelivery, item.Attempts, utc(item.NextRetryAt), item.Id))
}

func (t *Tx) DeleteDelivery(id uuid.UUID) error {
	return expectRow(t.exec(sqlDeleteDelivery, id))
}

func (t *Tx) ReadInstance(domainName string) (*domain.Instance, error) {
	var i domain.Instance
	err := t.queryRow(sqlSelectInstance, domainName).Scan(
		&i.Domain, &i.LastSuccessfulDeliver, &i.LastFailedDeliver, &i.FailedDelivers,
		&i.IsDead, &i.IsBanned, &i.IsExplicitlyAllowed, &i.UpdatedAt)
	if err != nil {
		return nil, mapError(err)
	}
	return &i, nil
}

// SaveInstance inserts or replaces the health record of an instance.
func (t *Tx) SaveInstance(i *domain.Instance) error {
	_, err := t.exec(sqlUpsertInstance,
		i.Domain, utc(i.LastSuccessfulDeliver), utc(i.LastFailedDeliver), i.FailedDelivers,
		i.IsDead, i.IsBanned, i.IsExplicitlyAllowed, utc(i.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save instance %s: %w", i.Domain, err)
	}
	return nil
}
