package activitypub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

// newActivityID returns a fresh id for an activity emitted by this server.
func newActivityID(localDomain string) string {
	return fmt.Sprintf("https://%s/activities/%s", localDomain, uuid.New().String())
}

// queueActivity enqueues an activity for delivery to one inbox, signed by a
// local actor.
func queueActivity(tx Tx, activity any, inboxURI string, signer *domain.Actor, now time.Time) error {
	activityJSON, err := json.Marshal(activity)
	if err != nil {
		return fmt.Errorf("failed to marshal activity: %w", err)
	}

	return tx.EnqueueDelivery(&domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inboxURI,
		ActivityJSON: string(activityJSON),
		ActorId:      signer.Id,
		Attempts:     0,
		NextRetryAt:  now,
		CreatedAt:    now,
	})
}

// enqueueAccept answers a Follow of a local actor.
func (i *Inbox) enqueueAccept(tx Tx, local, follower *domain.Actor, follow *Envelope) error {
	accept := map[string]any{
		"@context": contextActivityStreams,
		"id":       newActivityID(i.localDomain),
		"type":     "Accept",
		"actor":    LocalActorURL(i.localDomain, local),
		"object":   json.RawMessage(follow.Raw),
	}

	inbox := follower.ApInboxUrl
	if inbox == "" {
		inbox = follower.Inbox()
	}
	return queueActivity(tx, accept, inbox, local, i.now())
}
