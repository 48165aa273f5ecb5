package activitypub

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
)

// announce re-federates an activity to the subscribers of the local actor
// that has authority over it. Inboxes on the origin instance, on this
// instance and on dead or banned instances are skipped, and each inbox is
// delivered to once.
func (i *Inbox) announce(tx Tx, ac *activityContext, authority *domain.Actor) error {
	inboxes, err := tx.ReadSubscriberInboxes(authority.Id)
	if err != nil {
		return err
	}
	if len(inboxes) == 0 {
		return nil
	}

	origin := ac.actor.ApDomain
	now := i.now()
	payload := i.wrapAnnounce(authority, ac.env, now)

	seen := make(map[string]bool, len(inboxes))
	queued := 0
	for _, inbox := range inboxes {
		host := domain.DomainOf(inbox)
		if host == "" || seen[inbox] {
			continue
		}
		seen[inbox] = true
		if strings.EqualFold(host, origin) || strings.EqualFold(host, i.localDomain) {
			continue
		}

		inst, err := tx.ReadInstance(host)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if !inst.MayDeliver() {
			continue
		}

		if err := queueActivity(tx, payload, inbox, authority, now); err != nil {
			return err
		}
		queued++
	}

	if queued > 0 {
		announcesCounter.Add(float64(queued))
		log.Printf("Inbox: Announcing %s %s from %s to %d inboxes", ac.env.Type, ac.env.ID, authority.Name, queued)
	}
	return nil
}

// wrapAnnounce builds the Announce of an activity by a local actor.
func (i *Inbox) wrapAnnounce(authority *domain.Actor, env *Envelope, now time.Time) map[string]any {
	actorURI := LocalActorURL(i.localDomain, authority)
	announce := map[string]any{
		"@context":  contextActivityStreams,
		"id":        newActivityID(i.localDomain),
		"type":      "Announce",
		"actor":     actorURI,
		"object":    json.RawMessage(env.Raw),
		"to":        []string{Public},
		"cc":        []string{actorURI + "/followers"},
		"published": now.UTC().Format(time.RFC3339),
	}
	if authority.IsMagazine() {
		announce["audience"] = actorURI
	}
	return announce
}
