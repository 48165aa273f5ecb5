package activitypub

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/MbinOrg/mbin-sub001/domain"
)

// handleAnnounce unwraps a relayed activity and routes it on its own type.
// Announced content, a boost, is only materialized.
func (i *Inbox) handleAnnounce(ctx context.Context, ac *activityContext) error {
	ref := ac.env.Object
	inner := ac.env.Inner

	if inner == nil && !ref.IsEmbedded() && ref.ID != "" {
		if c, err := i.readContent(ctx, ref.ID); err == nil {
			log.Printf("Inbox: Boost of known %s", c.ApId)
			return i.commit(ctx, ac, func(tx Tx) (effect, error) { return noop, nil })
		}

		raw, err := i.fetcher.FetchObject(ctx, ref.ID)
		if errors.Is(err, errGone) {
			return reject("announced object %s is gone", ref.ID)
		}
		if err != nil {
			return &DependencyMissingError{URI: ref.ID, Err: err}
		}
		refs, err := parseRefs(raw)
		if err != nil || len(refs) != 1 {
			return &DecodeError{Reason: "invalid announced object", Err: err}
		}
		if !sameHost(refs[0].ID, ref.ID) {
			return reject("fetched object %s is not hosted on %s", refs[0].ID, domain.DomainOf(ref.ID))
		}
		ref = refs[0]
		if IsActivityType(ref.Type) {
			if inner, err = decodeEnvelope(ref.Raw, len(ac.wrappers)+2); err != nil {
				return err
			}
		}
	} else if inner != nil && !i.trustsEmbedded(ac, inner) {
		// re-read the activity from its origin instead of trusting the relay
		raw, err := i.fetcher.FetchObject(ctx, inner.ID)
		if err != nil {
			return &DependencyMissingError{URI: inner.ID, Err: err}
		}
		fetched, err := decodeEnvelope(raw, len(ac.wrappers)+2)
		if err != nil {
			return err
		}
		if fetched.ID != inner.ID {
			return reject("announced activity %s does not match its origin", inner.ID)
		}
		inner = fetched
	}

	if inner == nil {
		obj, err := ParseObject(ref)
		if err != nil {
			return err
		}
		if _, err := i.materializeObject(ctx, obj, 0); err != nil {
			return err
		}
		return i.commit(ctx, ac, func(tx Tx) (effect, error) { return noop, nil })
	}

	if inner.ID == "" {
		return reject("announced %s has no id", inner.Type)
	}
	innerActor, err := i.resolveActor(ctx, inner)
	if err != nil {
		return err
	}

	child := &activityContext{
		env:       inner,
		actor:     innerActor,
		wrappers:  append(append([]*Envelope{}, ac.wrappers...), ac.env),
		announcer: ac.actor,
	}
	log.Printf("Inbox: Unwrapped %s %s announced by %s", inner.Type, inner.ID, ac.actor.Handle())
	return i.dispatch(ctx, child)
}

// trustsEmbedded reports whether an embedded activity can be taken as is: a
// magazine relays activities of its members, and any actor may relay
// activities of its own instance.
func (i *Inbox) trustsEmbedded(ac *activityContext, inner *Envelope) bool {
	if ac.actor.IsMagazine() {
		return true
	}
	return strings.EqualFold(domain.DomainOf(inner.ID), ac.actor.ApDomain)
}
