package activitypub

import (
	"context"
	"errors"
	"log"

	"github.com/MbinOrg/mbin-sub001/domain"
)

func (i *Inbox) handleUpdate(ctx context.Context, ac *activityContext) error {
	ref := ac.env.Object
	if actorTypes[ref.Type] || ref.ID == ac.actor.ApId {
		return i.updateActor(ctx, ac)
	}

	obj, err := i.fetchObject(ctx, ref)
	if err != nil {
		return err
	}
	content, ok := obj.(*ContentObject)
	if !ok {
		return reject("cannot update object of type %q", ref.Type)
	}

	known, err := i.readContent(ctx, content.ID)
	if errors.Is(err, domain.ErrNotFound) {
		// an edit of something never seen becomes a Create
		if err := checkAuthor(content, ac.actor); err != nil {
			return err
		}
		plan, err := i.planContent(ctx, content, ac.actor, 0)
		if err != nil {
			return err
		}
		log.Printf("Inbox: Update of unknown %s, creating it", content.ID)
		return i.commit(ctx, ac, func(tx Tx) (effect, error) {
			_, eff, err := i.storeContent(tx, ac, plan)
			return eff, err
		})
	}
	if err != nil {
		return err
	}

	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		c, err := tx.ReadContentById(known.Id)
		if err != nil {
			return noop, err
		}
		return i.editContent(tx, ac, c, content)
	})
}

// updateActor refreshes the profile of the sending actor.
func (i *Inbox) updateActor(ctx context.Context, ac *activityContext) error {
	if ac.env.Object.ID != ac.actor.ApId {
		return reject("%s may not update actor %s", ac.actor.Handle(), ac.env.Object.ID)
	}
	if _, err := i.resolver.Refresh(ctx, ac.actor.ApId); err != nil {
		return err
	}
	log.Printf("Inbox: Refreshed actor %s", ac.actor.Handle())
	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		return applied(nil), nil
	})
}
