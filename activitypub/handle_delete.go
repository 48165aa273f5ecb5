package activitypub

import (
	"context"
	"errors"
	"log"

	"github.com/MbinOrg/mbin-sub001/domain"
)

func (i *Inbox) handleDelete(ctx context.Context, ac *activityContext) error {
	ref := ac.env.Object
	if ref.ID == "" {
		return &DecodeError{Reason: "delete without object"}
	}
	if ref.ID == ac.actor.ApId {
		return i.deleteActor(ctx, ac)
	}

	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		c, err := i.contentByURI(tx, ref.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return noop, conflict("unknown subject %s", ref.ID)
		}
		if err != nil {
			return noop, err
		}
		if c.Visibility == domain.VisibilityTrashed {
			return noop, nil
		}

		magazine, err := magazineOf(tx, c)
		if err != nil {
			return noop, err
		}
		ok, err := canModerateContent(tx, ac, c, magazine)
		if err != nil {
			return noop, err
		}
		if !ok {
			return noop, reject("%s may not delete %s", ac.actor.Handle(), ref.ID)
		}

		c.Visibility = domain.VisibilityTrashed
		if err := tx.UpdateContent(c); err != nil {
			return noop, err
		}
		if err := recountThread(tx, c); err != nil {
			return noop, err
		}
		if magazine != nil && c.AuthorId != ac.actor.Id {
			if err := tx.CreateMagazineLog(domain.NewContentLog(domain.LogContentDeleted, ac.actor.Id, c, i.now())); err != nil {
				return noop, err
			}
		}
		log.Printf("Inbox: %s trashed %s", ac.actor.Handle(), ref.ID)
		return applied(magazine), nil
	})
}

// deleteActor handles an actor deleting itself.
func (i *Inbox) deleteActor(ctx context.Context, ac *activityContext) error {
	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		a, err := tx.ReadActorById(ac.actor.Id)
		if err != nil {
			return noop, err
		}
		if a.IsDeleted {
			return noop, nil
		}
		a.IsDeleted = true
		if err := tx.UpdateActor(a); err != nil {
			return noop, err
		}
		if err := tx.DeleteRelationsByActor(a.Id); err != nil {
			return noop, err
		}
		log.Printf("Inbox: Actor %s deleted", a.Handle())
		return applied(nil), nil
	})
}

// recountThread refreshes the counters of the thread a subject belongs to.
func recountThread(tx Tx, c *domain.Content) error {
	if c.RootId.Valid {
		return tx.RecountContent(c.RootId.UUID)
	}
	return tx.RecountContent(c.Id)
}
