package activitypub

import (
	"context"
	"errors"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

// subject returns the stored content an activity refers to, materializing
// remote content that is not known yet.
func (i *Inbox) subject(ctx context.Context, ref ObjectRef) (*domain.Content, error) {
	if ref.ID == "" {
		return nil, &DecodeError{Reason: "missing object"}
	}
	if ref.IsEmbedded() && contentTypes[ref.Type] {
		if c, err := i.readContent(ctx, ref.ID); err == nil {
			return c, nil
		}
		obj, err := ParseObject(ref)
		if err != nil {
			return nil, err
		}
		if !sameHost(ref.ID, obj.(*ContentObject).AttributedTo) {
			return i.materialize(ctx, ref.ID, 0)
		}
		return i.materializeObject(ctx, obj, 0)
	}
	return i.materialize(ctx, ref.ID, 0)
}

// handleVote applies a Like or Dislike. Each actor holds at most one vote per
// subject, switching polarity in place.
func (i *Inbox) handleVote(ctx context.Context, ac *activityContext, choice domain.VoteChoice) error {
	subject, err := i.subject(ctx, ac.env.Object)
	if err != nil {
		return err
	}

	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		c, err := tx.ReadContentById(subject.Id)
		if err != nil {
			return noop, err
		}
		if c.Kind == domain.ContentMessage {
			return noop, conflict("messages cannot be voted on")
		}
		magazine, err := magazineOf(tx, c)
		if err != nil {
			return noop, err
		}
		if magazine != nil {
			if _, err := tx.ReadActiveBan(magazine.Id, ac.actor.Id, i.now()); err == nil {
				return noop, conflict("%s is banned from %s", ac.actor.Handle(), magazine.Name)
			} else if !errors.Is(err, domain.ErrNotFound) {
				return noop, err
			}
		}

		vote, err := tx.ReadVote(ac.actor.Id, c.Id)
		switch {
		case err == nil:
			if vote.Choice == choice {
				return noop, nil
			}
			vote.Choice = choice
			vote.ApId = ac.env.ID
			if err := tx.UpdateVote(vote); err != nil {
				return noop, err
			}
		case errors.Is(err, domain.ErrNotFound):
			err := tx.CreateVote(&domain.Vote{
				Id:        uuid.New(),
				ActorId:   ac.actor.Id,
				ContentId: c.Id,
				Choice:    choice,
				ApId:      ac.env.ID,
				CreatedAt: i.now(),
			})
			if errors.Is(err, domain.ErrConflict) {
				return noop, nil
			}
			if err != nil {
				return noop, err
			}
		default:
			return noop, err
		}

		if err := tx.RecountContent(c.Id); err != nil {
			return noop, err
		}
		return applied(magazine), nil
	})
}

// unvote removes a vote of the given polarity, reporting whether one existed.
func unvote(tx Tx, actor *domain.Actor, c *domain.Content, choice domain.VoteChoice) (bool, error) {
	vote, err := tx.ReadVote(actor.Id, c.Id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if vote.Choice != choice {
		return false, nil
	}
	if err := tx.DeleteVote(vote.Id); err != nil {
		return false, err
	}
	return true, tx.RecountContent(c.Id)
}

// handleFlag files a report against the first content subject. Reports are
// never merged.
func (i *Inbox) handleFlag(ctx context.Context, ac *activityContext) error {
	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		var subject *domain.Content
		for _, ref := range ac.env.Objects {
			c, err := i.contentByURI(tx, ref.ID)
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			if err != nil {
				return noop, err
			}
			subject = c
			break
		}
		if subject == nil {
			return noop, conflict("flag of unknown content")
		}

		reason := ac.env.Summary
		if reason == "" {
			reason = ac.env.Content
		}
		err := tx.CreateReport(&domain.Report{
			Id:         uuid.New(),
			MagazineId: subject.MagazineId,
			ContentId:  subject.Id,
			ReporterId: ac.actor.Id,
			Reason:     i.sanitizer.Text(reason),
			ApId:       ac.env.ID,
			CreatedAt:  i.now(),
		})
		if err != nil {
			return noop, err
		}
		return applied(nil), nil
	})
}
