package activitypub

import (
	"context"
	"errors"
	"log"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

func (i *Inbox) handleFollow(ctx context.Context, ac *activityContext) error {
	target, err := i.resolver.Resolve(ctx, ac.env.Object.ID)
	if err != nil {
		return err
	}
	if !target.IsLocal() {
		return reject("follow target %s is not local", ac.env.Object.ID)
	}

	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		target, err := tx.ReadActorById(target.Id)
		if err != nil {
			return noop, err
		}
		created, err := i.follow(tx, ac, target)
		if err != nil {
			return noop, err
		}
		// a repeated Follow is answered again so the remote side can settle
		if err := i.enqueueAccept(tx, target, ac.actor, ac.env); err != nil {
			return noop, err
		}
		if !created {
			return noop, nil
		}
		log.Printf("Inbox: %s now follows %s", ac.actor.Handle(), target.Name)
		return applied(nil), nil
	})
}

// follow creates the subscription or follow row, reporting whether it is new.
func (i *Inbox) follow(tx Tx, ac *activityContext, target *domain.Actor) (bool, error) {
	now := i.now()
	if target.IsMagazine() {
		_, err := tx.ReadSubscription(target.Id, ac.actor.Id)
		if err == nil {
			return false, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		err = tx.CreateSubscription(&domain.MagazineSubscription{
			Id:         uuid.New(),
			MagazineId: target.Id,
			UserId:     ac.actor.Id,
			FollowApId: ac.env.ID,
			CreatedAt:  now,
		})
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, adjustFollowers(tx, target, 1)
	}

	_, err := tx.ReadUserFollow(ac.actor.Id, target.Id)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return false, err
	}
	err = tx.CreateUserFollow(&domain.UserFollow{
		Id:          uuid.New(),
		FollowerId:  ac.actor.Id,
		FollowingId: target.Id,
		FollowApId:  ac.env.ID,
		CreatedAt:   now,
	})
	if errors.Is(err, domain.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, adjustFollowers(tx, target, 1)
}

// unfollow removes the subscription or follow row of actor on target,
// reporting whether one existed.
func unfollow(tx Tx, actor, target *domain.Actor) (bool, error) {
	if target.IsMagazine() {
		sub, err := tx.ReadSubscription(target.Id, actor.Id)
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if err := tx.DeleteSubscription(sub.Id); err != nil {
			return false, err
		}
		if sub.Pending {
			return true, nil
		}
		return true, adjustFollowers(tx, target, -1)
	}

	f, err := tx.ReadUserFollow(actor.Id, target.Id)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := tx.DeleteUserFollow(f.Id); err != nil {
		return false, err
	}
	if f.Pending {
		return true, nil
	}
	return true, adjustFollowers(tx, target, -1)
}

// pendingFollow finds the outbound follow an Accept or Reject answers: by the
// Follow id, or by the local follower and the remote target.
type pendingFollow struct {
	sub    *domain.MagazineSubscription
	follow *domain.UserFollow
}

func (i *Inbox) findPendingFollow(tx Tx, ac *activityContext) (*pendingFollow, error) {
	var followID string
	var follower string
	obj, err := ParseObject(ac.env.Object)
	if err != nil {
		return nil, err
	}
	switch o := obj.(type) {
	case *ActivityRefObject:
		if o.Type != TypeFollow {
			return nil, reject("%s of %s is not supported", ac.env.Type, o.Type)
		}
		followID = o.ID
		follower = o.Envelope.Actor
	default:
		followID = obj.ObjectID()
	}

	if followID != "" {
		if sub, err := tx.ReadSubscriptionByFollowURI(followID); err == nil {
			if sub.MagazineId != ac.actor.Id {
				return nil, reject("%s may not answer follow %s", ac.actor.Handle(), followID)
			}
			return &pendingFollow{sub: sub}, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		if f, err := tx.ReadUserFollowByFollowURI(followID); err == nil {
			if f.FollowingId != ac.actor.Id {
				return nil, reject("%s may not answer follow %s", ac.actor.Handle(), followID)
			}
			return &pendingFollow{follow: f}, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
	}

	p := localPath(follower, i.localDomain)
	if p == "" {
		return nil, nil
	}
	kind, name, ok := parseLocalActorPath(p)
	if !ok || kind != domain.ActorUser {
		return nil, nil
	}
	local, err := tx.ReadLocalActor(kind, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if ac.actor.IsMagazine() {
		sub, err := tx.ReadSubscription(ac.actor.Id, local.Id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return &pendingFollow{sub: sub}, err
	}
	f, err := tx.ReadUserFollow(local.Id, ac.actor.Id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return &pendingFollow{follow: f}, err
}

// handleAccept confirms an outbound follow.
func (i *Inbox) handleAccept(ctx context.Context, ac *activityContext) error {
	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		pf, err := i.findPendingFollow(tx, ac)
		if err != nil {
			return noop, err
		}
		if pf == nil {
			return noop, conflict("no follow to accept")
		}

		target, err := tx.ReadActorById(ac.actor.Id)
		if err != nil {
			return noop, err
		}
		switch {
		case pf.sub != nil:
			if !pf.sub.Pending {
				return noop, nil
			}
			pf.sub.Pending = false
			if err := tx.UpdateSubscription(pf.sub); err != nil {
				return noop, err
			}
		case pf.follow != nil:
			if !pf.follow.Pending {
				return noop, nil
			}
			pf.follow.Pending = false
			if err := tx.UpdateUserFollow(pf.follow); err != nil {
				return noop, err
			}
		}
		if err := adjustFollowers(tx, target, 1); err != nil {
			return noop, err
		}
		log.Printf("Inbox: Follow of %s accepted", target.Handle())
		return applied(nil), nil
	})
}

// handleReject drops an outbound follow the remote side refused.
func (i *Inbox) handleReject(ctx context.Context, ac *activityContext) error {
	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		pf, err := i.findPendingFollow(tx, ac)
		if err != nil {
			return noop, err
		}
		if pf == nil {
			return noop, conflict("no follow to reject")
		}

		target, err := tx.ReadActorById(ac.actor.Id)
		if err != nil {
			return noop, err
		}
		wasConfirmed := false
		switch {
		case pf.sub != nil:
			wasConfirmed = !pf.sub.Pending
			err = tx.DeleteSubscription(pf.sub.Id)
		case pf.follow != nil:
			wasConfirmed = !pf.follow.Pending
			err = tx.DeleteUserFollow(pf.follow.Id)
		}
		if err != nil {
			return noop, err
		}
		if wasConfirmed {
			if err := adjustFollowers(tx, target, -1); err != nil {
				return noop, err
			}
		}
		log.Printf("Inbox: Follow of %s rejected", target.Handle())
		return applied(nil), nil
	})
}
