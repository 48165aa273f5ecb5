package activitypub

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

// unbanGrace backdates an unban so the ban reads as expired immediately.
const unbanGrace = 5 * time.Second

// handleBlock bans a user from a magazine, or instance wide when the Block
// has no target.
func (i *Inbox) handleBlock(ctx context.Context, ac *activityContext) error {
	user, err := i.resolver.Resolve(ctx, ac.env.Object.ID)
	if err != nil {
		return err
	}

	if ac.env.Target.ID == "" {
		return i.commit(ctx, ac, func(tx Tx) (effect, error) {
			return i.setInstanceBan(tx, ac, user, true)
		})
	}

	magazine, err := i.resolver.Resolve(ctx, ac.env.Target.ID)
	if err != nil {
		return err
	}
	if !magazine.IsMagazine() {
		return reject("block target %s is not a magazine", ac.env.Target.ID)
	}

	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		if err := requireModerator(tx, ac, magazine); err != nil {
			return noop, err
		}

		now := i.now()
		if _, err := tx.ReadActiveBan(magazine.Id, user.Id, now); err == nil {
			return noop, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return noop, err
		}

		ban := &domain.MagazineBan{
			Id:         uuid.New(),
			MagazineId: magazine.Id,
			UserId:     user.Id,
			BannedById: uuid.NullUUID{UUID: ac.actor.Id, Valid: true},
			Reason:     i.sanitizer.Text(ac.env.Summary),
			ExpiredAt:  ac.env.EndTime,
			CreatedAt:  now,
		}
		if err := tx.CreateBan(ban); err != nil {
			return noop, err
		}
		if err := tx.CreateMagazineLog(domain.NewBanLog(domain.LogBan, ac.actor.Id, ban, now)); err != nil {
			return noop, err
		}
		log.Printf("Inbox: %s banned %s from %s", ac.actor.Handle(), user.Handle(), magazine.Name)
		return applied(magazine), nil
	})
}

// liftBan expires the active ban of a user, reporting whether one existed.
func (i *Inbox) liftBan(tx Tx, ac *activityContext, magazine, user *domain.Actor) (effect, error) {
	if err := requireModerator(tx, ac, magazine); err != nil {
		return noop, err
	}
	now := i.now()
	ban, err := tx.ReadActiveBan(magazine.Id, user.Id, now)
	if errors.Is(err, domain.ErrNotFound) {
		return noop, nil
	}
	if err != nil {
		return noop, err
	}

	ban.ExpiredAt = now.Add(-unbanGrace)
	if err := tx.UpdateBan(ban); err != nil {
		return noop, err
	}
	if err := tx.CreateMagazineLog(domain.NewBanLog(domain.LogUnban, ac.actor.Id, ban, now)); err != nil {
		return noop, err
	}
	log.Printf("Inbox: %s unbanned %s from %s", ac.actor.Handle(), user.Handle(), magazine.Name)
	return applied(magazine), nil
}

// setInstanceBan bans or unbans a user instance wide. Only actors of the
// user's own instance may do so.
func (i *Inbox) setInstanceBan(tx Tx, ac *activityContext, user *domain.Actor, banned bool) (effect, error) {
	if user.IsLocal() || !strings.EqualFold(user.ApDomain, ac.actor.ApDomain) {
		return noop, reject("%s may not ban %s instance wide", ac.actor.Handle(), user.Handle())
	}
	u, err := tx.ReadActorById(user.Id)
	if err != nil {
		return noop, err
	}
	if u.IsBanned == banned {
		return noop, nil
	}
	u.IsBanned = banned
	if err := tx.UpdateActor(u); err != nil {
		return noop, err
	}
	log.Printf("Inbox: %s set instance ban of %s to %v", ac.actor.Handle(), u.Handle(), banned)
	return applied(nil), nil
}

func requireModerator(tx Tx, ac *activityContext, magazine *domain.Actor) error {
	ok, err := canModerate(tx, ac, magazine)
	if err != nil {
		return err
	}
	if !ok {
		return reject("%s does not moderate %s", ac.actor.Handle(), magazine.Name)
	}
	return nil
}

type collectionKind int

const (
	collectionModerators collectionKind = iota + 1
	collectionFeatured
)

func (i *Inbox) handleAdd(ctx context.Context, ac *activityContext) error {
	return i.handleCollection(ctx, ac, true)
}

func (i *Inbox) handleRemove(ctx context.Context, ac *activityContext) error {
	return i.handleCollection(ctx, ac, false)
}

// handleCollection adds to or removes from the moderators or featured
// collection of a magazine.
func (i *Inbox) handleCollection(ctx context.Context, ac *activityContext, add bool) error {
	if ac.env.Target.ID == "" {
		return &DecodeError{Reason: "collection activity without target"}
	}
	magazine, kind, err := i.collectionOwner(ctx, ac.env.Target.ID, ac.env.Audience)
	if err != nil {
		return err
	}

	switch kind {
	case collectionModerators:
		user, err := i.resolver.Resolve(ctx, ac.env.Object.ID)
		if err != nil {
			return err
		}
		return i.commit(ctx, ac, func(tx Tx) (effect, error) {
			if err := requireModerator(tx, ac, magazine); err != nil {
				return noop, err
			}
			if add {
				return i.addModerator(tx, ac, magazine, user)
			}
			return i.removeModerator(tx, ac, magazine, user)
		})

	default:
		var c *domain.Content
		if add {
			c, err = i.subject(ctx, ac.env.Object)
		} else {
			c, err = i.readContent(ctx, ac.env.Object.ID)
			if errors.Is(err, domain.ErrNotFound) {
				return i.commit(ctx, ac, func(tx Tx) (effect, error) {
					return noop, conflict("unpin of unknown content %s", ac.env.Object.ID)
				})
			}
		}
		if err != nil {
			return err
		}
		return i.commit(ctx, ac, func(tx Tx) (effect, error) {
			if err := requireModerator(tx, ac, magazine); err != nil {
				return noop, err
			}
			return i.setPinned(tx, ac, magazine, c.Id, add)
		})
	}
}

func (i *Inbox) addModerator(tx Tx, ac *activityContext, magazine, user *domain.Actor) (effect, error) {
	if _, err := tx.ReadModerator(magazine.Id, user.Id); err == nil {
		return noop, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return noop, err
	}
	now := i.now()
	err := tx.CreateModerator(&domain.Moderator{
		Id:         uuid.New(),
		MagazineId: magazine.Id,
		UserId:     user.Id,
		AddedById:  uuid.NullUUID{UUID: ac.actor.Id, Valid: true},
		CreatedAt:  now,
	})
	if errors.Is(err, domain.ErrConflict) {
		return noop, nil
	}
	if err != nil {
		return noop, err
	}
	if err := tx.CreateMagazineLog(domain.NewModeratorLog(domain.LogModeratorAdded, ac.actor.Id, magazine.Id, user.Id, now)); err != nil {
		return noop, err
	}
	return applied(magazine), nil
}

func (i *Inbox) removeModerator(tx Tx, ac *activityContext, magazine, user *domain.Actor) (effect, error) {
	m, err := tx.ReadModerator(magazine.Id, user.Id)
	if errors.Is(err, domain.ErrNotFound) {
		return noop, nil
	}
	if err != nil {
		return noop, err
	}
	if err := tx.DeleteModerator(m.Id); err != nil {
		return noop, err
	}
	if err := tx.CreateMagazineLog(domain.NewModeratorLog(domain.LogModeratorRemoved, ac.actor.Id, magazine.Id, user.Id, i.now())); err != nil {
		return noop, err
	}
	return applied(magazine), nil
}

func (i *Inbox) setPinned(tx Tx, ac *activityContext, magazine *domain.Actor, contentId uuid.UUID, pinned bool) (effect, error) {
	c, err := tx.ReadContentById(contentId)
	if err != nil {
		return noop, err
	}
	if !c.MagazineId.Valid || c.MagazineId.UUID != magazine.Id {
		return noop, reject("content %s is not in %s", contentId, magazine.Name)
	}
	if c.Sticky == pinned {
		return noop, nil
	}
	c.Sticky = pinned
	if err := tx.UpdateContent(c); err != nil {
		return noop, err
	}
	logType := domain.LogContentPinned
	if !pinned {
		logType = domain.LogContentUnpinned
	}
	if err := tx.CreateMagazineLog(domain.NewContentLog(logType, ac.actor.Id, c, i.now())); err != nil {
		return noop, err
	}
	return applied(magazine), nil
}

// collectionOwner finds the magazine owning a moderators or featured
// collection URI.
func (i *Inbox) collectionOwner(ctx context.Context, uri string, audience []string) (*domain.Actor, collectionKind, error) {
	if p := localPath(uri, i.localDomain); p != "" {
		base, kind := splitCollectionPath(p)
		if kind == 0 {
			return nil, 0, reject("%s is not a magazine collection", uri)
		}
		k, name, ok := parseLocalActorPath(base)
		if !ok || k != domain.ActorMagazine {
			return nil, 0, reject("%s is not a magazine collection", uri)
		}
		mag, err := i.resolver.readLocal(ctx, k, name)
		return mag, kind, err
	}

	var owner *domain.Actor
	err := i.store.InTx(ctx, func(tx Tx) error {
		var err error
		owner, err = tx.ReadActorByCollectionURI(uri)
		return err
	})
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, 0, err
	}

	if owner == nil {
		candidates := append([]string{}, audience...)
		if base, kind := splitCollectionPath(uri); kind != 0 {
			candidates = append(candidates, base)
		}
		for _, c := range candidates {
			a, err := i.resolver.Resolve(ctx, c)
			if err != nil {
				return nil, 0, err
			}
			if a.IsMagazine() && (a.ApModeratorsUrl == uri || a.ApFeaturedUrl == uri) {
				owner = a
				break
			}
		}
	}
	if owner == nil {
		return nil, 0, reject("unknown collection %s", uri)
	}

	switch uri {
	case owner.ApModeratorsUrl:
		return owner, collectionModerators, nil
	case owner.ApFeaturedUrl:
		return owner, collectionFeatured, nil
	}
	return nil, 0, reject("unknown collection %s", uri)
}

// splitCollectionPath splits ".../moderators" or ".../featured" into the
// owner part and the collection kind.
func splitCollectionPath(p string) (string, collectionKind) {
	p = strings.TrimSuffix(p, "/")
	if base, ok := strings.CutSuffix(p, "/moderators"); ok {
		return base, collectionModerators
	}
	if base, ok := strings.CutSuffix(p, "/featured"); ok {
		return base, collectionFeatured
	}
	return p, 0
}

// handleLock locks a thread against new comments.
func (i *Inbox) handleLock(ctx context.Context, ac *activityContext) error {
	c, err := i.subject(ctx, ac.env.Object)
	if err != nil {
		return err
	}
	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		return i.setLocked(tx, ac, c.Id, true)
	})
}

// setLocked locks or unlocks an entry or a post. Comments and messages own
// no thread to lock.
func (i *Inbox) setLocked(tx Tx, ac *activityContext, contentId uuid.UUID, locked bool) (effect, error) {
	c, err := tx.ReadContentById(contentId)
	if err != nil {
		return noop, err
	}
	if !c.IsThreadRoot() {
		return noop, conflict("%s %s cannot be locked", c.Kind, c.ApId)
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
		return noop, reject("%s may not lock %s", ac.actor.Handle(), ac.env.Object.ID)
	}
	if c.Locked == locked {
		return noop, nil
	}

	c.Locked = locked
	if err := tx.UpdateContent(c); err != nil {
		return noop, err
	}
	if magazine != nil {
		logType := domain.LogContentLocked
		if !locked {
			logType = domain.LogContentUnlocked
		}
		if err := tx.CreateMagazineLog(domain.NewContentLog(logType, ac.actor.Id, c, i.now())); err != nil {
			return noop, err
		}
	}
	return applied(magazine), nil
}
