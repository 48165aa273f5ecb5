package activitypub

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

// contentPlan is everything resolved over the network before a content
// subject is written.
type contentPlan struct {
	obj         *ContentObject
	author      *domain.Actor
	kind        domain.ContentKind
	magazine    *domain.Actor   // nil for messages and comments
	parent      *domain.Content // direct parent of comments and replies
	recipientId uuid.NullUUID   // messages only
}

func (i *Inbox) handleCreate(ctx context.Context, ac *activityContext) error {
	obj, err := i.fetchObject(ctx, ac.env.Object)
	if err != nil {
		return err
	}
	content, ok := obj.(*ContentObject)
	if !ok {
		return reject("cannot create object of type %q", ac.env.Object.Type)
	}
	if err := checkAuthor(content, ac.actor); err != nil {
		return err
	}

	plan, err := i.planContent(ctx, content, ac.actor, 0)
	if err != nil {
		return err
	}

	log.Printf("Inbox: Creating %s %s from %s", plan.kind, content.ID, ac.actor.Handle())
	return i.commit(ctx, ac, func(tx Tx) (effect, error) {
		_, eff, err := i.storeContent(tx, ac, plan)
		return eff, err
	})
}

// checkAuthor requires the content to be attributed to the actor sending it.
func checkAuthor(c *ContentObject, actor *domain.Actor) error {
	if c.AttributedTo == "" {
		c.AttributedTo = actor.ApId
		return nil
	}
	if c.AttributedTo != actor.ApId {
		return reject("object %s is attributed to %s, not %s", c.ID, c.AttributedTo, actor.ApId)
	}
	if !sameHost(c.ID, actor.ApId) {
		return reject("object %s is not hosted on the author's instance", c.ID)
	}
	return nil
}

// planContent decides what kind of subject a content object becomes and
// resolves its magazine, parent or recipient.
func (i *Inbox) planContent(ctx context.Context, obj *ContentObject, author *domain.Actor, depth int) (*contentPlan, error) {
	plan := &contentPlan{obj: obj, author: author}

	switch {
	case obj.InReplyTo != "":
		parent, err := i.materialize(ctx, obj.InReplyTo, depth+1)
		if err != nil {
			return nil, err
		}
		plan.parent = parent
		plan.kind = parent.CommentKind()
		if parent.Kind == domain.ContentMessage {
			recipient := parent.AuthorId
			if recipient == author.Id {
				recipient = parent.RecipientId.UUID
			}
			plan.recipientId = uuid.NullUUID{UUID: recipient, Valid: true}
		}
		return plan, nil

	case threadTypes[obj.Type]:
		plan.kind = domain.ContentEntry
		mag, err := i.findMagazine(ctx, obj, author)
		if err != nil {
			return nil, err
		}
		if mag == nil {
			if mag, err = i.resolver.readLocal(ctx, domain.ActorMagazine, i.fallbackMagazine); err != nil {
				return nil, err
			}
		}
		plan.magazine = mag
		return plan, nil
	}

	if obj.Type != "ChatMessage" {
		mag, err := i.findMagazine(ctx, obj, author)
		if err != nil {
			return nil, err
		}
		if mag != nil {
			plan.kind = domain.ContentPost
			plan.magazine = mag
			return plan, nil
		}
	}

	recipient, err := i.findLocalRecipient(ctx, obj.Recipients())
	if err != nil {
		return nil, err
	}
	if recipient != nil && (!isPublic(obj.Recipients()) || obj.Type == "ChatMessage") {
		plan.kind = domain.ContentMessage
		plan.recipientId = uuid.NullUUID{UUID: recipient.Id, Valid: true}
		return plan, nil
	}

	if obj.Type != "ChatMessage" && isPublic(obj.Recipients()) {
		mag, err := i.resolver.readLocal(ctx, domain.ActorMagazine, i.fallbackMagazine)
		if err != nil {
			return nil, err
		}
		plan.kind = domain.ContentPost
		plan.magazine = mag
		return plan, nil
	}
	return nil, reject("object %s has no magazine or local recipient", obj.ID)
}

// findMagazine returns the magazine a content object is addressed to.
// Explicit audience entries may be fetched, to and cc entries must be known.
func (i *Inbox) findMagazine(ctx context.Context, obj *ContentObject, author *domain.Actor) (*domain.Actor, error) {
	candidates := func(uris []string, fetch bool) (*domain.Actor, error) {
		for _, uri := range uris {
			if isPublic([]string{uri}) || uri == author.ApFollowersUrl {
				continue
			}
			if p := localPath(uri, i.localDomain); p != "" {
				kind, name, ok := parseLocalActorPath(p)
				if !ok || kind != domain.ActorMagazine {
					continue
				}
				mag, err := i.resolver.readLocal(ctx, kind, name)
				if err != nil {
					return nil, err
				}
				return mag, nil
			}

			var known *domain.Actor
			err := i.store.InTx(ctx, func(tx Tx) error {
				var err error
				known, err = tx.ReadActorByURI(uri)
				return err
			})
			switch {
			case err == nil:
				if known.IsMagazine() {
					return known, nil
				}
				continue
			case !errors.Is(err, domain.ErrNotFound):
				return nil, err
			}

			if fetch {
				a, err := i.resolver.Resolve(ctx, uri)
				if err != nil {
					return nil, err
				}
				if a.IsMagazine() {
					return a, nil
				}
			}
		}
		return nil, nil
	}

	if mag, err := candidates(obj.Audience, true); mag != nil || err != nil {
		return mag, err
	}
	return candidates(append(append([]string{}, obj.To...), obj.Cc...), false)
}

// findLocalRecipient returns the first local user addressed.
func (i *Inbox) findLocalRecipient(ctx context.Context, uris []string) (*domain.Actor, error) {
	for _, uri := range uris {
		p := localPath(uri, i.localDomain)
		if p == "" {
			continue
		}
		kind, name, ok := parseLocalActorPath(p)
		if !ok || kind != domain.ActorUser {
			continue
		}
		a, err := i.resolver.readLocal(ctx, kind, name)
		var rejected *RejectedError
		if errors.As(err, &rejected) {
			continue
		}
		return a, err
	}
	return nil, nil
}

// materialize returns the stored content for uri, fetching and storing it and
// its reply chain when it is not known yet.
func (i *Inbox) materialize(ctx context.Context, uri string, depth int) (*domain.Content, error) {
	c, err := i.readContent(ctx, uri)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if localPath(uri, i.localDomain) != "" {
		return nil, reject("unknown local content %s", uri)
	}
	if depth > i.maxReplyDepth {
		return nil, &DependencyMissingError{URI: uri, Err: fmt.Errorf("reply chain deeper than %d", i.maxReplyDepth)}
	}

	obj, err := i.fetchObject(ctx, ObjectRef{ID: uri})
	if err != nil {
		return nil, err
	}
	return i.materializeObject(ctx, obj, depth)
}

// materializeObject stores a content document outside of any activity.
func (i *Inbox) materializeObject(ctx context.Context, obj ActivityObject, depth int) (*domain.Content, error) {
	content, ok := obj.(*ContentObject)
	if !ok {
		return nil, reject("%s is not a content object", obj.ObjectID())
	}
	if content.AttributedTo == "" {
		return nil, reject("content %s has no author", content.ID)
	}
	if existing, err := i.readContent(ctx, content.ID); err == nil {
		return existing, nil
	}

	author, err := i.resolver.Resolve(ctx, content.AttributedTo)
	if err != nil {
		return nil, err
	}
	if err := checkAuthor(content, author); err != nil {
		return nil, err
	}
	plan, err := i.planContent(ctx, content, author, depth)
	if err != nil {
		return nil, err
	}

	log.Printf("Inbox: Materializing %s %s", plan.kind, content.ID)
	var stored *domain.Content
	err = i.store.InTx(ctx, func(tx Tx) error {
		c, _, err := i.storeContent(tx, nil, plan)
		stored = c
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// storeContent writes a planned subject. Known subjects are edited instead.
// ac is nil when the subject is materialized rather than created.
func (i *Inbox) storeContent(tx Tx, ac *activityContext, plan *contentPlan) (*domain.Content, effect, error) {
	now := i.now()

	if existing, err := tx.ReadContentByURI(plan.obj.ID); err == nil {
		if ac == nil {
			return existing, noop, nil
		}
		if existing.Materialized && ac.env.Type == TypeCreate {
			eff, err := i.claimContent(tx, ac, existing, plan.obj)
			return existing, eff, err
		}
		eff, err := i.editContent(tx, ac, existing, plan.obj)
		return existing, eff, err
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, noop, err
	}

	c := &domain.Content{
		Id:           uuid.New(),
		Kind:         plan.kind,
		ApId:         plan.obj.ID,
		AuthorId:     plan.author.Id,
		RecipientId:  plan.recipientId,
		Body:         i.sanitizer.HTML(plan.obj.Content),
		Visibility:   domain.VisibilityVisible,
		IsAdult:      plan.obj.Sensitive,
		Materialized: ac == nil,
		CreatedAt:    now,
	}
	if !plan.obj.Published.IsZero() {
		c.CreatedAt = plan.obj.Published
	}
	if c.Kind == domain.ContentEntry {
		c.Title = i.sanitizer.Text(plan.obj.Name)
		c.URL = plan.obj.URL
		if c.Title == "" {
			return nil, noop, reject("entry %s has no title", plan.obj.ID)
		}
	}

	var magazine *domain.Actor
	var thread *domain.Content
	if plan.parent != nil {
		parent, err := tx.ReadContentById(plan.parent.Id)
		if err != nil {
			return nil, noop, err
		}
		c.ParentId = uuid.NullUUID{UUID: parent.Id, Valid: true}
		c.MagazineId = parent.MagazineId

		thread = parent
		if parent.RootId.Valid {
			if thread, err = tx.ReadContentById(parent.RootId.UUID); err != nil {
				return nil, noop, err
			}
		}
		if c.Kind != domain.ContentMessage {
			c.RootId = uuid.NullUUID{UUID: thread.Id, Valid: true}
			if thread.Locked {
				return nil, noop, conflict("thread %s is locked", thread.Id)
			}
		}
		if magazine, err = magazineOf(tx, parent); err != nil {
			return nil, noop, err
		}
	} else if plan.magazine != nil {
		var err error
		if magazine, err = tx.ReadActorById(plan.magazine.Id); err != nil {
			return nil, noop, err
		}
		c.MagazineId = uuid.NullUUID{UUID: magazine.Id, Valid: true}
	}

	if magazine != nil {
		if _, err := tx.ReadActiveBan(magazine.Id, plan.author.Id, now); err == nil {
			return nil, noop, conflict("%s is banned from %s", plan.author.Handle(), magazine.Name)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return nil, noop, err
		}
		if plan.obj.Stickied && c.Kind == domain.ContentEntry {
			c.Sticky = !magazine.IsLocal()
		}
	}

	if err := tx.CreateContent(c); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			existing, rerr := tx.ReadContentByURI(plan.obj.ID)
			if rerr != nil {
				return nil, noop, rerr
			}
			return existing, noop, nil
		}
		return nil, noop, err
	}

	if thread != nil && c.Kind != domain.ContentMessage {
		if err := tx.RecountContent(thread.Id); err != nil {
			return nil, noop, err
		}
	}

	if magazine != nil {
		if err := subscribeAuthor(tx, magazine, plan.author, now); err != nil {
			return nil, noop, err
		}
	}

	return c, applied(magazine), nil
}

// subscribeAuthor subscribes the author of new content to its magazine.
func subscribeAuthor(tx Tx, magazine, author *domain.Actor, now time.Time) error {
	if magazine.Id == author.Id {
		return nil
	}
	_, err := tx.ReadSubscription(magazine.Id, author.Id)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	sub := &domain.MagazineSubscription{
		Id:         uuid.New(),
		MagazineId: magazine.Id,
		UserId:     author.Id,
		CreatedAt:  now,
	}
	if err := tx.CreateSubscription(sub); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil
		}
		return err
	}
	return adjustFollowers(tx, magazine, 1)
}

// claimContent hands a materialized subject over to the Create that
// introduces it, so the Create federates like one for a new subject.
func (i *Inbox) claimContent(tx Tx, ac *activityContext, c *domain.Content, obj *ContentObject) (effect, error) {
	if _, err := i.editContent(tx, ac, c, obj); err != nil {
		return noop, err
	}
	c.Materialized = false
	if err := tx.UpdateContent(c); err != nil {
		return noop, err
	}
	magazine, err := magazineOf(tx, c)
	if err != nil {
		return noop, err
	}
	return applied(magazine), nil
}

// editContent applies a content document to a stored subject.
func (i *Inbox) editContent(tx Tx, ac *activityContext, c *domain.Content, obj *ContentObject) (effect, error) {
	magazine, err := magazineOf(tx, c)
	if err != nil {
		return noop, err
	}
	ok, err := canModerateContent(tx, ac, c, magazine)
	if err != nil {
		return noop, err
	}
	if !ok {
		return noop, reject("%s may not edit %s", ac.actor.Handle(), obj.ID)
	}

	title, body, url := c.Title, i.sanitizer.HTML(obj.Content), c.URL
	if c.Kind == domain.ContentEntry {
		if t := i.sanitizer.Text(obj.Name); t != "" {
			title = t
		}
		url = obj.URL
	}
	if title == c.Title && body == c.Body && url == c.URL && obj.Sensitive == c.IsAdult {
		return noop, nil
	}

	c.Title, c.Body, c.URL, c.IsAdult = title, body, url, obj.Sensitive
	c.EditedAt = obj.Updated
	if c.EditedAt.IsZero() {
		c.EditedAt = i.now()
	}
	if err := tx.UpdateContent(c); err != nil {
		return noop, err
	}
	return applied(magazine), nil
}
