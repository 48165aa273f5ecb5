package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/MbinOrg/mbin-sub001/activitypub"
	"github.com/MbinOrg/mbin-sub001/db"
	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/gin-gonic/gin"
)

// GetActor renders a local magazine as a Group and a local user as a Person.
func GetActor(localDomain string, a *domain.Actor) map[string]any {
	id := activitypub.LocalActorURL(localDomain, a)

	name := a.DisplayName
	if name == "" {
		name = a.Name
	}

	actor := map[string]any{
		"@context": []any{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                        id,
		"type":                      "Person",
		"preferredUsername":         a.Name,
		"name":                      name,
		"summary":                   a.About,
		"url":                       id,
		"inbox":                     id + "/inbox",
		"outbox":                    id + "/outbox",
		"followers":                 id + "/followers",
		"manuallyApprovesFollowers": false,
		"discoverable":              true,
		"published":                 a.CreatedAt.UTC().Format(time.RFC3339),
		"endpoints": map[string]any{
			"sharedInbox": "https://" + localDomain + "/inbox",
		},
		"publicKey": map[string]any{
			"id":           id + "#main-key",
			"owner":        id,
			"publicKeyPem": a.PublicKeyPem,
		},
	}

	if a.IsMagazine() {
		actor["type"] = "Group"
		actor["moderators"] = id + "/moderators"
		actor["featured"] = id + "/featured"
		actor["postingRestrictedToMods"] = false
	}
	return actor
}

// GetCollection renders an OrderedCollection. Items are omitted when nil so
// large collections can publish only their size.
func GetCollection(id string, total int, items []string) map[string]any {
	collection := map[string]any{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         id,
		"type":       "OrderedCollection",
		"totalItems": total,
	}
	if items != nil {
		collection["orderedItems"] = items
	}
	return collection
}

// GetTombstone renders a deleted actor.
func GetTombstone(id string) map[string]any {
	return map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"id":       id,
		"type":     "Tombstone",
	}
}

func writeActivityJSON(c *gin.Context, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal response: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, contentTypeActivityJSON, body)
}

// federationId returns the id other servers know an actor by.
func federationId(localDomain string, a *domain.Actor) string {
	if a.IsLocal() {
		return activitypub.LocalActorURL(localDomain, a)
	}
	return a.ApId
}

// withLocalActor loads the local actor named in the path and runs fn on it in
// the same transaction. Unknown actors answer 404, deleted ones 410.
func (s *Server) withLocalActor(c *gin.Context, kind domain.ActorKind, fn func(tx *db.Tx, a *domain.Actor) (any, error)) {
	var (
		actor *domain.Actor
		doc   any
	)
	err := s.db.InTx(c.Request.Context(), func(tx *db.Tx) error {
		var err error
		actor, err = tx.ReadLocalActor(kind, c.Param("name"))
		if err != nil || actor.IsDeleted {
			return err
		}
		doc, err = fn(tx, actor)
		return err
	})

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeActivityJSON(c, http.StatusNotFound, gin.H{"error": "Not found"})
	case err != nil:
		log.Printf("Failed to read %s %s: %v", kind, c.Param("name"), err)
		c.Status(http.StatusInternalServerError)
	case actor.IsDeleted:
		writeActivityJSON(c, http.StatusGone, GetTombstone(activitypub.LocalActorURL(s.localDomain, actor)))
	default:
		writeActivityJSON(c, http.StatusOK, doc)
	}
}

func (s *Server) handleActor(kind domain.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.withLocalActor(c, kind, func(_ *db.Tx, a *domain.Actor) (any, error) {
			return GetActor(s.localDomain, a), nil
		})
	}
}

func (s *Server) handleOutbox(kind domain.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.withLocalActor(c, kind, func(_ *db.Tx, a *domain.Actor) (any, error) {
			return GetCollection(activitypub.LocalActorURL(s.localDomain, a)+"/outbox", 0, []string{}), nil
		})
	}
}

func (s *Server) handleFollowers(kind domain.ActorKind) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.withLocalActor(c, kind, func(tx *db.Tx, a *domain.Actor) (any, error) {
			total, err := tx.CountFollowers(a.Id)
			if err != nil {
				return nil, err
			}
			return GetCollection(activitypub.LocalActorURL(s.localDomain, a)+"/followers", total, nil), nil
		})
	}
}

func (s *Server) handleModerators(c *gin.Context) {
	s.withLocalActor(c, domain.ActorMagazine, func(tx *db.Tx, a *domain.Actor) (any, error) {
		mods, err := tx.ReadModeratorActors(a.Id)
		if err != nil {
			return nil, err
		}
		items := make([]string, 0, len(mods))
		for _, m := range mods {
			items = append(items, federationId(s.localDomain, m))
		}
		return GetCollection(activitypub.LocalActorURL(s.localDomain, a)+"/moderators", len(items), items), nil
	})
}

func (s *Server) handleFeatured(c *gin.Context) {
	s.withLocalActor(c, domain.ActorMagazine, func(tx *db.Tx, a *domain.Actor) (any, error) {
		uris, err := tx.ReadPinnedContentURIs(a.Id)
		if err != nil {
			return nil, err
		}
		if uris == nil {
			uris = []string{}
		}
		return GetCollection(activitypub.LocalActorURL(s.localDomain, a)+"/featured", len(uris), uris), nil
	})
}
