package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/MbinOrg/mbin-sub001/activitypub"
	"github.com/MbinOrg/mbin-sub001/db"
	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/gin-gonic/gin"
)

type webFingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href"`
}

// WebFingerResponse is a JSON Resource Descriptor.
type WebFingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []webFingerLink `json:"links"`
}

// GetWebfinger describes a local actor.
func GetWebfinger(localDomain string, a *domain.Actor) WebFingerResponse {
	id := activitypub.LocalActorURL(localDomain, a)
	return WebFingerResponse{
		Subject: "acct:" + a.Name + "@" + localDomain,
		Aliases: []string{id},
		Links: []webFingerLink{
			{Rel: "http://webfinger.net/rel/profile-page", Type: "text/html", Href: id},
			{Rel: "self", Type: "application/activity+json", Href: id},
		},
	}
}

// parseResource maps a WebFinger resource to the local actor it names.
// Handles resolve users first; a magazine sharing a user's name is found
// through its URL or the "!" prefix.
func parseResource(resource, localDomain string) (kinds []domain.ActorKind, name string, ok bool) {
	if strings.HasPrefix(resource, "https://") {
		path, found := strings.CutPrefix(resource, "https://"+localDomain+"/")
		if !found {
			return nil, "", false
		}
		parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
		if len(parts) != 2 || parts[1] == "" {
			return nil, "", false
		}
		switch parts[0] {
		case "m":
			return []domain.ActorKind{domain.ActorMagazine}, parts[1], true
		case "u":
			return []domain.ActorKind{domain.ActorUser}, parts[1], true
		}
		return nil, "", false
	}

	handle := strings.TrimPrefix(resource, "acct:")
	kinds = []domain.ActorKind{domain.ActorUser, domain.ActorMagazine}
	if rest, found := strings.CutPrefix(handle, "!"); found {
		handle = rest
		kinds = []domain.ActorKind{domain.ActorMagazine}
	}
	handle = strings.TrimPrefix(handle, "@")

	name, host, found := strings.Cut(handle, "@")
	if !found || name == "" || !strings.EqualFold(host, localDomain) {
		return nil, "", false
	}
	return kinds, name, true
}

func (s *Server) handleWebFinger(c *gin.Context) {
	kinds, name, ok := parseResource(c.Query("resource"), s.localDomain)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}

	var actor *domain.Actor
	err := s.db.InTx(c.Request.Context(), func(tx *db.Tx) error {
		for _, kind := range kinds {
			a, err := tx.ReadLocalActor(kind, name)
			if errors.Is(err, domain.ErrNotFound) || (err == nil && a.IsDeleted) {
				continue
			}
			if err != nil {
				return err
			}
			actor = a
			return nil
		}
		return domain.ErrNotFound
	})
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
		return
	}
	if err != nil {
		log.Printf("WebFinger: Failed to read %s: %v", name, err)
		c.Status(http.StatusInternalServerError)
		return
	}

	body, err := json.Marshal(GetWebfinger(s.localDomain, actor))
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, contentTypeJRD, body)
}
