package activitypub

import (
	"strings"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

// IsLocallyAuthoritative reports whether this server owns the actor and must
// therefore re-federate activities addressed to it.
func IsLocallyAuthoritative(a *domain.Actor) bool {
	return a != nil && a.IsLocal()
}

// isPublic reports whether the addressing includes the public collection,
// accepting the compact forms some servers emit.
func isPublic(recipients []string) bool {
	for _, r := range recipients {
		if r == Public || r == "as:Public" || r == "Public" {
			return true
		}
	}
	return false
}

// localPath returns the path of a URI hosted on this server, or "" when the
// URI belongs to another host.
func localPath(uri, localDomain string) string {
	if !strings.EqualFold(domain.DomainOf(uri), localDomain) {
		return ""
	}
	rest := uri[strings.Index(uri, "://")+3:]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[i:]
	}
	return "/"
}

// parseLocalActorPath maps /m/<name> and /u/<name> to an actor kind and name.
func parseLocalActorPath(path string) (domain.ActorKind, string, bool) {
	path = strings.TrimSuffix(path, "/")
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	switch parts[0] {
	case "m", "c":
		return domain.ActorMagazine, parts[1], true
	case "u":
		return domain.ActorUser, parts[1], true
	default:
		return "", "", false
	}
}

// LocalActorURL is the federation id of a local actor.
func LocalActorURL(localDomain string, a *domain.Actor) string {
	if a.IsMagazine() {
		return "https://" + localDomain + "/m/" + a.Name
	}
	return "https://" + localDomain + "/u/" + a.Name
}

// actorURL returns the federation id of any actor.
func actorURL(localDomain string, a *domain.Actor) string {
	if a.IsLocal() {
		return LocalActorURL(localDomain, a)
	}
	return a.ApId
}

// LocalContentURL is the federation id of content created on this server.
func LocalContentURL(localDomain string, c *domain.Content) string {
	return "https://" + localDomain + "/content/" + c.Id.String()
}

func parseLocalContentPath(path string) (uuid.UUID, bool) {
	rest, ok := strings.CutPrefix(path, "/content/")
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(strings.TrimSuffix(rest, "/"))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// contentURL returns the federation id of any content.
func contentURL(localDomain string, c *domain.Content) string {
	if c.ApId == "" {
		return LocalContentURL(localDomain, c)
	}
	return c.ApId
}
