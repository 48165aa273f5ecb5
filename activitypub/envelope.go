package activitypub

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ActivityType is the ActivityStreams type of an activity
type ActivityType string

const (
	TypeCreate   ActivityType = "Create"
	TypeUpdate   ActivityType = "Update"
	TypeDelete   ActivityType = "Delete"
	TypeFollow   ActivityType = "Follow"
	TypeAccept   ActivityType = "Accept"
	TypeReject   ActivityType = "Reject"
	TypeLike     ActivityType = "Like"
	TypeDislike  ActivityType = "Dislike"
	TypeFlag     ActivityType = "Flag"
	TypeBlock    ActivityType = "Block"
	TypeAdd      ActivityType = "Add"
	TypeRemove   ActivityType = "Remove"
	TypeLock     ActivityType = "Lock"
	TypeUndo     ActivityType = "Undo"
	TypeAnnounce ActivityType = "Announce"
)

var activityTypes = map[ActivityType]bool{
	TypeCreate: true, TypeUpdate: true, TypeDelete: true, TypeFollow: true,
	TypeAccept: true, TypeReject: true, TypeLike: true, TypeDislike: true,
	TypeFlag: true, TypeBlock: true, TypeAdd: true, TypeRemove: true,
	TypeLock: true, TypeUndo: true, TypeAnnounce: true,
}

// IsActivityType reports whether t names an activity rather than an object.
func IsActivityType(t string) bool {
	return activityTypes[ActivityType(t)]
}

// Public is the ActivityStreams public collection.
const Public = "https://www.w3.org/ns/activitystreams#Public"

const contextActivityStreams = "https://www.w3.org/ns/activitystreams"

// maxNestingDepth bounds Announce(Undo(Like)) style nesting.
const maxNestingDepth = 3

// ObjectRef is an object, target or actor reference. Remote servers send
// either a bare URI or an embedded document, in which case Raw holds it.
type ObjectRef struct {
	ID   string
	Type string
	Raw  json.RawMessage
}

// IsEmbedded reports whether the reference carries a document.
func (r ObjectRef) IsEmbedded() bool {
	return len(r.Raw) > 0
}

// Envelope is a decoded inbound activity.
type Envelope struct {
	ID       string
	Type     ActivityType
	Actor    string
	Object   ObjectRef
	Objects  []ObjectRef
	Target   ObjectRef
	Audience []string
	To       []string
	Cc       []string
	Summary  string
	Content  string
	EndTime  time.Time
	Raw      json.RawMessage
	Inner    *Envelope // embedded activity of Announce and Undo
}

// Recipients returns To, Cc and Audience together.
func (e *Envelope) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Audience))
	out = append(out, e.To...)
	out = append(out, e.Cc...)
	return append(out, e.Audience...)
}

type wireActivity struct {
	ID       string          `json:"id"`
	Type     json.RawMessage `json:"type"`
	Actor    json.RawMessage `json:"actor"`
	Object   json.RawMessage `json:"object"`
	Target   json.RawMessage `json:"target"`
	Audience json.RawMessage `json:"audience"`
	To       json.RawMessage `json:"to"`
	Cc       json.RawMessage `json:"cc"`
	Summary  json.RawMessage `json:"summary"`
	Content  json.RawMessage `json:"content"`
	EndTime  string          `json:"endTime"`
}

// DecodeEnvelope parses a raw JSON-LD activity. It requires id, type and
// actor, and decodes the embedded activity of an Announce or Undo.
func DecodeEnvelope(raw []byte) (*Envelope, error) {
	return decodeEnvelope(raw, 1)
}

func decodeEnvelope(raw []byte, depth int) (*Envelope, error) {
	if depth > maxNestingDepth {
		return nil, &DecodeError{Reason: fmt.Sprintf("activity nested deeper than %d levels", maxNestingDepth)}
	}

	var w wireActivity
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Reason: "invalid json", Err: err}
	}

	typ := firstString(w.Type)
	if typ == "" {
		return nil, &DecodeError{Reason: "missing type"}
	}
	// The id of an embedded activity is optional, e.g. in Undo
	if w.ID == "" && depth == 1 {
		return nil, &DecodeError{Reason: "missing id"}
	}

	actors, err := parseRefs(w.Actor)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid actor", Err: err}
	}
	if len(actors) == 0 || actors[0].ID == "" {
		return nil, &DecodeError{Reason: "missing actor"}
	}

	objects, err := parseRefs(w.Object)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid object", Err: err}
	}
	targets, err := parseRefs(w.Target)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid target", Err: err}
	}

	env := &Envelope{
		ID:       w.ID,
		Type:     ActivityType(typ),
		Actor:    actors[0].ID,
		Objects:  objects,
		Audience: parseURIs(w.Audience),
		To:       parseURIs(w.To),
		Cc:       parseURIs(w.Cc),
		Summary:  firstString(w.Summary),
		Content:  firstString(w.Content),
		Raw:      json.RawMessage(raw),
	}
	if len(objects) > 0 {
		env.Object = objects[0]
	}
	if len(targets) > 0 {
		env.Target = targets[0]
	}
	if w.EndTime != "" {
		if t, err := time.Parse(time.RFC3339, w.EndTime); err == nil {
			env.EndTime = t
		}
	}

	if (env.Type == TypeAnnounce || env.Type == TypeUndo) && env.Object.IsEmbedded() && IsActivityType(env.Object.Type) {
		inner, err := decodeEnvelope(env.Object.Raw, depth+1)
		if err != nil {
			return nil, err
		}
		env.Inner = inner
	}

	return env, nil
}

// parseRefs accepts a URI, an object with an id, or an array of either.
func parseRefs(raw json.RawMessage) ([]ObjectRef, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		if s == "" {
			return nil, nil
		}
		return []ObjectRef{{ID: s}}, nil
	case '{':
		var head struct {
			ID   string          `json:"id"`
			Type json.RawMessage `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, err
		}
		return []ObjectRef{{ID: head.ID, Type: firstString(head.Type), Raw: raw}}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, err
		}
		var refs []ObjectRef
		for _, item := range items {
			r, err := parseRefs(item)
			if err != nil {
				return nil, err
			}
			refs = append(refs, r...)
		}
		return refs, nil
	default:
		return nil, fmt.Errorf("unexpected reference %.20s", raw)
	}
}

// parseURIs returns the ids of an addressing field. Malformed values are
// ignored since addressing is advisory.
func parseURIs(raw json.RawMessage) []string {
	refs, err := parseRefs(raw)
	if err != nil {
		return nil
	}
	uris := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.ID != "" {
			uris = append(uris, r.ID)
		}
	}
	return uris
}

// firstString returns a string value, the first string of an array, or the
// first value of a language map.
func firstString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
	case '[':
		var items []json.RawMessage
		if json.Unmarshal(raw, &items) == nil {
			for _, item := range items {
				if s := firstString(item); s != "" {
					return s
				}
			}
		}
	case '{':
		var m map[string]string
		if json.Unmarshal(raw, &m) == nil {
			for _, k := range []string{"und", "en"} {
				if s, ok := m[k]; ok {
					return s
				}
			}
			for _, s := range m {
				return s
			}
		}
	}
	return ""
}

func containsURI(uris []string, uri string) bool {
	for _, u := range uris {
		if strings.EqualFold(u, uri) {
			return true
		}
	}
	return false
}
