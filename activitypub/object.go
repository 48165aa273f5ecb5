package activitypub

import (
	"encoding/json"
	"fmt"
	"time"
)

// ActivityObject is the object of an activity once its document is known:
// a *ContentObject, *ActorObject, *ActivityRefObject or *GenericObject.
type ActivityObject interface {
	ObjectID() string
}

var contentTypes = map[string]bool{
	"Page": true, "Article": true, "Video": true, "Question": true,
	"Note": true, "ChatMessage": true,
}

var actorTypes = map[string]bool{
	"Person": true, "Group": true, "Service": true, "Application": true, "Organization": true,
}

// threadTypes are the object types that become entries.
var threadTypes = map[string]bool{
	"Page": true, "Article": true, "Video": true, "Question": true,
}

// ContentObject is an entry, post, comment or message document.
type ContentObject struct {
	ID           string
	Type         string
	AttributedTo string
	Name         string
	Content      string
	Source       string
	URL          string
	InReplyTo    string
	Audience     []string
	To           []string
	Cc           []string
	Sensitive    bool
	Stickied     bool
	Published    time.Time
	Updated      time.Time
}

func (c *ContentObject) ObjectID() string { return c.ID }

// Recipients returns To, Cc and Audience together.
func (c *ContentObject) Recipients() []string {
	out := make([]string, 0, len(c.To)+len(c.Cc)+len(c.Audience))
	out = append(out, c.To...)
	out = append(out, c.Cc...)
	return append(out, c.Audience...)
}

// ActorObject is an embedded actor, as in Update(Person) or Delete(Person).
type ActorObject struct {
	ID   string
	Type string
}

func (a *ActorObject) ObjectID() string { return a.ID }

// ActivityRefObject is an embedded activity, as in Undo(Like).
type ActivityRefObject struct {
	ID       string
	Type     ActivityType
	Envelope *Envelope
}

func (a *ActivityRefObject) ObjectID() string { return a.ID }

// GenericObject is anything else, including a bare URI reference and a
// Tombstone.
type GenericObject struct {
	ID   string
	Type string
}

func (g *GenericObject) ObjectID() string { return g.ID }

type wireContent struct {
	ID           string          `json:"id"`
	Type         json.RawMessage `json:"type"`
	AttributedTo json.RawMessage `json:"attributedTo"`
	Name         json.RawMessage `json:"name"`
	Content      json.RawMessage `json:"content"`
	ContentMap   json.RawMessage `json:"contentMap"`
	Source       struct {
		Content string `json:"content"`
	} `json:"source"`
	URL        json.RawMessage `json:"url"`
	Attachment json.RawMessage `json:"attachment"`
	InReplyTo  json.RawMessage `json:"inReplyTo"`
	Audience   json.RawMessage `json:"audience"`
	To         json.RawMessage `json:"to"`
	Cc         json.RawMessage `json:"cc"`
	Sensitive  bool            `json:"sensitive"`
	Stickied   bool            `json:"stickied"`
	Published  string          `json:"published"`
	Updated    string          `json:"updated"`
}

// ParseObject classifies an object reference. Bare URIs become a
// *GenericObject carrying only the id.
func ParseObject(ref ObjectRef) (ActivityObject, error) {
	if !ref.IsEmbedded() {
		return &GenericObject{ID: ref.ID, Type: ref.Type}, nil
	}

	switch {
	case IsActivityType(ref.Type):
		env, err := decodeEnvelope(ref.Raw, 2)
		if err != nil {
			return nil, err
		}
		return &ActivityRefObject{ID: env.ID, Type: env.Type, Envelope: env}, nil
	case actorTypes[ref.Type]:
		return &ActorObject{ID: ref.ID, Type: ref.Type}, nil
	case contentTypes[ref.Type]:
		return parseContent(ref.Raw)
	default:
		return &GenericObject{ID: ref.ID, Type: ref.Type}, nil
	}
}

// ParseObjectDocument classifies a fetched document.
func ParseObjectDocument(raw json.RawMessage) (ActivityObject, error) {
	refs, err := parseRefs(raw)
	if err != nil || len(refs) != 1 {
		return nil, &DecodeError{Reason: "invalid object document", Err: err}
	}
	return ParseObject(refs[0])
}

func parseContent(raw json.RawMessage) (*ContentObject, error) {
	var w wireContent
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, &DecodeError{Reason: "invalid content object", Err: err}
	}
	if w.ID == "" {
		return nil, &DecodeError{Reason: "content object without id"}
	}

	c := &ContentObject{
		ID:        w.ID,
		Type:      firstString(w.Type),
		Name:      firstString(w.Name),
		Content:   firstString(w.Content),
		Source:    w.Source.Content,
		InReplyTo: firstRefID(w.InReplyTo),
		Audience:  parseURIs(w.Audience),
		To:        parseURIs(w.To),
		Cc:        parseURIs(w.Cc),
		Sensitive: w.Sensitive,
		Stickied:  w.Stickied,
	}
	if c.Content == "" {
		c.Content = firstString(w.ContentMap)
	}

	// PeerTube attributes videos to a Person and the channel Group
	attributed, err := parseRefs(w.AttributedTo)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid attributedTo", Err: err}
	}
	for _, a := range attributed {
		if a.Type == "Group" {
			c.Audience = append(c.Audience, a.ID)
			continue
		}
		if c.AttributedTo == "" {
			c.AttributedTo = a.ID
		}
	}

	c.URL = linkHref(w.Attachment)
	if c.URL == "" && threadTypes[c.Type] {
		c.URL = linkHref(w.URL)
	}

	c.Published = parseTime(w.Published)
	c.Updated = parseTime(w.Updated)
	return c, nil
}

// linkHref returns the first link of a url or attachment field.
func linkHref(raw json.RawMessage) string {
	refs, err := parseRefs(raw)
	if err != nil {
		return ""
	}
	for _, r := range refs {
		if !r.IsEmbedded() {
			return r.ID
		}
		var link struct {
			Href string `json:"href"`
			URL  string `json:"url"`
		}
		if json.Unmarshal(r.Raw, &link) == nil {
			if link.Href != "" {
				return link.Href
			}
			if link.URL != "" {
				return link.URL
			}
		}
	}
	return ""
}

func firstRefID(raw json.RawMessage) string {
	refs, err := parseRefs(raw)
	if err != nil || len(refs) == 0 {
		return ""
	}
	return refs[0].ID
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// collectionTotal extracts totalItems from a collection document.
func collectionTotal(raw json.RawMessage) (int, error) {
	var c struct {
		Type       string `json:"type"`
		TotalItems *int   `json:"totalItems"`
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, err
	}
	if c.TotalItems == nil {
		return 0, fmt.Errorf("collection without totalItems")
	}
	return *c.TotalItems, nil
}
