package activitypub

import (
	"encoding/json"
	"testing"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

func TestParseObjectDocumentPage(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "https://video.test/videos/1",
		"type": "Video",
		"attributedTo": [
			{"id": "https://video.test/accounts/ann", "type": "Person"},
			{"id": "https://video.test/video-channels/cats", "type": "Group"}
		],
		"name": "Cats",
		"contentMap": {"en": "<p>cats</p>"},
		"url": [{"type": "Link", "href": "https://video.test/w/1"}],
		"sensitive": true,
		"published": "2026-02-01T10:00:00Z"
	}`)

	obj, err := ParseObjectDocument(raw)
	if err != nil {
		t.Fatalf("ParseObjectDocument failed: %v", err)
	}
	c, ok := obj.(*ContentObject)
	if !ok {
		t.Fatalf("Expected *ContentObject, got %T", obj)
	}
	if c.AttributedTo != "https://video.test/accounts/ann" {
		t.Errorf("Expected the person as author, got %s", c.AttributedTo)
	}
	if len(c.Audience) != 1 || c.Audience[0] != "https://video.test/video-channels/cats" {
		t.Errorf("Expected the channel as audience, got %v", c.Audience)
	}
	if c.Content != "<p>cats</p>" {
		t.Errorf("Expected content from contentMap, got %q", c.Content)
	}
	if c.URL != "https://video.test/w/1" {
		t.Errorf("Expected link url, got %q", c.URL)
	}
	if !c.Sensitive || c.Published.IsZero() {
		t.Errorf("Expected sensitive flag and published time, got %+v", c)
	}
}

func TestParseObjectKinds(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{`"https://remote.test/post/1"`, "*activitypub.GenericObject"},
		{`{"id":"https://remote.test/post/1","type":"Tombstone"}`, "*activitypub.GenericObject"},
		{`{"id":"https://remote.test/u/alice","type":"Person"}`, "*activitypub.ActorObject"},
		{`{"id":"https://remote.test/a/1","type":"Follow","actor":"https://remote.test/u/alice","object":"https://mbin.test/m/tech"}`, "*activitypub.ActivityRefObject"},
		{`{"id":"https://remote.test/n/1","type":"Note","content":"hi"}`, "*activitypub.ContentObject"},
	}

	for _, tt := range tests {
		refs, err := parseRefs(json.RawMessage(tt.raw))
		if err != nil || len(refs) != 1 {
			t.Fatalf("parseRefs(%s) failed: %v", tt.raw, err)
		}
		obj, err := ParseObject(refs[0])
		if err != nil {
			t.Fatalf("ParseObject(%s) failed: %v", tt.raw, err)
		}
		if got := typeName(obj); got != tt.want {
			t.Errorf("ParseObject(%s) = %s, want %s", tt.raw, got, tt.want)
		}
	}
}

func typeName(obj ActivityObject) string {
	switch obj.(type) {
	case *GenericObject:
		return "*activitypub.GenericObject"
	case *ActorObject:
		return "*activitypub.ActorObject"
	case *ActivityRefObject:
		return "*activitypub.ActivityRefObject"
	case *ContentObject:
		return "*activitypub.ContentObject"
	default:
		return "unknown"
	}
}

func TestCollectionTotal(t *testing.T) {
	n, err := collectionTotal(json.RawMessage(`{"type":"OrderedCollection","totalItems":12}`))
	if err != nil || n != 12 {
		t.Errorf("Expected 12, got %d (%v)", n, err)
	}
	if _, err := collectionTotal(json.RawMessage(`{"type":"OrderedCollection"}`)); err == nil {
		t.Error("Expected error for collection without totalItems")
	}
}

func TestLocalPaths(t *testing.T) {
	if p := localPath("https://mbin.test/m/tech/moderators", testDomain); p != "/m/tech/moderators" {
		t.Errorf("Unexpected local path %q", p)
	}
	if p := localPath("https://remote.test/m/tech", testDomain); p != "" {
		t.Errorf("Expected remote URL to have no local path, got %q", p)
	}

	kind, name, ok := parseLocalActorPath("/m/tech")
	if !ok || kind != domain.ActorMagazine || name != "tech" {
		t.Errorf("Unexpected magazine path result %s %s %v", kind, name, ok)
	}
	kind, name, ok = parseLocalActorPath("/u/eve/")
	if !ok || kind != domain.ActorUser || name != "eve" {
		t.Errorf("Unexpected user path result %s %s %v", kind, name, ok)
	}
	if _, _, ok := parseLocalActorPath("/m/tech/featured"); ok {
		t.Error("Expected collection path not to be an actor path")
	}

	c := &domain.Content{Id: uuid.New()}
	id, ok := parseLocalContentPath(localPath(LocalContentURL(testDomain, c), testDomain))
	if !ok || id != c.Id {
		t.Errorf("Expected content URL to round trip, got %s %v", id, ok)
	}
}

func TestIsLocallyAuthoritative(t *testing.T) {
	if !IsLocallyAuthoritative(&domain.Actor{Name: "tech"}) {
		t.Error("Expected local actor to be authoritative")
	}
	if IsLocallyAuthoritative(&domain.Actor{ApId: "https://remote.test/c/tech"}) {
		t.Error("Expected remote actor not to be authoritative")
	}
	if IsLocallyAuthoritative(nil) {
		t.Error("Expected nil actor not to be authoritative")
	}
}
