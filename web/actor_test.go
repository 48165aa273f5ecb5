package web

import (
	"net/http"
	"testing"

	"github.com/MbinOrg/mbin-sub001/db"
	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

func TestGetActor(t *testing.T) {
	mag := &domain.Actor{Kind: domain.ActorMagazine, Name: "tech", PublicKeyPem: "PEM"}
	user := &domain.Actor{Kind: domain.ActorUser, Name: "eve", DisplayName: "Eve"}

	group := GetActor(testDomain, mag)
	if group["type"] != "Group" {
		t.Errorf("Expected Group, got %v", group["type"])
	}
	if group["id"] != "https://mbin.test/m/tech" {
		t.Errorf("Unexpected id %v", group["id"])
	}
	if group["moderators"] != "https://mbin.test/m/tech/moderators" {
		t.Errorf("Unexpected moderators %v", group["moderators"])
	}
	if group["name"] != "tech" {
		t.Errorf("Expected the name to fall back to the handle, got %v", group["name"])
	}
	key := group["publicKey"].(map[string]any)
	if key["id"] != "https://mbin.test/m/tech#main-key" || key["publicKeyPem"] != "PEM" {
		t.Errorf("Unexpected publicKey %v", key)
	}

	person := GetActor(testDomain, user)
	if person["type"] != "Person" || person["name"] != "Eve" {
		t.Errorf("Unexpected person %v %v", person["type"], person["name"])
	}
	if _, ok := person["moderators"]; ok {
		t.Error("Users should not expose a moderators collection")
	}
}

func TestGetCollection(t *testing.T) {
	sized := GetCollection("https://mbin.test/m/tech/followers", 3, nil)
	if _, ok := sized["orderedItems"]; ok {
		t.Error("Expected orderedItems to be omitted")
	}
	if sized["totalItems"] != 3 {
		t.Errorf("Expected totalItems 3, got %v", sized["totalItems"])
	}

	listed := GetCollection("https://mbin.test/m/tech/featured", 0, []string{})
	if _, ok := listed["orderedItems"]; !ok {
		t.Error("Expected an empty orderedItems list")
	}
}

func TestHandleActor(t *testing.T) {
	ts := newTestServer(t)
	ts.localActor(domain.ActorMagazine, "tech")
	ts.localActor(domain.ActorUser, "eve")

	rec := ts.get("/m/tech")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != contentTypeActivityJSON {
		t.Errorf("Unexpected content type %q", ct)
	}
	if doc := decodeJSON(t, rec); doc["type"] != "Group" {
		t.Errorf("Expected Group, got %v", doc["type"])
	}

	if doc := decodeJSON(t, ts.get("/u/eve")); doc["type"] != "Person" {
		t.Errorf("Expected Person, got %v", doc["type"])
	}
	if rec := ts.get("/m/eve"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for a user looked up as a magazine, got %d", rec.Code)
	}
}

func TestHandleActorDeleted(t *testing.T) {
	ts := newTestServer(t)
	eve := ts.localActor(domain.ActorUser, "eve")
	eve.IsDeleted = true
	ts.tx(func(tx *db.Tx) error { return tx.UpdateActor(eve) })

	rec := ts.get("/u/eve")
	if rec.Code != http.StatusGone {
		t.Fatalf("Expected 410, got %d", rec.Code)
	}
	doc := decodeJSON(t, rec)
	if doc["type"] != "Tombstone" || doc["id"] != "https://mbin.test/u/eve" {
		t.Errorf("Unexpected tombstone %v", doc)
	}
}

func TestHandleCollections(t *testing.T) {
	ts := newTestServer(t)
	mag := ts.localActor(domain.ActorMagazine, "tech")
	eve := ts.localActor(domain.ActorUser, "eve")
	alice := ts.remoteActor(aliceURL, "alice", aliceKeys.Public)
	bob := ts.remoteActor("https://remote.test/u/bob", "bob", aliceKeys.Public)

	ts.tx(func(tx *db.Tx) error {
		subs := []*domain.MagazineSubscription{
			{Id: uuid.New(), MagazineId: mag.Id, UserId: alice.Id, CreatedAt: ts.now},
			{Id: uuid.New(), MagazineId: mag.Id, UserId: eve.Id, CreatedAt: ts.now},
			{Id: uuid.New(), MagazineId: mag.Id, UserId: bob.Id, Pending: true, CreatedAt: ts.now},
		}
		for _, s := range subs {
			if err := tx.CreateSubscription(s); err != nil {
				return err
			}
		}
		if err := tx.CreateModerator(&domain.Moderator{Id: uuid.New(), MagazineId: mag.Id, UserId: eve.Id, CreatedAt: ts.now}); err != nil {
			return err
		}
		if err := tx.CreateModerator(&domain.Moderator{Id: uuid.New(), MagazineId: mag.Id, UserId: alice.Id, CreatedAt: ts.now.Add(1)}); err != nil {
			return err
		}
		return tx.CreateContent(&domain.Content{
			Id:         uuid.New(),
			Kind:       domain.ContentEntry,
			ApId:       "https://remote.test/post/1",
			AuthorId:   alice.Id,
			MagazineId: uuid.NullUUID{UUID: mag.Id, Valid: true},
			Title:      "Pinned",
			Visibility: domain.VisibilityVisible,
			Sticky:     true,
			CreatedAt:  ts.now,
		})
	})

	followers := decodeJSON(t, ts.get("/m/tech/followers"))
	if followers["totalItems"] != float64(2) {
		t.Errorf("Expected 2 confirmed followers, got %v", followers["totalItems"])
	}

	mods := decodeJSON(t, ts.get("/m/tech/moderators"))
	items, _ := mods["orderedItems"].([]any)
	if len(items) != 2 || items[0] != "https://mbin.test/u/eve" || items[1] != aliceURL {
		t.Errorf("Unexpected moderators %v", items)
	}

	featured := decodeJSON(t, ts.get("/m/tech/featured"))
	pinned, _ := featured["orderedItems"].([]any)
	if len(pinned) != 1 || pinned[0] != "https://remote.test/post/1" {
		t.Errorf("Unexpected featured %v", pinned)
	}

	outbox := decodeJSON(t, ts.get("/u/eve/outbox"))
	if outbox["totalItems"] != float64(0) {
		t.Errorf("Expected an empty outbox, got %v", outbox["totalItems"])
	}

	if rec := ts.get("/m/nope/followers"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
