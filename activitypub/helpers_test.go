package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MbinOrg/mbin-sub001/db"
	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

const testDomain = "mbin.test"

// fakeFetcher serves remote documents from memory.
type fakeFetcher struct {
	mu          sync.Mutex
	actors      map[string]*ActorDocument
	objects     map[string]json.RawMessage
	webfinger   map[string]string
	gone        map[string]bool
	failures    map[string]error
	fetches     map[string]int
	invalidated []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		actors:    make(map[string]*ActorDocument),
		objects:   make(map[string]json.RawMessage),
		webfinger: make(map[string]string),
		gone:      make(map[string]bool),
		failures:  make(map[string]error),
		fetches:   make(map[string]int),
	}
}

func (f *fakeFetcher) FetchActor(ctx context.Context, uri string) (*ActorDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[uri]++
	if f.gone[uri] {
		return nil, errGone
	}
	if err := f.failures[uri]; err != nil {
		return nil, err
	}
	doc, ok := f.actors[uri]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", uri, errNotFound)
	}
	cp := *doc
	return &cp, nil
}

func (f *fakeFetcher) FetchObject(ctx context.Context, uri string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[uri]++
	if f.gone[uri] {
		return nil, errGone
	}
	if err := f.failures[uri]; err != nil {
		return nil, err
	}
	raw, ok := f.objects[uri]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", uri, errNotFound)
	}
	return raw, nil
}

func (f *fakeFetcher) WebFinger(ctx context.Context, handle string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uri, ok := f.webfinger[strings.TrimPrefix(strings.TrimPrefix(handle, "acct:"), "@")]
	if !ok {
		return "", errors.New("no actor link")
	}
	return uri, nil
}

func (f *fakeFetcher) Invalidate(ctx context.Context, uri string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, uri)
	return nil
}

func (f *fakeFetcher) fetchCount(uri string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[uri]
}

func (f *fakeFetcher) addObject(t *testing.T, doc map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Failed to marshal object: %v", err)
	}
	id := doc["id"].(string)
	f.mu.Lock()
	f.objects[id] = raw
	f.mu.Unlock()
	return id
}

// personDoc describes a remote user at host.
func personDoc(t *testing.T, host, name string) *ActorDocument {
	id := "https://" + host + "/u/" + name
	doc := &ActorDocument{
		ID:                id,
		Type:              "Person",
		PreferredUsername: name,
		Name:              strings.ToUpper(name[:1]) + name[1:],
		Inbox:             id + "/inbox",
		Followers:         id + "/followers",
		FollowersTotal:    -1,
	}
	doc.Endpoints.SharedInbox = "https://" + host + "/inbox"
	doc.PublicKey.ID = id + "#main-key"
	doc.PublicKey.Owner = id
	doc.PublicKey.PublicKeyPem = pkixPEM(t, &testKey.PublicKey)
	return doc
}

// groupDoc describes a remote magazine at host.
func groupDoc(t *testing.T, host, name string) *ActorDocument {
	doc := personDoc(t, host, name)
	id := "https://" + host + "/c/" + name
	doc.ID = id
	doc.Type = "Group"
	doc.Inbox = id + "/inbox"
	doc.Followers = id + "/followers"
	doc.Moderators = id + "/moderators"
	doc.Featured = id + "/featured"
	doc.PublicKey.ID = id + "#main-key"
	doc.PublicKey.Owner = id
	return doc
}

type testEnv struct {
	t        *testing.T
	db       *db.DB
	store    *DBStore
	fetcher  *fakeFetcher
	resolver *Resolver
	inbox    *Inbox
	now      time.Time
	fallback *domain.Actor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return newTestEnvOn(t, database)
}

// newFileTestEnv backs the environment with a database file so concurrent
// transactions run on separate connections.
func newFileTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "inbox.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.RunMigrations(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return newTestEnvOn(t, database)
}

func newTestEnvOn(t *testing.T, database *db.DB) *testEnv {
	t.Helper()
	env := &testEnv{
		t:       t,
		db:      database,
		store:   NewDBStore(database),
		fetcher: newFakeFetcher(),
		now:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }
	env.resolver = NewResolver(env.store, env.fetcher, testDomain, time.Hour, clock)
	env.inbox = NewInbox(env.store, env.resolver, env.fetcher, InboxConfig{
		LocalDomain:      testDomain,
		FallbackMagazine: "random",
		Now:              clock,
	})
	env.fallback = env.localActor(domain.ActorMagazine, "random")
	return env
}

func (e *testEnv) tx(fn func(tx Tx) error) {
	e.t.Helper()
	if err := e.store.InTx(context.Background(), fn); err != nil {
		e.t.Fatalf("transaction failed: %v", err)
	}
}

// localActor creates a user or magazine hosted on this server.
func (e *testEnv) localActor(kind domain.ActorKind, name string) *domain.Actor {
	e.t.Helper()
	a := &domain.Actor{
		Id:            uuid.New(),
		Kind:          kind,
		Name:          name,
		PublicKeyPem:  pkixPEM(e.t, &testKey.PublicKey),
		PrivateKeyPem: pkcs8PEM(e.t, testKey),
		CreatedAt:     e.now,
	}
	e.tx(func(tx Tx) error { return tx.CreateActor(a) })
	return a
}

// remoteActor registers a remote actor document and resolves it.
func (e *testEnv) remoteActor(doc *ActorDocument) *domain.Actor {
	e.t.Helper()
	e.fetcher.mu.Lock()
	e.fetcher.actors[doc.ID] = doc
	e.fetcher.mu.Unlock()

	a, err := e.resolver.Resolve(context.Background(), doc.ID)
	if err != nil {
		e.t.Fatalf("Failed to resolve %s: %v", doc.ID, err)
	}
	return a
}

func (e *testEnv) actor(id uuid.UUID) *domain.Actor {
	e.t.Helper()
	var a *domain.Actor
	e.tx(func(tx Tx) error {
		var err error
		a, err = tx.ReadActorById(id)
		return err
	})
	return a
}

func (e *testEnv) content(uri string) *domain.Content {
	e.t.Helper()
	var c *domain.Content
	e.tx(func(tx Tx) error {
		var err error
		c, err = tx.ReadContentByURI(uri)
		return err
	})
	return c
}

func (e *testEnv) hasContent(uri string) bool {
	e.t.Helper()
	_, err := e.inbox.readContent(context.Background(), uri)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		e.t.Fatalf("Failed to read content %s: %v", uri, err)
	}
	return err == nil
}

// subscribe adds a confirmed subscription of user to magazine.
func (e *testEnv) subscribe(magazine, user *domain.Actor) {
	e.t.Helper()
	e.tx(func(tx Tx) error {
		return tx.CreateSubscription(&domain.MagazineSubscription{
			Id:         uuid.New(),
			MagazineId: magazine.Id,
			UserId:     user.Id,
			CreatedAt:  e.now,
		})
	})
}

func (e *testEnv) addModerator(magazine, user *domain.Actor) {
	e.t.Helper()
	e.tx(func(tx Tx) error {
		return tx.CreateModerator(&domain.Moderator{
			Id:         uuid.New(),
			MagazineId: magazine.Id,
			UserId:     user.Id,
			CreatedAt:  e.now,
		})
	})
}

func (e *testEnv) deliveries() []domain.DeliveryQueueItem {
	e.t.Helper()
	var items []domain.DeliveryQueueItem
	e.tx(func(tx Tx) error {
		var err error
		items, err = tx.ReadPendingDeliveries(e.now.Add(time.Hour), 1000)
		return err
	})
	return items
}

// clearDeliveries empties the delivery queue.
func (e *testEnv) clearDeliveries() {
	e.t.Helper()
	for _, item := range e.deliveries() {
		e.tx(func(tx Tx) error { return tx.DeleteDelivery(item.Id) })
	}
}

func (e *testEnv) logs(magazine *domain.Actor, logType domain.MagazineLogType) []domain.MagazineLog {
	e.t.Helper()
	var all []domain.MagazineLog
	e.tx(func(tx Tx) error {
		var err error
		all, err = tx.ReadMagazineLogs(magazine.Id, 100)
		return err
	})
	var out []domain.MagazineLog
	for _, l := range all {
		if l.Type == logType {
			out = append(out, l)
		}
	}
	return out
}

func (e *testEnv) processed(uri string) bool {
	e.t.Helper()
	var seen bool
	e.tx(func(tx Tx) error {
		var err error
		seen, err = tx.IsActivityProcessed(uri)
		return err
	})
	return seen
}

func (e *testEnv) process(activity map[string]any) error {
	e.t.Helper()
	raw, err := json.Marshal(activity)
	if err != nil {
		e.t.Fatalf("Failed to marshal activity: %v", err)
	}
	return e.inbox.Process(context.Background(), raw)
}

func (e *testEnv) mustProcess(activity map[string]any) {
	e.t.Helper()
	if err := e.process(activity); err != nil {
		e.t.Fatalf("Process(%s %s) failed: %v", activity["type"], activity["id"], err)
	}
}

// page builds an entry document by author addressed to a magazine.
func page(id, author, magazine, title string) map[string]any {
	return map[string]any{
		"id":           id,
		"type":         "Page",
		"attributedTo": author,
		"name":         title,
		"content":      "<p>" + title + "</p>",
		"audience":     magazine,
		"to":           []string{Public, magazine},
	}
}

func activity(id, typ, actor string, object any) map[string]any {
	return map[string]any{
		"@context": contextActivityStreams,
		"id":       id,
		"type":     typ,
		"actor":    actor,
		"object":   object,
	}
}

func decodeDelivery(t *testing.T, item domain.DeliveryQueueItem) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(item.ActivityJSON), &m); err != nil {
		t.Fatalf("Failed to decode queued activity: %v", err)
	}
	return m
}
