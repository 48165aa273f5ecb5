package web

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MbinOrg/mbin-sub001/activitypub"
	"github.com/MbinOrg/mbin-sub001/db"
	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/MbinOrg/mbin-sub001/util"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	testDomain = "mbin.test"
	aliceURL   = "https://remote.test/u/alice"
)

var (
	aliceKeys  *util.RsaKeyPair
	rotatedKey *util.RsaKeyPair
)

func init() {
	gin.SetMode(gin.TestMode)

	var err error
	if aliceKeys, err = util.GeneratePemKeypair(); err != nil {
		panic(err)
	}
	if rotatedKey, err = util.GeneratePemKeypair(); err != nil {
		panic(err)
	}
}

func privateKey(t *testing.T, pair *util.RsaKeyPair) *rsa.PrivateKey {
	t.Helper()
	key, err := activitypub.ParsePrivateKey(pair.Private)
	if err != nil {
		t.Fatalf("ParsePrivateKey failed: %v", err)
	}
	return key
}

// stubFetcher serves actor documents from memory.
type stubFetcher struct {
	mu      sync.Mutex
	actors  map[string]*activitypub.ActorDocument
	fetches int
}

func (f *stubFetcher) FetchActor(_ context.Context, uri string) (*activitypub.ActorDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	doc, ok := f.actors[uri]
	if !ok {
		return nil, errors.New("fetch failed with status: 404")
	}
	cp := *doc
	return &cp, nil
}

func (f *stubFetcher) FetchObject(context.Context, string) (json.RawMessage, error) {
	return nil, errors.New("fetch failed with status: 404")
}

func (f *stubFetcher) WebFinger(context.Context, string) (string, error) {
	return "", errors.New("no actor link")
}

func (f *stubFetcher) Invalidate(context.Context, string) error { return nil }

func (f *stubFetcher) setActor(doc *activitypub.ActorDocument) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actors[doc.ID] = doc
}

type published struct {
	topic   string
	key     string
	body    []byte
	headers map[string]string
}

// stubPublisher records what the ingress queues.
type stubPublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (p *stubPublisher) Publish(_ context.Context, topic, key string, body []byte, headers ...kafka.Header) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	h := make(map[string]string, len(headers))
	for _, header := range headers {
		h[header.Key] = string(header.Value)
	}
	p.messages = append(p.messages, published{topic: topic, key: key, body: body, headers: h})
	return nil
}

func (p *stubPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

type testServer struct {
	t         *testing.T
	db        *db.DB
	fetcher   *stubFetcher
	publisher *stubPublisher
	server    *Server
	engine    *gin.Engine
	now       time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	database, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	ts := &testServer{
		t:         t,
		db:        database,
		fetcher:   &stubFetcher{actors: make(map[string]*activitypub.ActorDocument)},
		publisher: &stubPublisher{},
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return ts.now }

	conf := &util.AppConfig{}
	conf.Conf.SslDomain = testDomain
	conf.Conf.WithMetrics = true

	resolver := activitypub.NewResolver(activitypub.NewDBStore(database), ts.fetcher, testDomain, time.Hour, clock)
	ts.server = NewServer(conf, ServerConfig{
		DB:        database,
		Resolver:  resolver,
		Publisher: ts.publisher,
		Topic:     "activitypub.inbox",
		Now:       clock,
	})
	ts.engine = ts.server.Router()
	return ts
}

func (ts *testServer) tx(fn func(tx *db.Tx) error) {
	ts.t.Helper()
	if err := ts.db.InTx(context.Background(), fn); err != nil {
		ts.t.Fatalf("Transaction failed: %v", err)
	}
}

func (ts *testServer) localActor(kind domain.ActorKind, name string) *domain.Actor {
	ts.t.Helper()
	a := &domain.Actor{
		Id:            uuid.New(),
		Kind:          kind,
		Name:          name,
		PublicKeyPem:  aliceKeys.Public,
		PrivateKeyPem: aliceKeys.Private,
		CreatedAt:     ts.now,
	}
	ts.tx(func(tx *db.Tx) error { return tx.CreateActor(a) })
	return a
}

func (ts *testServer) remoteActor(id, name, publicKey string) *domain.Actor {
	ts.t.Helper()
	a := &domain.Actor{
		Id:           uuid.New(),
		Kind:         domain.ActorUser,
		Name:         name,
		ApId:         id,
		ApDomain:     domain.DomainOf(id),
		ApProfileId:  id,
		ApInboxUrl:   id + "/inbox",
		ApFetchedAt:  ts.now,
		PublicKeyPem: publicKey,
		CreatedAt:    ts.now,
	}
	ts.tx(func(tx *db.Tx) error { return tx.CreateActor(a) })
	return a
}

func personDoc(id, name, publicKey string) *activitypub.ActorDocument {
	doc := &activitypub.ActorDocument{
		ID:                id,
		Type:              "Person",
		PreferredUsername: name,
		Inbox:             id + "/inbox",
		FollowersTotal:    -1,
	}
	doc.PublicKey.ID = id + "#main-key"
	doc.PublicKey.Owner = id
	doc.PublicKey.PublicKeyPem = publicKey
	return doc
}

func (ts *testServer) get(path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

// post delivers body to path signed by keyId.
func (ts *testServer) post(path string, body []byte, key *rsa.PrivateKey, keyId string) *httptest.ResponseRecorder {
	ts.t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://"+testDomain+path, bytes.NewReader(body))
	if err != nil {
		ts.t.Fatalf("Failed to create request: %v", err)
	}
	req.RemoteAddr = "192.0.2.1:4000"
	req.Header.Set("Content-Type", "application/activity+json")
	req.Header.Set("Date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("Digest", activitypub.Digest(body))
	if key != nil {
		if err := activitypub.SignRequest(req, key, keyId); err != nil {
			ts.t.Fatalf("SignRequest failed: %v", err)
		}
	}

	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func likeFrom(actor string) []byte {
	return []byte(`{"id":"` + actor + `/likes/1","type":"Like","actor":"` + actor + `","object":"https://mbin.test/content/1"}`)
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("Failed to parse response %q: %v", rec.Body.String(), err)
	}
	return doc
}
