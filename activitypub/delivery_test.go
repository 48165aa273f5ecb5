package activitypub

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/google/uuid"
)

// inboxServer records deliveries and answers with a fixed status.
type inboxServer struct {
	*httptest.Server
	mu       sync.Mutex
	status   int
	received []string
	keyIds   []string
}

func newInboxServer(t *testing.T, status int) *inboxServer {
	t.Helper()
	s := &inboxServer{status: status}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		r.Body.Close()

		if r.Header.Get("Digest") != Digest(body) {
			http.Error(w, "bad digest", http.StatusBadRequest)
			return
		}
		actor, err := VerifyRequest(r, pkixPEM(t, &testKey.PublicKey))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}

		s.mu.Lock()
		s.received = append(s.received, string(body))
		s.keyIds = append(s.keyIds, actor)
		status := s.status
		s.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *inboxServer) snapshot() (bodies, keyIds []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.received...), append([]string{}, s.keyIds...)
}

func newTestWorker(env *testEnv, srv *inboxServer) *DeliveryWorker {
	return NewDeliveryWorker(env.store, DeliveryConfig{
		Client:      srv.Client(),
		LocalDomain: testDomain,
		Now:         func() time.Time { return env.now },
	})
}

func (e *testEnv) enqueue(signer *domain.Actor, inbox string, attempts int) *domain.DeliveryQueueItem {
	e.t.Helper()
	item := &domain.DeliveryQueueItem{
		Id:           uuid.New(),
		InboxURI:     inbox,
		ActivityJSON: `{"type":"Announce","id":"https://mbin.test/activities/1"}`,
		ActorId:      signer.Id,
		Attempts:     attempts,
		NextRetryAt:  e.now,
		CreatedAt:    e.now,
	}
	e.tx(func(tx Tx) error { return tx.EnqueueDelivery(item) })
	return item
}

func (e *testEnv) instance(host string) *domain.Instance {
	e.t.Helper()
	var inst *domain.Instance
	e.tx(func(tx Tx) error {
		var err error
		inst, err = tx.ReadInstance(host)
		return err
	})
	return inst
}

func TestDeliverySignsAndDeletes(t *testing.T) {
	env := newTestEnv(t)
	tech := env.localActor(domain.ActorMagazine, "tech")
	srv := newInboxServer(t, http.StatusAccepted)
	env.enqueue(tech, srv.URL+"/inbox", 0)

	if err := newTestWorker(env, srv).processQueue(context.Background()); err != nil {
		t.Fatalf("processQueue failed: %v", err)
	}

	bodies, keyIds := srv.snapshot()
	if len(bodies) != 1 {
		t.Fatalf("Expected 1 delivery, got %d", len(bodies))
	}
	if keyIds[0] != techURL {
		t.Errorf("Expected signature by %s, got %s", techURL, keyIds[0])
	}
	if n := len(env.deliveries()); n != 0 {
		t.Errorf("Expected queue to be empty, got %d", n)
	}
	inst := env.instance(domain.DomainOf(srv.URL))
	if !inst.LastSuccessfulDeliver.Equal(env.now) || inst.FailedDelivers != 0 {
		t.Errorf("Expected a recorded success, got %+v", inst)
	}
}

func TestDeliveryFailureBacksOff(t *testing.T) {
	env := newTestEnv(t)
	tech := env.localActor(domain.ActorMagazine, "tech")
	srv := newInboxServer(t, http.StatusInternalServerError)
	env.enqueue(tech, srv.URL+"/inbox", 0)
	worker := newTestWorker(env, srv)

	if err := worker.processQueue(context.Background()); err != nil {
		t.Fatalf("processQueue failed: %v", err)
	}
	items := env.deliveries()
	if len(items) != 1 {
		t.Fatalf("Expected item to stay queued, got %d", len(items))
	}
	if items[0].Attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", items[0].Attempts)
	}
	if want := env.now.Add(time.Minute); !items[0].NextRetryAt.Equal(want) {
		t.Errorf("Expected retry at %v, got %v", want, items[0].NextRetryAt)
	}

	// not due yet
	if err := worker.processQueue(context.Background()); err != nil {
		t.Fatalf("processQueue failed: %v", err)
	}
	if bodies, _ := srv.snapshot(); len(bodies) != 1 {
		t.Errorf("Expected no delivery before the retry time, got %d", len(bodies))
	}

	env.now = env.now.Add(2 * time.Minute)
	if err := worker.processQueue(context.Background()); err != nil {
		t.Fatalf("processQueue failed: %v", err)
	}
	items = env.deliveries()
	if len(items) != 1 || items[0].Attempts != 2 {
		t.Fatalf("Expected a second attempt, got %+v", items)
	}
	if want := env.now.Add(5 * time.Minute); !items[0].NextRetryAt.Equal(want) {
		t.Errorf("Expected retry at %v, got %v", want, items[0].NextRetryAt)
	}
	if inst := env.instance(domain.DomainOf(srv.URL)); inst.FailedDelivers != 2 {
		t.Errorf("Expected 2 failed deliveries, got %d", inst.FailedDelivers)
	}
}

func TestDeliveryGivesUp(t *testing.T) {
	env := newTestEnv(t)
	tech := env.localActor(domain.ActorMagazine, "tech")
	srv := newInboxServer(t, http.StatusBadGateway)
	env.enqueue(tech, srv.URL+"/inbox", maxDeliveryAttempts-1)

	if err := newTestWorker(env, srv).processQueue(context.Background()); err != nil {
		t.Fatalf("processQueue failed: %v", err)
	}
	if n := len(env.deliveries()); n != 0 {
		t.Errorf("Expected item to be dropped after %d attempts, got %d queued", maxDeliveryAttempts, n)
	}
}

func TestDeliveryMarksInstanceDead(t *testing.T) {
	env := newTestEnv(t)
	tech := env.localActor(domain.ActorMagazine, "tech")
	srv := newInboxServer(t, http.StatusServiceUnavailable)
	host := domain.DomainOf(srv.URL)
	env.tx(func(tx Tx) error {
		return tx.SaveInstance(&domain.Instance{
			Domain:         host,
			FailedDelivers: domain.DeadInstanceFailures - 1,
			UpdatedAt:      env.now,
		})
	})
	env.enqueue(tech, srv.URL+"/inbox", 0)

	if err := newTestWorker(env, srv).processQueue(context.Background()); err != nil {
		t.Fatalf("processQueue failed: %v", err)
	}
	if !env.instance(host).IsDead {
		t.Error("Expected instance to be marked dead")
	}
	if n := len(env.deliveries()); n != 0 {
		t.Errorf("Expected no retries to a dead instance, got %d queued", n)
	}
}

func TestDeliveryWorkerStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)
	srv := newInboxServer(t, http.StatusAccepted)
	worker := newTestWorker(env, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
