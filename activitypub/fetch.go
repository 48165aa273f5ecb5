package activitypub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/MbinOrg/mbin-sub001/domain"
	"github.com/MbinOrg/mbin-sub001/util"
	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"
)

const (
	contentTypeActivityJSON = "application/activity+json"
	acceptActivityJSON      = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
	maxDocumentSize         = 1 << 20
)

// Fetcher retrieves remote documents.
type Fetcher interface {
	FetchActor(ctx context.Context, uri string) (*ActorDocument, error)
	FetchObject(ctx context.Context, uri string) (json.RawMessage, error)
	WebFinger(ctx context.Context, handle string) (string, error)
	Invalidate(ctx context.Context, uri string) error
}

// DocumentCache holds fetched documents by URI.
type DocumentCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ActorDocument is the JSON structure of a remote actor
type ActorDocument struct {
	ID                string          `json:"id" validate:"required,url"`
	Type              string          `json:"type" validate:"required,oneof=Person Group Service Application Organization"`
	PreferredUsername string          `json:"preferredUsername"`
	Name              string          `json:"name"`
	Summary           string          `json:"summary"`
	URL               json.RawMessage `json:"url"`
	Inbox             string          `json:"inbox" validate:"required,url"`
	Outbox            string          `json:"outbox"`
	Followers         string          `json:"followers"`
	Moderators        string          `json:"moderators"`
	AttributedTo      json.RawMessage `json:"attributedTo"`
	Featured          string          `json:"featured"`
	Endpoints         struct {
		SharedInbox string `json:"sharedInbox"`
	} `json:"endpoints"`
	PublicKey struct {
		ID           string `json:"id"`
		Owner        string `json:"owner"`
		PublicKeyPem string `json:"publicKeyPem" validate:"required"`
	} `json:"publicKey"`

	// FollowersTotal is read from the followers collection, -1 when unknown.
	FollowersTotal int `json:"-"`
}

// Kind maps the actor type to a local actor kind.
func (d *ActorDocument) Kind() domain.ActorKind {
	if d.Type == "Group" {
		return domain.ActorMagazine
	}
	return domain.ActorUser
}

// ModeratorsURL returns the moderators collection. Lemmy publishes it as a
// string attributedTo on the Group.
func (d *ActorDocument) ModeratorsURL() string {
	if d.Moderators != "" {
		return d.Moderators
	}
	if d.Type == "Group" {
		var s string
		if json.Unmarshal(d.AttributedTo, &s) == nil {
			return s
		}
	}
	return ""
}

// HTTPFetcher fetches documents over HTTP with a per-host rate limit and an
// optional document cache.
type HTTPFetcher struct {
	client    HTTPClient
	cache     DocumentCache
	cacheTTL  time.Duration
	userAgent string
	validate  *validator.Validate

	// webfingerScheme is https outside of tests
	webfingerScheme string

	rateLimit rate.Limit
	burst     int
	mu        sync.Mutex
	limiters  map[string]*rate.Limiter
}

// FetcherConfig configures an HTTPFetcher.
type FetcherConfig struct {
	Client       HTTPClient
	Cache        DocumentCache
	CacheTTL     time.Duration
	LocalDomain  string
	RatePerHost  float64
	BurstPerHost int
}

func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.Client == nil {
		cfg.Client = NewSafeHTTPClient(10 * time.Second)
	}
	if cfg.RatePerHost <= 0 {
		cfg.RatePerHost = 5
	}
	if cfg.BurstPerHost <= 0 {
		cfg.BurstPerHost = 10
	}
	return &HTTPFetcher{
		client:          cfg.Client,
		cache:           cfg.Cache,
		cacheTTL:        cfg.CacheTTL,
		userAgent:       util.UserAgent(cfg.LocalDomain),
		validate:        validator.New(),
		webfingerScheme: "https",
		rateLimit:       rate.Limit(cfg.RatePerHost),
		burst:           cfg.BurstPerHost,
		limiters:        make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.rateLimit, f.burst)
		f.limiters[host] = l
	}
	return l
}

// get fetches a document, serving it from the cache when possible.
func (f *HTTPFetcher) get(ctx context.Context, uri, accept string) ([]byte, error) {
	if f.cache != nil {
		if data, ok, err := f.cache.Get(ctx, uri); err != nil {
			log.Printf("Fetcher: cache read failed for %s: %v", uri, err)
		} else if ok {
			return data, nil
		}
	}

	u, err := url.Parse(uri)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid uri %q", uri)
	}
	if err := f.limiter(u.Host).Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return nil, errGone
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("fetch %s: %w", uri, errNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s failed with status: %d", uri, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if f.cache != nil && f.cacheTTL > 0 {
		if err := f.cache.Set(ctx, uri, data, f.cacheTTL); err != nil {
			log.Printf("Fetcher: cache write failed for %s: %v", uri, err)
		}
	}
	return data, nil
}

var (
	errGone     = errors.New("remote object is gone")
	errNotFound = errors.New("remote object not found")
)

func (f *HTTPFetcher) FetchActor(ctx context.Context, uri string) (*ActorDocument, error) {
	data, err := f.get(ctx, uri, acceptActivityJSON)
	if err != nil {
		return nil, err
	}

	var doc ActorDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse actor JSON: %w", err)
	}
	if err := f.validate.Struct(&doc); err != nil {
		f.Invalidate(ctx, uri)
		return nil, fmt.Errorf("invalid actor document: %w", err)
	}
	if !sameHost(doc.ID, uri) {
		return nil, fmt.Errorf("actor id %s is not hosted on %s", doc.ID, domain.DomainOf(uri))
	}

	doc.FollowersTotal = -1
	if doc.Followers != "" {
		if raw, err := f.get(ctx, doc.Followers, acceptActivityJSON); err == nil {
			if n, err := collectionTotal(raw); err == nil {
				doc.FollowersTotal = n
			}
		}
	}
	return &doc, nil
}

func (f *HTTPFetcher) FetchObject(ctx context.Context, uri string) (json.RawMessage, error) {
	data, err := f.get(ctx, uri, acceptActivityJSON)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("object %s is not valid json", uri)
	}
	return json.RawMessage(data), nil
}

type webFingerResponse struct {
	Subject string `json:"subject"`
	Links   []struct {
		Rel  string `json:"rel"`
		Type string `json:"type"`
		Href string `json:"href"`
	} `json:"links"`
}

// WebFinger resolves name@host to an actor URL.
func (f *HTTPFetcher) WebFinger(ctx context.Context, handle string) (string, error) {
	name, host, ok := util.ParseHandle(handle)
	if !ok {
		return "", fmt.Errorf("invalid handle %q", handle)
	}

	uri := fmt.Sprintf("%s://%s/.well-known/webfinger?resource=%s", f.webfingerScheme, host,
		url.QueryEscape("acct:"+name+"@"+host))
	data, err := f.get(ctx, uri, "application/jrd+json, application/json")
	if err != nil {
		return "", err
	}

	var wf webFingerResponse
	if err := json.Unmarshal(data, &wf); err != nil {
		return "", fmt.Errorf("failed to parse webfinger response: %w", err)
	}
	for _, link := range wf.Links {
		if link.Rel == "self" && link.Href != "" &&
			(link.Type == contentTypeActivityJSON || link.Type == `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`) {
			return link.Href, nil
		}
	}
	return "", fmt.Errorf("no actor link for %s", handle)
}

func (f *HTTPFetcher) Invalidate(ctx context.Context, uri string) error {
	if f.cache == nil {
		return nil
	}
	return f.cache.Delete(ctx, uri)
}

func sameHost(a, b string) bool {
	ha := domain.DomainOf(a)
	return ha != "" && ha == domain.DomainOf(b)
}
