package activitypub

import (
	"errors"
	"testing"
)

func TestDecodeEnvelopeActorForms(t *testing.T) {
	tests := []struct {
		name  string
		actor string
	}{
		{"string", `"https://remote.test/u/alice"`},
		{"object", `{"id":"https://remote.test/u/alice","type":"Person"}`},
		{"array", `["https://remote.test/u/alice","https://remote.test/u/bob"]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `{"id":"https://remote.test/a/1","type":"Like","actor":` + tt.actor + `,"object":"https://remote.test/post/1"}`
			env, err := DecodeEnvelope([]byte(raw))
			if err != nil {
				t.Fatalf("DecodeEnvelope failed: %v", err)
			}
			if env.Actor != "https://remote.test/u/alice" {
				t.Errorf("Expected actor alice, got %s", env.Actor)
			}
			if env.Type != TypeLike {
				t.Errorf("Expected Like, got %s", env.Type)
			}
			if env.Object.ID != "https://remote.test/post/1" || env.Object.IsEmbedded() {
				t.Errorf("Expected bare object reference, got %+v", env.Object)
			}
		})
	}
}

func TestDecodeEnvelopeRejectsIncomplete(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `Create`},
		{"missing id", `{"type":"Like","actor":"https://remote.test/u/alice","object":"x"}`},
		{"missing type", `{"id":"https://remote.test/a/1","actor":"https://remote.test/u/alice"}`},
		{"missing actor", `{"id":"https://remote.test/a/1","type":"Like"}`},
		{"numeric actor", `{"id":"https://remote.test/a/1","type":"Like","actor":7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope([]byte(tt.raw))
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("Expected DecodeError, got %v", err)
			}
		})
	}
}

func TestDecodeEnvelopeInnerActivity(t *testing.T) {
	raw := `{
		"id": "https://remote.test/a/undo/1",
		"type": "Undo",
		"actor": "https://remote.test/u/alice",
		"object": {
			"type": "Like",
			"actor": "https://remote.test/u/alice",
			"object": "https://remote.test/post/1"
		}
	}`
	env, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.Inner == nil {
		t.Fatal("Expected inner activity")
	}
	if env.Inner.Type != TypeLike || env.Inner.ID != "" {
		t.Errorf("Expected Like without id, got %s %q", env.Inner.Type, env.Inner.ID)
	}
	if env.Inner.Object.ID != "https://remote.test/post/1" {
		t.Errorf("Unexpected inner object %s", env.Inner.Object.ID)
	}
}

func TestDecodeEnvelopeNestingLimit(t *testing.T) {
	like := `{"id":"https://r.test/4","type":"Like","actor":"https://r.test/u/a","object":"https://r.test/p/1"}`
	wrap := func(inner string, n int) string {
		for i := 0; i < n; i++ {
			inner = `{"id":"https://r.test/w","type":"Announce","actor":"https://r.test/c/m","object":` + inner + `}`
		}
		return inner
	}

	if _, err := DecodeEnvelope([]byte(wrap(like, 2))); err != nil {
		t.Errorf("Expected three levels to decode, got %v", err)
	}

	_, err := DecodeEnvelope([]byte(wrap(like, 3)))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Errorf("Expected DecodeError for four levels, got %v", err)
	}
}

func TestDecodeEnvelopeAddressing(t *testing.T) {
	raw := `{
		"id": "https://remote.test/a/1",
		"type": "Flag",
		"actor": "https://remote.test/u/alice",
		"object": ["https://remote.test/post/1", "https://remote.test/u/bob"],
		"to": "https://mbin.test/m/tech",
		"cc": ["https://www.w3.org/ns/activitystreams#Public"],
		"audience": {"id": "https://mbin.test/m/tech", "type": "Group"},
		"summary": {"en": "spam"},
		"endTime": "2026-04-01T00:00:00Z"
	}`
	env, err := DecodeEnvelope([]byte(raw))
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if len(env.Objects) != 2 || env.Object.ID != "https://remote.test/post/1" {
		t.Errorf("Expected two objects with the post first, got %+v", env.Objects)
	}
	if len(env.To) != 1 || len(env.Cc) != 1 || len(env.Audience) != 1 {
		t.Errorf("Unexpected addressing to=%v cc=%v audience=%v", env.To, env.Cc, env.Audience)
	}
	if !isPublic(env.Recipients()) {
		t.Error("Expected activity to be public")
	}
	if env.Summary != "spam" {
		t.Errorf("Expected summary from language map, got %q", env.Summary)
	}
	if env.EndTime.IsZero() {
		t.Error("Expected endTime to be parsed")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Disposition
	}{
		{nil, DispositionAck},
		{&DecodeError{Reason: "x"}, DispositionDiscard},
		{&UnsupportedActivityError{Type: "Move"}, DispositionDiscard},
		{reject("no"), DispositionDiscard},
		{&DomainConflictError{Reason: "dup"}, DispositionAck},
		{&ActorResolutionError{Actor: "a", Err: errors.New("timeout")}, DispositionRetry},
		{&DependencyMissingError{URI: "u", Err: errors.New("404")}, DispositionRetry},
		{errors.New("database is locked"), DispositionRetry},
	}

	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
