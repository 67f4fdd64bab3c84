package orgx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts Options) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	if opts.APIKey == "" {
		opts.APIKey = "oxk_test_key_0123456789"
	}
	opts.RetryInitial = time.Millisecond
	return NewHTTPClient(opts)
}

func TestListEntities_SendsFiltersAndAuth(t *testing.T) {
	var gotQuery, gotAuth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotAuth = r.Header.Get("Authorization")
		_, _ = io.WriteString(w, `{"data":[{"id":"t1","title":"Write docs","status":"in_progress","workstream_id":"ws1","priority":"high"}]}`)
	}, Options{})

	got, err := c.ListEntities(context.Background(), TypeTask, map[string]string{"initiative_id": "i1", "empty": " "})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if gotQuery != "initiative_id=i1&type=task" {
		t.Fatalf("query = %q", gotQuery)
	}
	if gotAuth != "Bearer oxk_test_key_0123456789" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if len(got) != 1 || got[0].WorkstreamID != "ws1" {
		t.Fatalf("unexpected entities: %+v", got)
	}
	if got[0].Extra["priority"] != "high" {
		t.Fatalf("extra fields not kept: %+v", got[0].Extra)
	}
	if got[0].Task().Status != "in_progress" {
		t.Fatalf("task conversion: %+v", got[0].Task())
	}
}

func TestListEntities_CachedUntilUpdate(t *testing.T) {
	var lists atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			lists.Add(1)
			_, _ = io.WriteString(w, `{"data":[]}`)
		case http.MethodPatch:
			if r.URL.Path != "/api/entities/workstream/ws1" {
				t.Errorf("patch path = %q", r.URL.Path)
			}
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if body["status"] != "blocked" {
				t.Errorf("patch body = %v", body)
			}
			_, _ = io.WriteString(w, `{"data":{"id":"ws1","status":"blocked"}}`)
		}
	}, Options{CacheTTL: time.Minute})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.ListEntities(ctx, TypeWorkstream, nil); err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
	}
	if lists.Load() != 1 {
		t.Fatalf("expected 1 remote list, got %d", lists.Load())
	}

	updated, err := c.UpdateEntity(ctx, TypeWorkstream, "ws1", map[string]any{"status": "blocked"})
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if updated.Status != "blocked" {
		t.Fatalf("updated = %+v", updated)
	}
	if _, err := c.ListEntities(ctx, TypeWorkstream, nil); err != nil {
		t.Fatal(err)
	}
	if lists.Load() != 2 {
		t.Fatalf("cache not purged after update, lists = %d", lists.Load())
	}
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}, Options{})

	if err := c.EmitActivity(context.Background(), Activity{Type: "progress", Message: "hi"}); err != nil {
		t.Fatalf("EmitActivity: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestDo_UnauthorizedIsPermanent(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}, Options{})

	err := c.ApplyChangeset(context.Background(), Changeset{Operations: json.RawMessage(`[]`)})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("unauthorized retried: calls = %d", calls.Load())
	}
}

func TestDo_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, "bad operations")
	}, Options{})

	err := c.ApplyChangeset(context.Background(), Changeset{Operations: json.RawMessage(`[]`)})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 StatusError, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}

func TestDo_NoAPIKey(t *testing.T) {
	c := NewHTTPClient(Options{BaseURL: "http://127.0.0.1:1"})
	if _, err := c.ListEntities(context.Background(), TypeTask, nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %v", err)
	}
}
