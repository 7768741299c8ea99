package gateway

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *IdempotencyStore {
	t.Helper()
	store, err := NewIdempotencyStore(filepath.Join(t.TempDir(), "idempotency.db"), time.Hour)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIdempotencyStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)
	now := time.Now().UTC()

	if _, ok, err := store.Lookup("key", now); err != nil || ok {
		t.Fatalf("lookup empty store = %v, %v", ok, err)
	}

	if err := store.Save("key", http.StatusCreated, []byte(`{"ok":true}`), now); err != nil {
		t.Fatalf("save: %v", err)
	}
	record, ok, err := store.Lookup("key", now)
	if err != nil || !ok {
		t.Fatalf("lookup = %v, %v", ok, err)
	}
	if record.StatusCode != http.StatusCreated || string(record.Body) != `{"ok":true}` {
		t.Fatalf("record = %+v", record)
	}

	// Expired entries are treated as missing.
	if _, ok, err := store.Lookup("key", now.Add(2*time.Hour)); err != nil || ok {
		t.Fatalf("expired lookup = %v, %v", ok, err)
	}
}

func TestIdempotencyMiddlewareReplaysResponses(t *testing.T) {
	store := newTestStore(t)
	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"call":%d}`, calls)
	}))

	do := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}"))
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := do("abc")
	if first.Code != http.StatusOK || first.Header().Get("X-Idempotency-Cache") != "" {
		t.Fatalf("first response: code=%d cache=%q", first.Code, first.Header().Get("X-Idempotency-Cache"))
	}
	second := do("abc")
	if second.Header().Get("X-Idempotency-Cache") != "hit" {
		t.Fatalf("second response not served from cache")
	}
	if body, _ := io.ReadAll(second.Body); string(body) != `{"call":1}` {
		t.Fatalf("replayed body = %s", body)
	}
	if calls != 1 {
		t.Fatalf("handler invoked %d times, want 1", calls)
	}

	// A different key runs the handler again.
	do("def")
	if calls != 2 {
		t.Fatalf("handler invoked %d times, want 2", calls)
	}

	// Requests without the header always pass through.
	do("")
	do("")
	if calls != 4 {
		t.Fatalf("handler invoked %d times, want 4", calls)
	}
}

func TestIdempotencyMiddlewareSkipsServerErrors(t *testing.T) {
	store := newTestStore(t)
	calls := 0
	handler := IdempotencyMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader("{}"))
		req.Header.Set("Idempotency-Key", "retry")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}
	if calls != 2 {
		t.Fatalf("server error was cached; handler invoked %d times, want 2", calls)
	}
}
