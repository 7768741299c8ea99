package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketIdempotency = []byte("idempotency")

// ErrStoreClosed is returned when the idempotency store is used after Close.
var ErrStoreClosed = errors.New("gateway: idempotency store closed")

// IdempotencyRecord caches a completed response for replay.
type IdempotencyRecord struct {
	StatusCode int       `json:"statusCode"`
	Body       []byte    `json:"body"`
	StoredAt   time.Time `json:"storedAt"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// IdempotencyStore persists cached responses keyed by the client-supplied
// Idempotency-Key header.
type IdempotencyStore struct {
	db  *bolt.DB
	ttl time.Duration
}

// NewIdempotencyStore opens (and migrates) the BoltDB-backed store.
func NewIdempotencyStore(path string, ttl time.Duration) (*IdempotencyStore, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketIdempotency)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &IdempotencyStore{db: db, ttl: ttl}, nil
}

// Close releases the underlying database handle.
func (s *IdempotencyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Lookup returns the cached record for a key, ignoring expired entries.
func (s *IdempotencyStore) Lookup(key string, now time.Time) (IdempotencyRecord, bool, error) {
	if s == nil || s.db == nil {
		return IdempotencyRecord{}, false, ErrStoreClosed
	}
	var record IdempotencyRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketIdempotency).Get([]byte(key))
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &record); err != nil {
			return err
		}
		if now.After(record.ExpiresAt) {
			return nil
		}
		found = true
		return nil
	})
	return record, found, err
}

// Save stores a completed response for later replay.
func (s *IdempotencyStore) Save(key string, status int, body []byte, now time.Time) error {
	if s == nil || s.db == nil {
		return ErrStoreClosed
	}
	record := IdempotencyRecord{
		StatusCode: status,
		Body:       append([]byte(nil), body...),
		StoredAt:   now,
		ExpiresAt:  now.Add(s.ttl),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketIdempotency).Put([]byte(key), encoded)
	})
}

// bufferingWriter captures the response so it can be cached.
type bufferingWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
}

func (w *bufferingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *bufferingWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	return w.ResponseWriter.Write(p)
}

// IdempotencyMiddleware replays cached responses for repeated POSTs carrying
// the same Idempotency-Key. Requests without the header pass straight
// through.
func IdempotencyMiddleware(store *IdempotencyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
			if store == nil || key == "" || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}
			now := time.Now().UTC()
			if record, ok, err := store.Lookup(key, now); err == nil && ok {
				w.Header().Set("X-Idempotency-Cache", "hit")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(record.StatusCode)
				_, _ = w.Write(record.Body)
				return
			}
			recorder := &bufferingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r)
			if recorder.status < http.StatusInternalServerError {
				_ = store.Save(key, recorder.status, recorder.buf.Bytes(), now)
			}
		})
	}
}
