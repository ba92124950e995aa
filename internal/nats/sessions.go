package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/chatapp/ws-server/internal/auth"
	"github.com/chatapp/ws-server/internal/model"
)

// DefaultSessionBucket is the KeyValue bucket holding session records.
const DefaultSessionBucket = "CHAT_APP_SESSIONS"

// SessionStore is a session cache backed by a JetStream KeyValue bucket.
type SessionStore struct {
	kv jetstream.KeyValue
}

// OpenSessionStore binds the named bucket, creating it with ttl if it is missing.
func OpenSessionStore(ctx context.Context, client *Client, bucket string, ttl time.Duration) (*SessionStore, error) {
	if bucket == "" {
		bucket = DefaultSessionBucket
	}

	js := client.JetStream()

	kv, err := js.KeyValue(ctx, bucket)
	if err == nil {
		return &SessionStore{kv: kv}, nil
	}
	if !errors.Is(err, jetstream.ErrBucketNotFound) {
		return nil, fmt.Errorf("failed to bind session bucket: %w", err)
	}

	kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "Session handle to access token",
		TTL:         ttl,
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}

	return &SessionStore{kv: kv}, nil
}

// Get returns the raw record stored under handle, or auth.ErrCacheMiss.
func (s *SessionStore) Get(ctx context.Context, handle string) ([]byte, error) {
	entry, err := s.kv.Get(ctx, handle)
	if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrInvalidKey) {
		return nil, auth.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	if op := entry.Operation(); op == jetstream.KeyValueDelete || op == jetstream.KeyValuePurge {
		return nil, auth.ErrCacheMiss
	}

	return entry.Value(), nil
}

// Put stores a session record under handle.
func (s *SessionStore) Put(ctx context.Context, handle string, record model.SessionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	if _, err := s.kv.Put(ctx, handle, data); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	return nil
}

// Delete removes the session stored under handle.
func (s *SessionStore) Delete(ctx context.Context, handle string) error {
	if err := s.kv.Delete(ctx, handle); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}
