// Package store defines the persisted-state contract: a key→JSON store with
// named buckets. Backends live in subpackages (file, sqlite).
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a key has no stored value.
var ErrNotFound = errors.New("store: not found")

// Bucket and key names used by the runtime.
const (
	// BucketRoot addresses the top level of the store (no subdirectory
	// for the file backend).
	BucketRoot = ""

	// BucketSessions holds one SessionMeta per office/panel session,
	// keyed by session id ({sessionId}.json on the file backend).
	BucketSessions = "sessions"

	// KeyApprovalRules is the root-level key for persisted Global
	// approval rules (tool-approval-rules.json on the file backend).
	KeyApprovalRules = "tool-approval-rules"
)

// StateStore is a key→JSON blob store. Values are marshalled as
// pretty-printed UTF-8 JSON; key matching on load is whatever encoding/json
// does (case-insensitive field names).
type StateStore interface {
	// Put marshals v and stores it under (bucket, key), replacing any
	// previous value.
	Put(bucket, key string, v any) error

	// Get unmarshals the value at (bucket, key) into out. Returns
	// ErrNotFound when the key does not exist.
	Get(bucket, key string, out any) error

	// List returns all keys in a bucket, order unspecified.
	List(bucket string) ([]string, error)

	// Delete removes a key. Deleting a missing key is a no-op.
	Delete(bucket, key string) error

	// Close releases backend resources.
	Close() error
}

// SessionMeta is the per-session metadata blob, one entry per office or
// panel session, stored under BucketSessions keyed by session id.
type SessionMeta struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"` // "office" or "panel"
	Objective    string    `json:"objective,omitempty"`
	Model        string    `json:"model,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	CompletedAt  time.Time `json:"completed_at,omitempty"`
	Iterations   int       `json:"iterations,omitempty"`
	Turns        int       `json:"turns,omitempty"`
	InputTokens  int64     `json:"input_tokens,omitempty"`
	OutputTokens int64     `json:"output_tokens,omitempty"`
}
