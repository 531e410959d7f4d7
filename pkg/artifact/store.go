// Package artifact persists the per-patient JSON artifacts the pipeline
// consumes and produces. Artifacts live in a Store under
// "<collection>/<patient_id>.json" and are validated against an embedded
// JSON Schema before they are decoded into typed records.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a key does not exist in the store
	ErrNotFound = errors.New("artifact not found")

	// ErrSchema is returned when a document does not match its collection schema
	ErrSchema = errors.New("artifact schema violation")
)

// Store is a flat key/value blob store
type Store interface {
	// Get returns the content stored under key or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put creates or replaces the content under key
	Put(ctx context.Context, key string, data []byte) error

	// List returns every key starting with prefix, sorted
	List(ctx context.Context, prefix string) ([]string, error)
}

// sanitizeKey rejects keys that are empty, absolute or escape the store root
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("empty key")
	}
	if strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid absolute key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid key %q contains '..'", key)
		}
	}
	return key, nil
}
