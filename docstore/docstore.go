// Package docstore stores renewal documents in a path-addressed blob
// store and issues short-lived signed download URLs for them.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Storage errors. ErrStorageFailure wraps transport and service faults;
// callers may retry those since a failed call leaves no partial state.
var (
	ErrStorageFailure = errors.New("document storage failure")
	ErrObjectNotFound = fmt.Errorf("%w: object not found", ErrStorageFailure)
	ErrInvalidPath    = errors.New("invalid object path")
	ErrInvalidTTL     = errors.New("invalid signed url ttl")
)

// Signed URL lifetime bounds. Programmatic download flows use the
// short default; user-facing retrieval may extend up to the maximum.
const (
	MinURLTTL     = time.Second
	DefaultURLTTL = 60 * time.Second
	MaxURLTTL     = 6 * time.Hour
)

// Store is a path-addressed document store. Uploads are idempotent
// overwrites so a retried transition that already reached the store
// converges instead of failing.
type Store interface {
	// Upload writes data under path, replacing any existing object.
	Upload(ctx context.Context, path string, data []byte) error

	// Download returns the object stored under path.
	Download(ctx context.Context, path string) ([]byte, error)

	// SignedURL issues a capability-bearing download URL for path,
	// valid for ttl. It performs no authorization; callers gate access
	// before requesting a URL.
	SignedURL(path string, ttl time.Duration) (string, error)
}

// ValidatePath rejects paths that would escape or alias the bucket
// namespace.
func ValidatePath(path string) error {
	switch {
	case path == "":
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	case strings.HasPrefix(path, "/"):
		return fmt.Errorf("%w: path can not start with /", ErrInvalidPath)
	case strings.HasSuffix(path, "/"):
		return fmt.Errorf("%w: path can not end with /", ErrInvalidPath)
	case strings.Contains(path, "//"), strings.Contains(path, "\\"):
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for _, part := range strings.Split(path, "/") {
		if part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// ClampTTL validates ttl and applies the default for zero values.
func ClampTTL(ttl time.Duration) (time.Duration, error) {
	if ttl == 0 {
		return DefaultURLTTL, nil
	}
	if ttl < MinURLTTL || ttl > MaxURLTTL {
		return 0, fmt.Errorf("%w: %s outside [%s, %s]", ErrInvalidTTL, ttl, MinURLTTL, MaxURLTTL)
	}
	return ttl, nil
}
