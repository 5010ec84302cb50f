package docstore

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development.
// Signed URLs carry a fake expiry query parameter so callers can still
// assert on TTL handling.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte

	now func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: map[string][]byte{},
		now:     time.Now,
	}
}

func (m *Memory) Upload(_ context.Context, path string, data []byte) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.objects[path] = buf
	m.mu.Unlock()
	return nil
}

func (m *Memory) Download(_ context.Context, path string) ([]byte, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	m.mu.RLock()
	data, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

func (m *Memory) SignedURL(path string, ttl time.Duration) (string, error) {
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	ttl, err := ClampTTL(ttl)
	if err != nil {
		return "", err
	}

	m.mu.RLock()
	_, ok := m.objects[path]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrObjectNotFound, path)
	}

	q := url.Values{}
	q.Set("expires", fmt.Sprintf("%d", m.now().Add(ttl).Unix()))
	return "memory:///" + path + "?" + q.Encode(), nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
