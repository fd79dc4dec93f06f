// Package cache provides a two-tier response cache: a bounded in-memory LRU in
// front of a persistent backend. Entries survive restarts through the backend
// and are promoted back into memory on first read.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// CorruptionError reports a persisted entry that could not be decoded. Callers
// never see it from Get: the entry is dropped and reported as a miss. It is
// surfaced through logs and Stats only.
type CorruptionError struct {
	Key string
	Err error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache entry %s is corrupt: %v", e.Key, e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// Backend is the persistent tier. Implementations must be safe for concurrent
// use.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// entry is the envelope written to the backend.
type entry struct {
	Value    []byte    `json:"value"`
	StoredAt time.Time `json:"stored_at"`
}

// Stats counts cache traffic since construction.
type Stats struct {
	MemoryHits     int64
	BackendHits    int64
	Misses         int64
	CorruptDropped int64
}

// Store is the two-tier cache. Writes go through to the backend; reads check
// memory first and promote backend hits.
type Store struct {
	backend Backend
	logger  *log.Logger

	mu     sync.Mutex
	memory *lru

	memoryHits  atomic.Int64
	backendHits atomic.Int64
	misses      atomic.Int64
	corrupt     atomic.Int64
}

// New builds a Store with the given memory capacity (entries). Capacity <= 0
// defaults to 256.
func New(backend Backend, capacity int, logger *log.Logger) *Store {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[CACHE] ", log.LstdFlags)
	}
	return &Store{
		backend: backend,
		logger:  logger,
		memory:  newLRU(capacity),
	}
}

// Key derives a stable cache key from a content type and call parameters.
// encoding/json writes map keys in sorted order, so equal parameter sets
// always produce the same key.
func Key(contentType string, params map[string]interface{}) string {
	payload, err := json.Marshal(params)
	if err != nil {
		payload = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha256.Sum256(append([]byte(contentType+"\x00"), payload...))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value for key. A corrupt persisted entry is removed
// and reported as a miss; Get never returns an error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	s.mu.Lock()
	if v, ok := s.memory.get(key); ok {
		s.mu.Unlock()
		s.memoryHits.Add(1)
		return v, true
	}
	s.mu.Unlock()

	if s.backend == nil {
		s.misses.Add(1)
		return nil, false
	}

	raw, ok, err := s.backend.Get(ctx, key)
	if err != nil {
		s.logger.Printf("warn: backend get %s: %v", key, err)
		s.misses.Add(1)
		return nil, false
	}
	if !ok {
		s.misses.Add(1)
		return nil, false
	}

	var ent entry
	if err := json.Unmarshal(raw, &ent); err != nil {
		cerr := &CorruptionError{Key: key, Err: err}
		s.logger.Printf("warn: %v (dropping entry)", cerr)
		if derr := s.backend.Delete(ctx, key); derr != nil {
			s.logger.Printf("warn: drop corrupt entry %s: %v", key, derr)
		}
		s.corrupt.Add(1)
		s.misses.Add(1)
		return nil, false
	}

	s.mu.Lock()
	s.memory.put(key, ent.Value)
	s.mu.Unlock()
	s.backendHits.Add(1)
	return ent.Value, true
}

// Put stores value under key in both tiers. A backend failure is returned but
// the memory tier is already updated, so callers may treat it as advisory.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.memory.put(key, value)
	s.mu.Unlock()

	if s.backend == nil {
		return nil
	}
	raw, err := json.Marshal(entry{Value: value, StoredAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.backend.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("persist cache entry: %w", err)
	}
	return nil
}

// Delete removes key from both tiers.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	s.memory.remove(key)
	s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	return s.backend.Delete(ctx, key)
}

// Stats returns traffic counters.
func (s *Store) Stats() Stats {
	return Stats{
		MemoryHits:     s.memoryHits.Load(),
		BackendHits:    s.backendHits.Load(),
		Misses:         s.misses.Load(),
		CorruptDropped: s.corrupt.Load(),
	}
}
