// Package kv implements the KV store adapter capability spec.md §9
// describes: "insert/update/get/remove keyed by (table, id, column) with
// typed cells." This is the concrete in-process implementation that lets
// the rest of the module run and be tested standalone; spec.md treats a
// durable storage engine as an external collaborator, so any conforming
// implementation (relational or key-value) can replace this one without
// callers changing.
//
// Rows are versioned for optimistic concurrency: writers compare-and-swap
// on the version field, matching spec.md §5 ("Each StateChain is versioned
// in storage; writers use compare-and-set on the version field").
package kv

import (
	"encoding/json"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// row is the stored cell: a version counter plus the JSON-encoded value.
type row struct {
	version uint64
	data    []byte
}

// Store is a single-process, mutex-guarded map of typed rows keyed by
// (table, id). A read-through LRU cache of encoded rows sits in front of
// the backing map, so repeated reads of hot rows (e.g. a statechain
// mid-transfer) skip the map's lock; every Get still JSON-decodes the row.
type Store struct {
	mu    sync.RWMutex
	rows  map[string]map[string]row
	cache *lru.Cache[string, []byte]
}

// New creates a Store with a read-through cache holding up to cacheSize
// encoded rows.
func New(cacheSize int) (*Store, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	c, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("kv: init cache: %w", err)
	}
	return &Store{rows: make(map[string]map[string]row), cache: c}, nil
}

func cacheKey(table, id string) string { return table + "\x00" + id }

// ErrNotFound is returned by Get/CompareAndSwap when the row does not
// exist.
var ErrNotFound = fmt.Errorf("kv: row not found")

// ErrVersionConflict is returned by CompareAndSwap when expected does not
// match the row's current version.
var ErrVersionConflict = fmt.Errorf("kv: version conflict")

// Get decodes the row at (table, id) into out. It reports (false, nil) if
// the row does not exist.
func (s *Store) Get(table, id string, out any) (bool, error) {
	ck := cacheKey(table, id)
	if data, ok := s.cache.Get(ck); ok {
		if err := json.Unmarshal(data, out); err != nil {
			return false, fmt.Errorf("kv: decode %s/%s: %w", table, id, err)
		}
		return true, nil
	}

	s.mu.RLock()
	tbl, ok := s.rows[table]
	if !ok {
		s.mu.RUnlock()
		return false, nil
	}
	r, ok := tbl[id]
	s.mu.RUnlock()
	if !ok {
		return false, nil
	}

	s.cache.Add(ck, r.data)
	if err := json.Unmarshal(r.data, out); err != nil {
		return false, fmt.Errorf("kv: decode %s/%s: %w", table, id, err)
	}
	return true, nil
}

// Version returns the current version of the row at (table, id), or 0 if
// it does not exist.
func (s *Store) Version(table, id string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tbl, ok := s.rows[table]; ok {
		return tbl[id].version
	}
	return 0
}

// Put inserts or unconditionally overwrites the row at (table, id),
// returning its new version.
func (s *Store) Put(table, id string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("kv: encode %s/%s: %w", table, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.rows[table]
	if !ok {
		tbl = make(map[string]row)
		s.rows[table] = tbl
	}
	ver := tbl[id].version + 1
	tbl[id] = row{version: ver, data: data}
	s.cache.Remove(cacheKey(table, id))
	return ver, nil
}

// CompareAndSwap writes v at (table, id) only if the row's current version
// equals expected (0 meaning "must not exist yet"). It returns
// ErrVersionConflict on mismatch.
func (s *Store) CompareAndSwap(table, id string, expected uint64, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("kv: encode %s/%s: %w", table, id, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.rows[table]
	if !ok {
		tbl = make(map[string]row)
		s.rows[table] = tbl
	}
	if tbl[id].version != expected {
		return 0, ErrVersionConflict
	}
	ver := expected + 1
	tbl[id] = row{version: ver, data: data}
	s.cache.Remove(cacheKey(table, id))
	return ver, nil
}

// Delete removes the row at (table, id). Deleting a row that does not
// exist is a no-op.
func (s *Store) Delete(table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tbl, ok := s.rows[table]; ok {
		delete(tbl, id)
	}
	s.cache.Remove(cacheKey(table, id))
	return nil
}

// Exists reports whether a row is present at (table, id).
func (s *Store) Exists(table, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tbl, ok := s.rows[table]
	if !ok {
		return false
	}
	_, ok = tbl[id]
	return ok
}

// Txn batches several writes so they become visible to readers atomically,
// satisfying spec.md §4.4.1's "all five must commit atomically with
// respect to readers" and §5's multi-row commit requirement. Reads of the
// Store taken mid-transaction never observe a partial Txn because the
// whole apply runs under the single Store mutex.
type Txn struct {
	store *Store
	ops   []func(*Store) error
}

// NewTxn begins a transaction against store.
func (s *Store) NewTxn() *Txn { return &Txn{store: s} }

// Put stages an unconditional write.
func (t *Txn) Put(table, id string, v any) *Txn {
	t.ops = append(t.ops, func(s *Store) error {
		_, err := s.putLocked(table, id, v)
		return err
	})
	return t
}

// Delete stages a row removal.
func (t *Txn) Delete(table, id string) *Txn {
	t.ops = append(t.ops, func(s *Store) error {
		s.deleteLocked(table, id)
		return nil
	})
	return t
}

// Commit applies every staged operation under a single lock acquisition,
// so no reader ever observes a partial Txn (spec.md §4.4.1, §5). Staged
// values are JSON-encodable domain structs, so encode failures are a
// programmer error; Commit stops at the first one and returns it.
func (t *Txn) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for _, op := range t.ops {
		if err := op(t.store); err != nil {
			return fmt.Errorf("kv: txn commit: %w", err)
		}
	}
	return nil
}

// putLocked and deleteLocked assume s.mu is already held by the caller
// (Txn.Commit).
func (s *Store) putLocked(table, id string, v any) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("kv: encode %s/%s: %w", table, id, err)
	}
	tbl, ok := s.rows[table]
	if !ok {
		tbl = make(map[string]row)
		s.rows[table] = tbl
	}
	ver := tbl[id].version + 1
	tbl[id] = row{version: ver, data: data}
	s.cache.Remove(cacheKey(table, id))
	return ver, nil
}

func (s *Store) deleteLocked(table, id string) {
	if tbl, ok := s.rows[table]; ok {
		delete(tbl, id)
	}
	s.cache.Remove(cacheKey(table, id))
}
