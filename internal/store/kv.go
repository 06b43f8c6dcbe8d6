package store

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	kvMaxKeys       = 20
	kvMaxKeyLen     = 100
	kvMaxValueLen   = 500
	kvMaxTotalBytes = 10 * 1024
)

// KVPair is one session key/value entry.
type KVPair struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type kvEntry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type kvDoc struct {
	Version int                `json:"version"`
	Values  map[string]kvEntry `json:"values"`
}

func (d *kvDoc) totalBytes() int {
	n := 0
	for k, e := range d.Values {
		n += len(k) + len(e.Value)
	}
	return n
}

// KVSet stores a value under a key. The store holds at most 20 keys,
// values are capped at 500 characters, and the document may not exceed
// 10KB of key plus value bytes.
func (s *Store) KVSet(sessionID, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: key is required", ErrValidation)
	}
	if len(key) > kvMaxKeyLen {
		return fmt.Errorf("%w: key exceeds %d characters", ErrValidation, kvMaxKeyLen)
	}
	if len(value) > kvMaxValueLen {
		return fmt.Errorf("%w: value exceeds %d characters", ErrValidation, kvMaxValueLen)
	}

	path, rel, err := s.docPath(kvDir, sessionID)
	if err != nil {
		return err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc kvDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return err
	}
	if doc.Values == nil {
		doc.Values = make(map[string]kvEntry)
	}
	prev, exists := doc.Values[key]
	if !exists && len(doc.Values) >= kvMaxKeys {
		return fmt.Errorf("%w: store holds %d keys", ErrCapacity, kvMaxKeys)
	}
	total := doc.totalBytes() + len(value) - len(prev.Value)
	if !exists {
		total += len(key)
	}
	if total > kvMaxTotalBytes {
		return fmt.Errorf("%w: store would exceed %d bytes", ErrCapacity, kvMaxTotalBytes)
	}

	doc.Values[key] = kvEntry{Value: value, UpdatedAt: s.now().UTC()}
	doc.Version = docVersion
	return s.saveDoc(path, &doc)
}

// KVGet returns the value stored under a key.
func (s *Store) KVGet(sessionID, key string) (string, error) {
	path, _, err := s.docPath(kvDir, sessionID)
	if err != nil {
		return "", err
	}
	var doc kvDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return "", err
	}
	e, ok := doc.Values[strings.TrimSpace(key)]
	if !ok {
		return "", fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	return e.Value, nil
}

// KVDelete removes a key.
func (s *Store) KVDelete(sessionID, key string) error {
	key = strings.TrimSpace(key)
	path, rel, err := s.docPath(kvDir, sessionID)
	if err != nil {
		return err
	}
	mu := s.lockFor(rel)
	mu.Lock()
	defer mu.Unlock()

	var doc kvDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return err
	}
	if _, ok := doc.Values[key]; !ok {
		return fmt.Errorf("%w: key %q", ErrNotFound, key)
	}
	delete(doc.Values, key)
	doc.Version = docVersion
	return s.saveDoc(path, &doc)
}

// KVList returns all entries sorted by key.
func (s *Store) KVList(sessionID string) ([]KVPair, error) {
	path, _, err := s.docPath(kvDir, sessionID)
	if err != nil {
		return nil, err
	}
	var doc kvDoc
	if err := s.loadDoc(path, &doc); err != nil {
		return nil, err
	}
	pairs := make([]KVPair, 0, len(doc.Values))
	for k, e := range doc.Values {
		pairs = append(pairs, KVPair{Key: k, Value: e.Value, UpdatedAt: e.UpdatedAt})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })
	return pairs, nil
}
