// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package ledgersync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// FaultFunc lets tests fail a remote operation. op is one of "ping", "list",
// "create" or "merge"; key is the local id for create and the document id for merge.
type FaultFunc func(op string, c Collection, key string) error

type memDocument struct {
	id      string
	localID string
	seq     int64
	data    json.RawMessage
}

// MemoryStore is a thread-safe in-process document store.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[Collection]map[string]*memDocument
	byOrigin map[Collection]map[string]string
	seq      int64
	fault    FaultFunc
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		docs:     make(map[Collection]map[string]*memDocument),
		byOrigin: make(map[Collection]map[string]string),
	}
	for _, c := range []Collection{CollectionCustomers, CollectionTransactions} {
		m.docs[c] = make(map[string]*memDocument)
		m.byOrigin[c] = make(map[string]string)
	}
	return m
}

// InjectFault installs f; nil clears it.
func (m *MemoryStore) InjectFault(f FaultFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fault = f
}

func (m *MemoryStore) check(op string, c Collection, key string) error {
	if m.fault != nil {
		if err := m.fault(op, c, key); err != nil {
			return err
		}
	}
	if op != "ping" && !c.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, c)
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.check("ping", "", "")
}

func (m *MemoryStore) Stream(ctx context.Context, c Collection, fn func(Document) error) error {
	return streamPages(ctx, m, c, DefaultPageSize, fn)
}

func (m *MemoryStore) List(ctx context.Context, c Collection, after int64, limit int) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check("list", c, ""); err != nil {
		return nil, err
	}
	out := make([]Document, 0)
	for _, d := range m.docs[c] {
		if d.seq > after {
			out = append(out, Document{ID: d.id, Seq: d.seq, Data: append(json.RawMessage(nil), d.data...)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Create(ctx context.Context, c Collection, localID string, data json.RawMessage) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("create", c, localID); err != nil {
		return "", err
	}
	if localID != "" {
		if id, ok := m.byOrigin[c][localID]; ok {
			if err := m.mergeLocked(c, id, data); err != nil {
				return "", err
			}
			return id, nil
		}
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil || obj == nil {
		return "", fmt.Errorf("%w: payload must be a JSON object", ErrRejected)
	}
	m.seq++
	d := &memDocument{
		id:      uuid.NewString(),
		localID: localID,
		seq:     m.seq,
		data:    append(json.RawMessage(nil), data...),
	}
	m.docs[c][d.id] = d
	if localID != "" {
		m.byOrigin[c][localID] = d.id
	}
	return d.id, nil
}

func (m *MemoryStore) Merge(ctx context.Context, c Collection, id string, data json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("merge", c, id); err != nil {
		return err
	}
	return m.mergeLocked(c, id, data)
}

func (m *MemoryStore) mergeLocked(c Collection, id string, data json.RawMessage) error {
	d, ok := m.docs[c][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrDocumentNotFound, c, id)
	}
	merged, err := mergeJSON(d.data, data)
	if err != nil {
		return err
	}
	m.seq++
	d.seq = m.seq
	d.data = merged
	return nil
}

// Put stores data under an explicit document id, replacing any previous
// payload. It is meant for seeding and administrative imports.
func (m *MemoryStore) Put(c Collection, id string, data json.RawMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	d, ok := m.docs[c][id]
	if !ok {
		d = &memDocument{id: id, localID: LocalIDOf(data)}
		m.docs[c][id] = d
		if d.localID != "" {
			m.byOrigin[c][d.localID] = id
		}
	}
	d.seq = m.seq
	d.data = append(json.RawMessage(nil), data...)
}

// Get returns the current payload of a document.
func (m *MemoryStore) Get(c Collection, id string) (json.RawMessage, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[c][id]
	if !ok {
		return nil, false
	}
	return append(json.RawMessage(nil), d.data...), true
}

// Remove deletes a document outright, as an administrator purging the remote would.
func (m *MemoryStore) Remove(c Collection, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[c][id]
	if !ok {
		return false
	}
	delete(m.docs[c], id)
	if d.localID != "" {
		delete(m.byOrigin[c], d.localID)
	}
	return true
}

// Count returns the number of documents in c.
func (m *MemoryStore) Count(c Collection) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs[c])
}

// MemoryBackend keeps one MemoryStore per user.
type MemoryBackend struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{stores: make(map[string]*MemoryStore)}
}

func (b *MemoryBackend) ForUser(userID string) DocumentStore {
	return b.Store(userID)
}

// Store returns the concrete store of userID, creating it on first use.
func (b *MemoryBackend) Store(userID string) *MemoryStore {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.stores[userID]
	if !ok {
		s = NewMemoryStore()
		b.stores[userID] = s
	}
	return s
}
