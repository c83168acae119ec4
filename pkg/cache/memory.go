// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passkey.
//
// go-passkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package cache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	count   int64
	expires time.Time
}

// Memory is an in-memory Cache for tests and single-node deployments.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	sets    map[string]map[string]struct{}
	setExp  map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memoryEntry),
		sets:    make(map[string]map[string]struct{}),
		setExp:  make(map[string]time.Time),
		now:     time.Now,
	}
}

// Put records key with the given TTL.
func (m *Memory) Put(ctx context.Context, key string, ttl time.Duration) error {
	return m.Set(ctx, key, "1", ttl)
}

// Remove deletes key and reports whether a live entry was present.
func (m *Memory) Remove(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return false, nil
	}
	delete(m.entries, key)
	if m.now().After(entry.expires) {
		return false, nil
	}
	return true, nil
}

// Incr increments the counter at key, refreshing the TTL on every
// increment.
func (m *Memory) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || m.now().After(entry.expires) {
		entry = &memoryEntry{}
		m.entries[key] = entry
	}
	entry.count++
	entry.expires = m.now().Add(ttl)
	return entry.count, nil
}

// Count returns the counter at key, or 0 when absent or expired.
func (m *Memory) Count(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || m.now().After(entry.expires) {
		return 0, nil
	}
	return entry.count, nil
}

// Set stores a value under key with the given TTL.
func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = &memoryEntry{
		value:   value,
		expires: m.now().Add(ttl),
	}
	return nil
}

// Get returns the value at key and whether a live entry exists.
func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || m.now().After(entry.expires) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Del removes key.
func (m *Memory) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Tag adds member to the set at tag and refreshes the set's TTL.
func (m *Memory) Tag(_ context.Context, tag, member string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[tag]
	if !ok || m.now().After(m.setExp[tag]) {
		set = make(map[string]struct{})
		m.sets[tag] = set
	}
	set[member] = struct{}{}
	m.setExp[tag] = m.now().Add(ttl)
	return nil
}

// Tagged returns the members of the set at tag.
func (m *Memory) Tagged(_ context.Context, tag string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.sets[tag]
	if !ok || m.now().After(m.setExp[tag]) {
		return nil, nil
	}
	members := make([]string, 0, len(set))
	for member := range set {
		members = append(members, member)
	}
	return members, nil
}

// Len returns the number of entries, including expired ones not yet swept.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cleanup removes expired entries and sets.
func (m *Memory) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, entry := range m.entries {
		if now.After(entry.expires) {
			delete(m.entries, key)
		}
	}
	for tag, exp := range m.setExp {
		if now.After(exp) {
			delete(m.sets, tag)
			delete(m.setExp, tag)
		}
	}
}
