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

package credential

import (
	"context"
	"encoding/hex"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and development.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]*Credential
	byCred map[string]string // hex credential id -> server id
	now    func() time.Time
}

// NewMemoryStore creates an empty in-memory credential store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[string]*Credential),
		byCred: make(map[string]string),
		now:    time.Now,
	}
}

func (s *MemoryStore) clone(cred *Credential) *Credential {
	out := *cred
	out.CredentialID = append([]byte(nil), cred.CredentialID...)
	out.PublicKey = append([]byte(nil), cred.PublicKey...)
	out.UserHandle = append([]byte(nil), cred.UserHandle...)
	out.Transports = append([]string(nil), cred.Transports...)
	return &out
}

// Insert persists a new credential.
func (s *MemoryStore) Insert(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := hex.EncodeToString(cred.CredentialID)
	if id, ok := s.byCred[key]; ok {
		if existing := s.byID[id]; existing != nil && existing.DeletedAt == 0 {
			return ErrDuplicateCredentialID
		}
	}

	stored := s.clone(cred)
	if stored.CreatedAt == 0 {
		stored.CreatedAt = s.now().Unix()
	}
	s.byID[stored.ID] = stored
	s.byCred[key] = stored.ID
	return nil
}

// GetByCredentialID looks up by the authenticator-supplied id.
func (s *MemoryStore) GetByCredentialID(_ context.Context, credentialID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byCred[hex.EncodeToString(credentialID)]
	if !ok {
		return nil, ErrNotFound
	}
	cred, ok := s.byID[id]
	if !ok || cred.DeletedAt != 0 {
		return nil, ErrNotFound
	}
	return s.clone(cred), nil
}

// GetByIDAndUser looks up by server id, scoped to the owning user.
func (s *MemoryStore) GetByIDAndUser(_ context.Context, id string, userID int64) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.byID[id]
	if !ok || cred.DeletedAt != 0 || cred.UserID != userID {
		return nil, ErrNotFound
	}
	return s.clone(cred), nil
}

// ListActiveByUser returns the user's active credentials.
func (s *MemoryStore) ListActiveByUser(_ context.Context, userID int64) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Credential
	for _, cred := range s.byID {
		if cred.UserID == userID && cred.State() == StateActive {
			out = append(out, s.clone(cred))
		}
	}
	return out, nil
}

// ListByUser returns the user's credentials including revoked ones.
func (s *MemoryStore) ListByUser(_ context.Context, userID int64) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Credential
	for _, cred := range s.byID {
		if cred.UserID == userID && cred.DeletedAt == 0 {
			out = append(out, s.clone(cred))
		}
	}
	return out, nil
}

// CountActiveByUser returns the number of active credentials.
func (s *MemoryStore) CountActiveByUser(ctx context.Context, userID int64) (int, error) {
	creds, err := s.ListActiveByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(creds), nil
}

// UpdateSignCount sets the counter via compare-and-set.
func (s *MemoryStore) UpdateSignCount(_ context.Context, id string, oldCount, newCount uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok || cred.DeletedAt != 0 {
		return ErrNotFound
	}
	if cred.SignCount != oldCount {
		return ErrSignCountConflict
	}
	cred.SignCount = newCount
	return nil
}

// UpdateLastUsed stamps the credential's last-used time.
func (s *MemoryStore) UpdateLastUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok || cred.DeletedAt != 0 {
		return ErrNotFound
	}
	cred.LastUsedAt = s.now().Unix()
	return nil
}

// UpdateLabel renames the credential.
func (s *MemoryStore) UpdateLabel(_ context.Context, id, label string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok || cred.DeletedAt != 0 {
		return ErrNotFound
	}
	cred.Label = label
	return nil
}

// Revoke permanently revokes the credential.
func (s *MemoryStore) Revoke(_ context.Context, id string, revokedBy int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok || cred.DeletedAt != 0 {
		return ErrNotFound
	}
	if cred.RevokedAt != 0 {
		// First revocation wins; there is no un-revoke.
		return nil
	}
	cred.RevokedAt = s.now().Unix()
	cred.RevokedBy = revokedBy
	return nil
}

// Delete soft-deletes the credential.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.byID[id]
	if !ok || cred.DeletedAt != 0 {
		return ErrNotFound
	}
	cred.DeletedAt = s.now().Unix()
	return nil
}

// Count returns the total number of rows, deleted included.
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
