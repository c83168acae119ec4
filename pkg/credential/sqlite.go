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
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
	id            TEXT PRIMARY KEY,
	user_id       INTEGER NOT NULL,
	credential_id BLOB NOT NULL,
	public_key    BLOB NOT NULL,
	sign_count    INTEGER NOT NULL DEFAULT 0,
	user_handle   BLOB NOT NULL,
	transports    TEXT NOT NULL DEFAULT '[]',
	label         TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL,
	last_used_at  INTEGER NOT NULL DEFAULT 0,
	revoked_at    INTEGER NOT NULL DEFAULT 0,
	revoked_by    INTEGER NOT NULL DEFAULT 0,
	deleted_at    INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_credentials_credential_id
	ON credentials(credential_id) WHERE deleted_at = 0;
CREATE INDEX IF NOT EXISTS idx_credentials_user_id
	ON credentials(user_id);
`

const credentialColumns = `id, user_id, credential_id, public_key, sign_count,
	user_handle, transports, label, created_at, last_used_at, revoked_at,
	revoked_by, deleted_at`

// SQLiteStore is a Store backed by a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite-backed credential
// store at the given path. Use ":memory:" for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential database: %w", err)
	}
	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply credential schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Ping verifies the database handle is usable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert persists a new credential.
func (s *SQLiteStore) Insert(ctx context.Context, cred *Credential) error {
	transports, err := json.Marshal(cred.Transports)
	if err != nil {
		return fmt.Errorf("failed to encode transports: %w", err)
	}
	createdAt := cred.CreatedAt
	if createdAt == 0 {
		createdAt = s.now().Unix()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID, cred.UserID, cred.CredentialID, cred.PublicKey,
		cred.SignCount, cred.UserHandle, string(transports), cred.Label,
		createdAt, cred.LastUsedAt, cred.RevokedAt, cred.RevokedBy,
		cred.DeletedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateCredentialID
	}
	if err != nil {
		return fmt.Errorf("failed to insert credential: %w", err)
	}
	return nil
}

// GetByCredentialID looks up by the authenticator-supplied id.
func (s *SQLiteStore) GetByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE credential_id = ? AND deleted_at = 0`, credentialID)
	return scanCredential(row)
}

// GetByIDAndUser looks up by server id, scoped to the owning user.
func (s *SQLiteStore) GetByIDAndUser(ctx context.Context, id string, userID int64) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE id = ? AND user_id = ? AND deleted_at = 0`, id, userID)
	return scanCredential(row)
}

// ListActiveByUser returns the user's active credentials.
func (s *SQLiteStore) ListActiveByUser(ctx context.Context, userID int64) ([]*Credential, error) {
	return s.list(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE user_id = ? AND deleted_at = 0 AND revoked_at = 0
		ORDER BY created_at`, userID)
}

// ListByUser returns the user's credentials including revoked ones.
func (s *SQLiteStore) ListByUser(ctx context.Context, userID int64) ([]*Credential, error) {
	return s.list(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE user_id = ? AND deleted_at = 0
		ORDER BY created_at`, userID)
}

// CountActiveByUser returns the number of active credentials.
func (s *SQLiteStore) CountActiveByUser(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM credentials
		WHERE user_id = ? AND deleted_at = 0 AND revoked_at = 0`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count credentials: %w", err)
	}
	return count, nil
}

// UpdateSignCount sets the counter via compare-and-set. The WHERE
// clause carries the expected old value so a lost race affects zero rows.
func (s *SQLiteStore) UpdateSignCount(ctx context.Context, id string, oldCount, newCount uint32) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET sign_count = ?
		WHERE id = ? AND sign_count = ? AND deleted_at = 0`,
		newCount, id, oldCount)
	if err != nil {
		return fmt.Errorf("failed to update sign count: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update sign count: %w", err)
	}
	if affected == 0 {
		if _, err := s.getByID(ctx, id); err != nil {
			return err
		}
		return ErrSignCountConflict
	}
	return nil
}

// UpdateLastUsed stamps the credential's last-used time.
func (s *SQLiteStore) UpdateLastUsed(ctx context.Context, id string) error {
	return s.update(ctx, `
		UPDATE credentials SET last_used_at = ?
		WHERE id = ? AND deleted_at = 0`, s.now().Unix(), id)
}

// UpdateLabel renames the credential.
func (s *SQLiteStore) UpdateLabel(ctx context.Context, id, label string) error {
	return s.update(ctx, `
		UPDATE credentials SET label = ?
		WHERE id = ? AND deleted_at = 0`, label, id)
}

// Revoke permanently revokes the credential. The revoked_at = 0 guard
// keeps the first revocation.
func (s *SQLiteStore) Revoke(ctx context.Context, id string, revokedBy int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials SET revoked_at = ?, revoked_by = ?
		WHERE id = ? AND deleted_at = 0 AND revoked_at = 0`,
		s.now().Unix(), revokedBy, id)
	if err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}
	if affected == 0 {
		// Row missing entirely is an error; already revoked is not.
		if _, err := s.getByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Delete soft-deletes the credential.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	return s.update(ctx, `
		UPDATE credentials SET deleted_at = ?
		WHERE id = ? AND deleted_at = 0`, s.now().Unix(), id)
}

func (s *SQLiteStore) getByID(ctx context.Context, id string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE id = ? AND deleted_at = 0`, id)
	return scanCredential(row)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...any) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) update(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update credential: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCredential(row scanner) (*Credential, error) {
	var cred Credential
	var transports string
	err := row.Scan(
		&cred.ID, &cred.UserID, &cred.CredentialID, &cred.PublicKey,
		&cred.SignCount, &cred.UserHandle, &transports, &cred.Label,
		&cred.CreatedAt, &cred.LastUsedAt, &cred.RevokedAt,
		&cred.RevokedBy, &cred.DeletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan credential: %w", err)
	}
	if err := json.Unmarshal([]byte(transports), &cred.Transports); err != nil {
		return nil, fmt.Errorf("failed to decode transports: %w", err)
	}
	return &cred, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return false
}
