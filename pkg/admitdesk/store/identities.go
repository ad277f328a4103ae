package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
)

// IdentityStore persists ChannelIdentity rows, keyed by operator id.
// The table holds at most one row per operator.
type IdentityStore struct {
	db *sql.DB
	pg bool
}

// NewIdentityStore creates an IdentityStore on the given backend.
func NewIdentityStore(backend *database.Backend) *IdentityStore {
	return &IdentityStore{db: backend.DB, pg: backend.Type == database.BackendPostgreSQL}
}

// Get returns the identity for an operator.
func (s *IdentityStore) Get(ctx context.Context, operatorID string) (*ChannelIdentity, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.pg, `
		SELECT operator_id, display_name, email, secret, access_token,
			external_account_id, external_user_id, created_at, updated_at
		FROM channel_identities WHERE operator_id = ?`), operatorID)

	var id ChannelIdentity
	var createdAt, updatedAt string
	err := row.Scan(&id.OperatorID, &id.DisplayName, &id.Email, &id.Secret,
		&id.AccessToken, &id.ExternalAccountID, &id.ExternalUserID,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan identity: %w", err)
	}
	id.CreatedAt = timeFromDB(createdAt)
	id.UpdatedAt = timeFromDB(updatedAt)
	return &id, nil
}

// Put inserts or updates the identity row for id.OperatorID.
// The secret passed in is written as-is; callers preserve an existing secret
// by reading the row first.
func (s *IdentityStore) Put(ctx context.Context, id *ChannelIdentity) error {
	now := time.Now()
	if id.CreatedAt.IsZero() {
		id.CreatedAt = now
	}
	id.UpdatedAt = now

	var query string
	if s.pg {
		query = `
			INSERT INTO channel_identities (operator_id, display_name, email, secret,
				access_token, external_account_id, external_user_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (operator_id) DO UPDATE SET
				display_name = EXCLUDED.display_name,
				email = EXCLUDED.email,
				secret = EXCLUDED.secret,
				access_token = EXCLUDED.access_token,
				external_account_id = EXCLUDED.external_account_id,
				external_user_id = EXCLUDED.external_user_id,
				updated_at = EXCLUDED.updated_at`
	} else {
		query = `
			INSERT INTO channel_identities (operator_id, display_name, email, secret,
				access_token, external_account_id, external_user_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(operator_id) DO UPDATE SET
				display_name = excluded.display_name,
				email = excluded.email,
				secret = excluded.secret,
				access_token = excluded.access_token,
				external_account_id = excluded.external_account_id,
				external_user_id = excluded.external_user_id,
				updated_at = excluded.updated_at`
	}

	_, err := s.db.ExecContext(ctx, rebind(s.pg, query),
		id.OperatorID, id.DisplayName, id.Email, id.Secret, id.AccessToken,
		id.ExternalAccountID, id.ExternalUserID,
		timeToDB(id.CreatedAt), timeToDB(id.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	return nil
}
