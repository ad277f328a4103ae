package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
)

// KnowledgeStore persists KnowledgeDocument rows.
type KnowledgeStore struct {
	db *sql.DB
	pg bool
}

// NewKnowledgeStore creates a KnowledgeStore on the given backend.
func NewKnowledgeStore(backend *database.Backend) *KnowledgeStore {
	return &KnowledgeStore{db: backend.DB, pg: backend.Type == database.BackendPostgreSQL}
}

// Create inserts a new document row in pending state.
func (s *KnowledgeStore) Create(ctx context.Context, d *KnowledgeDocument) error {
	now := time.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.TranscriptionStatus == "" {
		d.TranscriptionStatus = TranscriptionPending
	}
	_, err := s.db.ExecContext(ctx, rebind(s.pg, `
		INSERT INTO knowledge_documents (id, agent_id, display_name, mime_type,
			storage_location, transcription_status, transcription_text,
			raw_worker_result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.AgentID, d.DisplayName, d.MimeType, d.StorageLocation,
		string(d.TranscriptionStatus), d.TranscriptionText, d.RawWorkerResult,
		timeToDB(d.CreatedAt), timeToDB(d.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Get returns one document by id.
func (s *KnowledgeStore) Get(ctx context.Context, id string) (*KnowledgeDocument, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.pg, selectDocument+` WHERE id = ?`), id)
	return scanDocument(row)
}

// ListByAgent returns all documents for an agent, newest first.
func (s *KnowledgeStore) ListByAgent(ctx context.Context, agentID string) ([]*KnowledgeDocument, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.pg,
		selectDocument+` WHERE agent_id = ? ORDER BY created_at DESC`), agentID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	return collectDocuments(rows)
}

// FindByStorageLocation returns the most recently created document of the
// agent whose storage location matches exactly. Multiple matches should not
// happen in normal operation; newest wins if they do.
func (s *KnowledgeStore) FindByStorageLocation(ctx context.Context, agentID, location string) (*KnowledgeDocument, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.pg,
		selectDocument+` WHERE agent_id = ? AND storage_location = ?
		ORDER BY created_at DESC LIMIT 1`), agentID, location)
	return scanDocument(row)
}

// likeEscaper neutralizes LIKE metacharacters so a worker-supplied fragment
// matches literally. Sanitized display names are full of underscores, so an
// unescaped fragment would pattern-match instead of substring-match.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// FindByNameContains returns the most recent document of the agent whose
// display name contains the given fragment as a literal substring,
// case-insensitively.
func (s *KnowledgeStore) FindByNameContains(ctx context.Context, agentID, fragment string) (*KnowledgeDocument, error) {
	pattern := "%" + likeEscaper.Replace(strings.ToLower(fragment)) + "%"
	row := s.db.QueryRowContext(ctx, rebind(s.pg,
		selectDocument+` WHERE agent_id = ? AND LOWER(display_name) LIKE ? ESCAPE '\'
		ORDER BY created_at DESC LIMIT 1`), agentID, pattern)
	return scanDocument(row)
}

// UpdateResult stores the correlated worker result on a document.
// Calling it twice with the same values converges to the same row state.
func (s *KnowledgeStore) UpdateResult(ctx context.Context, id string, status TranscriptionStatus, text, raw string) error {
	res, err := s.db.ExecContext(ctx, rebind(s.pg, `
		UPDATE knowledge_documents
		SET transcription_status = ?, transcription_text = ?, raw_worker_result = ?, updated_at = ?
		WHERE id = ?`),
		string(status), text, raw, timeToDB(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update document result: %w", err)
	}
	return checkAffected(res)
}

// Delete removes a document row outright.
func (s *KnowledgeStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, rebind(s.pg,
		`DELETE FROM knowledge_documents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return checkAffected(res)
}

// DeleteByAgent removes all documents belonging to an agent.
func (s *KnowledgeStore) DeleteByAgent(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, rebind(s.pg,
		`DELETE FROM knowledge_documents WHERE agent_id = ?`), agentID)
	if err != nil {
		return fmt.Errorf("delete agent documents: %w", err)
	}
	return nil
}

const selectDocument = `
	SELECT id, agent_id, display_name, mime_type, storage_location,
		transcription_status, transcription_text, raw_worker_result,
		created_at, updated_at
	FROM knowledge_documents`

func scanDocument(row rowScanner) (*KnowledgeDocument, error) {
	var d KnowledgeDocument
	var status, createdAt, updatedAt string
	err := row.Scan(&d.ID, &d.AgentID, &d.DisplayName, &d.MimeType,
		&d.StorageLocation, &status, &d.TranscriptionText, &d.RawWorkerResult,
		&createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}
	d.TranscriptionStatus = TranscriptionStatus(status)
	d.CreatedAt = timeFromDB(createdAt)
	d.UpdatedAt = timeFromDB(updatedAt)
	return &d, nil
}

func collectDocuments(rows *sql.Rows) ([]*KnowledgeDocument, error) {
	var docs []*KnowledgeDocument
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
