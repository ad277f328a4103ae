package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
)

// AgentStore persists Agent rows.
type AgentStore struct {
	db *sql.DB
	pg bool
}

// NewAgentStore creates an AgentStore on the given backend.
func NewAgentStore(backend *database.Backend) *AgentStore {
	return &AgentStore{db: backend.DB, pg: backend.Type == database.BackendPostgreSQL}
}

// Create inserts a new agent row.
func (s *AgentStore) Create(ctx context.Context, a *Agent) error {
	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, rebind(s.pg, `
		INSERT INTO agents (id, operator_id, name, operator_display_name, agent_type,
			personality, custom_instructions, composed_prompt, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		a.ID, a.OperatorID, a.Name, a.OperatorDisplayName, a.AgentType,
		a.Personality, a.CustomInstructions, a.ComposedPrompt,
		timeToDB(a.CreatedAt), timeToDB(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert agent: %w", err)
	}
	return nil
}

// Get returns one agent by id.
func (s *AgentStore) Get(ctx context.Context, id string) (*Agent, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.pg, `
		SELECT id, operator_id, name, operator_display_name, agent_type, personality,
			custom_instructions, composed_prompt, webhook_status, webhook_result,
			webhook_at, created_at, updated_at
		FROM agents WHERE id = ?`), id)
	return scanAgent(row)
}

// ListByOperator returns all agents owned by an operator, newest first.
func (s *AgentStore) ListByOperator(ctx context.Context, operatorID string) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.pg, `
		SELECT id, operator_id, name, operator_display_name, agent_type, personality,
			custom_instructions, composed_prompt, webhook_status, webhook_result,
			webhook_at, created_at, updated_at
		FROM agents WHERE operator_id = ? ORDER BY created_at DESC`), operatorID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// CountByOperator returns how many agents an operator owns.
func (s *AgentStore) CountByOperator(ctx context.Context, operatorID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, rebind(s.pg,
		`SELECT COUNT(*) FROM agents WHERE operator_id = ?`), operatorID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count agents: %w", err)
	}
	return count, nil
}

// Update persists the mutable agent fields.
func (s *AgentStore) Update(ctx context.Context, a *Agent) error {
	a.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, rebind(s.pg, `
		UPDATE agents SET name = ?, operator_display_name = ?, agent_type = ?,
			personality = ?, custom_instructions = ?, composed_prompt = ?, updated_at = ?
		WHERE id = ?`),
		a.Name, a.OperatorDisplayName, a.AgentType, a.Personality,
		a.CustomInstructions, a.ComposedPrompt, timeToDB(a.UpdatedAt), a.ID)
	if err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return checkAffected(res)
}

// UpdatePrompt rewrites only the composed prompt.
func (s *AgentStore) UpdatePrompt(ctx context.Context, id, prompt string) error {
	res, err := s.db.ExecContext(ctx, rebind(s.pg,
		`UPDATE agents SET composed_prompt = ?, updated_at = ? WHERE id = ?`),
		prompt, timeToDB(time.Now()), id)
	if err != nil {
		return fmt.Errorf("update prompt: %w", err)
	}
	return checkAffected(res)
}

// StampWebhook records a coarse webhook status/result for observability.
func (s *AgentStore) StampWebhook(ctx context.Context, id, status, result string) error {
	_, err := s.db.ExecContext(ctx, rebind(s.pg,
		`UPDATE agents SET webhook_status = ?, webhook_result = ?, webhook_at = ? WHERE id = ?`),
		status, result, timeToDB(time.Now()), id)
	if err != nil {
		return fmt.Errorf("stamp webhook: %w", err)
	}
	return nil
}

// Delete removes the agent row. Cascading of documents and connections is
// handled by the agent service, one independent write at a time.
func (s *AgentStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, rebind(s.pg, `DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	return checkAffected(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*Agent, error) {
	var a Agent
	var createdAt, updatedAt string
	err := row.Scan(&a.ID, &a.OperatorID, &a.Name, &a.OperatorDisplayName,
		&a.AgentType, &a.Personality, &a.CustomInstructions, &a.ComposedPrompt,
		&a.WebhookStatus, &a.WebhookResult, &a.WebhookAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.CreatedAt = timeFromDB(createdAt)
	a.UpdatedAt = timeFromDB(updatedAt)
	return &a, nil
}

func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
