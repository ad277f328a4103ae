package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
)

// ConnectionStore persists ChannelConnection rows.
type ConnectionStore struct {
	db *sql.DB
	pg bool
}

// NewConnectionStore creates a ConnectionStore on the given backend.
func NewConnectionStore(backend *database.Backend) *ConnectionStore {
	return &ConnectionStore{db: backend.DB, pg: backend.Type == database.BackendPostgreSQL}
}

// Create inserts a new connection row.
func (s *ConnectionStore) Create(ctx context.Context, c *ChannelConnection) error {
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, rebind(s.pg, `
		INSERT INTO channel_connections (id, operator_id, agent_id, instance_name,
			status, phone_number, connected_at, disconnected_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.OperatorID, c.AgentID, c.InstanceName, c.Status, c.PhoneNumber,
		ptrToDB(c.ConnectedAt), ptrToDB(c.DisconnectedAt),
		timeToDB(c.CreatedAt), timeToDB(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert connection: %w", err)
	}
	return nil
}

// Get returns one connection by id.
func (s *ConnectionStore) Get(ctx context.Context, id string) (*ChannelConnection, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.pg, selectConnection+` WHERE id = ?`), id)
	return scanConnection(row)
}

// GetByInstance returns the connection for an instance name.
func (s *ConnectionStore) GetByInstance(ctx context.Context, instanceName string) (*ChannelConnection, error) {
	row := s.db.QueryRowContext(ctx, rebind(s.pg,
		selectConnection+` WHERE instance_name = ?`), instanceName)
	return scanConnection(row)
}

// ListByOperator returns all connections owned by an operator, newest first.
func (s *ConnectionStore) ListByOperator(ctx context.Context, operatorID string) ([]*ChannelConnection, error) {
	rows, err := s.db.QueryContext(ctx, rebind(s.pg,
		selectConnection+` WHERE operator_id = ? ORDER BY created_at DESC`), operatorID)
	if err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	defer rows.Close()

	var conns []*ChannelConnection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// UpdateState persists the connection status and transition timestamps.
func (s *ConnectionStore) UpdateState(ctx context.Context, c *ChannelConnection) error {
	c.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, rebind(s.pg, `
		UPDATE channel_connections
		SET status = ?, phone_number = ?, connected_at = ?, disconnected_at = ?, updated_at = ?
		WHERE id = ?`),
		c.Status, c.PhoneNumber, ptrToDB(c.ConnectedAt), ptrToDB(c.DisconnectedAt),
		timeToDB(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("update connection: %w", err)
	}
	return checkAffected(res)
}

// Delete hard-deletes the connection row.
func (s *ConnectionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, rebind(s.pg,
		`DELETE FROM channel_connections WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	return checkAffected(res)
}

// DeleteByAgent removes all connections linked to an agent.
func (s *ConnectionStore) DeleteByAgent(ctx context.Context, agentID string) error {
	_, err := s.db.ExecContext(ctx, rebind(s.pg,
		`DELETE FROM channel_connections WHERE agent_id = ?`), agentID)
	if err != nil {
		return fmt.Errorf("delete agent connections: %w", err)
	}
	return nil
}

const selectConnection = `
	SELECT id, operator_id, agent_id, instance_name, status, phone_number,
		connected_at, disconnected_at, created_at, updated_at
	FROM channel_connections`

func scanConnection(row rowScanner) (*ChannelConnection, error) {
	var c ChannelConnection
	var connectedAt, disconnectedAt, createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.OperatorID, &c.AgentID, &c.InstanceName, &c.Status,
		&c.PhoneNumber, &connectedAt, &disconnectedAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	c.ConnectedAt = ptrFromDB(connectedAt)
	c.DisconnectedAt = ptrFromDB(disconnectedAt)
	c.CreatedAt = timeFromDB(createdAt)
	c.UpdatedAt = timeFromDB(updatedAt)
	return &c, nil
}
