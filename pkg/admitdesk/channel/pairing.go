package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

// Sentinel errors for the pairing manager.
var (
	// ErrNoAgents rejects pairing for an operator with zero agents, before
	// any network call is attempted.
	ErrNoAgents = errors.New("operator has no agents; create an agent first")
)

// defaultPollInterval is the fixed validation poll period.
const defaultPollInterval = 30 * time.Second

// PairingClient is the provider surface the manager depends on.
type PairingClient interface {
	GeneratePairingCode(ctx context.Context, req PairingCodeRequest) (string, error)
	ValidateConnection(ctx context.Context, req ValidateRequest) (bool, error)
}

// ProviderNotifier is a hook for provider-side lifecycle calls on disconnect
// and delete. The current provider contract has no hang-up endpoint, so the
// default implementation does nothing; the hook keeps the call sites in place
// for providers that grow one.
type ProviderNotifier interface {
	ChannelDisconnected(ctx context.Context, instanceName string)
	ChannelDeleted(ctx context.Context, instanceName string)
}

type noopProviderNotifier struct{}

func (noopProviderNotifier) ChannelDisconnected(context.Context, string) {}
func (noopProviderNotifier) ChannelDeleted(context.Context, string)     {}

// PairingEvent is one pairing-session event sent to observers.
type PairingEvent struct {
	// Type is "code", "connected", "status", or "error".
	Type string `json:"type"`
	// InstanceName identifies the pairing session.
	InstanceName string `json:"instance_name"`
	// Code is the base64 pairing payload (only for Type == "code").
	Code string `json:"code,omitempty"`
	// State is the connection state after the event.
	State ConnectionState `json:"state,omitempty"`
	// Message is a human-readable description.
	Message string `json:"message,omitempty"`
}

// Manager owns pairing sessions: code generation, the client-driven
// validation polling loop, and connection state transitions.
type Manager struct {
	conns       *store.ConnectionStore
	agents      *store.AgentStore
	provisioner *Provisioner
	client      PairingClient
	provider    ProviderNotifier
	logger      *slog.Logger

	pollInterval time.Duration

	// observers receive pairing events per instance; the last code is cached
	// so a late-joining observer still gets it.
	observersMu sync.Mutex
	observers   map[string][]chan PairingEvent
	lastCode    map[string]PairingEvent
}

// NewManager creates a pairing manager.
func NewManager(conns *store.ConnectionStore, agents *store.AgentStore, provisioner *Provisioner, client PairingClient, provider ProviderNotifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if provider == nil {
		provider = noopProviderNotifier{}
	}
	return &Manager{
		conns:        conns,
		agents:       agents,
		provisioner:  provisioner,
		client:       client,
		provider:     provider,
		logger:       logger.With("component", "pairing"),
		pollInterval: defaultPollInterval,
		observers:    make(map[string][]chan PairingEvent),
		lastCode:     make(map[string]PairingEvent),
	}
}

// StartPairingResult is the outcome of one started pairing session.
type StartPairingResult struct {
	Connection  *store.ChannelConnection
	PairingCode string
	// Warning carries a non-fatal degradation notice, or "".
	Warning string
}

// StartPairing opens a new pairing session for an operator's agent. The
// zero-agents precondition is checked before any network call. The session's
// instance name is an operator-derived prefix plus a random suffix; collision
// probability is negligible.
func (m *Manager) StartPairing(ctx context.Context, op OperatorContext) (*StartPairingResult, error) {
	count, err := m.agents.CountByOperator(ctx, op.OperatorID)
	if err != nil {
		return nil, fmt.Errorf("counting agents: %w", err)
	}
	if count == 0 {
		return nil, ErrNoAgents
	}
	op.AgentsCount = count

	op.InstanceName = instanceName(op.OperatorID)

	identity, warning, err := m.provisioner.EnsureIdentity(ctx, op)
	if err != nil {
		return nil, err
	}

	conn := &store.ChannelConnection{
		ID:           uuid.New().String(),
		OperatorID:   op.OperatorID,
		AgentID:      op.AgentID,
		InstanceName: op.InstanceName,
		Status:       string(StateConnecting),
	}
	if err := m.conns.Create(ctx, conn); err != nil {
		return nil, err
	}

	code, err := m.client.GeneratePairingCode(ctx, PairingCodeRequest{
		InstanceName:      op.InstanceName,
		OperatorID:        op.OperatorID,
		Email:             identity.Email,
		AgentID:           op.AgentID,
		ExternalAccountID: identity.ExternalAccountID,
	})
	if err != nil {
		m.transition(ctx, conn, StateError)
		m.notify(PairingEvent{Type: "error", InstanceName: conn.InstanceName,
			State: StateError, Message: "pairing code generation failed"})
		return nil, fmt.Errorf("generating pairing code: %w", err)
	}

	m.notify(PairingEvent{Type: "code", InstanceName: conn.InstanceName, Code: code})
	m.logger.Info("pairing started",
		"instance", conn.InstanceName, "operator_id", op.OperatorID)
	return &StartPairingResult{Connection: conn, PairingCode: code, Warning: warning}, nil
}

// RefreshPairingCode re-requests a code for an existing instance. Connection
// status is unchanged.
func (m *Manager) RefreshPairingCode(ctx context.Context, instanceName string) (string, error) {
	conn, err := m.conns.GetByInstance(ctx, instanceName)
	if err != nil {
		return "", err
	}
	identity, err := m.provisioner.identities.Get(ctx, conn.OperatorID)
	if err != nil {
		return "", fmt.Errorf("looking up identity: %w", err)
	}

	code, err := m.client.GeneratePairingCode(ctx, PairingCodeRequest{
		InstanceName:      conn.InstanceName,
		OperatorID:        conn.OperatorID,
		Email:             identity.Email,
		AgentID:           conn.AgentID,
		ExternalAccountID: identity.ExternalAccountID,
	})
	if err != nil {
		return "", fmt.Errorf("refreshing pairing code: %w", err)
	}
	m.notify(PairingEvent{Type: "code", InstanceName: conn.InstanceName, Code: code})
	return code, nil
}

// PollUntilConnected polls the validation endpoint every 30 seconds until
// the channel reports itself live or ctx is cancelled. There is no timeout:
// the loop is bound to the pairing UI session, and closing the session
// cancels ctx. Returns nil on success, ctx.Err() on cancellation.
func (m *Manager) PollUntilConnected(ctx context.Context, instanceName string) error {
	conn, err := m.conns.GetByInstance(ctx, instanceName)
	if err != nil {
		return err
	}
	identity, err := m.provisioner.identities.Get(ctx, conn.OperatorID)
	if err != nil {
		return fmt.Errorf("looking up identity: %w", err)
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("pairing poll cancelled", "instance", instanceName)
			return ctx.Err()
		case <-ticker.C:
			open, err := m.client.ValidateConnection(ctx, ValidateRequest{
				InstanceName:      conn.InstanceName,
				OperatorID:        conn.OperatorID,
				Email:             identity.Email,
				ExternalAccountID: identity.ExternalAccountID,
				ExternalUserID:    identity.ExternalUserID,
			})
			if err != nil {
				// Transient poll failures keep the loop alive.
				m.logger.Warn("validation poll failed", "instance", instanceName, "error", err)
				continue
			}
			if !open {
				continue
			}

			now := time.Now()
			conn.Status = string(StateConnected)
			conn.ConnectedAt = &now
			if err := m.conns.UpdateState(ctx, conn); err != nil {
				return fmt.Errorf("storing connected state: %w", err)
			}
			m.notify(PairingEvent{Type: "connected", InstanceName: instanceName, State: StateConnected})
			m.logger.Info("channel connected", "instance", instanceName)
			return nil
		}
	}
}

// Disconnect marks a connection disconnected. No provider call is made
// beyond the notifier hook.
func (m *Manager) Disconnect(ctx context.Context, connectionID string) (*store.ChannelConnection, error) {
	conn, err := m.conns.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(ConnectionState(conn.Status), StateDisconnected) {
		return nil, fmt.Errorf("cannot disconnect a %s connection", conn.Status)
	}

	now := time.Now()
	conn.Status = string(StateDisconnected)
	conn.DisconnectedAt = &now
	if err := m.conns.UpdateState(ctx, conn); err != nil {
		return nil, err
	}
	m.provider.ChannelDisconnected(ctx, conn.InstanceName)
	m.notify(PairingEvent{Type: "status", InstanceName: conn.InstanceName, State: StateDisconnected})
	m.logger.Info("channel disconnected", "instance", conn.InstanceName)
	return conn, nil
}

// Reconnect re-requests a pairing code for the same instance, resets status
// to connecting and clears the disconnection timestamp.
func (m *Manager) Reconnect(ctx context.Context, connectionID string) (*StartPairingResult, error) {
	conn, err := m.conns.Get(ctx, connectionID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(ConnectionState(conn.Status), StateConnecting) {
		return nil, fmt.Errorf("cannot reconnect a %s connection", conn.Status)
	}

	conn.Status = string(StateConnecting)
	conn.DisconnectedAt = nil
	if err := m.conns.UpdateState(ctx, conn); err != nil {
		return nil, err
	}

	code, err := m.RefreshPairingCode(ctx, conn.InstanceName)
	if err != nil {
		m.transition(ctx, conn, StateError)
		return nil, err
	}
	m.logger.Info("channel reconnecting", "instance", conn.InstanceName)
	return &StartPairingResult{Connection: conn, PairingCode: code}, nil
}

// Delete hard-deletes the connection row. The provider is not contacted
// beyond the notifier hook.
func (m *Manager) Delete(ctx context.Context, connectionID string) error {
	conn, err := m.conns.Get(ctx, connectionID)
	if err != nil {
		return err
	}
	if err := m.conns.Delete(ctx, conn.ID); err != nil {
		return err
	}
	m.provider.ChannelDeleted(ctx, conn.InstanceName)
	m.dropObservers(conn.InstanceName)
	m.logger.Info("channel deleted", "instance", conn.InstanceName)
	return nil
}

// List returns an operator's connections.
func (m *Manager) List(ctx context.Context, operatorID string) ([]*store.ChannelConnection, error) {
	return m.conns.ListByOperator(ctx, operatorID)
}

// ---------- Event Subscription ----------

// Subscribe registers an observer for one instance's pairing events.
// Returns an unsubscribe function. The last emitted code is replayed so a
// late-joining observer does not miss it.
func (m *Manager) Subscribe(instanceName string) (chan PairingEvent, func()) {
	ch := make(chan PairingEvent, 8)
	m.observersMu.Lock()
	m.observers[instanceName] = append(m.observers[instanceName], ch)
	if evt, ok := m.lastCode[instanceName]; ok {
		select {
		case ch <- evt:
		default:
		}
	}
	m.observersMu.Unlock()

	return ch, func() {
		m.observersMu.Lock()
		defer m.observersMu.Unlock()
		obs := m.observers[instanceName]
		for i, o := range obs {
			if o == ch {
				m.observers[instanceName] = append(obs[:i], obs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

func (m *Manager) notify(evt PairingEvent) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()

	if evt.Type == "code" {
		m.lastCode[evt.InstanceName] = evt
	} else {
		delete(m.lastCode, evt.InstanceName)
	}

	for _, ch := range m.observers[evt.InstanceName] {
		select {
		case ch <- evt:
		default:
			// Observer too slow, skip.
		}
	}
}

func (m *Manager) dropObservers(instanceName string) {
	m.observersMu.Lock()
	defer m.observersMu.Unlock()
	for _, ch := range m.observers[instanceName] {
		close(ch)
	}
	delete(m.observers, instanceName)
	delete(m.lastCode, instanceName)
}

func (m *Manager) transition(ctx context.Context, conn *store.ChannelConnection, to ConnectionState) {
	conn.Status = string(to)
	if err := m.conns.UpdateState(ctx, conn); err != nil {
		m.logger.Error("state transition write failed",
			"instance", conn.InstanceName, "to", to, "error", err)
	}
}

// instanceName builds a session token from an operator-derived prefix and a
// random suffix.
func instanceName(operatorID string) string {
	prefix := strings.ToLower(operatorID)
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return prefix + "-" + uuid.New().String()[:8]
}
