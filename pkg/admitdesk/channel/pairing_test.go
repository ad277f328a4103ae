package channel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

// fakePairingClient scripts pairing-code and validation responses and counts
// network calls.
type fakePairingClient struct {
	codeCalls     atomic.Int32
	validateCalls atomic.Int32

	code    string
	codeErr error

	// openAfter makes ValidateConnection report live from the Nth call on.
	openAfter int32
}

func (f *fakePairingClient) GeneratePairingCode(ctx context.Context, req PairingCodeRequest) (string, error) {
	f.codeCalls.Add(1)
	if f.codeErr != nil {
		return "", f.codeErr
	}
	return f.code, nil
}

func (f *fakePairingClient) ValidateConnection(ctx context.Context, req ValidateRequest) (bool, error) {
	n := f.validateCalls.Add(1)
	return f.openAfter > 0 && n >= f.openAfter, nil
}

func newTestManager(t *testing.T, client *fakePairingClient) (*Manager, *store.AgentStore, *store.ConnectionStore) {
	t.Helper()
	backend := openTestBackend(t)
	agents := store.NewAgentStore(backend)
	conns := store.NewConnectionStore(backend)
	identities := store.NewIdentityStore(backend)

	provisioner := NewProvisioner(identities, &fakeIdentityClient{
		resp: &ProvisionResponse{AccountID: "acct-1", UserID: "user-1"},
	}, "standard", testLogger())

	m := NewManager(conns, agents, provisioner, client, nil, testLogger())
	return m, agents, conns
}

func seedAgent(t *testing.T, agents *store.AgentStore, operatorID string) {
	t.Helper()
	err := agents.Create(context.Background(), &store.Agent{
		ID:                  uuid.New().String(),
		OperatorID:          operatorID,
		Name:                "Clara",
		OperatorDisplayName: "Riverside University",
		AgentType:           "admissions",
		Personality:         "friendly",
	})
	if err != nil {
		t.Fatalf("seed agent: %v", err)
	}
}

func testOperator() OperatorContext {
	return OperatorContext{
		OperatorID:  "ops-1",
		DisplayName: "Riverside University",
		Email:       "ops@riverside.edu",
	}
}

func TestStartPairing(t *testing.T) {
	t.Run("rejects operator with zero agents before any network call", func(t *testing.T) {
		client := &fakePairingClient{code: validCode}
		m, _, _ := newTestManager(t, client)

		_, err := m.StartPairing(context.Background(), testOperator())
		if !errors.Is(err, ErrNoAgents) {
			t.Fatalf("got %v, want ErrNoAgents", err)
		}
		if client.codeCalls.Load() != 0 {
			t.Error("pairing-code endpoint was called despite zero agents")
		}
	})

	t.Run("creates a connecting session with a valid code", func(t *testing.T) {
		client := &fakePairingClient{code: validCode}
		m, agents, conns := newTestManager(t, client)
		seedAgent(t, agents, "ops-1")

		result, err := m.StartPairing(context.Background(), testOperator())
		if err != nil {
			t.Fatalf("StartPairing: %v", err)
		}
		if result.PairingCode != validCode {
			t.Errorf("code: got %q", result.PairingCode)
		}
		if result.Connection.Status != string(StateConnecting) {
			t.Errorf("status: got %q, want connecting", result.Connection.Status)
		}

		stored, err := conns.GetByInstance(context.Background(), result.Connection.InstanceName)
		if err != nil {
			t.Fatalf("connection row not stored: %v", err)
		}
		if stored.Status != string(StateConnecting) {
			t.Errorf("stored status: got %q", stored.Status)
		}
	})

	t.Run("instance names are unique per session", func(t *testing.T) {
		client := &fakePairingClient{code: validCode}
		m, agents, _ := newTestManager(t, client)
		seedAgent(t, agents, "ops-1")

		a, err := m.StartPairing(context.Background(), testOperator())
		if err != nil {
			t.Fatalf("StartPairing: %v", err)
		}
		b, err := m.StartPairing(context.Background(), testOperator())
		if err != nil {
			t.Fatalf("StartPairing: %v", err)
		}
		if a.Connection.InstanceName == b.Connection.InstanceName {
			t.Error("two sessions share an instance name")
		}
	})

	t.Run("code generation failure marks the session error", func(t *testing.T) {
		client := &fakePairingClient{codeErr: errors.New("provider down")}
		m, agents, conns := newTestManager(t, client)
		seedAgent(t, agents, "ops-1")

		_, err := m.StartPairing(context.Background(), testOperator())
		if err == nil {
			t.Fatal("expected error")
		}

		list, err := conns.ListByOperator(context.Background(), "ops-1")
		if err != nil || len(list) != 1 {
			t.Fatalf("connections: %v (%d rows)", err, len(list))
		}
		if list[0].Status != string(StateError) {
			t.Errorf("status: got %q, want error", list[0].Status)
		}
	})
}

func TestPollUntilConnected(t *testing.T) {
	t.Run("promotes to connected when the channel opens", func(t *testing.T) {
		client := &fakePairingClient{code: validCode, openAfter: 2}
		m, agents, conns := newTestManager(t, client)
		m.pollInterval = 10 * time.Millisecond
		seedAgent(t, agents, "ops-1")

		result, err := m.StartPairing(context.Background(), testOperator())
		if err != nil {
			t.Fatalf("StartPairing: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.PollUntilConnected(ctx, result.Connection.InstanceName); err != nil {
			t.Fatalf("PollUntilConnected: %v", err)
		}

		conn, err := conns.GetByInstance(context.Background(), result.Connection.InstanceName)
		if err != nil {
			t.Fatalf("connection: %v", err)
		}
		if conn.Status != string(StateConnected) {
			t.Errorf("status: got %q, want connected", conn.Status)
		}
		if conn.ConnectedAt == nil {
			t.Error("connectedAt not set")
		}
		if client.validateCalls.Load() < 2 {
			t.Errorf("expected at least 2 polls, got %d", client.validateCalls.Load())
		}
	})

	t.Run("closing the session stops polling without a state change", func(t *testing.T) {
		client := &fakePairingClient{code: validCode} // never opens
		m, agents, conns := newTestManager(t, client)
		m.pollInterval = 10 * time.Millisecond
		seedAgent(t, agents, "ops-1")

		result, err := m.StartPairing(context.Background(), testOperator())
		if err != nil {
			t.Fatalf("StartPairing: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		err = m.PollUntilConnected(ctx, result.Connection.InstanceName)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", err)
		}

		conn, _ := conns.GetByInstance(context.Background(), result.Connection.InstanceName)
		if conn.Status != string(StateConnecting) {
			t.Errorf("status changed on cancellation: %q", conn.Status)
		}
	})
}

func TestConnectionLifecycle(t *testing.T) {
	start := func(t *testing.T, client *fakePairingClient) (*Manager, *store.ChannelConnection, *store.ConnectionStore) {
		m, agents, conns := newTestManager(t, client)
		seedAgent(t, agents, "ops-1")
		result, err := m.StartPairing(context.Background(), testOperator())
		if err != nil {
			t.Fatalf("StartPairing: %v", err)
		}
		return m, result.Connection, conns
	}

	// connect drives the session to connected via the polling loop.
	connect := func(t *testing.T, m *Manager, conn *store.ChannelConnection) {
		t.Helper()
		m.pollInterval = 10 * time.Millisecond
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := m.PollUntilConnected(ctx, conn.InstanceName); err != nil {
			t.Fatalf("PollUntilConnected: %v", err)
		}
	}

	t.Run("disconnecting a connecting session is illegal", func(t *testing.T) {
		m, conn, conns := start(t, &fakePairingClient{code: validCode})

		if _, err := m.Disconnect(context.Background(), conn.ID); err == nil {
			t.Fatal("expected transition error for a session that never connected")
		}
		stored, _ := conns.Get(context.Background(), conn.ID)
		if stored.Status != string(StateConnecting) {
			t.Errorf("status changed: got %q, want connecting", stored.Status)
		}
	})

	t.Run("disconnect stamps disconnectedAt", func(t *testing.T) {
		m, conn, _ := start(t, &fakePairingClient{code: validCode, openAfter: 1})
		connect(t, m, conn)

		updated, err := m.Disconnect(context.Background(), conn.ID)
		if err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
		if updated.Status != string(StateDisconnected) {
			t.Errorf("status: got %q", updated.Status)
		}
		if updated.DisconnectedAt == nil {
			t.Error("disconnectedAt not set")
		}
	})

	t.Run("reconnect resets to connecting and clears disconnectedAt", func(t *testing.T) {
		m, conn, conns := start(t, &fakePairingClient{code: validCode, openAfter: 1})
		connect(t, m, conn)

		if _, err := m.Disconnect(context.Background(), conn.ID); err != nil {
			t.Fatalf("Disconnect: %v", err)
		}
		result, err := m.Reconnect(context.Background(), conn.ID)
		if err != nil {
			t.Fatalf("Reconnect: %v", err)
		}
		if result.PairingCode != validCode {
			t.Errorf("code: got %q", result.PairingCode)
		}

		stored, _ := conns.Get(context.Background(), conn.ID)
		if stored.Status != string(StateConnecting) {
			t.Errorf("status: got %q, want connecting", stored.Status)
		}
		if stored.DisconnectedAt != nil {
			t.Error("disconnectedAt not cleared")
		}
		// Same instance name is reused for the reconnect.
		if stored.InstanceName != conn.InstanceName {
			t.Error("reconnect changed the instance name")
		}
	})

	t.Run("reconnecting a connecting session is illegal", func(t *testing.T) {
		m, conn, _ := start(t, &fakePairingClient{code: validCode})
		if _, err := m.Reconnect(context.Background(), conn.ID); err == nil {
			t.Error("expected transition error")
		}
	})

	t.Run("delete removes the row", func(t *testing.T) {
		m, conn, conns := start(t, &fakePairingClient{code: validCode})
		if err := m.Delete(context.Background(), conn.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := conns.Get(context.Background(), conn.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("row survived delete: %v", err)
		}
	})
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to ConnectionState
		want     bool
	}{
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateError, true},
		{StateConnecting, StateDisconnected, false},
		{StateConnected, StateDisconnected, true},
		{StateDisconnected, StateConnecting, true},
		{StateError, StateConnecting, true},
		{StateConnected, StateConnecting, false},
		{StateDisconnected, StateConnected, false},
		{StateError, StateConnected, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPairingEvents(t *testing.T) {
	t.Run("late observer receives cached code", func(t *testing.T) {
		client := &fakePairingClient{code: validCode}
		m, agents, _ := newTestManager(t, client)
		seedAgent(t, agents, "ops-1")

		result, err := m.StartPairing(context.Background(), testOperator())
		if err != nil {
			t.Fatalf("StartPairing: %v", err)
		}

		// Subscribe after the event.
		ch, unsubscribe := m.Subscribe(result.Connection.InstanceName)
		defer unsubscribe()

		select {
		case evt := <-ch:
			if evt.Type != "code" || evt.Code != validCode {
				t.Errorf("unexpected event: %+v", evt)
			}
		case <-time.After(time.Second):
			t.Fatal("cached code not replayed")
		}
	})

	t.Run("unsubscribe closes the channel", func(t *testing.T) {
		client := &fakePairingClient{code: validCode}
		m, _, _ := newTestManager(t, client)

		ch, unsubscribe := m.Subscribe("inst-x")
		unsubscribe()
		if _, ok := <-ch; ok {
			t.Error("channel still open after unsubscribe")
		}
	})
}
