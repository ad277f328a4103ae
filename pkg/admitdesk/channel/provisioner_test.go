package channel

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func openTestBackend(t *testing.T) *database.Backend {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	backend, err := database.Open(cfg, testLogger())
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })
	return backend
}

// fakeIdentityClient scripts provisioning responses.
type fakeIdentityClient struct {
	calls []ProvisionRequest
	resp  *ProvisionResponse
	err   error
}

func (f *fakeIdentityClient) ProvisionIdentity(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func TestEnsureIdentity(t *testing.T) {
	op := OperatorContext{
		OperatorID:  "ops-1",
		DisplayName: "Riverside University",
		Email:       "ops@riverside.edu",
	}

	t.Run("provisions once and reuses the row", func(t *testing.T) {
		backend := openTestBackend(t)
		identities := store.NewIdentityStore(backend)
		client := &fakeIdentityClient{resp: &ProvisionResponse{
			AccountID: "acct-1", UserID: "user-1", AccessToken: "tok-1",
		}}
		p := NewProvisioner(identities, client, "standard", testLogger())

		first, warning, err := p.EnsureIdentity(context.Background(), op)
		if err != nil {
			t.Fatalf("first EnsureIdentity: %v", err)
		}
		if warning != "" {
			t.Errorf("unexpected warning: %q", warning)
		}
		if first.ExternalAccountID != "acct-1" || first.AccessToken != "tok-1" {
			t.Errorf("provider fields not stored: %+v", first)
		}

		second, _, err := p.EnsureIdentity(context.Background(), op)
		if err != nil {
			t.Fatalf("second EnsureIdentity: %v", err)
		}
		if second.Secret != first.Secret {
			t.Error("secret changed between calls")
		}
		if len(client.calls) != 2 {
			t.Errorf("expected a provider call per attempt, got %d", len(client.calls))
		}
		// Second call must tell the provider about the existing account.
		if client.calls[1].ExistingExternalAccountID != "acct-1" {
			t.Errorf("existing account id not forwarded: %+v", client.calls[1])
		}
	})

	t.Run("secret is deterministic before first success", func(t *testing.T) {
		a := deriveSecret("ops@riverside.edu", "ops-1")
		b := deriveSecret("ops@riverside.edu", "ops-1")
		if a != b {
			t.Error("same inputs derived different secrets")
		}
		if a == deriveSecret("other@riverside.edu", "ops-1") {
			t.Error("different email derived the same secret")
		}
		if len(a) != 64 {
			t.Errorf("secret length %d, want 64 hex chars", len(a))
		}
	})

	t.Run("provider failure falls back to placeholder identity", func(t *testing.T) {
		backend := openTestBackend(t)
		identities := store.NewIdentityStore(backend)
		client := &fakeIdentityClient{err: errors.New("provider down")}
		p := NewProvisioner(identities, client, "standard", testLogger())

		identity, warning, err := p.EnsureIdentity(context.Background(), op)
		if err != nil {
			t.Fatalf("degraded EnsureIdentity must not fail: %v", err)
		}
		if warning == "" {
			t.Error("expected a degradation warning")
		}
		if !strings.HasPrefix(identity.ExternalAccountID, "local-") {
			t.Errorf("placeholder account id missing: %q", identity.ExternalAccountID)
		}

		stored, err := identities.Get(context.Background(), op.OperatorID)
		if err != nil {
			t.Fatalf("placeholder row not stored: %v", err)
		}
		if stored.Secret != identity.Secret {
			t.Error("stored secret differs")
		}
	})

	t.Run("refresh never overwrites the stored secret", func(t *testing.T) {
		backend := openTestBackend(t)
		identities := store.NewIdentityStore(backend)
		client := &fakeIdentityClient{resp: &ProvisionResponse{AccountID: "acct-1"}}
		p := NewProvisioner(identities, client, "standard", testLogger())

		first, _, err := p.EnsureIdentity(context.Background(), op)
		if err != nil {
			t.Fatalf("EnsureIdentity: %v", err)
		}

		// Provider returning new identifiers must not touch the secret.
		client.resp = &ProvisionResponse{AccountID: "acct-2", AccessToken: "tok-2"}
		second, _, err := p.EnsureIdentity(context.Background(), op)
		if err != nil {
			t.Fatalf("EnsureIdentity: %v", err)
		}
		if second.Secret != first.Secret {
			t.Error("secret overwritten on refresh")
		}
		if second.ExternalAccountID != "acct-2" || second.AccessToken != "tok-2" {
			t.Errorf("refreshed fields not applied: %+v", second)
		}
	})

	t.Run("at most one identity row per operator", func(t *testing.T) {
		backend := openTestBackend(t)
		identities := store.NewIdentityStore(backend)
		client := &fakeIdentityClient{resp: &ProvisionResponse{AccountID: "acct-1"}}
		p := NewProvisioner(identities, client, "standard", testLogger())

		for i := 0; i < 3; i++ {
			if _, _, err := p.EnsureIdentity(context.Background(), op); err != nil {
				t.Fatalf("EnsureIdentity #%d: %v", i, err)
			}
		}

		var count int
		row := backend.DB.QueryRow(`SELECT COUNT(*) FROM channel_identities WHERE operator_id = ?`, op.OperatorID)
		if err := row.Scan(&count); err != nil {
			t.Fatalf("count rows: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 identity row, got %d", count)
		}
	})
}
