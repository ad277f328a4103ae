package channel

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

// IdentityClient is the provider surface the provisioner depends on.
type IdentityClient interface {
	ProvisionIdentity(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error)
}

// Provisioner ensures exactly one ChannelIdentity per operator. Provisioning
// is idempotent: repeated calls refresh provider-issued fields but never
// touch an already stored secret.
type Provisioner struct {
	identities *store.IdentityStore
	client     IdentityClient
	plan       string
	logger     *slog.Logger
}

// NewProvisioner creates an identity provisioner.
func NewProvisioner(identities *store.IdentityStore, client IdentityClient, plan string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	if plan == "" {
		plan = "standard"
	}
	return &Provisioner{
		identities: identities,
		client:     client,
		plan:       plan,
		logger:     logger.With("component", "provisioner"),
	}
}

// OperatorContext carries the operator fields provisioning needs.
type OperatorContext struct {
	OperatorID   string
	DisplayName  string
	Email        string
	InstanceName string
	AgentID      string
	AgentsCount  int
}

// EnsureIdentity returns the operator's ChannelIdentity, provisioning one on
// first use. A provider failure does not abort the caller: a locally
// synthesized placeholder identity is stored instead so pairing can proceed
// in degraded mode, and the degradation is reported through the returned
// warning string.
func (p *Provisioner) EnsureIdentity(ctx context.Context, op OperatorContext) (*store.ChannelIdentity, string, error) {
	existing, err := p.identities.Get(ctx, op.OperatorID)
	if err != nil && err != store.ErrNotFound {
		return nil, "", fmt.Errorf("looking up identity: %w", err)
	}

	identity := existing
	if identity == nil {
		identity = &store.ChannelIdentity{
			OperatorID:  op.OperatorID,
			DisplayName: op.DisplayName,
			Email:       op.Email,
			Secret:      deriveSecret(op.Email, op.OperatorID),
		}
	}

	req := ProvisionRequest{
		OperatorDisplayName: op.DisplayName,
		OperatorID:          op.OperatorID,
		InstanceName:        op.InstanceName,
		Email:               op.Email,
		Secret:              identity.Secret,
		Plan:                p.plan,
		AgentsCount:         op.AgentsCount,
		AgentID:             op.AgentID,
	}
	if existing != nil {
		req.ExistingExternalAccountID = existing.ExternalAccountID
		req.ExistingExternalUserID = existing.ExternalUserID
	}

	resp, err := p.client.ProvisionIdentity(ctx, req)
	if err != nil {
		p.logger.Warn("identity provisioning failed, using placeholder",
			"operator_id", op.OperatorID, "error", err)
		if identity.ExternalAccountID == "" {
			identity.ExternalAccountID = "local-" + uuid.New().String()[:8]
		}
		if identity.ExternalUserID == "" {
			identity.ExternalUserID = "local-" + uuid.New().String()[:8]
		}
		if putErr := p.identities.Put(ctx, identity); putErr != nil {
			return nil, "", fmt.Errorf("storing placeholder identity: %w", putErr)
		}
		return identity, "channel account could not be provisioned; pairing will run in degraded mode", nil
	}

	// Provider-issued fields refresh the row; the stored secret never changes.
	if resp.AccountID != "" {
		identity.ExternalAccountID = resp.AccountID
	}
	if resp.UserID != "" {
		identity.ExternalUserID = resp.UserID
	}
	if resp.DisplayName != "" {
		identity.DisplayName = resp.DisplayName
	}
	if resp.AccessToken != "" {
		identity.AccessToken = resp.AccessToken
	}

	if err := p.identities.Put(ctx, identity); err != nil {
		return nil, "", fmt.Errorf("storing identity: %w", err)
	}
	p.logger.Info("channel identity ensured",
		"operator_id", op.OperatorID, "account_id", identity.ExternalAccountID)
	return identity, "", nil
}

// deriveSecret deterministically derives a secret from the operator's email
// and id, so repeated provisioning attempts before the first successful
// round-trip produce the same value.
func deriveSecret(email, operatorID string) string {
	r := hkdf.New(sha256.New, []byte(email), []byte(operatorID), []byte("channel-identity-secret"))
	buf := make([]byte, 32)
	if _, err := io.ReadFull(r, buf); err != nil {
		// hkdf never fails for these lengths.
		panic(err)
	}
	return hex.EncodeToString(buf)
}
