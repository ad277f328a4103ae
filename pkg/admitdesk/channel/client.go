package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Sentinel errors for the vendor client.
var (
	// ErrNoPairingCode means the provider answered but produced no usable
	// base64 pairing payload.
	ErrNoPairingCode = errors.New("provider returned no pairing code")
)

// pairingCodeRe matches a valid base64 pairing payload.
var pairingCodeRe = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// minPairingCodeLen is the shortest payload accepted as a real code. Anything
// shorter is noise, not an image.
const minPairingCodeLen = 100

// ClientConfig configures the channel-provider HTTP client.
type ClientConfig struct {
	// ProvisionURL receives identity provisioning requests.
	ProvisionURL string `yaml:"provision_url"`

	// PairingCodeURL receives pairing-code generation requests.
	PairingCodeURL string `yaml:"pairing_code_url"`

	// ValidateURL receives connection validation polls.
	ValidateURL string `yaml:"validate_url"`

	// APIKey is sent as a bearer token when set.
	APIKey string `yaml:"api_key"`

	// Timeout bounds one provider call (default: 30s).
	Timeout time.Duration `yaml:"timeout"`
}

// Client talks to the external channel provider over narrow HTTP contracts.
type Client struct {
	cfg    ClientConfig
	client *http.Client
	logger *slog.Logger
}

// NewClient creates a provider client.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "channel-client"),
	}
}

// ProvisionRequest is the outbound identity provisioning payload.
type ProvisionRequest struct {
	OperatorDisplayName       string `json:"operatorDisplayName"`
	OperatorID                string `json:"operatorId"`
	InstanceName              string `json:"instanceName"`
	Email                     string `json:"email"`
	Secret                    string `json:"secret"`
	Plan                      string `json:"plan"`
	AgentsCount               int    `json:"agentsCount"`
	AgentID                   string `json:"agentId"`
	ExistingExternalAccountID string `json:"existingExternalAccountId,omitempty"`
	ExistingExternalUserID    string `json:"existingExternalUserId,omitempty"`
}

// ProvisionResponse carries the identity fields the provider returned.
// Providers disagree on field names; first non-null alias wins.
type ProvisionResponse struct {
	AccountID   string
	UserID      string
	DisplayName string
	AccessToken string
}

// Response alias tables, tried in order.
var (
	accountIDAliases   = []string{"accountId", "account_id", "externalAccountId", "id"}
	userIDAliases      = []string{"userId", "user_id", "externalUserId"}
	displayNameAliases = []string{"displayName", "display_name", "name"}
	accessTokenAliases = []string{"accessToken", "access_token", "token"}
)

// ProvisionIdentity invokes the external provisioning endpoint. The call is
// an idempotent upsert on the provider side.
func (c *Client) ProvisionIdentity(ctx context.Context, req ProvisionRequest) (*ProvisionResponse, error) {
	body, err := c.post(ctx, c.cfg.ProvisionURL, req)
	if err != nil {
		return nil, err
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("parsing provisioning response: %w", err)
	}
	return &ProvisionResponse{
		AccountID:   firstAlias(payload, accountIDAliases),
		UserID:      firstAlias(payload, userIDAliases),
		DisplayName: firstAlias(payload, displayNameAliases),
		AccessToken: firstAlias(payload, accessTokenAliases),
	}, nil
}

// PairingCodeRequest is the outbound pairing-code generation payload.
type PairingCodeRequest struct {
	InstanceName      string `json:"instanceName"`
	OperatorID        string `json:"operatorId"`
	Email             string `json:"email"`
	AgentID           string `json:"agentId"`
	ExternalAccountID string `json:"externalAccountId,omitempty"`
}

// pairingCodeAliases are the JSON fields a structured response may carry
// the base64 payload in.
var pairingCodeAliases = []string{"qrCode", "base64", "qr_code"}

// GeneratePairingCode requests a pairing code for an instance. The provider
// answers either as JSON with a base64 field or as a raw base64 body; both
// are accepted. An answer with no valid payload is ErrNoPairingCode.
func (c *Client) GeneratePairingCode(ctx context.Context, req PairingCodeRequest) (string, error) {
	body, err := c.post(ctx, c.cfg.PairingCodeURL, req)
	if err != nil {
		return "", err
	}

	var payload map[string]any
	if json.Unmarshal(body, &payload) == nil {
		if code := firstAlias(payload, pairingCodeAliases); validPairingCode(code) {
			return code, nil
		}
		return "", ErrNoPairingCode
	}

	// Raw-body form.
	if code := strings.TrimSpace(string(body)); validPairingCode(code) {
		return code, nil
	}
	return "", ErrNoPairingCode
}

// ValidateRequest is the outbound connection validation payload.
type ValidateRequest struct {
	InstanceName      string `json:"instanceName"`
	OperatorID        string `json:"operatorId"`
	Email             string `json:"email"`
	ExternalAccountID string `json:"externalAccountId,omitempty"`
	ExternalUserID    string `json:"externalUserId,omitempty"`
}

// ValidateConnection polls the provider for the channel's liveness. Only the
// state "open" counts as live; when structured parsing fails, a raw body
// containing "open" is accepted as the same signal.
func (c *Client) ValidateConnection(ctx context.Context, req ValidateRequest) (bool, error) {
	body, err := c.post(ctx, c.cfg.ValidateURL, req)
	if err != nil {
		return false, err
	}

	var payload struct {
		State string `json:"state"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.State != "" {
		return payload.State == "open", nil
	}
	return strings.Contains(string(body), "open"), nil
}

func (c *Client) post(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("reading provider response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}
	return data, nil
}

// validPairingCode reports whether s is an acceptable base64 pairing payload.
func validPairingCode(s string) bool {
	return len(s) > minPairingCodeLen && pairingCodeRe.MatchString(s)
}

func firstAlias(m map[string]any, aliases []string) string {
	for _, key := range aliases {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
