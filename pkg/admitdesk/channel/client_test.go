package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// validCode is a plausible base64 payload longer than the validity floor.
var validCode = strings.Repeat("iVBORw0KGgoAAAANSUhEUg", 6) + "=="

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(ClientConfig{
		ProvisionURL:   srv.URL + "/provision",
		PairingCodeURL: srv.URL + "/pairing",
		ValidateURL:    srv.URL + "/validate",
	}, nil)
	return client, srv
}

func TestGeneratePairingCode(t *testing.T) {
	t.Run("structured response with qrCode field", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"qrCode": validCode})
		})
		code, err := client.GeneratePairingCode(context.Background(), PairingCodeRequest{InstanceName: "inst"})
		if err != nil {
			t.Fatalf("GeneratePairingCode: %v", err)
		}
		if code != validCode {
			t.Errorf("got %q", code)
		}
	})

	t.Run("alias fields accepted", func(t *testing.T) {
		for _, field := range []string{"base64", "qr_code"} {
			client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{field: validCode})
			})
			if _, err := client.GeneratePairingCode(context.Background(), PairingCodeRequest{}); err != nil {
				t.Errorf("field %s rejected: %v", field, err)
			}
		}
	})

	t.Run("raw base64 body accepted", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(validCode))
		})
		code, err := client.GeneratePairingCode(context.Background(), PairingCodeRequest{})
		if err != nil {
			t.Fatalf("raw body rejected: %v", err)
		}
		if code != validCode {
			t.Errorf("got %q", code)
		}
	})

	t.Run("short payload rejected as no code", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"qrCode": "dG9vc2hvcnQ="})
		})
		_, err := client.GeneratePairingCode(context.Background(), PairingCodeRequest{})
		if !errors.Is(err, ErrNoPairingCode) {
			t.Errorf("got %v, want ErrNoPairingCode", err)
		}
	})

	t.Run("non-base64 charset rejected", func(t *testing.T) {
		bad := strings.Repeat("ab c!", 30)
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(bad))
		})
		_, err := client.GeneratePairingCode(context.Background(), PairingCodeRequest{})
		if !errors.Is(err, ErrNoPairingCode) {
			t.Errorf("got %v, want ErrNoPairingCode", err)
		}
	})

	t.Run("provider error surfaces", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		})
		if _, err := client.GeneratePairingCode(context.Background(), PairingCodeRequest{}); err == nil {
			t.Error("expected error for 502 response")
		}
	})
}

func TestValidPairingCode(t *testing.T) {
	tests := []struct {
		name string
		code string
		want bool
	}{
		{"valid long base64", validCode, true},
		{"too short", "QUJD", false},
		{"empty", "", false},
		{"invalid charset", strings.Repeat("a b", 50), false},
		{"padding allowed", strings.Repeat("A", 120) + "==", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validPairingCode(tt.code); got != tt.want {
				t.Errorf("validPairingCode(%q) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestValidateConnection(t *testing.T) {
	t.Run("state open is live", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"state": "open"})
		})
		open, err := client.ValidateConnection(context.Background(), ValidateRequest{})
		if err != nil || !open {
			t.Errorf("open=%v err=%v, want live", open, err)
		}
	})

	t.Run("other states are not live", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"state": "connecting"})
		})
		open, err := client.ValidateConnection(context.Background(), ValidateRequest{})
		if err != nil || open {
			t.Errorf("open=%v err=%v, want not live", open, err)
		}
	})

	t.Run("raw body containing open is live", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("session is open now"))
		})
		open, err := client.ValidateConnection(context.Background(), ValidateRequest{})
		if err != nil || !open {
			t.Errorf("open=%v err=%v, want live", open, err)
		}
	})
}

func TestProvisionIdentity(t *testing.T) {
	t.Run("first non-null alias wins", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"account_id":   "acct-9",
				"userId":       "user-3",
				"display_name": "Riverside",
				"token":        "tok-1",
			})
		})
		resp, err := client.ProvisionIdentity(context.Background(), ProvisionRequest{})
		if err != nil {
			t.Fatalf("ProvisionIdentity: %v", err)
		}
		if resp.AccountID != "acct-9" || resp.UserID != "user-3" ||
			resp.DisplayName != "Riverside" || resp.AccessToken != "tok-1" {
			t.Errorf("aliases not resolved: %+v", resp)
		}
	})

	t.Run("request carries operator fields", func(t *testing.T) {
		var seen ProvisionRequest
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&seen)
			w.Write([]byte("{}"))
		})
		_, err := client.ProvisionIdentity(context.Background(), ProvisionRequest{
			OperatorID: "ops-1", Email: "ops@riverside.edu", Secret: "s3cret", AgentsCount: 2,
		})
		if err != nil {
			t.Fatalf("ProvisionIdentity: %v", err)
		}
		if seen.OperatorID != "ops-1" || seen.Email != "ops@riverside.edu" ||
			seen.Secret != "s3cret" || seen.AgentsCount != 2 {
			t.Errorf("request fields lost: %+v", seen)
		}
	})
}
