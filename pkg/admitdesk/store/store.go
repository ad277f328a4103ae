// Package store implements the durable record types and their repositories.
// Each repository wraps a *sql.DB from the database hub; every write is an
// independent statement — no multi-row transactional guarantees are assumed.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// TranscriptionStatus is the processing state of a knowledge document.
type TranscriptionStatus string

const (
	TranscriptionPending   TranscriptionStatus = "pending"
	TranscriptionCompleted TranscriptionStatus = "completed"
	TranscriptionFailed    TranscriptionStatus = "failed"
)

// Agent is a durable conversational-agent configuration.
type Agent struct {
	ID                  string    `json:"id"`
	OperatorID          string    `json:"operator_id"`
	Name                string    `json:"name"`
	OperatorDisplayName string    `json:"operator_display_name"`
	AgentType           string    `json:"agent_type"`
	Personality         string    `json:"personality"`
	CustomInstructions  string    `json:"custom_instructions,omitempty"`
	ComposedPrompt      string    `json:"composed_prompt"`
	WebhookStatus       string    `json:"webhook_status,omitempty"`
	WebhookResult       string    `json:"webhook_result,omitempty"`
	WebhookAt           string    `json:"webhook_at,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// KnowledgeDocument belongs to exactly one agent.
type KnowledgeDocument struct {
	ID                  string              `json:"id"`
	AgentID             string              `json:"agent_id"`
	DisplayName         string              `json:"display_name"`
	MimeType            string              `json:"mime_type"`
	StorageLocation     string              `json:"storage_location"`
	TranscriptionStatus TranscriptionStatus `json:"transcription_status"`
	TranscriptionText   string              `json:"transcription_text,omitempty"`
	RawWorkerResult     string              `json:"raw_worker_result,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

// ChannelIdentity is the per-operator messaging-backend account.
type ChannelIdentity struct {
	OperatorID        string    `json:"operator_id"`
	DisplayName       string    `json:"display_name"`
	Email             string    `json:"email"`
	Secret            string    `json:"-"`
	AccessToken       string    `json:"-"`
	ExternalAccountID string    `json:"external_account_id,omitempty"`
	ExternalUserID    string    `json:"external_user_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// ChannelConnection is one pairing/channel session.
type ChannelConnection struct {
	ID             string     `json:"id"`
	OperatorID     string     `json:"operator_id"`
	AgentID        string     `json:"agent_id,omitempty"`
	InstanceName   string     `json:"instance_name"`
	Status         string     `json:"status"`
	PhoneNumber    string     `json:"phone_number,omitempty"`
	ConnectedAt    *time.Time `json:"connected_at,omitempty"`
	DisconnectedAt *time.Time `json:"disconnected_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Student is an admissions portal row (thin CRUD, consumed as a get/put store).
type Student struct {
	ID         string    `json:"id"`
	OperatorID string    `json:"operator_id"`
	FullName   string    `json:"full_name"`
	Email      string    `json:"email,omitempty"`
	Phone      string    `json:"phone,omitempty"`
	Program    string    `json:"program,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FeeRecord is a fee table row for a student.
type FeeRecord struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	Description string    `json:"description"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	DueAt       string    `json:"due_at,omitempty"`
	PaidAt      string    `json:"paid_at,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// rebind converts `?` placeholders to `$n` for PostgreSQL backends.
// SQLite queries pass through untouched.
func rebind(postgres bool, query string) string {
	if !postgres {
		return query
	}
	var out []byte
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, '$')
			out = appendInt(out, n)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func appendInt(b []byte, n int) []byte {
	if n >= 10 {
		b = appendInt(b, n/10)
	}
	return append(b, byte('0'+n%10))
}

// ── Timestamp helpers ──
// Rows store timestamps as RFC3339 TEXT; empty means NULL.

func timeToDB(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func timeFromDB(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func ptrToDB(t *time.Time) string {
	if t == nil {
		return ""
	}
	return timeToDB(*t)
}

func ptrFromDB(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := timeFromDB(s)
	if t.IsZero() {
		return nil
	}
	return &t
}
