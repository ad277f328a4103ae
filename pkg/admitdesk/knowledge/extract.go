package knowledge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Worker callbacks arrive with shapes this system does not control. Instead
// of cascaded conditionals, extraction runs an ordered list of strategies
// over centralized alias tables and takes the first non-empty result.

// transcriptAliases are the fields tried first, in priority order.
var transcriptAliases = []string{"transcription", "text", "content", "merged_text"}

// scalarFallbackAliases are last-resort scalar fields joined into a line.
var scalarFallbackAliases = []string{"position", "title", "date"}

type extractStrategy func(payload map[string]any) string

var extractStrategies = []extractStrategy{
	extractAliasedText,
	extractCourses,
	extractScalarFallback,
	extractWholePayload,
}

// ExtractTranscript pulls the best-effort transcript text out of an
// arbitrary worker payload. Returns "" only for an empty payload.
func ExtractTranscript(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	for _, strategy := range extractStrategies {
		if text := strategy(payload); text != "" {
			return text
		}
	}
	return ""
}

func extractAliasedText(payload map[string]any) string {
	for _, key := range transcriptAliases {
		if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// extractCourses joins a `courses` array with newlines. Entries may be
// strings or objects; objects are serialized per line.
func extractCourses(payload map[string]any) string {
	raw, ok := payload["courses"].([]any)
	if !ok || len(raw) == 0 {
		return ""
	}
	lines := make([]string, 0, len(raw))
	for _, entry := range raw {
		switch v := entry.(type) {
		case string:
			lines = append(lines, v)
		default:
			b, err := json.Marshal(v)
			if err != nil {
				lines = append(lines, fmt.Sprintf("%v", v))
				continue
			}
			lines = append(lines, string(b))
		}
	}
	return strings.Join(lines, "\n")
}

func extractScalarFallback(payload map[string]any) string {
	var parts []string
	for _, key := range scalarFallbackAliases {
		if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

func extractWholePayload(payload map[string]any) string {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(b)
}

// ── Serialization safety ──

// serializationPlaceholder is stored in place of a worker result that could
// not be rendered as JSON, keeping the row queryable.
type serializationPlaceholder struct {
	Error      string `json:"error"`
	Raw        string `json:"raw"`
	ReceivedAt string `json:"received_at"`
}

// SafeRawJSON renders a worker result for durable storage. A payload that
// cannot be marshaled is replaced with a placeholder carrying a string
// rendition of the original and a timestamp; this function never fails.
func SafeRawJSON(payload any) string {
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			return string(b)
		}
	}
	placeholder := serializationPlaceholder{
		Error:      "worker result was not JSON-serializable",
		Raw:        fmt.Sprintf("%v", payload),
		ReceivedAt: time.Now().UTC().Format(time.RFC3339),
	}
	b, _ := json.Marshal(placeholder)
	return string(b)
}

// ── Result parsing ──

// Aliases for the correlation keys, tried in order; first non-empty wins.
var (
	agentIDAliases  = []string{"agent_id", "agentId", "agent"}
	fileURLAliases  = []string{"file_url", "fileUrl", "storage_location", "url"}
	fileNameAliases = []string{"file_name", "fileName", "filename", "name"}
)

// Result is one inbound worker callback, reduced to the correlation keys
// plus the parsed payload. Payload is nil when the body was unparsable.
type Result struct {
	AgentID  string
	FileURL  string
	FileName string
	Payload  map[string]any
	Raw      []byte
}

// ParseResult builds a Result from a raw callback body. Correlation keys
// found in the payload override the hint values (typically query params).
func ParseResult(raw []byte, agentIDHint, fileURLHint, fileNameHint string) Result {
	res := Result{
		AgentID:  agentIDHint,
		FileURL:  fileURLHint,
		FileName: fileNameHint,
		Raw:      raw,
	}

	var payload map[string]any
	if len(raw) > 0 && json.Unmarshal(raw, &payload) == nil {
		res.Payload = payload
		if v := firstString(payload, agentIDAliases); v != "" {
			res.AgentID = v
		}
		if v := firstString(payload, fileURLAliases); v != "" {
			res.FileURL = v
		}
		if v := firstString(payload, fileNameAliases); v != "" {
			res.FileName = v
		}
	}
	return res
}

func firstString(m map[string]any, aliases []string) string {
	for _, key := range aliases {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
