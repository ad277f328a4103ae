package webui

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/agent"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/channel"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/knowledge"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

// maxUploadBytes bounds one multipart document upload.
const maxUploadBytes = 25 << 20

// ── Health ──

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── Agents ──

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	op := operatorID(r)
	if op == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing operator"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		agents, err := s.agents.List(r.Context(), op)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"agents": agents})

	case http.MethodPost:
		var body struct {
			Name                string `json:"name"`
			OperatorDisplayName string `json:"operator_display_name"`
			AgentType           string `json:"agent_type"`
			Personality         string `json:"personality"`
			CustomInstructions  string `json:"custom_instructions"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a, err := s.agents.Create(r.Context(), agent.CreateInput{
			OperatorID:          op,
			Name:                body.Name,
			OperatorDisplayName: body.OperatorDisplayName,
			AgentType:           body.AgentType,
			Personality:         body.Personality,
			CustomInstructions:  body.CustomInstructions,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusCreated, a)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleAgentByID routes /api/agents/{id}[/reset|/documents].
func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	op := operatorID(r)
	if op == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing operator"})
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.SplitN(rest, "/", 2)
	agentID := parts[0]
	if agentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing agent id"})
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "reset":
			s.handleAgentReset(w, r, op, agentID)
		case "documents":
			s.handleAgentDocuments(w, r, op, agentID)
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		}
		return
	}

	switch r.Method {
	case http.MethodGet:
		a, err := s.agents.Get(r.Context(), op, agentID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, a)

	case http.MethodPut:
		var body struct {
			Name                *string `json:"name"`
			OperatorDisplayName *string `json:"operator_display_name"`
			AgentType           *string `json:"agent_type"`
			Personality         *string `json:"personality"`
			CustomInstructions  *string `json:"custom_instructions"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		a, err := s.agents.Update(r.Context(), op, agentID, agent.UpdateInput{
			Name:                body.Name,
			OperatorDisplayName: body.OperatorDisplayName,
			AgentType:           body.AgentType,
			Personality:         body.Personality,
			CustomInstructions:  body.CustomInstructions,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, a)

	case http.MethodDelete:
		if err := s.agents.Delete(r.Context(), op, agentID); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleAgentReset(w http.ResponseWriter, r *http.Request, op, agentID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	a, err := s.agents.ResetInstructions(r.Context(), op, agentID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// ── Knowledge documents ──

func (s *Server) handleAgentDocuments(w http.ResponseWriter, r *http.Request, op, agentID string) {
	// Ownership check covers both verbs.
	if _, err := s.agents.Get(r.Context(), op, agentID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	switch r.Method {
	case http.MethodGet:
		docs, err := s.pipeline.List(r.Context(), agentID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})

	case http.MethodPost:
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing file"})
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(data) > maxUploadBytes {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "file too large"})
			return
		}

		doc, err := s.pipeline.Submit(r.Context(), knowledge.SubmitInput{
			OperatorID: op,
			AgentID:    agentID,
			FileName:   header.Filename,
			MimeType:   header.Header.Get("Content-Type"),
			Data:       data,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleDocumentByID routes /api/documents/{id}[/resubmit].
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	op := operatorID(r)
	if op == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing operator"})
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	parts := strings.SplitN(rest, "/", 2)
	docID := parts[0]
	if docID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing document id"})
		return
	}

	// The operator must own the agent the document belongs to.
	doc, err := s.pipeline.Get(r.Context(), docID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if _, err := s.agents.Get(r.Context(), op, doc.AgentID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if len(parts) == 2 && parts[1] == "resubmit" {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		doc, err := s.pipeline.Resubmit(r.Context(), op, docID)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
		return
	}

	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := s.pipeline.Delete(r.Context(), docID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ── Worker callback ──

// handleWorkerCallback receives asynchronous transcription results. The
// worker's payload shape is not under this system's control, so parsing is
// defensive and the endpoint always answers 200: a retrying worker gains
// nothing from a 4xx, and processing is idempotent anyway.
func (s *Server) handleWorkerCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		s.logger.Warn("worker callback body read failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
		return
	}

	q := r.URL.Query()
	res := knowledge.ParseResult(body, q.Get("agent_id"), q.Get("file_url"), q.Get("file_name"))
	s.pipeline.HandleResult(r.Context(), res)

	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}

// ── Pairing ──

func (s *Server) handlePairingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	op := operatorID(r)
	if op == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing operator"})
		return
	}

	var body struct {
		AgentID     string `json:"agent_id"`
		DisplayName string `json:"display_name"`
		Email       string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.pairing.StartPairing(r.Context(), channel.OperatorContext{
		OperatorID:  op,
		DisplayName: body.DisplayName,
		Email:       body.Email,
		AgentID:     body.AgentID,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	resp := map[string]any{
		"connection":   result.Connection,
		"pairing_code": result.PairingCode,
	}
	if result.Warning != "" {
		resp["warning"] = result.Warning
	}
	writeJSON(w, http.StatusCreated, resp)
}

// handlePairingByInstance routes /api/pairing/{instance}/refresh and
// /api/pairing/{instance}/events.
func (s *Server) handlePairingByInstance(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/pairing/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	instance := parts[0]

	switch parts[1] {
	case "refresh":
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		code, err := s.pairing.RefreshPairingCode(r.Context(), instance)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"pairing_code": code})

	case "events":
		s.handlePairingEvents(w, r, instance)

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	}
}

// handlePairingEvents is the pairing dialog's SSE stream. The request
// context is the pairing session: while the stream is open a validation
// polling loop runs; closing the dialog cancels it. Reopening the dialog
// starts a fresh stream and a fresh loop.
func (s *Server) handlePairingEvents(w http.ResponseWriter, r *http.Request, instance string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
		return
	}

	events, unsubscribe := s.pairing.Subscribe(instance)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	go func() {
		if err := s.pairing.PollUntilConnected(ctx, instance); err != nil &&
			!errors.Is(err, context.Canceled) {
			s.logger.Warn("pairing poll ended with error", "instance", instance, "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("pairing dialog closed", "instance", instance)
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			writeSSE(w, flusher, evt.Type, evt)
			if evt.Type == "connected" {
				return
			}
		}
	}
}

// ── Connections ──

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	op := operatorID(r)
	if op == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing operator"})
		return
	}
	conns, err := s.pairing.List(r.Context(), op)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

// handleConnectionByID routes /api/connections/{id}[/disconnect|/reconnect].
func (s *Server) handleConnectionByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/connections/")
	parts := strings.SplitN(rest, "/", 2)
	connID := parts[0]
	if connID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing connection id"})
		return
	}

	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		switch parts[1] {
		case "disconnect":
			conn, err := s.pairing.Disconnect(r.Context(), connID)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, conn)
		case "reconnect":
			result, err := s.pairing.Reconnect(r.Context(), connID)
			if err != nil {
				writeError(w, statusFor(err), err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"connection":   result.Connection,
				"pairing_code": result.PairingCode,
			})
		default:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		}
		return
	}

	if r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := s.pairing.Delete(r.Context(), connID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ── Students & fees (thin CRUD) ──

func (s *Server) handleStudents(w http.ResponseWriter, r *http.Request) {
	op := operatorID(r)
	if op == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing operator"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		students, err := s.portal.ListStudents(r.Context(), op, listFilter(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"students": students})

	case http.MethodPost:
		var st store.Student
		if err := decodeJSON(r, &st); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		st.ID = uuid.New().String()
		st.OperatorID = op
		if err := s.portal.CreateStudent(r.Context(), &st); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, st)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleStudentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/students/")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing student id"})
		return
	}

	switch r.Method {
	case http.MethodGet:
		st, err := s.portal.GetStudent(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, st)

	case http.MethodPut:
		st, err := s.portal.GetStudent(r.Context(), id)
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if err := decodeJSON(r, st); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		st.ID = id
		if err := s.portal.UpdateStudent(r.Context(), st); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, st)

	case http.MethodDelete:
		if err := s.portal.DeleteStudent(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleFees(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		studentID := r.URL.Query().Get("student_id")
		if studentID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing student_id"})
			return
		}
		fees, err := s.portal.ListFees(r.Context(), studentID, listFilter(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"fees": fees})

	case http.MethodPost:
		var f store.FeeRecord
		if err := decodeJSON(r, &f); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if f.StudentID == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing student_id"})
			return
		}
		f.ID = uuid.New().String()
		if err := s.portal.CreateFee(r.Context(), &f); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, f)

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) handleFeeByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/fees/")
	if id == "" || r.Method != http.MethodDelete {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if err := s.portal.DeleteFee(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// ── Files ──

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	rel := strings.TrimPrefix(r.URL.Path, "/files/")
	data, err := s.objects.Open(r.Context(), rel)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
}

// ── Helpers ──

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func listFilter(r *http.Request) store.ListFilter {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return store.ListFilter{
		Limit:  limit,
		Offset: offset,
		Status: q.Get("status"),
	}
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, agent.ErrNameRequired),
		errors.Is(err, channel.ErrNoAgents):
		return http.StatusBadRequest
	case errors.Is(err, channel.ErrNoPairingCode):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
