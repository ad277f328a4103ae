package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

// Validation errors surfaced directly to the caller.
var (
	ErrNameRequired = errors.New("agent name is required")
	ErrNotOwner     = errors.New("agent belongs to another operator")
)

// Service owns the agent lifecycle. An agent's composed prompt is always
// derivable from identity + personality + instructions + knowledge blocks;
// every mutation regenerates it through the composer.
type Service struct {
	agents *store.AgentStore
	docs   *store.KnowledgeStore
	conns  *store.ConnectionStore
	logger *slog.Logger
}

// NewService creates the agent service.
func NewService(agents *store.AgentStore, docs *store.KnowledgeStore, conns *store.ConnectionStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		agents: agents,
		docs:   docs,
		conns:  conns,
		logger: logger.With("component", "agent"),
	}
}

// CreateInput holds the operator-supplied fields for a new agent.
type CreateInput struct {
	OperatorID          string
	Name                string
	OperatorDisplayName string
	AgentType           string
	Personality         string
	CustomInstructions  string
}

// Create builds a new agent with a freshly composed prompt.
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Agent, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, ErrNameRequired
	}
	if in.AgentType == "" {
		in.AgentType = TypeAdmissions
	}
	if in.Personality == "" {
		in.Personality = "friendly"
	}

	a := &store.Agent{
		ID:                  uuid.New().String(),
		OperatorID:          in.OperatorID,
		Name:                strings.TrimSpace(in.Name),
		OperatorDisplayName: in.OperatorDisplayName,
		AgentType:           in.AgentType,
		Personality:         in.Personality,
		CustomInstructions:  in.CustomInstructions,
	}
	a.ComposedPrompt = Compose(composeParams(a))

	if err := s.agents.Create(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("agent created", "agent_id", a.ID, "operator_id", a.OperatorID, "type", a.AgentType)
	return a, nil
}

// UpdateInput holds the editable fields; nil pointers leave a field unchanged.
type UpdateInput struct {
	Name                *string
	OperatorDisplayName *string
	AgentType           *string
	Personality         *string
	CustomInstructions  *string
}

// Update applies the edit and recomposes the prompt, preserving any
// knowledge blocks accumulated in the previous composition.
func (s *Service) Update(ctx context.Context, operatorID, agentID string, in UpdateInput) (*store.Agent, error) {
	a, err := s.getOwned(ctx, operatorID, agentID)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		if strings.TrimSpace(*in.Name) == "" {
			return nil, ErrNameRequired
		}
		a.Name = strings.TrimSpace(*in.Name)
	}
	if in.OperatorDisplayName != nil {
		a.OperatorDisplayName = *in.OperatorDisplayName
	}
	if in.AgentType != nil {
		a.AgentType = *in.AgentType
	}
	if in.Personality != nil {
		a.Personality = *in.Personality
	}
	if in.CustomInstructions != nil {
		a.CustomInstructions = *in.CustomInstructions
	}

	a.ComposedPrompt = Recompose(composeParams(a), a.ComposedPrompt)

	if err := s.agents.Update(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("agent updated", "agent_id", a.ID)
	return a, nil
}

// ResetInstructions drops custom instructions back to the type default and
// recomposes. Knowledge blocks survive the reset.
func (s *Service) ResetInstructions(ctx context.Context, operatorID, agentID string) (*store.Agent, error) {
	a, err := s.getOwned(ctx, operatorID, agentID)
	if err != nil {
		return nil, err
	}
	a.CustomInstructions = ""
	a.ComposedPrompt = Recompose(composeParams(a), a.ComposedPrompt)
	if err := s.agents.Update(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info("agent instructions reset", "agent_id", a.ID)
	return a, nil
}

// Delete removes the agent and cascades to its knowledge documents and
// channel connections. Each delete is an independent write; a failure in a
// later step leaves earlier deletes in place.
func (s *Service) Delete(ctx context.Context, operatorID, agentID string) error {
	a, err := s.getOwned(ctx, operatorID, agentID)
	if err != nil {
		return err
	}

	if err := s.docs.DeleteByAgent(ctx, a.ID); err != nil {
		s.logger.Warn("agent delete: documents cleanup failed", "agent_id", a.ID, "error", err)
	}
	if err := s.conns.DeleteByAgent(ctx, a.ID); err != nil {
		s.logger.Warn("agent delete: connections cleanup failed", "agent_id", a.ID, "error", err)
	}
	if err := s.agents.Delete(ctx, a.ID); err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	s.logger.Info("agent deleted", "agent_id", a.ID)
	return nil
}

// Get returns an agent owned by the operator.
func (s *Service) Get(ctx context.Context, operatorID, agentID string) (*store.Agent, error) {
	return s.getOwned(ctx, operatorID, agentID)
}

// List returns the operator's agents.
func (s *Service) List(ctx context.Context, operatorID string) ([]*store.Agent, error) {
	return s.agents.ListByOperator(ctx, operatorID)
}

// MergeKnowledge embeds (or replaces) the knowledge block for docID in the
// agent's composed prompt. Merging the same block twice converges to the
// same prompt.
func (s *Service) MergeKnowledge(ctx context.Context, agentID, docID, docName, text string) error {
	a, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}
	prompt := a.ComposedPrompt
	if prompt == "" {
		prompt = Compose(composeParams(a))
	}
	prompt = UpsertKnowledgeBlock(prompt, docID, docName, text)
	if err := s.agents.UpdatePrompt(ctx, a.ID, prompt); err != nil {
		return fmt.Errorf("merge knowledge: %w", err)
	}
	s.logger.Info("knowledge merged into prompt", "agent_id", agentID, "doc_id", docID)
	return nil
}

// DropKnowledge removes the knowledge block for docID from the prompt.
func (s *Service) DropKnowledge(ctx context.Context, agentID, docID string) error {
	a, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}
	prompt := RemoveKnowledgeBlock(a.ComposedPrompt, docID)
	return s.agents.UpdatePrompt(ctx, a.ID, prompt)
}

// StampWebhook records a coarse processing status on the agent row.
func (s *Service) StampWebhook(ctx context.Context, agentID, status, result string) error {
	return s.agents.StampWebhook(ctx, agentID, status, result)
}

func (s *Service) getOwned(ctx context.Context, operatorID, agentID string) (*store.Agent, error) {
	a, err := s.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if a.OperatorID != operatorID {
		return nil, ErrNotOwner
	}
	return a, nil
}

func composeParams(a *store.Agent) ComposeParams {
	return ComposeParams{
		Name:                a.Name,
		OperatorDisplayName: a.OperatorDisplayName,
		AgentType:           a.AgentType,
		Personality:         a.Personality,
		CustomInstructions:  a.CustomInstructions,
	}
}
