package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/agent"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/objectstore"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

// Notifier delivers soft, non-fatal notifications to the operator UI.
// Background paths never propagate errors to a synchronous caller; they
// notify and write a degraded-but-valid state instead.
type Notifier interface {
	Notify(ctx context.Context, level, message string)
}

// LogNotifier is the default Notifier, writing notifications to the log.
type LogNotifier struct {
	Logger *slog.Logger
}

// Notify logs the notification at the given level.
func (n *LogNotifier) Notify(ctx context.Context, level, message string) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch level {
	case "warning":
		logger.Warn("notification", "message", message)
	default:
		logger.Info("notification", "message", message)
	}
}

// Pipeline is the knowledge ingestion pipeline: submit documents, dispatch
// them to the worker, and correlate asynchronous results back to rows.
type Pipeline struct {
	agents  *agent.Service
	docs    *store.KnowledgeStore
	objects objectstore.Store
	worker  Dispatcher
	notify  Notifier
	logger  *slog.Logger
}

// NewPipeline creates the ingestion pipeline.
func NewPipeline(agents *agent.Service, docs *store.KnowledgeStore, objects objectstore.Store, worker Dispatcher, notify Notifier, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = &LogNotifier{Logger: logger}
	}
	return &Pipeline{
		agents:  agents,
		docs:    docs,
		objects: objects,
		worker:  worker,
		notify:  notify,
		logger:  logger.With("component", "knowledge"),
	}
}

// SubmitInput is one uploaded document.
type SubmitInput struct {
	OperatorID string
	AgentID    string
	FileName   string
	MimeType   string
	Data       []byte
}

// Submit stores the upload, creates a pending document row and dispatches
// the transcription job. A dispatch failure is surfaced as a soft
// notification; the document stays pending with no automatic retry.
func (p *Pipeline) Submit(ctx context.Context, in SubmitInput) (*store.KnowledgeDocument, error) {
	name := SanitizeFileName(in.FileName)
	relPath := path.Join(SanitizeFileName(in.OperatorID), in.AgentID, name)

	location, err := p.objects.Put(ctx, relPath, in.Data)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	doc := &store.KnowledgeDocument{
		ID:                  uuid.New().String(),
		AgentID:             in.AgentID,
		DisplayName:         name,
		MimeType:            in.MimeType,
		StorageLocation:     location,
		TranscriptionStatus: store.TranscriptionPending,
	}
	if err := p.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	p.dispatch(ctx, in.OperatorID, doc)
	return doc, nil
}

// Resubmit re-dispatches an existing document, overwriting its prior pending
// state. At most one transcription is in flight per document.
func (p *Pipeline) Resubmit(ctx context.Context, operatorID, docID string) (*store.KnowledgeDocument, error) {
	doc, err := p.docs.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if err := p.docs.UpdateResult(ctx, doc.ID, store.TranscriptionPending, "", ""); err != nil {
		return nil, err
	}
	doc.TranscriptionStatus = store.TranscriptionPending
	doc.TranscriptionText = ""
	doc.RawWorkerResult = ""

	p.dispatch(ctx, operatorID, doc)
	return doc, nil
}

// Delete removes a document row, its stored object and its knowledge block.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	doc, err := p.docs.Get(ctx, docID)
	if err != nil {
		return err
	}
	if err := p.docs.Delete(ctx, doc.ID); err != nil {
		return err
	}
	if err := p.agents.DropKnowledge(ctx, doc.AgentID, doc.ID); err != nil {
		p.logger.Warn("knowledge block removal failed", "doc_id", doc.ID, "error", err)
	}
	if fs, ok := p.objects.(*objectstore.FileSystemStore); ok {
		if rel := fs.PathFromURL(doc.StorageLocation); rel != "" {
			if err := p.objects.Delete(ctx, rel); err != nil {
				p.logger.Warn("stored object removal failed", "doc_id", doc.ID, "error", err)
			}
		}
	}
	return nil
}

// Get returns one document by id.
func (p *Pipeline) Get(ctx context.Context, docID string) (*store.KnowledgeDocument, error) {
	return p.docs.Get(ctx, docID)
}

// List returns an agent's documents.
func (p *Pipeline) List(ctx context.Context, agentID string) ([]*store.KnowledgeDocument, error) {
	return p.docs.ListByAgent(ctx, agentID)
}

func (p *Pipeline) dispatch(ctx context.Context, operatorID string, doc *store.KnowledgeDocument) {
	err := p.worker.Dispatch(ctx, DispatchRequest{
		OperatorID:      operatorID,
		AgentID:         doc.AgentID,
		FileName:        doc.DisplayName,
		MimeType:        doc.MimeType,
		StorageLocation: doc.StorageLocation,
	})
	if err != nil {
		p.logger.Warn("worker dispatch failed, document stays pending",
			"doc_id", doc.ID, "error", err)
		p.notify.Notify(ctx, "warning",
			fmt.Sprintf("Document %q was stored but could not be sent for processing. It will remain pending.", doc.DisplayName))
	}
}

// HandleResult correlates one inbound worker callback to a document and
// persists the outcome. It never returns an error for a bad payload — the
// worker has no synchronous caller to answer to. Processing the same result
// twice converges to the same stored state.
func (p *Pipeline) HandleResult(ctx context.Context, res Result) {
	if res.AgentID == "" {
		p.notify.Notify(ctx, "info", "Received a transcription result without an agent reference; dropped.")
		return
	}

	doc := p.correlate(ctx, res)
	if doc == nil {
		p.notify.Notify(ctx, "info",
			fmt.Sprintf("A transcription result for agent %s did not match any document; dropped.", res.AgentID))
		return
	}

	text := ExtractTranscript(res.Payload)
	raw := p.renderRaw(res)

	if err := p.docs.UpdateResult(ctx, doc.ID, store.TranscriptionCompleted, text, raw); err != nil {
		p.logger.Error("storing worker result failed", "doc_id", doc.ID, "error", err)
		return
	}

	if text != "" {
		if err := p.agents.MergeKnowledge(ctx, doc.AgentID, doc.ID, doc.DisplayName, text); err != nil {
			p.logger.Error("merging knowledge failed", "doc_id", doc.ID, "error", err)
		}
	}

	summary := truncateSummary(text, 200)
	if err := p.agents.StampWebhook(ctx, doc.AgentID, "completed", summary); err != nil {
		p.logger.Warn("webhook stamp failed", "agent_id", doc.AgentID, "error", err)
	}

	p.logger.Info("worker result correlated",
		"doc_id", doc.ID, "agent_id", doc.AgentID, "chars", len(text))
}

// correlate finds the target document: exact storage-location match first,
// then a case-insensitive display-name substring match, newest first.
func (p *Pipeline) correlate(ctx context.Context, res Result) *store.KnowledgeDocument {
	if res.FileURL != "" {
		doc, err := p.docs.FindByStorageLocation(ctx, res.AgentID, res.FileURL)
		if err == nil {
			return doc
		}
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Error("correlation lookup failed", "error", err)
			return nil
		}
	}
	if res.FileName != "" {
		doc, err := p.docs.FindByNameContains(ctx, res.AgentID, res.FileName)
		if err == nil {
			return doc
		}
		if !errors.Is(err, store.ErrNotFound) {
			p.logger.Error("correlation fallback lookup failed", "error", err)
		}
	}
	return nil
}

// truncateSummary caps s at max bytes without splitting a multi-byte rune.
func truncateSummary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// renderRaw produces the durable rendition of the callback. An unparsable
// body is recorded as a placeholder so the row shows that processing
// happened even when extraction failed.
func (p *Pipeline) renderRaw(res Result) string {
	if res.Payload != nil {
		return SafeRawJSON(res.Payload)
	}
	return SafeRawJSON(string(res.Raw))
}
