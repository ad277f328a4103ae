package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"unicode/utf8"

	"github.com/admitdesk/admitdesk/pkg/admitdesk/agent"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/database"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/objectstore"
	"github.com/admitdesk/admitdesk/pkg/admitdesk/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// fakeDispatcher records dispatches and optionally fails them.
type fakeDispatcher struct {
	calls []DispatchRequest
	err   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, req DispatchRequest) error {
	f.calls = append(f.calls, req)
	return f.err
}

// recordingNotifier captures soft notifications.
type recordingNotifier struct {
	count atomic.Int32
	last  atomic.Value // string
}

func (n *recordingNotifier) Notify(ctx context.Context, level, message string) {
	n.count.Add(1)
	n.last.Store(level + ": " + message)
}

type pipelineFixture struct {
	pipeline *Pipeline
	agents   *agent.Service
	docs     *store.KnowledgeStore
	dispatch *fakeDispatcher
	notify   *recordingNotifier
	agentID  string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "test.db")
	backend, err := database.Open(cfg, testLogger())
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { backend.Close() })

	agents := store.NewAgentStore(backend)
	docs := store.NewKnowledgeStore(backend)
	conns := store.NewConnectionStore(backend)
	agentSvc := agent.NewService(agents, docs, conns, testLogger())

	objects := objectstore.NewFileSystemStore(objectstore.Config{
		BaseDir: filepath.Join(t.TempDir(), "objects"),
	}, testLogger())

	dispatch := &fakeDispatcher{}
	notify := &recordingNotifier{}
	pipeline := NewPipeline(agentSvc, docs, objects, dispatch, notify, testLogger())

	a, err := agentSvc.Create(context.Background(), agent.CreateInput{
		OperatorID:          "ops-1",
		Name:                "Clara",
		OperatorDisplayName: "Riverside University",
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	return &pipelineFixture{
		pipeline: pipeline,
		agents:   agentSvc,
		docs:     docs,
		dispatch: dispatch,
		notify:   notify,
		agentID:  a.ID,
	}
}

func (f *pipelineFixture) submit(t *testing.T, name string) *store.KnowledgeDocument {
	t.Helper()
	doc, err := f.pipeline.Submit(context.Background(), SubmitInput{
		OperatorID: "ops-1",
		AgentID:    f.agentID,
		FileName:   name,
		MimeType:   "application/pdf",
		Data:       []byte("%PDF-1.4 test"),
	})
	if err != nil {
		t.Fatalf("submit %s: %v", name, err)
	}
	return doc
}

func TestSubmit(t *testing.T) {
	t.Run("stores file, creates pending row and dispatches", func(t *testing.T) {
		f := newPipelineFixture(t)
		doc := f.submit(t, "Matrícula 2026.pdf")

		if doc.TranscriptionStatus != store.TranscriptionPending {
			t.Errorf("status: got %s", doc.TranscriptionStatus)
		}
		if doc.DisplayName != "Matricula_2026.pdf" {
			t.Errorf("display name not sanitized: %q", doc.DisplayName)
		}
		if !strings.Contains(doc.StorageLocation, f.agentID) {
			t.Errorf("storage location not namespaced by agent: %q", doc.StorageLocation)
		}

		if len(f.dispatch.calls) != 1 {
			t.Fatalf("expected 1 dispatch, got %d", len(f.dispatch.calls))
		}
		req := f.dispatch.calls[0]
		if req.AgentID != f.agentID || req.StorageLocation != doc.StorageLocation {
			t.Errorf("dispatch request mismatch: %+v", req)
		}
	})

	t.Run("dispatch failure keeps the document pending and notifies", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.dispatch.err = errors.New("worker unreachable")

		doc := f.submit(t, "fees.pdf")
		if doc.TranscriptionStatus != store.TranscriptionPending {
			t.Errorf("status: got %s", doc.TranscriptionStatus)
		}
		if f.notify.count.Load() == 0 {
			t.Error("expected a soft notification")
		}

		stored, err := f.docs.Get(context.Background(), doc.ID)
		if err != nil {
			t.Fatalf("row missing after failed dispatch: %v", err)
		}
		if stored.TranscriptionStatus != store.TranscriptionPending {
			t.Errorf("stored status: got %s", stored.TranscriptionStatus)
		}
	})
}

func TestHandleResult(t *testing.T) {
	t.Run("exact storage-location match wins", func(t *testing.T) {
		f := newPipelineFixture(t)
		target := f.submit(t, "handbook.pdf")
		f.submit(t, "other.pdf")

		f.pipeline.HandleResult(context.Background(), Result{
			AgentID: f.agentID,
			FileURL: target.StorageLocation,
			Payload: map[string]any{"transcription": "Admission requires a diploma."},
		})

		stored, _ := f.docs.Get(context.Background(), target.ID)
		if stored.TranscriptionStatus != store.TranscriptionCompleted {
			t.Errorf("status: got %s", stored.TranscriptionStatus)
		}
		if stored.TranscriptionText != "Admission requires a diploma." {
			t.Errorf("text: got %q", stored.TranscriptionText)
		}
	})

	t.Run("name fragment fallback when url is absent", func(t *testing.T) {
		f := newPipelineFixture(t)
		target := f.submit(t, "Fee Schedule 2026.pdf")

		f.pipeline.HandleResult(context.Background(), Result{
			AgentID:  f.agentID,
			FileName: "fee_schedule",
			Payload:  map[string]any{"text": "Tuition is $500 per term."},
		})

		stored, _ := f.docs.Get(context.Background(), target.ID)
		if stored.TranscriptionStatus != store.TranscriptionCompleted {
			t.Errorf("fallback match failed, status: %s", stored.TranscriptionStatus)
		}
	})

	t.Run("fragment wildcards match literally, not as patterns", func(t *testing.T) {
		f := newPipelineFixture(t)
		doc := f.submit(t, "handbook.pdf")

		// "handbook_pdf" is not a substring of "handbook.pdf"; an unescaped
		// LIKE underscore would match anyway.
		f.pipeline.HandleResult(context.Background(), Result{
			AgentID:  f.agentID,
			FileName: "handbook_pdf",
			Payload:  map[string]any{"text": "should not correlate"},
		})

		stored, _ := f.docs.Get(context.Background(), doc.ID)
		if stored.TranscriptionStatus != store.TranscriptionPending {
			t.Errorf("wildcard fragment correlated: status %s, text %q",
				stored.TranscriptionStatus, stored.TranscriptionText)
		}

		// A literal underscore in both fragment and name still matches.
		target := f.submit(t, "fee_schedule.pdf")
		f.pipeline.HandleResult(context.Background(), Result{
			AgentID:  f.agentID,
			FileName: "fee_schedule",
			Payload:  map[string]any{"text": "tuition table"},
		})
		stored, _ = f.docs.Get(context.Background(), target.ID)
		if stored.TranscriptionStatus != store.TranscriptionCompleted {
			t.Errorf("literal underscore match failed: status %s", stored.TranscriptionStatus)
		}
	})

	t.Run("unmatched result is dropped with a notification", func(t *testing.T) {
		f := newPipelineFixture(t)
		doc := f.submit(t, "handbook.pdf")

		f.pipeline.HandleResult(context.Background(), Result{
			AgentID:  f.agentID,
			FileName: "no-such-file",
			Payload:  map[string]any{"text": "orphan"},
		})

		stored, _ := f.docs.Get(context.Background(), doc.ID)
		if stored.TranscriptionStatus != store.TranscriptionPending {
			t.Error("unmatched result mutated an unrelated document")
		}
		if f.notify.count.Load() == 0 {
			t.Error("expected a dropped-result notification")
		}
	})

	t.Run("missing agent reference is dropped", func(t *testing.T) {
		f := newPipelineFixture(t)
		f.submit(t, "handbook.pdf")

		f.pipeline.HandleResult(context.Background(), Result{
			Payload: map[string]any{"text": "no agent"},
		})
		if f.notify.count.Load() == 0 {
			t.Error("expected a notification")
		}
	})

	t.Run("transcript merges into the composed prompt", func(t *testing.T) {
		f := newPipelineFixture(t)
		doc := f.submit(t, "handbook.pdf")

		f.pipeline.HandleResult(context.Background(), Result{
			AgentID: f.agentID,
			FileURL: doc.StorageLocation,
			Payload: map[string]any{"transcription": "Deadline is June 30."},
		})

		a, err := f.agents.Get(context.Background(), "ops-1", f.agentID)
		if err != nil {
			t.Fatalf("get agent: %v", err)
		}
		blocks := agent.ExtractKnowledgeBlocks(a.ComposedPrompt)
		if len(blocks) != 1 {
			t.Fatalf("expected 1 knowledge block, got %d", len(blocks))
		}
		if !strings.Contains(blocks[0], "Deadline is June 30.") {
			t.Error("transcript not merged into prompt")
		}
		if a.WebhookStatus != "completed" {
			t.Errorf("webhook stamp: got %q", a.WebhookStatus)
		}
	})

	t.Run("processing the same result twice converges", func(t *testing.T) {
		f := newPipelineFixture(t)
		doc := f.submit(t, "handbook.pdf")

		res := Result{
			AgentID: f.agentID,
			FileURL: doc.StorageLocation,
			Payload: map[string]any{"transcription": "Deadline is June 30."},
		}
		f.pipeline.HandleResult(context.Background(), res)
		first, _ := f.agents.Get(context.Background(), "ops-1", f.agentID)

		f.pipeline.HandleResult(context.Background(), res)
		second, _ := f.agents.Get(context.Background(), "ops-1", f.agentID)

		if first.ComposedPrompt != second.ComposedPrompt {
			t.Error("duplicate result changed the prompt")
		}
		blocks := agent.ExtractKnowledgeBlocks(second.ComposedPrompt)
		if len(blocks) != 1 {
			t.Errorf("expected 1 block after duplicate, got %d", len(blocks))
		}
	})

	t.Run("webhook summary never splits a multi-byte rune", func(t *testing.T) {
		f := newPipelineFixture(t)
		doc := f.submit(t, "handbook.pdf")

		// 3-byte runes put the 200-byte cut mid-rune.
		f.pipeline.HandleResult(context.Background(), Result{
			AgentID: f.agentID,
			FileURL: doc.StorageLocation,
			Payload: map[string]any{"transcription": strings.Repeat("学", 100)},
		})

		a, err := f.agents.Get(context.Background(), "ops-1", f.agentID)
		if err != nil {
			t.Fatalf("get agent: %v", err)
		}
		if len(a.WebhookResult) == 0 || len(a.WebhookResult) > 200 {
			t.Errorf("summary length %d, want 1..200 bytes", len(a.WebhookResult))
		}
		if !utf8.ValidString(a.WebhookResult) {
			t.Error("summary is not valid UTF-8")
		}
	})

	t.Run("unparsable payload stores a placeholder", func(t *testing.T) {
		f := newPipelineFixture(t)
		doc := f.submit(t, "handbook.pdf")

		f.pipeline.HandleResult(context.Background(), Result{
			AgentID: f.agentID,
			FileURL: doc.StorageLocation,
			Raw:     []byte("not json at all"),
		})

		stored, _ := f.docs.Get(context.Background(), doc.ID)
		if stored.TranscriptionStatus != store.TranscriptionCompleted {
			t.Errorf("status: got %s", stored.TranscriptionStatus)
		}
		if stored.RawWorkerResult == "" {
			t.Error("raw result not recorded")
		}
	})
}

func TestResubmit(t *testing.T) {
	f := newPipelineFixture(t)
	doc := f.submit(t, "handbook.pdf")

	// Complete it first.
	f.pipeline.HandleResult(context.Background(), Result{
		AgentID: f.agentID,
		FileURL: doc.StorageLocation,
		Payload: map[string]any{"text": "v1"},
	})

	resub, err := f.pipeline.Resubmit(context.Background(), "ops-1", doc.ID)
	if err != nil {
		t.Fatalf("Resubmit: %v", err)
	}
	if resub.TranscriptionStatus != store.TranscriptionPending {
		t.Errorf("status: got %s, want pending", resub.TranscriptionStatus)
	}
	if len(f.dispatch.calls) != 2 {
		t.Errorf("expected 2 dispatches, got %d", len(f.dispatch.calls))
	}

	stored, _ := f.docs.Get(context.Background(), doc.ID)
	if stored.TranscriptionText != "" {
		t.Error("previous transcript not cleared on resubmit")
	}
}

func TestPipelineDelete(t *testing.T) {
	f := newPipelineFixture(t)
	doc := f.submit(t, "handbook.pdf")
	f.pipeline.HandleResult(context.Background(), Result{
		AgentID: f.agentID,
		FileURL: doc.StorageLocation,
		Payload: map[string]any{"text": "to be removed"},
	})

	if err := f.pipeline.Delete(context.Background(), doc.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := f.docs.Get(context.Background(), doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("row survived delete: %v", err)
	}

	a, _ := f.agents.Get(context.Background(), "ops-1", f.agentID)
	if len(agent.ExtractKnowledgeBlocks(a.ComposedPrompt)) != 0 {
		t.Error("knowledge block survived document delete")
	}
}
