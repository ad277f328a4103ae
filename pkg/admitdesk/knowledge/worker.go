package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DispatchRequest is the payload sent to the external transcription worker.
type DispatchRequest struct {
	OperatorID      string `json:"operatorId"`
	AgentID         string `json:"agentId"`
	FileName        string `json:"fileName"`
	MimeType        string `json:"mimeType"`
	StorageLocation string `json:"storageLocation"`
}

// Dispatcher hands a document off to the transcription worker. The worker
// answers out-of-band via the callback endpoint, on its own schedule.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) error
}

// WorkerClientConfig configures the worker dispatch client.
type WorkerClientConfig struct {
	// Endpoint is the worker's dispatch URL.
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as a bearer token when set.
	APIKey string `yaml:"api_key"`

	// Timeout bounds one dispatch call (default: 30s).
	Timeout time.Duration `yaml:"timeout"`
}

// WorkerClient dispatches transcription jobs over HTTP.
type WorkerClient struct {
	cfg    WorkerClientConfig
	client *http.Client
	logger *slog.Logger
}

// NewWorkerClient creates a worker dispatch client.
func NewWorkerClient(cfg WorkerClientConfig, logger *slog.Logger) *WorkerClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &WorkerClient{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "worker-client"),
	}
}

// Dispatch fires one transcription job. The call is fire-and-forget beyond
// the HTTP round-trip: a 2xx response only acknowledges receipt.
func (c *WorkerClient) Dispatch(ctx context.Context, req DispatchRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding dispatch request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building dispatch request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("dispatching to worker: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("worker dispatch returned status %d", resp.StatusCode)
	}

	c.logger.Debug("transcription job dispatched",
		"agent_id", req.AgentID, "file", req.FileName)
	return nil
}
