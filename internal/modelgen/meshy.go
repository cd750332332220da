package modelgen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"afriverse/core/internal/config"
)

// ErrNotReady is returned by CheckTask while generation is still running.
var ErrNotReady = errors.New("model generation not finished yet")

// ErrGenerationFailed is returned when the provider reports a terminal
// failure for a task.
var ErrGenerationFailed = errors.New("model generation failed")

// IModelGenerator defines the interface for the image-to-3D provider.
// SubmitImage starts a generation task; CheckTask polls it; FetchModel
// downloads the finished asset for re-hosting.
type IModelGenerator interface {
	SubmitImage(ctx context.Context, imageURL string) (string, error)
	CheckTask(ctx context.Context, taskID string) (*TaskResult, error)
	FetchModel(ctx context.Context, modelURL string) (io.ReadCloser, error)
}

// TaskResult is the outcome of a finished generation task.
type TaskResult struct {
	TaskID   string
	ModelURL string // provider-hosted GLB, expires; must be re-hosted
}

// submitRequest is the provider's task creation payload.
type submitRequest struct {
	ImageURL     string `json:"image_url"`
	EnablePBR    bool   `json:"enable_pbr"`
	ShouldRemesh bool   `json:"should_remesh"`
}

type submitResponse struct {
	Result string `json:"result"` // task ID
}

// taskResponse is the provider's task status document.
type taskResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"` // PENDING | IN_PROGRESS | SUCCEEDED | FAILED | EXPIRED
	ModelUrls struct {
		Glb string `json:"glb"`
	} `json:"model_urls"`
	TaskError struct {
		Message string `json:"message"`
	} `json:"task_error"`
}

// meshyGenerator implements IModelGenerator against the Meshy image-to-3D API.
type meshyGenerator struct {
	cfg        *config.Config
	httpClient *http.Client
}

// NewMeshyGenerator creates a new Meshy client.
func NewMeshyGenerator(cfg *config.Config) IModelGenerator {
	return &meshyGenerator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (g *meshyGenerator) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+g.cfg.MeshyApiKey)
	req.Header.Set("Content-Type", "application/json")
}

// SubmitImage starts a generation task for one product photo and returns the
// provider task ID.
func (g *meshyGenerator) SubmitImage(ctx context.Context, imageURL string) (string, error) {
	if g.cfg.MeshyApiKey == "" {
		return "", fmt.Errorf("model generation API key not configured")
	}

	payload, _ := json.Marshal(submitRequest{
		ImageURL:     imageURL,
		EnablePBR:    true,
		ShouldRemesh: true,
	})

	req, err := http.NewRequestWithContext(ctx, "POST", g.cfg.MeshyApiURL, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create model generation request: %w", err)
	}
	g.authorize(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to contact model generation service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read model generation response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		log.Printf("Model generation submit returned status %d - Body: %s", resp.StatusCode, string(body))
		return "", fmt.Errorf("model generation submit failed with status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("failed to parse model generation response: %w", err)
	}
	if sr.Result == "" {
		return "", fmt.Errorf("model generation service returned no task ID")
	}

	return sr.Result, nil
}

// CheckTask polls one task. ErrNotReady means poll again later;
// ErrGenerationFailed is terminal.
func (g *meshyGenerator) CheckTask(ctx context.Context, taskID string) (*TaskResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", g.cfg.MeshyApiURL+"/"+taskID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create task status request: %w", err)
	}
	g.authorize(req)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to contact model generation service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("failed to read task status response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("Model generation status returned %d for task %s - Body: %s", resp.StatusCode, taskID, string(body))
		return nil, fmt.Errorf("model generation status check failed with status %d", resp.StatusCode)
	}

	var tr taskResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse task status response: %w", err)
	}

	switch tr.Status {
	case "SUCCEEDED":
		if tr.ModelUrls.Glb == "" {
			return nil, fmt.Errorf("task %s succeeded but returned no model URL: %w", taskID, ErrGenerationFailed)
		}
		return &TaskResult{TaskID: taskID, ModelURL: tr.ModelUrls.Glb}, nil
	case "FAILED", "EXPIRED":
		return nil, fmt.Errorf("task %s: %s: %w", taskID, tr.TaskError.Message, ErrGenerationFailed)
	default:
		return nil, ErrNotReady
	}
}

// FetchModel downloads the finished asset from the provider's temporary URL.
func (g *meshyGenerator) FetchModel(ctx context.Context, modelURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", modelURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create model download request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated model: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("model download failed with status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
