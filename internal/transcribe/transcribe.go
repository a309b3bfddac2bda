// Package transcribe provides speech-to-text over a hosted service.
// Transcription is an enhancement, not a dependency of the conversation:
// callers log failures and proceed without a transcript.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Transcriber converts a local audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Noop is used when transcription is disabled by configuration.
type Noop struct{}

func (Noop) Transcribe(context.Context, string) (string, error) {
	return "", nil
}

// HTTPClient posts audio to a whisper-style transcription endpoint.
type HTTPClient struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
}

// NewHTTPClient builds a transcription client for the given endpoint.
func NewHTTPClient(endpoint, apiKey, model string) *HTTPClient {
	return &HTTPClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		http:     &http.Client{Timeout: 2 * time.Minute},
	}
}

type transcription struct {
	Text string `json:"text"`
}

// Transcribe uploads the audio file and returns the transcript text. On
// success the transcript is also written to "<audioPath>.txt" beside the
// source file.
func (c *HTTPClient) Transcribe(ctx context.Context, audioPath string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("open audio file: %w", err)
	}
	_, copyErr := io.Copy(part, f)
	if closeErr := f.Close(); closeErr != nil {
		slog.Debug("failed to close audio file", "error", closeErr)
	}
	if copyErr != nil {
		return "", fmt.Errorf("read audio file: %w", copyErr)
	}
	if err := writer.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return "", fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("failed to close transcription response", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("transcription service returned %d: %s", resp.StatusCode, raw)
	}

	var result transcription
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode transcription response: %w", err)
	}

	if err := os.WriteFile(audioPath+".txt", []byte(result.Text), 0644); err != nil {
		slog.Warn("failed to write transcript file", "path", audioPath+".txt", "error", err)
	}
	return result.Text, nil
}
