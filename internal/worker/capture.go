package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rogervilla2024/slotfeed-sub001/internal/models"
)

// maxFrameBytes bounds a single snapshot download. Frames beyond this are
// broken captures, not data.
const maxFrameBytes = 8 << 20

// HTTPFrameSource fetches snapshot frames over HTTP. The job's
// frame_source_ref is the full snapshot URL handed out by discovery.
type HTTPFrameSource struct {
	http *http.Client
}

func NewHTTPFrameSource(timeout time.Duration) *HTTPFrameSource {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPFrameSource{http: &http.Client{Timeout: timeout}}
}

func (s *HTTPFrameSource) AcquireFrame(ctx context.Context, frameSourceRef string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, frameSourceRef, nil)
	if err != nil {
		return nil, fmt.Errorf("build frame request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("frame source returned %d", resp.StatusCode)
	}

	image, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read frame body: %w", err)
	}
	if len(image) > maxFrameBytes {
		return nil, fmt.Errorf("frame exceeds %d bytes", maxFrameBytes)
	}
	if len(image) == 0 {
		return nil, fmt.Errorf("frame source returned empty body")
	}
	return image, nil
}

// HTTPEngine calls the external OCR service. The service owns the model;
// this client only sees the structured reading it returns.
type HTTPEngine struct {
	baseURL string
	http    *http.Client
}

func NewHTTPEngine(baseURL string, timeout time.Duration) *HTTPEngine {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &HTTPEngine{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

func (e *HTTPEngine) Recognize(ctx context.Context, image []byte) (models.FrameReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/recognize", bytes.NewReader(image))
	if err != nil {
		return models.FrameReading{}, fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.http.Do(req)
	if err != nil {
		return models.FrameReading{}, fmt.Errorf("recognize: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.FrameReading{}, fmt.Errorf("ocr service returned %d", resp.StatusCode)
	}

	var reading models.FrameReading
	if err := json.NewDecoder(resp.Body).Decode(&reading); err != nil {
		return models.FrameReading{}, fmt.Errorf("decode ocr response: %w", err)
	}
	return reading, nil
}
