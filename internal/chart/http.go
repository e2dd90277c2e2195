package chart

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type HTTPConfig struct {
	RenderURL string
	Timeout   time.Duration
	Scale     float64
}

// HTTPRenderer posts Vega-Lite specs to a vl-convert style render
// service and returns the PNG it produces.
type HTTPRenderer struct {
	renderURL string
	scale     float64
	client    *http.Client
}

func NewHTTPRenderer(cfg HTTPConfig) (*HTTPRenderer, error) {
	if strings.TrimSpace(cfg.RenderURL) == "" {
		return nil, fmt.Errorf("render URL is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	scale := cfg.Scale
	if scale <= 0 {
		scale = 2
	}
	return &HTTPRenderer{
		renderURL: strings.TrimSpace(cfg.RenderURL),
		scale:     scale,
		client:    &http.Client{Timeout: timeout},
	}, nil
}

func (r *HTTPRenderer) Render(ctx context.Context, spec json.RawMessage, rows []map[string]any) ([]byte, error) {
	withData, err := injectData(spec, rows)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(map[string]any{
		"spec":  json.RawMessage(withData),
		"scale": r.scale,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal render payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.renderURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build render request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/png")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request chart render: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read render response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("chart render failed status=%d body=%s", resp.StatusCode, string(body))
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("chart render returned empty image")
	}
	return body, nil
}

// injectData replaces the spec's data block with inline values so the
// render service never needs access to the sandbox results itself.
func injectData(spec json.RawMessage, rows []map[string]any) ([]byte, error) {
	var parsed map[string]any
	if err := json.Unmarshal(spec, &parsed); err != nil {
		return nil, fmt.Errorf("parse vega-lite spec: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	parsed["data"] = map[string]any{"values": rows}

	merged, err := json.Marshal(parsed)
	if err != nil {
		return nil, fmt.Errorf("marshal vega-lite spec: %w", err)
	}
	return merged, nil
}
