package chart

import (
	"context"
	"encoding/json"
)

// Renderer turns a Vega-Lite spec plus result rows into a PNG image.
// Rendering is best effort: callers treat a failure as a missing chart,
// not a failed analysis.
type Renderer interface {
	Render(ctx context.Context, spec json.RawMessage, rows []map[string]any) ([]byte, error)
}
