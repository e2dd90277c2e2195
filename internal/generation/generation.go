package generation

import "context"

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Messages    []Message
	Temperature float64
	JSONOutput  bool
}

type Result struct {
	Text    string
	Backend string
	Model   string
}

// Client produces one model completion for a request. Implementations
// return an error only when the backend itself fails; content-level
// problems are the caller's to detect.
type Client interface {
	Generate(ctx context.Context, req Request) (Result, error)
}
