package analysis

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Action tags the decision the model made for one attempt.
type Action string

const (
	ActionGenerateSQL Action = "generate_sql"
	ActionAskClarify  Action = "ask_clarify"
	ActionExplain     Action = "explain"
	ActionGenerateViz Action = "generate_viz"
	ActionError       Action = "error"
)

// Envelope is the single structured decision object the model returns.
// Exactly one action tag; which other fields are meaningful depends on
// the tag.
type Envelope struct {
	Action      Action          `json:"action"`
	SQL         string          `json:"sql,omitempty"`
	UsedTables  []string        `json:"used_tables,omitempty"`
	UsedColumns []string        `json:"used_columns,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
	VizSpec     json.RawMessage `json:"viz_spec,omitempty"`
	Confidence  float64         `json:"confidence,omitempty"`
	FollowUp    string          `json:"follow_up,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// NeedsSQL reports whether this action runs through the SQL pipeline.
func (e Envelope) NeedsSQL() bool {
	return e.Action == ActionGenerateSQL || e.Action == ActionGenerateViz
}

// ParseError reports generation output that is not a single
// well-formed envelope. It always triggers a repair retry.
type ParseError struct {
	Detail string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Detail
}

// ParseEnvelope decodes raw model output into an Envelope. The input
// must be exactly one JSON object with no leading or trailing text and
// no unknown fields; anything else is a ParseError. There is
// deliberately no fallback extraction of SQL from free text.
func ParseEnvelope(raw string) (Envelope, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Envelope{}, &ParseError{Detail: "response is empty"}
	}

	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.DisallowUnknownFields()

	var envelope Envelope
	if err := decoder.Decode(&envelope); err != nil {
		return Envelope{}, &ParseError{Detail: err.Error()}
	}
	if _, err := decoder.Token(); err != io.EOF {
		return Envelope{}, &ParseError{Detail: "trailing content after JSON object"}
	}

	switch envelope.Action {
	case ActionGenerateSQL, ActionAskClarify, ActionExplain, ActionGenerateViz, ActionError:
	case "":
		return Envelope{}, &ParseError{Detail: "missing action field"}
	default:
		return Envelope{}, &ParseError{Detail: fmt.Sprintf("unknown action %q", envelope.Action)}
	}

	if envelope.Confidence < 0 || envelope.Confidence > 1 {
		return Envelope{}, &ParseError{Detail: fmt.Sprintf("confidence %v outside [0,1]", envelope.Confidence)}
	}
	if envelope.Action == ActionAskClarify && strings.TrimSpace(envelope.FollowUp) == "" {
		return Envelope{}, &ParseError{Detail: "ask_clarify requires a follow_up question"}
	}

	return envelope, nil
}
