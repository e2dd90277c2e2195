package analysis

import (
	"errors"
	"testing"
)

func TestParseEnvelopeGenerateSQL(t *testing.T) {
	raw := `{
		"action": "generate_sql",
		"sql": "SELECT region FROM data",
		"used_tables": ["data"],
		"used_columns": ["region"],
		"explanation": "Lists regions.",
		"confidence": 0.8
	}`
	envelope, err := ParseEnvelope(raw)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if envelope.Action != ActionGenerateSQL {
		t.Fatalf("Action = %q", envelope.Action)
	}
	if envelope.SQL != "SELECT region FROM data" {
		t.Fatalf("SQL = %q", envelope.SQL)
	}
	if !envelope.NeedsSQL() {
		t.Fatal("NeedsSQL() = false")
	}
}

func TestParseEnvelopeTerminalActions(t *testing.T) {
	envelope, err := ParseEnvelope(`{"action":"ask_clarify","follow_up":"Which year?"}`)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if envelope.NeedsSQL() {
		t.Fatal("ask_clarify should not need SQL")
	}

	envelope, err = ParseEnvelope(`{"action":"error","error":"cannot answer"}`)
	if err != nil {
		t.Fatalf("ParseEnvelope() error = %v", err)
	}
	if envelope.Action != ActionError {
		t.Fatalf("Action = %q", envelope.Action)
	}
}

func TestParseEnvelopeRejectsMalformedInput(t *testing.T) {
	cases := map[string]string{
		"free text":           "not json",
		"empty":               "   ",
		"trailing content":    `{"action":"explain","explanation":"x"} trailing`,
		"leading content":     `Sure! {"action":"explain","explanation":"x"}`,
		"missing action":      `{"sql":"SELECT 1"}`,
		"unknown action":      `{"action":"drop_table"}`,
		"unknown field":       `{"action":"explain","explanation":"x","extra":true}`,
		"confidence range":    `{"action":"generate_sql","sql":"SELECT 1","confidence":1.5}`,
		"clarify no question": `{"action":"ask_clarify"}`,
	}
	for name, raw := range cases {
		if _, err := ParseEnvelope(raw); err == nil {
			t.Errorf("%s: expected ParseError", name)
		} else {
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Errorf("%s: error = %v, want ParseError", name, err)
			}
		}
	}
}
