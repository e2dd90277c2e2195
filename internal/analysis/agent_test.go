package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/tabletalk/tabletalk/internal/generation"
	"github.com/tabletalk/tabletalk/internal/sandbox"
)

func TestRunReturnsTerminalActionWithoutExecution(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{`{"action":"ask_clarify","follow_up":"Which year?"}`}}
	exec := &scriptedExecutor{}

	agent := newTestAgent(t, gen, exec, nil)
	outcome, err := agent.Run(context.Background(), testRequest("what about revenue?"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Envelope.Action != ActionAskClarify {
		t.Fatalf("Action = %q", outcome.Envelope.Action)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("Attempts = %d", outcome.Attempts)
	}
	if exec.calls != 0 {
		t.Fatalf("executor calls = %d, want 0", exec.calls)
	}
}

func TestRunParseFailureRetriesWithCorrection(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"not json",
		`{"action":"explain","explanation":"the dataset covers 2024"}`,
	}}
	agent := newTestAgent(t, gen, &scriptedExecutor{}, nil)

	outcome, err := agent.Run(context.Background(), testRequest("what period?"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Envelope.Action != ActionExplain {
		t.Fatalf("Action = %q", outcome.Envelope.Action)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("Attempts = %d", outcome.Attempts)
	}
	secondPrompt := gen.requests[1].Messages[1].Content
	if !strings.Contains(secondPrompt, "must output valid structured data") {
		t.Fatalf("second prompt missing parse correction: %q", secondPrompt)
	}
}

func TestRunSafetyViolationNeverExecutes(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		sqlEnvelope("DELETE FROM data WHERE 1=1"),
		sqlEnvelope("SELECT region FROM data"),
	}}
	exec := &scriptedExecutor{results: []sandbox.Result{successResult()}}
	agent := newTestAgent(t, gen, exec, nil)

	outcome, err := agent.Run(context.Background(), testRequest("clean up and list regions"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("Attempts = %d", outcome.Attempts)
	}
	if exec.calls != 1 {
		t.Fatalf("executor calls = %d, want 1 (never for the DELETE)", exec.calls)
	}
	secondPrompt := gen.requests[1].Messages[1].Content
	if !strings.Contains(secondPrompt, "DELETE") {
		t.Fatalf("second prompt missing failing SQL: %q", secondPrompt)
	}
}

func TestRunTableMismatchFeedsBackIdentifier(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		sqlEnvelope("SELECT * FROM data JOIN ActualData ON data.id = ActualData.id"),
		sqlEnvelope("SELECT region FROM data"),
	}}
	exec := &scriptedExecutor{results: []sandbox.Result{successResult()}}
	agent := newTestAgent(t, gen, exec, nil)

	outcome, err := agent.Run(context.Background(), testRequest("join things"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("Attempts = %d", outcome.Attempts)
	}
	secondPrompt := gen.requests[1].Messages[1].Content
	if !strings.Contains(secondPrompt, "ActualData") {
		t.Fatalf("feedback does not name the offending identifier: %q", secondPrompt)
	}
}

func TestRunExecutionFailureRetriesWithEngineMessage(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		sqlEnvelope("SELECT amt FROM data"),
		sqlEnvelope("SELECT amount FROM data"),
	}}
	exec := &scriptedExecutor{results: []sandbox.Result{
		{Success: false, Error: `column "amt" not found`},
		successResult(),
	}}
	agent := newTestAgent(t, gen, exec, nil)

	outcome, err := agent.Run(context.Background(), testRequest("total amount"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Execution.Success {
		t.Fatal("expected successful execution on the repaired attempt")
	}
	secondPrompt := gen.requests[1].Messages[1].Content
	if !strings.Contains(secondPrompt, `column "amt" not found`) {
		t.Fatalf("feedback missing engine message: %q", secondPrompt)
	}
}

func TestRunExhaustsAfterMaxRetries(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"not json", "not json", "not json"}}
	agent := newTestAgent(t, gen, &scriptedExecutor{}, nil)

	outcome, err := agent.Run(context.Background(), testRequest("anything"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(gen.requests) != 3 {
		t.Fatalf("generation calls = %d, want exactly 3", len(gen.requests))
	}
	if outcome.Envelope.Action != ActionError {
		t.Fatalf("Action = %q", outcome.Envelope.Action)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("Attempts = %d", outcome.Attempts)
	}
	if !strings.Contains(outcome.Envelope.Error, "3 attempts") {
		t.Fatalf("Error = %q", outcome.Envelope.Error)
	}
}

func TestRunGenerationServiceFailureIsTerminal(t *testing.T) {
	gen := &scriptedGenerator{err: errors.New("upstream timeout")}
	agent := newTestAgent(t, gen, &scriptedExecutor{}, nil)

	_, err := agent.Run(context.Background(), testRequest("anything"))
	var serviceErr *GenerationServiceError
	if !errors.As(err, &serviceErr) {
		t.Fatalf("error = %v, want GenerationServiceError", err)
	}
	if len(gen.requests) != 1 {
		t.Fatalf("generation calls = %d, want 1 (no loop retry)", len(gen.requests))
	}
}

func TestRunRendersChartOnSuccess(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{vizEnvelope()}}
	exec := &scriptedExecutor{results: []sandbox.Result{successResult()}}
	renderer := &stubRenderer{image: []byte("png")}
	agent := newTestAgent(t, gen, exec, renderer)

	outcome, err := agent.Run(context.Background(), testRequest("chart revenue"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.ImageBase64 == "" {
		t.Fatal("expected rendered image")
	}
	if renderer.calls != 1 {
		t.Fatalf("renderer calls = %d", renderer.calls)
	}
}

func TestRunChartFailureDoesNotFailResult(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{vizEnvelope()}}
	exec := &scriptedExecutor{results: []sandbox.Result{successResult()}}
	renderer := &stubRenderer{err: errors.New("render service down")}
	agent := newTestAgent(t, gen, exec, renderer)

	outcome, err := agent.Run(context.Background(), testRequest("chart revenue"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !outcome.Execution.Success {
		t.Fatal("query result should stay successful")
	}
	if outcome.ImageBase64 != "" {
		t.Fatalf("ImageBase64 = %q, want empty", outcome.ImageBase64)
	}
}

func TestRunMissingSQLConsumesRetry(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"action":"generate_sql","sql":""}`,
		`{"action":"explain","explanation":"ok"}`,
	}}
	agent := newTestAgent(t, gen, &scriptedExecutor{}, nil)

	outcome, err := agent.Run(context.Background(), testRequest("anything"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if outcome.Attempts != 2 {
		t.Fatalf("Attempts = %d", outcome.Attempts)
	}
}

func newTestAgent(t *testing.T, gen generation.Client, exec Executor, renderer *stubRenderer) *Agent {
	t.Helper()
	cfg := Config{
		Generator:   gen,
		Executor:    exec,
		MaxRetries:  2,
		RowCap:      1000,
		Temperature: 0.1,
	}
	if renderer != nil {
		cfg.Renderer = renderer
	}
	agent, err := NewAgent(cfg)
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}
	return agent
}

func testRequest(question string) Request {
	return Request{
		Question:      question,
		SchemaContext: "- region (STRING)\n- amount (DOUBLE)",
		Snapshot:      []byte("parquet-bytes"),
	}
}

func sqlEnvelope(sql string) string {
	encoded, _ := json.Marshal(map[string]any{
		"action":      "generate_sql",
		"sql":         sql,
		"used_tables": []string{"data"},
		"explanation": "test",
		"confidence":  0.9,
	})
	return string(encoded)
}

func vizEnvelope() string {
	encoded, _ := json.Marshal(map[string]any{
		"action":      "generate_viz",
		"sql":         "SELECT region, SUM(amount) AS total FROM data GROUP BY region",
		"used_tables": []string{"data"},
		"explanation": "test",
		"viz_spec":    map[string]any{"mark": "bar"},
		"confidence":  0.9,
	})
	return string(encoded)
}

func successResult() sandbox.Result {
	return sandbox.Result{
		Success:  true,
		Columns:  []string{"region", "total"},
		Rows:     []map[string]any{{"region": "emea", "total": 15.0}},
		RowCount: 1,
	}
}

type scriptedGenerator struct {
	responses []string
	requests  []generation.Request
	err       error
}

func (s *scriptedGenerator) Generate(_ context.Context, req generation.Request) (generation.Result, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return generation.Result{}, s.err
	}
	index := len(s.requests) - 1
	if index >= len(s.responses) {
		return generation.Result{}, fmt.Errorf("no scripted response for attempt %d", index)
	}
	return generation.Result{Text: s.responses[index], Backend: "scripted", Model: "test"}, nil
}

type scriptedExecutor struct {
	results []sandbox.Result
	calls   int
}

func (s *scriptedExecutor) Execute(_ context.Context, _ sandbox.Request) (sandbox.Result, error) {
	index := s.calls
	s.calls++
	if index >= len(s.results) {
		return sandbox.Result{}, fmt.Errorf("no scripted result for call %d", index)
	}
	return s.results[index], nil
}

type stubRenderer struct {
	image []byte
	err   error
	calls int
}

func (s *stubRenderer) Render(_ context.Context, _ json.RawMessage, _ []map[string]any) ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.image, nil
}
