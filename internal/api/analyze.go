package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tabletalk/tabletalk/internal/analysis"
	"github.com/tabletalk/tabletalk/internal/config"
	"github.com/tabletalk/tabletalk/internal/dataset"
	"github.com/tabletalk/tabletalk/internal/sandbox"
	"github.com/tabletalk/tabletalk/internal/session"
	"github.com/tabletalk/tabletalk/internal/sqlcheck"
)

type analyzeRequest struct {
	Question  string `json:"question"`
	DatasetID string `json:"dataset_id"`
	SessionID string `json:"session_id"`
}

type analyzeResponse struct {
	SessionID       string          `json:"session_id"`
	Action          string          `json:"action"`
	SQL             string          `json:"sql,omitempty"`
	UsedTables      []string        `json:"used_tables,omitempty"`
	UsedColumns     []string        `json:"used_columns,omitempty"`
	Explanation     string          `json:"explanation,omitempty"`
	VizSpec         json.RawMessage `json:"viz_spec,omitempty"`
	Confidence      float64         `json:"confidence,omitempty"`
	FollowUp        string          `json:"follow_up,omitempty"`
	Error           string          `json:"error,omitempty"`
	ExecutionResult *sandbox.Result `json:"execution_result,omitempty"`
	ImageBase64     string          `json:"image_base64,omitempty"`
	Attempts        int             `json:"attempts"`
	Backend         string          `json:"backend,omitempty"`
	Model           string          `json:"model,omitempty"`
}

func handleAnalyze(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "request body must be valid JSON", false, nil)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "question is required", false, nil)
		return
	}
	if strings.TrimSpace(req.DatasetID) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "dataset_id is required", false, nil)
		return
	}

	ctx := r.Context()
	if cfg.Analysis.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Analysis.RequestTimeout)
		defer cancel()
	}

	snapshot, err := deps.Datasets.Load(ctx, req.DatasetID)
	if err != nil {
		if errors.Is(err, dataset.ErrDatasetNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "DATASET_NOT_FOUND", err.Error(), false, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "DATASET_LOAD_FAILED", err.Error(), true, nil)
		return
	}

	schemaContext, err := buildSchemaContext(ctx, cfg, deps, snapshot)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET", err.Error(), false, nil)
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	var history []session.Turn
	if sessionID == "" {
		sessionID = uuid.NewString()
	} else if deps.Sessions != nil {
		history, err = deps.Sessions.Recent(ctx, sessionID, cfg.Sessions.ContextTurns)
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "SESSION_LOAD_FAILED", err.Error(), true, nil)
			return
		}
	}

	outcome, err := deps.Agent.Run(ctx, analysis.Request{
		Question:      req.Question,
		SchemaContext: schemaContext,
		Snapshot:      snapshot,
		History:       history,
	})
	if err != nil {
		var serviceErr *analysis.GenerationServiceError
		switch {
		case errors.As(err, &serviceErr):
			writeError(r.Context(), w, http.StatusBadGateway, "GENERATION_UNAVAILABLE", "the generation service failed; try again later", true, nil)
		case errors.Is(err, context.DeadlineExceeded):
			writeError(r.Context(), w, http.StatusGatewayTimeout, "ANALYSIS_TIMEOUT", "analysis did not finish within the request budget", true, nil)
		default:
			writeError(r.Context(), w, http.StatusInternalServerError, "ANALYSIS_FAILED", err.Error(), true, nil)
		}
		return
	}

	if deps.Sessions != nil {
		appendSessionTurn(r, deps, sessionID, req.Question, outcome)
	}

	envelope := outcome.Envelope
	writeJSON(w, http.StatusOK, analyzeResponse{
		SessionID:       sessionID,
		Action:          string(envelope.Action),
		SQL:             envelope.SQL,
		UsedTables:      envelope.UsedTables,
		UsedColumns:     envelope.UsedColumns,
		Explanation:     envelope.Explanation,
		VizSpec:         envelope.VizSpec,
		Confidence:      envelope.Confidence,
		FollowUp:        envelope.FollowUp,
		Error:           envelope.Error,
		ExecutionResult: outcome.Execution,
		ImageBase64:     outcome.ImageBase64,
		Attempts:        outcome.Attempts,
		Backend:         outcome.Backend,
		Model:           outcome.Model,
	})
}

// buildSchemaContext combines the snapshot's column schema with a few
// sampled rows. Sampling is best effort: a sampling failure degrades
// the prompt, not the request.
func buildSchemaContext(ctx context.Context, cfg config.Config, deps Dependencies, snapshot []byte) (string, error) {
	columns, rowCount, err := dataset.DescribeSnapshot(snapshot)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Table %q with %d rows. Columns:\n", sqlcheck.CanonicalTable, rowCount)
	b.WriteString(dataset.Dataset{Columns: columns}.SchemaSummary())

	sampleRows := cfg.Analysis.SchemaSampleRows
	if sampleRows <= 0 || deps.Sampler == nil {
		return b.String(), nil
	}
	sample, err := deps.Sampler.Execute(ctx, sandbox.Request{
		SQL:       fmt.Sprintf("SELECT * FROM %s", sqlcheck.CanonicalTable),
		Snapshot:  snapshot,
		Relations: []string{sqlcheck.CanonicalTable},
		RowCap:    sampleRows,
	})
	if err != nil || !sample.Success || len(sample.Rows) == 0 {
		return b.String(), nil
	}

	b.WriteString("\nSample rows:\n")
	for _, record := range sample.Rows {
		encoded, err := json.Marshal(record)
		if err != nil {
			continue
		}
		b.Write(encoded)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func appendSessionTurn(r *http.Request, deps Dependencies, sessionID, question string, outcome analysis.Outcome) {
	answer, err := json.Marshal(outcome.Envelope)
	if err != nil {
		answer = []byte(`{}`)
	}
	err = deps.Sessions.Append(r.Context(), sessionID, session.Turn{
		Question:  question,
		Answer:    string(answer),
		Action:    string(outcome.Envelope.Action),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "session append failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}
