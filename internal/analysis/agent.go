package analysis

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tabletalk/tabletalk/internal/chart"
	"github.com/tabletalk/tabletalk/internal/generation"
	"github.com/tabletalk/tabletalk/internal/observability"
	"github.com/tabletalk/tabletalk/internal/sandbox"
	"github.com/tabletalk/tabletalk/internal/session"
	"github.com/tabletalk/tabletalk/internal/sqlcheck"
)

// GenerationServiceError marks a failure of the generation backend
// itself. It is terminal for the request: a collaborator outage is not
// a content-quality problem the repair loop can fix.
type GenerationServiceError struct {
	Err error
}

func (e *GenerationServiceError) Error() string {
	return "generation service: " + e.Err.Error()
}

func (e *GenerationServiceError) Unwrap() error {
	return e.Err
}

// Executor runs one validated statement in a sandbox.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) (sandbox.Result, error)
}

type Config struct {
	Generator   generation.Client
	Executor    Executor
	Renderer    chart.Renderer
	Logger      *slog.Logger
	MaxRetries  int
	RowCap      int
	Temperature float64
}

// Agent is the repair-loop controller: it asks the generator for an
// action envelope, validates and executes SQL-bearing envelopes, and
// feeds each failure back into the next attempt until the retry budget
// runs out.
type Agent struct {
	generator   generation.Client
	executor    Executor
	renderer    chart.Renderer
	logger      *slog.Logger
	maxRetries  int
	rowCap      int
	temperature float64
}

func NewAgent(cfg Config) (*Agent, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if cfg.Executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0")
	}
	rowCap := cfg.RowCap
	if rowCap <= 0 {
		rowCap = 1000
	}
	return &Agent{
		generator:   cfg.Generator,
		executor:    cfg.Executor,
		renderer:    cfg.Renderer,
		logger:      cfg.Logger,
		maxRetries:  cfg.MaxRetries,
		rowCap:      rowCap,
		temperature: cfg.Temperature,
	}, nil
}

// Request is one question against one dataset snapshot.
type Request struct {
	Question      string
	SchemaContext string
	Snapshot      []byte
	History       []session.Turn
}

// Outcome is the terminal result of the loop. Exhaustion is reported
// as an error envelope inside a nil-error Outcome; a Go error is
// returned only for cancellation, sandbox infrastructure faults, or a
// generation service failure.
type Outcome struct {
	Envelope    Envelope
	Execution   *sandbox.Result
	ImageBase64 string
	Attempts    int
	Backend     string
	Model       string
}

func (a *Agent) Run(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.Question) == "" {
		return Outcome{}, fmt.Errorf("question is required")
	}
	if len(req.Snapshot) == 0 {
		return Outcome{}, fmt.Errorf("dataset snapshot is required")
	}

	var feedback *Feedback
	lastFailure := ""
	attempts := 0

	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		attempts = attempt + 1

		messages := BuildMessages(req.Question, req.SchemaContext, req.History, feedback)
		generated, err := a.generator.Generate(ctx, generation.Request{
			Messages:    messages,
			Temperature: a.temperature,
			JSONOutput:  true,
		})
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return Outcome{}, &GenerationServiceError{Err: err}
		}

		envelope, err := ParseEnvelope(generated.Text)
		if err != nil {
			feedback = &Feedback{Kind: FeedbackParse, Message: err.Error()}
			lastFailure = a.recordRetry(ctx, FeedbackParse, err.Error(), "")
			continue
		}

		if !envelope.NeedsSQL() {
			observability.ObserveAnalysis(string(envelope.Action), attempts)
			return Outcome{
				Envelope: envelope,
				Attempts: attempts,
				Backend:  generated.Backend,
				Model:    generated.Model,
			}, nil
		}

		if strings.TrimSpace(envelope.SQL) == "" {
			message := "the envelope carries no sql statement"
			feedback = &Feedback{Kind: FeedbackParse, Message: message}
			lastFailure = a.recordRetry(ctx, FeedbackParse, message, "")
			continue
		}

		candidate, err := sqlcheck.ValidateSyntax(envelope.SQL)
		if err != nil {
			feedback = &Feedback{Kind: FeedbackSyntax, Message: err.Error(), SQL: envelope.SQL}
			lastFailure = a.recordRetry(ctx, FeedbackSyntax, err.Error(), envelope.SQL)
			continue
		}

		if err := sqlcheck.ValidateSafety(candidate.RawSQL); err != nil {
			var safetyErr *sqlcheck.SafetyError
			if errors.As(err, &safetyErr) {
				observability.IncrementSafetyViolation(safetyErr.Keyword)
			}
			feedback = &Feedback{Kind: FeedbackSafety, Message: err.Error(), SQL: candidate.RawSQL}
			lastFailure = a.recordRetry(ctx, FeedbackSafety, err.Error(), candidate.RawSQL)
			continue
		}

		execution, err := a.executor.Execute(ctx, sandbox.Request{
			SQL:       candidate.RawSQL,
			Snapshot:  req.Snapshot,
			Relations: candidate.RegistrationNames(),
			RowCap:    a.rowCap,
		})
		if err != nil {
			if ctx.Err() != nil {
				return Outcome{}, ctx.Err()
			}
			return Outcome{}, fmt.Errorf("sandbox execution: %w", err)
		}
		if !execution.Success {
			feedback = &Feedback{Kind: FeedbackExecution, Message: execution.Error, SQL: candidate.RawSQL}
			lastFailure = a.recordRetry(ctx, FeedbackExecution, execution.Error, candidate.RawSQL)
			continue
		}

		outcome := Outcome{
			Envelope:  envelope,
			Execution: &execution,
			Attempts:  attempts,
			Backend:   generated.Backend,
			Model:     generated.Model,
		}
		if len(envelope.VizSpec) > 0 && a.renderer != nil {
			image, err := a.renderer.Render(ctx, envelope.VizSpec, execution.Rows)
			if err != nil {
				observability.IncrementChartRenderFailure()
				if a.logger != nil {
					a.logger.WarnContext(ctx, "chart render failed",
						slog.String("error", err.Error()),
					)
				}
			} else {
				outcome.ImageBase64 = base64.StdEncoding.EncodeToString(image)
			}
		}

		observability.ObserveAnalysis(string(envelope.Action), attempts)
		return outcome, nil
	}

	message := fmt.Sprintf("could not produce a valid query after %d attempts; last error: %s", attempts, lastFailure)
	observability.ObserveAnalysis(string(ActionError), attempts)
	return Outcome{
		Envelope: Envelope{Action: ActionError, Error: message},
		Attempts: attempts,
	}, nil
}

func (a *Agent) recordRetry(ctx context.Context, kind FeedbackKind, message, sql string) string {
	observability.IncrementRepairRetry(string(kind))
	if a.logger != nil {
		a.logger.InfoContext(ctx, "analysis attempt failed",
			slog.String("kind", string(kind)),
			slog.String("error", message),
			slog.String("sql", sql),
		)
	}
	return message
}
