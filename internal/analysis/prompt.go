package analysis

import (
	"fmt"
	"strings"

	"github.com/tabletalk/tabletalk/internal/generation"
	"github.com/tabletalk/tabletalk/internal/session"
)

// FeedbackKind classifies the failure injected into a repair prompt.
type FeedbackKind string

const (
	FeedbackParse     FeedbackKind = "parse"
	FeedbackSyntax    FeedbackKind = "syntax"
	FeedbackSafety    FeedbackKind = "safety"
	FeedbackExecution FeedbackKind = "execution"
)

// Feedback carries the single most recent failure into the next
// generation attempt. Earlier failures are never accumulated, so the
// prompt stays the same size no matter how many retries run.
type Feedback struct {
	Kind    FeedbackKind
	Message string
	SQL     string
}

const systemPrompt = `You are a data analyst assistant. You answer questions about one tabular dataset by producing DuckDB SQL.

Respond with exactly one JSON object and nothing else. The object has an "action" field with one of these values, plus the fields listed:
- "generate_sql": fields "sql", "used_tables", "used_columns", "explanation", "confidence" (0 to 1), and optionally "viz_spec" (a Vega-Lite spec without data).
- "generate_viz": same fields as generate_sql; use it when the user explicitly asks for a chart.
- "ask_clarify": field "follow_up" with a single clarifying question.
- "explain": field "explanation" answering without running a query.
- "error": field "error" when the question cannot be answered from this dataset.

Rules for SQL:
- Query the table named "data". Do not invent other tables.
- A single SELECT or WITH statement. Never use CREATE, ALTER, DROP, DELETE, INSERT, UPDATE, TRUNCATE, REPLACE, GRANT, or REVOKE.
- Use DuckDB syntax. Prefer explicit column lists over SELECT *.

Examples:

Question: Show monthly revenue trend for 2024
{"action":"generate_sql","sql":"SELECT STRFTIME(order_date, '%Y-%m') AS month, SUM(revenue) AS total_revenue FROM data WHERE STRFTIME(order_date, '%Y') = '2024' GROUP BY month ORDER BY month","used_tables":["data"],"used_columns":["order_date","revenue"],"explanation":"Aggregates revenue per calendar month of 2024.","viz_spec":{"mark":"line","encoding":{"x":{"field":"month","type":"temporal"},"y":{"field":"total_revenue","type":"quantitative"}}},"confidence":0.9}

Question: What do you mean by churn?
{"action":"ask_clarify","follow_up":"Which column or definition should I use for churn in this dataset?"}`

// BuildMessages composes the chat request for one generation attempt.
// The system instruction and few-shot examples are re-sent verbatim on
// every attempt; only the correction block at the end varies.
func BuildMessages(question, schemaContext string, history []session.Turn, feedback *Feedback) []generation.Message {
	var user strings.Builder

	if strings.TrimSpace(schemaContext) != "" {
		user.WriteString("Dataset schema and sample rows:\n")
		user.WriteString(strings.TrimSpace(schemaContext))
		user.WriteString("\n\n")
	}

	if len(history) > 0 {
		user.WriteString("Recent conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&user, "Q: %s\nA (%s): %s\n", turn.Question, turn.Action, turn.Answer)
		}
		user.WriteString("\n")
	}

	user.WriteString("Question: ")
	user.WriteString(strings.TrimSpace(question))

	if feedback != nil {
		user.WriteString("\n\n")
		user.WriteString(correctionBlock(feedback))
	}

	return []generation.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: user.String()},
	}
}

func correctionBlock(feedback *Feedback) string {
	var b strings.Builder
	b.WriteString("Correction: your previous attempt failed. ")

	switch feedback.Kind {
	case FeedbackParse:
		b.WriteString("The response was not a single valid JSON object. You must output valid structured data: exactly one JSON object matching the contract, with no surrounding text.")
	case FeedbackSyntax:
		b.WriteString("The SQL did not validate: ")
		b.WriteString(feedback.Message)
		b.WriteString(". Produce a corrected single statement against the table \"data\".")
	case FeedbackSafety:
		b.WriteString("The SQL was rejected as unsafe: ")
		b.WriteString(feedback.Message)
		b.WriteString(". Only read-only SELECT or WITH statements are allowed.")
	case FeedbackExecution:
		b.WriteString("The SQL failed to execute: ")
		b.WriteString(feedback.Message)
		b.WriteString(". Fix the query so it runs against the schema above.")
	default:
		b.WriteString(feedback.Message)
	}

	if strings.TrimSpace(feedback.SQL) != "" {
		b.WriteString("\nFailing SQL:\n")
		b.WriteString(strings.TrimSpace(feedback.SQL))
	}
	return b.String()
}
