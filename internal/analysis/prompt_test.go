package analysis

import (
	"strings"
	"testing"

	"github.com/tabletalk/tabletalk/internal/session"
)

func TestBuildMessagesIncludesSchemaAndQuestion(t *testing.T) {
	messages := BuildMessages("Show monthly revenue trend for 2024", "- order_date (DATE)\n- revenue (DOUBLE)", nil, nil)
	if len(messages) != 2 {
		t.Fatalf("messages = %d", len(messages))
	}
	if messages[0].Role != "system" || !strings.Contains(messages[0].Content, "Examples:") {
		t.Fatalf("system message = %q", messages[0].Content)
	}
	if !strings.Contains(messages[1].Content, "order_date (DATE)") {
		t.Fatalf("user message missing schema: %q", messages[1].Content)
	}
	if !strings.Contains(messages[1].Content, "Question: Show monthly revenue trend for 2024") {
		t.Fatalf("user message missing question: %q", messages[1].Content)
	}
}

func TestBuildMessagesIncludesHistory(t *testing.T) {
	history := []session.Turn{
		{Question: "How many orders?", Answer: "1200 orders", Action: "explain"},
	}
	messages := BuildMessages("And by region?", "", history, nil)
	if !strings.Contains(messages[1].Content, "Q: How many orders?") {
		t.Fatalf("user message missing history: %q", messages[1].Content)
	}
}

func TestBuildMessagesParseCorrection(t *testing.T) {
	feedback := &Feedback{Kind: FeedbackParse, Message: "invalid character 'n'"}
	messages := BuildMessages("top regions", "", nil, feedback)
	if !strings.Contains(messages[1].Content, "must output valid structured data") {
		t.Fatalf("correction missing: %q", messages[1].Content)
	}
	// the few-shot block is re-sent verbatim on retries
	if !strings.Contains(messages[0].Content, "Show monthly revenue trend for 2024") {
		t.Fatal("few-shot examples missing on retry")
	}
}

func TestBuildMessagesIncludesFailingSQL(t *testing.T) {
	feedback := &Feedback{
		Kind:    FeedbackExecution,
		Message: "unknown column amt",
		SQL:     "SELECT amt FROM data",
	}
	messages := BuildMessages("total amount", "", nil, feedback)
	content := messages[1].Content
	if !strings.Contains(content, "unknown column amt") {
		t.Fatalf("correction missing error: %q", content)
	}
	if !strings.Contains(content, "SELECT amt FROM data") {
		t.Fatalf("correction missing failing SQL: %q", content)
	}
}

func TestBuildMessagesDoesNotAccumulateFeedback(t *testing.T) {
	first := BuildMessages("q", "", nil, &Feedback{Kind: FeedbackParse, Message: "first failure"})
	second := BuildMessages("q", "", nil, &Feedback{Kind: FeedbackSyntax, Message: "second failure"})
	if strings.Contains(second[1].Content, "first failure") {
		t.Fatal("feedback from an earlier attempt leaked into the prompt")
	}
	if len(second[1].Content) > 2*len(first[1].Content) {
		t.Fatal("prompt size should stay bounded across retries")
	}
}
