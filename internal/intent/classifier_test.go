package intent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type mockLLM struct {
	completeFn func(ctx context.Context, system, user string) (string, error)
}

func (m *mockLLM) Complete(ctx context.Context, system, user string) (string, error) {
	return m.completeFn(ctx, system, user)
}

var testNow = time.Date(2026, 8, 31, 14, 0, 0, 0, time.UTC)

func TestClassifyReminderFromLLM(t *testing.T) {
	llm := &mockLLM{completeFn: func(ctx context.Context, system, user string) (string, error) {
		return `{"intent":"reminder","confidence":0.95,"reasoning":"explicit request","reminder_message":"call mom","reminder_time":"2026-09-01T15:00:00"}`, nil
	}}
	c := NewClassifier(llm)

	got := c.Classify(context.Background(), "Remind me to call mom tomorrow at 3pm", "u1", testNow)
	if got.Kind != KindReminder {
		t.Fatalf("Kind = %q, want reminder", got.Kind)
	}
	if got.Reminder == nil {
		t.Fatal("missing reminder spec")
	}
	want := time.Date(2026, 9, 1, 15, 0, 0, 0, time.UTC)
	if !got.Reminder.ScheduledAt.Equal(want) {
		t.Errorf("ScheduledAt = %v, want %v", got.Reminder.ScheduledAt, want)
	}
	if got.Reminder.Message != "call mom" {
		t.Errorf("Message = %q", got.Reminder.Message)
	}
	if got.Fallback {
		t.Error("LLM classification marked as fallback")
	}
}

// The model may not invent reminder intent: without a lexical cue in the
// message the result is demoted to memory.
func TestClassifyReminderWithoutCueDemoted(t *testing.T) {
	llm := &mockLLM{completeFn: func(ctx context.Context, system, user string) (string, error) {
		return `{"intent":"reminder","confidence":0.9,"reasoning":"sounds like a task","reminder_message":"buy milk","reminder_time":"2026-09-01T09:00:00"}`, nil
	}}
	c := NewClassifier(llm)

	got := c.Classify(context.Background(), "I need to buy milk tomorrow", "u1", testNow)
	if got.Kind != KindMemory {
		t.Errorf("Kind = %q, want memory", got.Kind)
	}
	if got.Reminder != nil {
		t.Error("demoted classification kept a reminder spec")
	}
}

func TestClassifySearchQueryFallsBackToRawText(t *testing.T) {
	llm := &mockLLM{completeFn: func(ctx context.Context, system, user string) (string, error) {
		return `{"intent":"search","confidence":0.9,"reasoning":"asking about the past"}`, nil
	}}
	c := NewClassifier(llm)

	got := c.Classify(context.Background(), "What did I plan for dinner?", "u1", testNow)
	if got.Kind != KindSearch {
		t.Fatalf("Kind = %q, want search", got.Kind)
	}
	if got.ExtractedQuery != "What did I plan for dinner?" {
		t.Errorf("ExtractedQuery = %q", got.ExtractedQuery)
	}
}

func TestClassifyMemoryWithRewrittenContent(t *testing.T) {
	llm := &mockLLM{completeFn: func(ctx context.Context, system, user string) (string, error) {
		return `{"intent":"memory","confidence":0.95,"reasoning":"sharing new information","rewritten_content":"I got a haircut on 2026-08-31"}`, nil
	}}
	c := NewClassifier(llm)

	got := c.Classify(context.Background(), "I got a haircut today", "u1", testNow)
	if got.Kind != KindMemory {
		t.Fatalf("Kind = %q, want memory", got.Kind)
	}
	if got.RewrittenContent != "I got a haircut on 2026-08-31" {
		t.Errorf("RewrittenContent = %q", got.RewrittenContent)
	}
}

func TestClassifyExtractsJSONFromProse(t *testing.T) {
	llm := &mockLLM{completeFn: func(ctx context.Context, system, user string) (string, error) {
		return "Here is the classification:\n```json\n{\"intent\":\"memory\",\"confidence\":0.8,\"reasoning\":\"ok\"}\n```", nil
	}}
	c := NewClassifier(llm)

	got := c.Classify(context.Background(), "hello", "u1", testNow)
	if got.Kind != KindMemory || got.Fallback {
		t.Errorf("expected memory from fenced JSON, got %+v", got)
	}
}

func TestClassifyMalformedOutputTriggersFallback(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "sure, that is a memory!"},
		{"invalid intent", `{"intent":"note","confidence":0.9,"reasoning":"x"}`},
		{"missing confidence", `{"intent":"memory","reasoning":"x"}`},
		{"reminder without time", `{"intent":"reminder","confidence":0.9,"reasoning":"x","reminder_message":"call mom"}`},
		{"bad reminder time", `{"intent":"reminder","confidence":0.9,"reasoning":"x","reminder_message":"call mom","reminder_time":"tomorrow-ish"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			llm := &mockLLM{completeFn: func(ctx context.Context, system, user string) (string, error) {
				return tc.raw, nil
			}}
			c := NewClassifier(llm)
			got := c.Classify(context.Background(), "Remind me to call mom tomorrow", "u1", testNow)
			if !got.Fallback {
				t.Errorf("expected fallback classification, got %+v", got)
			}
			if got.Kind == KindReminder && got.Reminder != nil {
				t.Error("fallback reminder carried a schedule")
			}
		})
	}
}

func TestClassifyLLMErrorTriggersFallback(t *testing.T) {
	llm := &mockLLM{completeFn: func(ctx context.Context, system, user string) (string, error) {
		return "", errors.New("connection refused")
	}}
	c := NewClassifier(llm)

	got := c.Classify(context.Background(), "What was my to-do list?", "u1", testNow)
	if !got.Fallback {
		t.Fatal("expected fallback classification")
	}
	if got.Kind != KindSearch {
		t.Errorf("Kind = %q, want search", got.Kind)
	}
}

func TestClassifyNilClientUsesFallback(t *testing.T) {
	c := NewClassifier(nil)
	got := c.Classify(context.Background(), "I got a haircut today", "u1", testNow)
	if !got.Fallback || got.Kind != KindMemory {
		t.Errorf("expected fallback memory, got %+v", got)
	}
}

func TestPromptCarriesReferenceTime(t *testing.T) {
	var sawSystem string
	llm := &mockLLM{completeFn: func(ctx context.Context, system, user string) (string, error) {
		sawSystem = system
		return `{"intent":"memory","confidence":0.9,"reasoning":"x"}`, nil
	}}
	c := NewClassifier(llm)
	c.Classify(context.Background(), "hello", "u1", testNow)

	for _, want := range []string{"2026-08-31T14:00:00", "Monday", "UTC"} {
		if !strings.Contains(sawSystem, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}
