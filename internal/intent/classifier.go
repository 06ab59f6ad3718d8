// Package intent maps inbound messages to one of {memory, search, reminder}.
// Classification is delegated to a language-understanding collaborator whose
// output is validated strictly; any failure or malformed payload degrades to
// a lexical fallback rather than surfacing a parse fault.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const classificationTimeout = 10 * time.Second

// CompletionClient is the language-understanding collaborator.
type CompletionClient interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Classifier classifies message intents with an LLM, falling back to
// keyword heuristics when the collaborator is unavailable.
type Classifier struct {
	llm CompletionClient
}

// NewClassifier creates a Classifier. Pass nil to run in fallback-only mode
// (no API key configured).
func NewClassifier(llm CompletionClient) *Classifier {
	return &Classifier{llm: llm}
}

// wireResult mirrors the JSON contract the model is prompted to produce.
type wireResult struct {
	Intent           string   `json:"intent"`
	Confidence       *float64 `json:"confidence"`
	Reasoning        string   `json:"reasoning"`
	ExtractedQuery   string   `json:"extracted_query"`
	RewrittenContent string   `json:"rewritten_content"`
	ReminderMessage  string   `json:"reminder_message"`
	ReminderTime     string   `json:"reminder_time"`
	Timezone         string   `json:"timezone"`
}

// Classify determines the intent of text. nowLocal is the reference time in
// the user's timezone; all relative temporal phrases resolve against it.
func (c *Classifier) Classify(ctx context.Context, text, userID string, nowLocal time.Time) Classification {
	if c.llm == nil {
		return fallbackClassify(text)
	}

	ctx, cancel := context.WithTimeout(ctx, classificationTimeout)
	defer cancel()

	raw, err := c.llm.Complete(ctx, buildSystemPrompt(nowLocal), buildUserPrompt(text))
	if err != nil {
		slog.Warn("intent classification failed, using fallback", "user_id", userID, "error", err)
		return fallbackClassify(text)
	}

	result, err := parseResult(raw, nowLocal)
	if err != nil {
		slog.Warn("malformed classifier output, using fallback", "user_id", userID, "error", err)
		return fallbackClassify(text)
	}

	return applyPolicy(result, text)
}

// parseResult extracts and validates the JSON object from the model's raw
// output. Any schema violation is an error so the caller can fall back.
func parseResult(raw string, nowLocal time.Time) (Classification, error) {
	// Models occasionally wrap the object in prose or a code fence; take
	// the outermost braces.
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return Classification{}, fmt.Errorf("no JSON object in output")
	}

	var wire wireResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &wire); err != nil {
		return Classification{}, fmt.Errorf("unmarshaling output: %w", err)
	}

	kind := Kind(wire.Intent)
	if !kind.Valid() {
		return Classification{}, fmt.Errorf("invalid intent %q", wire.Intent)
	}
	if wire.Confidence == nil {
		return Classification{}, fmt.Errorf("missing confidence")
	}
	if wire.Reasoning == "" {
		return Classification{}, fmt.Errorf("missing reasoning")
	}

	result := Classification{
		Kind:             kind,
		Confidence:       *wire.Confidence,
		Reasoning:        wire.Reasoning,
		ExtractedQuery:   wire.ExtractedQuery,
		RewrittenContent: wire.RewrittenContent,
	}

	if kind == KindReminder {
		if wire.ReminderMessage == "" || wire.ReminderTime == "" {
			return Classification{}, fmt.Errorf("reminder intent missing message or time")
		}
		at, err := time.ParseInLocation("2006-01-02T15:04:05", wire.ReminderTime, nowLocal.Location())
		if err != nil {
			return Classification{}, fmt.Errorf("parsing reminder_time %q: %w", wire.ReminderTime, err)
		}
		tz := wire.Timezone
		if tz == "" {
			tz = nowLocal.Location().String()
		}
		result.Reminder = &ReminderSpec{
			Message:     wire.ReminderMessage,
			ScheduledAt: at,
			Timezone:    tz,
		}
	}

	return result, nil
}

// applyPolicy enforces the rules the model cannot be trusted with: reminder
// intent requires an explicit cue in the message itself, and search intent
// always carries a query.
func applyPolicy(result Classification, text string) Classification {
	if result.Kind == KindReminder && !hasReminderCue(text) {
		result.Kind = KindMemory
		result.Reminder = nil
		result.Reasoning = "no explicit reminder cue; stored as memory"
	}
	if result.Kind == KindSearch && result.ExtractedQuery == "" {
		result.ExtractedQuery = text
	}
	return result
}

func hasReminderCue(text string) bool {
	return strings.Contains(strings.ToLower(text), "remind")
}
