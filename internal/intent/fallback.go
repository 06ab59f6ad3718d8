package intent

import "strings"

// Fixed heuristic confidences. These are labels for the fallback path, not
// calibrated probabilities.
const (
	fallbackReminderConfidence = 0.85
	fallbackSearchConfidence   = 0.8
	fallbackMemoryConfidence   = 0.7
)

var searchCues = []string{
	"what", "when", "where", "who", "why", "how",
	"show me", "find", "search", "look for", "recall",
	"remember", "what did", "what was",
	"do you remember", "can you find", "where is",
}

// fallbackClassify is the lexical classification used when the
// language-understanding collaborator is unavailable or its output is
// malformed. Precedence: reminder > search > memory. It never produces a
// reminder schedule or rewritten content, since there is no model to compute
// them, so a fallback reminder is unschedulable by construction.
func fallbackClassify(text string) Classification {
	lower := strings.ToLower(strings.TrimSpace(text))

	if strings.Contains(lower, "remind") {
		return Classification{
			Kind:       KindReminder,
			Confidence: fallbackReminderConfidence,
			Reasoning:  "fallback: explicit reminder cue",
			Fallback:   true,
		}
	}

	isSearch := strings.HasSuffix(lower, "?")
	if !isSearch {
		for _, cue := range searchCues {
			if strings.Contains(lower, cue) {
				isSearch = true
				break
			}
		}
	}
	if isSearch {
		return Classification{
			Kind:           KindSearch,
			Confidence:     fallbackSearchConfidence,
			Reasoning:      "fallback: search indicators",
			ExtractedQuery: text,
			Fallback:       true,
		}
	}

	return Classification{
		Kind:       KindMemory,
		Confidence: fallbackMemoryConfidence,
		Reasoning:  "fallback: default to memory",
		Fallback:   true,
	}
}
