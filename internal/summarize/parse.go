package summarize

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inbox-sync/internal/model"
)

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// parseSummary decodes a model response into the persisted summary
// shape. Enum fields outside their domain are rejected, not stored.
func parseSummary(text string) (*model.ThreadSummary, error) {
	cleaned := cleanJSON(text)
	if cleaned == "" {
		return nil, eris.New("summarize: empty response")
	}

	var s model.ThreadSummary
	if err := json.Unmarshal([]byte(cleaned), &s); err != nil {
		return nil, eris.Wrap(err, "summarize: decode summary")
	}
	if err := validateSummary(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func validateSummary(s *model.ThreadSummary) error {
	if strings.TrimSpace(s.ProblemStatement) == "" {
		return eris.New("summarize: empty problem_statement")
	}

	switch s.ResolutionStatus {
	case model.ResolutionResolved, model.ResolutionPending,
		model.ResolutionEscalated, model.ResolutionAbandoned:
	default:
		return eris.Errorf("summarize: resolution_status %q out of domain", s.ResolutionStatus)
	}

	switch s.Sentiment.Category {
	case model.SentimentPositive, model.SentimentNeutral,
		model.SentimentNegative, model.SentimentMixed:
	default:
		return eris.Errorf("summarize: sentiment category %q out of domain", s.Sentiment.Category)
	}
	if s.Sentiment.Score < -1 || s.Sentiment.Score > 1 {
		return eris.Errorf("summarize: sentiment score %.2f out of range", s.Sentiment.Score)
	}

	for _, fr := range s.FeatureRequests {
		switch fr.Urgency {
		case "low", "medium", "high":
		default:
			return eris.Errorf("summarize: feature request urgency %q out of domain", fr.Urgency)
		}
	}

	for _, ai := range s.ActionItems {
		if strings.TrimSpace(ai.Text) == "" {
			return eris.New("summarize: action item with empty text")
		}
	}

	return nil
}
