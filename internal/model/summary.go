package model

// ResolutionStatus is the LLM's judgment of where the conversation landed.
type ResolutionStatus string

const (
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionEscalated ResolutionStatus = "escalated"
	ResolutionAbandoned ResolutionStatus = "abandoned"
)

// SentimentCategory buckets the overall customer tone.
type SentimentCategory string

const (
	SentimentPositive SentimentCategory = "positive"
	SentimentNeutral  SentimentCategory = "neutral"
	SentimentNegative SentimentCategory = "negative"
	SentimentMixed    SentimentCategory = "mixed"
)

// Sentiment pairs the category with a -1..1 score.
type Sentiment struct {
	Category SentimentCategory `json:"category"`
	Score    float64           `json:"score"`
}

// KeyEvent is one timeline entry of the conversation.
type KeyEvent struct {
	Timestamp   string `json:"timestamp"`
	Description string `json:"description"`
}

// ActionItem is a commitment stated explicitly in the conversation text.
// The prompt forbids inferring items that were never written down.
type ActionItem struct {
	Text    string `json:"text"`
	Owner   string `json:"owner,omitempty"`
	DueDate string `json:"due_date,omitempty"`
}

// FeatureRequest is a product ask surfaced by the conversation.
type FeatureRequest struct {
	Text    string `json:"text"`
	Urgency string `json:"urgency"` // low | medium | high
}

// ThreadSummary is the structured output persisted on the stage record.
// Its JSON shape is consumed by the dashboard and must stay stable.
type ThreadSummary struct {
	ProblemStatement string           `json:"problem_statement"`
	Participants     []string         `json:"participants"`
	KeyEvents        []KeyEvent       `json:"key_events"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
	Sentiment        Sentiment        `json:"sentiment"`
	ActionItems      []ActionItem     `json:"action_items"`
	FeatureRequests  []FeatureRequest `json:"feature_requests"`
	FollowUpRequired bool             `json:"follow_up_required"`
}
