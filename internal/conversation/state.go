// Package conversation implements the Conversation Graph (C10): a
// directed graph of pure node functions over an immutable State value,
// carrying a turn from raw user input through intent understanding,
// retrieval, and response generation.
package conversation

import (
	"time"

	"github.com/google/uuid"
)

// Context quality tags, ordered worst-wins: poisoned and conflicted
// dominate any aggregation they appear in.
const (
	QualityHigh       = "high"
	QualityMedium     = "medium"
	QualityLow        = "low"
	QualityConflicted = "conflicted"
	QualityPoisoned   = "poisoned"
)

// Message is one turn in the conversation transcript, with the
// validation and quality tracking fields the context manager reads:
// Confidence and QualityScore are in [0,1], Validated flips once the
// response validator has accepted the message.
type Message struct {
	ID           string
	Type         string // "user" | "assistant"
	Content      string
	Metadata     map[string]string
	Timestamp    time.Time
	Confidence   float64
	Validated    bool
	QualityScore float64
}

// ContextSegment is one piece of assembled LLM context with quality
// tracking, mirroring the original's ContextSegment dataclass.
type ContextSegment struct {
	Content        string
	Source         string // "conversation" | "search" | "system"
	Relevance      float64
	Quality        string // one of the Quality* tags
	Timestamp      time.Time
	TokensEstimate int
}

// State is the single source of truth threaded through every node.
// Nodes never mutate a State in place; they call With* helpers that
// return a modified copy, mirroring fresh_conversation_state.py's
// "create a copy to avoid modifying the original" discipline.
type State struct {
	ThreadID         string
	ConversationID   string
	UserID           string
	Messages         []Message
	TurnCount        int
	ConversationStatus string // "active" | "ended"

	OriginalQuery  string
	ProcessedQuery string
	UserIntent     string
	QueryComplexity string
	EntitiesMentioned []string
	IsContextual      bool

	IsPersonQuery    bool
	PersonName       string
	DecomposedSearch bool
	AggregationResult *AggregationResult

	SearchResults   []SearchResult
	ContextSegments []ContextSegment
	SearchMetadata  map[string]float64

	QueryEngineResponse string
	Suggestions         []string
	Sources             []string

	OverallQualityScore float64
	HasErrors           bool
	ErrorMessages       []string

	// ContextQuality is "high", "medium", "low", "conflicted", or
	// "poisoned"; PoisonedContentIDs quarantines message IDs whose
	// content matched a prompt-injection indicator, and ConflictCount
	// tracks consistency-check failures across turns.
	ContextQuality     string
	PoisonedContentIDs []string
	ConflictCount      int

	// MaxHistory bounds Messages; zero means unbounded.
	MaxHistory int

	CreatedAt    time.Time
	LastActivity time.Time
}

// SearchResult mirrors the Python original's SearchResult dataclass,
// including its quality-tracking fields: Confidence carries the query
// variant's confidence, Validated flips once the result has passed
// validation.
type SearchResult struct {
	Text        string
	Score       float64
	Source      string
	DocID       string
	SourceType  string
	Metadata    map[string]string
	Confidence  float64
	Validated   bool
}

// AggregationResult carries the outcome of a count/list aggregation query.
type AggregationResult struct {
	Count          int
	Type           string
	SearchTermsUsed []string
}

// NewState creates a fresh conversation state with generated IDs, per
// fresh_conversation_state.py's FreshConversationState constructor.
func NewState(threadID string) State {
	now := time.Now()
	if threadID == "" {
		threadID = uuid.NewString()
	}
	return State{
		ThreadID:            threadID,
		ConversationID:      uuid.NewString(),
		Messages:            nil,
		TurnCount:           0,
		ConversationStatus:  "active",
		OverallQualityScore: 1.0,
		CreatedAt:           now,
		LastActivity:        now,
	}
}

// Clone returns a deep-enough copy of s for a node to modify safely.
func (s State) Clone() State {
	out := s
	out.Messages = append([]Message(nil), s.Messages...)
	out.EntitiesMentioned = append([]string(nil), s.EntitiesMentioned...)
	out.ErrorMessages = append([]string(nil), s.ErrorMessages...)
	out.SearchResults = append([]SearchResult(nil), s.SearchResults...)
	out.ContextSegments = append([]ContextSegment(nil), s.ContextSegments...)
	out.Suggestions = append([]string(nil), s.Suggestions...)
	out.Sources = append([]string(nil), s.Sources...)
	out.PoisonedContentIDs = append([]string(nil), s.PoisonedContentIDs...)
	return out
}

// WithMessage appends a message and bumps TurnCount for user turns, per
// FreshConversationStateManager.add_message.
func (s State) WithMessage(msgType, content string) State {
	out := s.Clone()
	out.Messages = append(out.Messages, Message{
		ID:           uuid.NewString(),
		Type:         msgType,
		Content:      content,
		Timestamp:    time.Now(),
		Confidence:   1.0,
		QualityScore: 1.0,
	})
	if msgType == "user" {
		out.TurnCount++
	}
	if out.MaxHistory > 0 && len(out.Messages) > out.MaxHistory {
		out.Messages = append([]Message(nil), out.Messages[len(out.Messages)-out.MaxHistory:]...)
	}
	out.LastActivity = time.Now()
	return out
}

// IsQuarantined reports whether a message ID is in the poisoned set.
func (s State) IsQuarantined(id string) bool {
	for _, p := range s.PoisonedContentIDs {
		if p == id {
			return true
		}
	}
	return false
}

// LastUserMessage returns the most recent user message's content, per
// FreshConversationStateManager.get_last_user_message.
func (s State) LastUserMessage() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Type == "user" {
			return s.Messages[i].Content, true
		}
	}
	return "", false
}

// LastAssistantMessage returns the most recent assistant message's content.
func (s State) LastAssistantMessage() (string, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Type == "assistant" {
			return s.Messages[i].Content, true
		}
	}
	return "", false
}

// RecentMessages returns the last count messages, per
// FreshConversationStateManager.get_recent_messages. Quarantined
// messages are excluded so their content never reaches a prompt.
func (s State) RecentMessages(count int) []Message {
	if count <= 0 || len(s.Messages) == 0 {
		return nil
	}
	var recent []Message
	for i := len(s.Messages) - 1; i >= 0 && len(recent) < count; i-- {
		if s.IsQuarantined(s.Messages[i].ID) {
			continue
		}
		recent = append(recent, s.Messages[i])
	}
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

// RecentHistoryText renders RecentMessages as "type: content" lines,
// the shape understand_intent feeds to the LLM for contextual-query
// enhancement.
func (s State) RecentHistoryText(count int) []string {
	recent := s.RecentMessages(count)
	lines := make([]string, len(recent))
	for i, m := range recent {
		lines[i] = m.Type + ": " + m.Content
	}
	return lines
}

// WithError marks the state as errored and appends the message, per
// every node's except-block behavior in the Python original.
func (s State) WithError(message string) State {
	out := s.Clone()
	out.HasErrors = true
	out.ErrorMessages = append(out.ErrorMessages, message)
	return out
}
