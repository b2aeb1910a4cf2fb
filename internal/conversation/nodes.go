package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ragcore/ragcore/internal/analyze"
	"github.com/ragcore/ragcore/internal/query"
	"github.com/ragcore/ragcore/internal/telemetry"
)

const greeting = "Hello! I'm your AI assistant. How can I help you today?"
const clarificationMessage = "I need more information to help you better. Could you please provide more details about what you're looking for?"

// Nodes holds the collaborators the conversation graph's node
// functions call out to, generalizing FreshConversationNodes's
// constructor dependencies (smart_router, query_engine, llm_client).
type Nodes struct {
	Analyser       analyze.Analyser
	Querier        query.Querier
	ContextManager *ContextManager
	Logger         *slog.Logger

	// EffectiveValueLog, when set, records the per-check confidence
	// components Respond's validation pass composes into
	// OverallQualityScore. Nil disables this telemetry.
	EffectiveValueLog *telemetry.EffectiveValueLogger

	MaxRecentHistory int
	TopK             int
	// PoisoningDetection quarantines messages matching prompt-injection
	// indicators; ValidationEnabled runs the five-check validator on
	// every generated response.
	PoisoningDetection bool
	ValidationEnabled  bool
}

func NewNodes(analyser analyze.Analyser, querier query.Querier, logger *slog.Logger) Nodes {
	if logger == nil {
		logger = slog.Default()
	}
	return Nodes{
		Analyser:           analyser,
		Querier:            querier,
		ContextManager:     NewContextManager(4000),
		Logger:             logger,
		MaxRecentHistory:   6,
		TopK:               8,
		PoisoningDetection: true,
		ValidationEnabled:  true,
	}
}

// Initialize sets conversation bookkeeping fields, per
// FreshConversationNodes.initialize_conversation.
func (n Nodes) Initialize(ctx context.Context, s State) (State, error) {
	out := s.Clone()
	if out.ConversationStatus == "" {
		out.ConversationStatus = "active"
	}
	return out, nil
}

// Greet appends the static greeting assistant message, per
// FreshConversationNodes.greet_user.
func (n Nodes) Greet(ctx context.Context, s State) (State, error) {
	return s.WithMessage("assistant", greeting), nil
}

// Understand extracts the latest user message, classifies it, and
// decides whether it's a person query, following
// FreshConversationNodes.understand_intent.
func (n Nodes) Understand(ctx context.Context, s State) (State, error) {
	query, ok := s.LastUserMessage()
	if !ok {
		return s, fmt.Errorf("no user message to understand")
	}

	out := s.Clone()
	out.OriginalQuery = query
	out.ProcessedQuery = query

	if n.PoisoningDetection {
		out = quarantinePoisoned(out, n.Logger)
	}
	out.ContextQuality = deriveContextQuality(out)

	history := out.RecentHistoryText(n.MaxRecentHistory)

	var analysis *analyze.Analysis
	if n.Analyser != nil {
		a, err := n.Analyser.Analyze(ctx, query, history)
		if err != nil {
			n.Logger.Warn("analysis_failed", slog.String("reason", err.Error()))
		} else {
			analysis = a
		}
	}
	if analysis == nil {
		analysis = &analyze.Analysis{Intent: analyze.IntentInformationSeeking, Complexity: analyze.ComplexityModerate}
	}

	out.UserIntent = string(analysis.Intent)
	out.QueryComplexity = string(analysis.Complexity)
	out.EntitiesMentioned = analysis.Entities
	out.IsContextual = analysis.IsContextual

	if analysis.EntityType == "person" {
		if name, ok := ExtractPersonName(analysis.ScopeTargets, query); ok {
			out.IsPersonQuery = true
			out.PersonName = name
		}
	}

	if out.IsContextual && len(history) > 0 {
		if enhanced := n.enhanceContextualQuery(ctx, query, history); enhanced != "" {
			out.ProcessedQuery = enhanced
		}
	}

	return out, nil
}

func (n Nodes) enhanceContextualQuery(ctx context.Context, q string, history []string) string {
	lla, ok := n.Analyser.(*analyze.LLMAnalyser)
	if !ok {
		return ""
	}
	return lla.EnhanceContextualQuery(ctx, q, history)
}

// Search routes into person-specialized search or a regular query,
// generalizing search_knowledge/_handle_regular_search/_handle_person_query.
func (n Nodes) Search(ctx context.Context, s State) (State, error) {
	out := s.Clone()
	if n.Querier == nil {
		return out, nil
	}
	// A poisoned or conflicted context never reaches retrieval or the
	// LLM; Respond substitutes the safe response instead.
	if out.ContextQuality == QualityPoisoned || out.ContextQuality == QualityConflicted {
		out.SearchResults = nil
		out.ContextSegments = nil
		out.QueryEngineResponse = ""
		return out, nil
	}

	if out.IsPersonQuery && out.PersonName != "" {
		return n.searchPerson(ctx, out)
	}
	return n.searchRegular(ctx, out)
}

func (n Nodes) searchRegular(ctx context.Context, s State) (State, error) {
	opts := query.ContextOpts{
		IsContextual:    s.IsContextual,
		OriginalQuery:   s.OriginalQuery,
		RecentHistory:   s.RecentHistoryText(n.MaxRecentHistory),
		BypassThreshold: false,
	}
	resp, err := n.Querier.Answer(ctx, s.ProcessedQuery, n.TopK, opts)
	if err != nil {
		return s, err
	}

	out := s.Clone()
	out.SearchResults = toSearchResults(resp.Sources)
	out = n.assembleContext(out)
	out.QueryEngineResponse = resp.Answer
	return out, nil
}

// assembleContext runs the context manager's gather -> filter -> rank
// -> assemble pipeline over the state's clean recent conversation and
// the turn's search results, storing the surviving segments and
// escalating ContextQuality when the assembly itself aggregates to
// poisoned or conflicted.
func (n Nodes) assembleContext(s State) State {
	out := s.Clone()
	_, segments, quality := n.ContextManager.BuildContext(out, out.SearchResults, n.MaxRecentHistory)
	out.ContextSegments = segments
	if quality == QualityPoisoned || quality == QualityConflicted {
		out.ContextQuality = quality
	}
	return out
}

func (n Nodes) searchPerson(ctx context.Context, s State) (State, error) {
	strategies := PersonSearchStrategies(s.PersonName)
	if len(strategies) > 3 {
		strategies = strategies[:3]
	}

	var best *query.Response
	bestScore := 0.0
	var allResults []query.Result

	for _, strategy := range strategies {
		opts := query.ContextOpts{
			IsContextual:    s.IsContextual,
			OriginalQuery:   s.OriginalQuery,
			RecentHistory:   s.RecentHistoryText(n.MaxRecentHistory),
			BypassThreshold: true,
		}
		resp, err := n.Querier.ProcessQuery(ctx, strategy, 5, opts)
		if err != nil || resp == nil || len(resp.Sources) == 0 {
			continue
		}
		allResults = append(allResults, resp.Sources...)
		relevance := PersonRelevance(toSearchResults(resp.Sources), s.PersonName)
		if relevance > bestScore {
			bestScore = relevance
			best = resp
		}
	}

	out := s.Clone()
	out.SearchMetadata = map[string]float64{"person_relevance_score": bestScore}
	if best != nil {
		out.SearchResults = toSearchResults(best.Sources)
		out = n.assembleContext(out)
		out.QueryEngineResponse = best.Answer
	} else {
		out.SearchResults = nil
		out.ContextSegments = nil
		out.QueryEngineResponse = ""
	}
	return out, nil
}

// Respond generates the assistant's reply, branching to the
// person-query formatter when applicable, per generate_response.
// A poisoned or conflicted context short-circuits every generation
// path into the safe response.
func (n Nodes) Respond(ctx context.Context, s State) (State, error) {
	var response string

	switch {
	case s.ContextQuality == QualityPoisoned || s.ContextQuality == QualityConflicted:
		response = safeResponse(s.ContextQuality)
	case s.IsPersonQuery:
		relevance := s.SearchMetadata["person_relevance_score"]
		response = GeneratePersonResponse(s.PersonName, s.SearchResults, relevance)
	case routeAfterUnderstanding(s.UserIntent) == NodeRespond && len(s.SearchResults) == 0:
		response = respondWithoutSearch(s.UserIntent, s.OriginalQuery)
	case s.QueryEngineResponse != "":
		response = s.QueryEngineResponse
	case len(s.SearchResults) > 0:
		response = responseFromResults(s.SearchResults)
	default:
		response = noResultsResponse(s.OriginalQuery)
	}

	if !n.ValidationEnabled {
		return s.WithMessage("assistant", response), nil
	}

	validation := ValidateResponse(response, s.OriginalQuery, nil, s.SearchResults, lastAssistantTexts(s, 5))
	if n.EffectiveValueLog != nil {
		turnID := fmt.Sprintf("%s:%d", s.ThreadID, s.TurnCount)
		n.EffectiveValueLog.ConfidenceComposition(turnID, validation.Components, validation.Confidence)
	}
	out := s.WithMessage("assistant", response)
	last := &out.Messages[len(out.Messages)-1]
	last.Confidence = validation.Confidence
	last.QualityScore = validation.Confidence
	last.Validated = validation.Passed
	out.OverallQualityScore = validation.Confidence
	if validation.Components["consistency"] < 1.0 {
		out.ConflictCount++
	}
	if !validation.Passed {
		out.ErrorMessages = append(out.ErrorMessages, validation.Errors...)
	}
	out.ContextQuality = deriveContextQuality(out)
	return out, nil
}

// safeResponse is the degraded-context reply: it acknowledges the
// problem without repeating or acting on any quarantined content.
func safeResponse(quality string) string {
	if quality == QualityConflicted {
		return "I'm seeing conflicting information in this conversation, so I'd rather not guess. Could you restate what you need?"
	}
	return "I noticed a request to change my role or instructions. I can't do that, but I'm happy to keep helping with questions about the knowledge base."
}

// quarantinePoisoned scans messages not already quarantined for
// prompt-injection indicators and adds matches to the poisoned set,
// per detect_context_poisoning's quarantine discipline.
func quarantinePoisoned(s State, logger *slog.Logger) State {
	out := s
	for _, m := range s.Messages {
		if out.IsQuarantined(m.ID) {
			continue
		}
		if poisoned, indicators := DetectContentPoisoning(m.Content); poisoned {
			out = out.Clone()
			out.PoisonedContentIDs = append(out.PoisonedContentIDs, m.ID)
			logger.Warn("message_quarantined",
				slog.String("message_id", m.ID), slog.String("indicator", indicators[0]))
		}
	}
	return out
}

// deriveContextQuality ports calculate_context_quality: an empty
// transcript is high, poisoned and conflicted dominate, and otherwise
// the average quality score of the last ten messages is discounted by
// the per-turn error rate and bucketed at >0.8 / >0.5.
func deriveContextQuality(s State) string {
	if len(s.Messages) == 0 {
		return QualityHigh
	}
	if len(s.PoisonedContentIDs) > 0 {
		return QualityPoisoned
	}
	if s.ConflictCount > 2 {
		return QualityConflicted
	}

	recent := s.Messages
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var sum float64
	for _, m := range recent {
		sum += m.QualityScore
	}
	avgQuality := sum / float64(len(recent))

	turns := s.TurnCount
	if turns < 1 {
		turns = 1
	}
	errRate := float64(len(s.ErrorMessages)) / float64(turns)

	quality := avgQuality * (1 - errRate)
	switch {
	case quality > 0.8:
		return QualityHigh
	case quality > 0.5:
		return QualityMedium
	default:
		return QualityLow
	}
}

func respondWithoutSearch(intent, query string) string {
	if intent == "goodbye" {
		return "Goodbye! Feel free to come back if you have more questions."
	}
	if intent == "help" {
		return "I can help you find information from the knowledge base. Just ask me a question about the topics you're interested in."
	}
	return greeting
}

func responseFromResults(results []SearchResult) string {
	if len(results) == 0 {
		return "I couldn't find any relevant information for your query."
	}
	var b strings.Builder
	b.WriteString(results[0].Text)
	b.WriteString("\n\nSources:\n")
	n := len(results)
	if n > 3 {
		n = 3
	}
	for i := 0; i < n; i++ {
		source := results[i].Source
		if source == "" {
			source = "Unknown source"
		}
		b.WriteString("- ")
		b.WriteString(source)
		b.WriteString("\n")
	}
	return b.String()
}

func noResultsResponse(originalQuery string) string {
	if originalQuery == "" {
		originalQuery = "your query"
	}
	return fmt.Sprintf("I couldn't find any information related to '%s'. Could you try rephrasing your question or providing more specific details?", originalQuery)
}

// Clarify appends the static clarification message, per
// FreshConversationNodes.handle_clarification.
func (n Nodes) Clarify(ctx context.Context, s State) (State, error) {
	return s.WithMessage("assistant", clarificationMessage), nil
}

func toSearchResults(results []query.Result) []SearchResult {
	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			Text:       r.Text,
			Score:      r.FinalScore,
			Source:     r.Source,
			DocID:      r.DocID,
			SourceType: r.SourceType,
			Metadata:   r.Metadata,
			Confidence: r.QueryConfidence,
		}
	}
	return out
}

func lastAssistantTexts(s State, count int) []string {
	var out []string
	for i := len(s.Messages) - 1; i >= 0 && len(out) < count; i-- {
		if s.Messages[i].Type == "assistant" {
			out = append(out, s.Messages[i].Content)
		}
	}
	return out
}
