// Package analyze implements the Query Analyser (C8): turning a raw user
// query into a structured analysis of intent, complexity, scope, and the
// entities it mentions, preferring an LLM-backed structured pass and
// falling back to deterministic heuristics when the LLM is unavailable
// or returns something the decoder can't parse.
package analyze

import "context"

// Intent classifies the conversational purpose of a query.
type Intent string

const (
	IntentGreeting           Intent = "greeting"
	IntentGoodbye            Intent = "goodbye"
	IntentHelp               Intent = "help"
	IntentInformationSeeking Intent = "information_seeking"
	IntentQuestion           Intent = "question"
	IntentFollowUp           Intent = "follow_up"
	IntentCommand            Intent = "command"
	IntentUnknown            Intent = "unknown"
)

// Complexity buckets a query by rough word count.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// QueryType distinguishes single-entity lookups from multi-entity and
// aggregation queries, driving the Query Engine's decomposition and
// aggregation paths.
type QueryType string

const (
	QueryTypeSingle      QueryType = "single"
	QueryTypeMulti       QueryType = "multi"
	QueryTypeAggregation QueryType = "aggregation"
)

// Scope describes how many instances of the entity type the query targets.
type Scope string

const (
	ScopeSpecific Scope = "specific"
	ScopeAll      Scope = "all"
	ScopeMultiple Scope = "multiple"
)

// Action is the verb the caller wants performed against the retrieved entities.
type Action string

const (
	ActionFind    Action = "find"
	ActionList    Action = "list"
	ActionCount   Action = "count"
	ActionCompare Action = "compare"
	ActionIdentify Action = "identify"
)

// Analysis is the full structured result of analyzing one query.
type Analysis struct {
	Intent       Intent
	Complexity   Complexity
	Confidence   float64
	Keywords     []string
	Entities     []string
	IsContextual bool

	QueryType          QueryType
	NeedsDecomposition bool
	EntityType         string
	Scope              Scope
	ScopeTargets       []string
	Action             Action
	Filters            map[string]string
	DecomposedQueries  []string
	SearchKeywords     []string
	Synonyms           map[string][]string
}

// Analyser produces an Analysis for a raw query, optionally informed by
// recent conversation history for contextual-query enhancement.
type Analyser interface {
	Analyze(ctx context.Context, query string, history []string) (*Analysis, error)
}
