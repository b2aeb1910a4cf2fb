package conversation

import (
	"context"
	"fmt"
)

// NodeName identifies one step of the conversation graph, matching
// fresh_conversation_graph.py's node table keys.
type NodeName string

const (
	NodeInitialize    NodeName = "initialize"
	NodeGreet         NodeName = "greet"
	NodeWaitForInput  NodeName = "wait_for_input"
	NodeUnderstand    NodeName = "understand"
	NodeSearch        NodeName = "search"
	NodeRespond       NodeName = "respond"
	NodeClarify       NodeName = "clarify"
	NodeEnd           NodeName = "end"
)

// NodeFunc is a pure step of the conversation graph: it takes the
// current state and returns the next state, never mutating its input.
type NodeFunc func(ctx context.Context, s State) (State, error)

// Graph is the node-table runner generalizing
// fresh_conversation_graph.py's FreshConversationGraph._build_graph:
// each node has a function and an explicit "what's next" edge, except
// for understand, which branches through routeAfterUnderstanding.
type Graph struct {
	nodes map[NodeName]NodeFunc
	edges map[NodeName]NodeName
}

// NewGraph wires the standard node table. initialize->greet->
// wait_for_input is the entry sequence; understand routes dynamically
// via routeAfterUnderstanding; search and clarify fall through to
// respond/wait_for_input respectively, matching the Python original's
// linear edges.
func NewGraph(nodes Nodes) *Graph {
	return &Graph{
		nodes: map[NodeName]NodeFunc{
			NodeInitialize: nodes.Initialize,
			NodeGreet:      nodes.Greet,
			NodeUnderstand: nodes.Understand,
			NodeSearch:     nodes.Search,
			NodeRespond:    nodes.Respond,
			NodeClarify:    nodes.Clarify,
		},
		edges: map[NodeName]NodeName{
			NodeInitialize: NodeGreet,
			NodeGreet:      NodeWaitForInput,
			NodeSearch:     NodeRespond,
			NodeRespond:    NodeWaitForInput,
			NodeClarify:    NodeWaitForInput,
		},
	}
}

// routeAfterUnderstanding is the direct equivalent of
// _route_after_understanding: goodbye ends the conversation,
// greeting/help answer immediately without a search, everything else
// goes to search first (the "search-first" principle — prefer
// grounding a response in retrieved context over a bare LLM reply).
func routeAfterUnderstanding(intent string) NodeName {
	switch intent {
	case "goodbye":
		return NodeEnd
	case "greeting", "help":
		return NodeRespond
	default:
		return NodeSearch
	}
}

// Step runs one node of the graph starting from NodeUnderstand (the
// node invoked after wait_for_input receives a new user message),
// following edges until it lands back on wait_for_input or end. This
// mirrors process_message's graph-walk loop, with the try/except
// error capture folded into State.WithError.
func (g *Graph) Step(ctx context.Context, s State) (State, error) {
	current := NodeUnderstand
	for {
		fn, ok := g.nodes[current]
		if !ok {
			return s, fmt.Errorf("conversation: no node registered for %q", current)
		}
		next, err := fn(ctx, s)
		if err != nil {
			s = s.WithError(fmt.Sprintf("node %s failed: %v", current, err))
			return s, nil
		}
		s = next

		if current == NodeUnderstand {
			current = routeAfterUnderstanding(s.UserIntent)
			if current == NodeEnd {
				s = s.Clone()
				s.ConversationStatus = "ended"
				return s, nil
			}
			continue
		}

		nextNode, ok := g.edges[current]
		if !ok {
			return s, nil
		}
		if nextNode == NodeWaitForInput {
			return s, nil
		}
		current = nextNode
	}
}

// Start runs initialize->greet for a brand new conversation, per
// start_conversation.
func (g *Graph) Start(ctx context.Context, s State) (State, error) {
	for _, n := range []NodeName{NodeInitialize, NodeGreet} {
		fn := g.nodes[n]
		next, err := fn(ctx, s)
		if err != nil {
			return s.WithError(fmt.Sprintf("node %s failed: %v", n, err)), nil
		}
		s = next
	}
	return s, nil
}
