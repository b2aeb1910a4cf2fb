// Package mcp implements the Model Context Protocol (MCP) server for
// ragcore: it bridges AI clients (Claude Code, Cursor) with the
// retrieval/conversation engine built under pkg/ragapi.
package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ragcore/ragcore/internal/query"
	"github.com/ragcore/ragcore/pkg/ragapi"
	"github.com/ragcore/ragcore/pkg/version"
)

// Server is the MCP server for ragcore.
type Server struct {
	mcp     *mcp.Server
	service *ragapi.Service
	logger  *slog.Logger
}

// QueryInput defines the input schema for the query tool.
type QueryInput struct {
	Query string `json:"query" jsonschema:"the question to answer from the knowledge base"`
	TopK  int    `json:"top_k,omitempty" jsonschema:"maximum number of source chunks to retrieve, default 8"`
}

// QueryOutput defines the output schema for the query tool.
type QueryOutput struct {
	Answer          string           `json:"answer" jsonschema:"the synthesized answer"`
	ConfidenceLevel string           `json:"confidence_level" jsonschema:"high, medium, or low"`
	Sources         []SourceOutput   `json:"sources" jsonschema:"the chunks the answer was drawn from"`
}

// SourceOutput is one cited source chunk.
type SourceOutput struct {
	Text   string  `json:"text" jsonschema:"the chunk text"`
	Source string  `json:"source" jsonschema:"origin document identifier"`
	Score  float64 `json:"score" jsonschema:"final relevance score"`
}

// StartConversationInput defines the input schema for starting a
// conversation thread.
type StartConversationInput struct {
	ThreadID string `json:"thread_id" jsonschema:"a caller-chosen identifier for this conversation"`
}

// StartConversationOutput reports the conversation's opening message.
type StartConversationOutput struct {
	Message string `json:"message" jsonschema:"the assistant's greeting"`
}

// SendMessageInput defines the input schema for the send_message tool.
type SendMessageInput struct {
	ThreadID string `json:"thread_id" jsonschema:"the conversation to continue"`
	Message  string `json:"message" jsonschema:"the user's message"`
}

// SendMessageOutput reports the assistant's reply and the sources it
// drew on, if any.
type SendMessageOutput struct {
	Reply   string   `json:"reply" jsonschema:"the assistant's reply"`
	Sources []string `json:"sources,omitempty" jsonschema:"origin documents referenced by the reply"`
}

// IngestInput defines the input schema for the ingest tool.
type IngestInput struct {
	Path string `json:"path" jsonschema:"filesystem path to a file or directory to ingest"`
}

// IngestOutput reports what ingestion produced.
type IngestOutput struct {
	DocumentsProcessed int      `json:"documents_processed"`
	ChunksIndexed      int      `json:"chunks_indexed"`
	Failed             int      `json:"failed"`
	Errors             []string `json:"errors,omitempty"`
}

// NewServer creates a new MCP server wrapping svc.
func NewServer(svc *ragapi.Service, logger *slog.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("mcp: service is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{service: svc, logger: logger}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "ragcore",
			Version: version.Version,
		},
		nil,
	)

	s.registerTools()

	return s, nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "query",
		Description: "Answer a question using the ingested knowledge base. Retrieves relevant source chunks and synthesizes a cited answer. Handles counting/aggregation questions and multi-part questions automatically.",
	}, s.handleQuery)
	s.logger.Debug("registered tool", slog.String("name", "query"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "start_conversation",
		Description: "Begin a new multi-turn conversation thread that remembers prior context across send_message calls.",
	}, s.handleStartConversation)
	s.logger.Debug("registered tool", slog.String("name", "start_conversation"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "send_message",
		Description: "Send a message in an existing conversation thread and get the assistant's reply, with conversation history taken into account.",
	}, s.handleSendMessage)
	s.logger.Debug("registered tool", slog.String("name", "send_message"))

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "ingest",
		Description: "Ingest a file or directory into the knowledge base so its contents become searchable by query and send_message.",
	}, s.handleIngest)
	s.logger.Debug("registered tool", slog.String("name", "ingest"))

	s.logger.Info("mcp tools registered", slog.Int("count", 4))
}

func (s *Server) handleQuery(ctx context.Context, _ *mcp.CallToolRequest, input QueryInput) (
	*mcp.CallToolResult,
	QueryOutput,
	error,
) {
	if input.Query == "" {
		return nil, QueryOutput{}, NewInvalidParamsError("query parameter is required")
	}

	requestID := generateRequestID()
	topK := input.TopK
	if topK <= 0 {
		topK = 8
	}

	s.logger.Info("query started", slog.String("request_id", requestID), slog.String("query", input.Query))

	resp, err := s.service.Query(ctx, input.Query, topK, query.ContextOpts{})
	if err != nil {
		s.logger.Error("query failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		return nil, QueryOutput{}, MapError(err)
	}

	out := QueryOutput{
		Answer:          resp.Answer,
		ConfidenceLevel: resp.ConfidenceLevel,
		Sources:         make([]SourceOutput, 0, len(resp.Sources)),
	}
	for _, r := range resp.Sources {
		out.Sources = append(out.Sources, SourceOutput{Text: r.Text, Source: r.Source, Score: r.FinalScore})
	}

	s.logger.Info("query completed", slog.String("request_id", requestID), slog.Int("source_count", len(out.Sources)))
	return nil, out, nil
}

func (s *Server) handleStartConversation(ctx context.Context, _ *mcp.CallToolRequest, input StartConversationInput) (
	*mcp.CallToolResult,
	StartConversationOutput,
	error,
) {
	if input.ThreadID == "" {
		return nil, StartConversationOutput{}, NewInvalidParamsError("thread_id parameter is required")
	}

	state, err := s.service.StartConversation(ctx, input.ThreadID)
	if err != nil {
		return nil, StartConversationOutput{}, MapError(err)
	}

	msg := ""
	if last, ok := state.LastAssistantMessage(); ok {
		msg = last
	}
	return nil, StartConversationOutput{Message: msg}, nil
}

func (s *Server) handleSendMessage(ctx context.Context, _ *mcp.CallToolRequest, input SendMessageInput) (
	*mcp.CallToolResult,
	SendMessageOutput,
	error,
) {
	if input.ThreadID == "" || input.Message == "" {
		return nil, SendMessageOutput{}, NewInvalidParamsError("thread_id and message parameters are required")
	}

	requestID := generateRequestID()
	s.logger.Info("send_message started", slog.String("request_id", requestID), slog.String("thread_id", input.ThreadID))

	state, err := s.service.SendMessage(ctx, input.ThreadID, input.Message)
	if err != nil {
		s.logger.Error("send_message failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		return nil, SendMessageOutput{}, MapError(err)
	}

	reply := ""
	if last, ok := state.LastAssistantMessage(); ok {
		reply = last
	}

	out := SendMessageOutput{Reply: reply}
	for _, r := range state.SearchResults {
		if r.Source != "" {
			out.Sources = append(out.Sources, r.Source)
		}
	}
	return nil, out, nil
}

func (s *Server) handleIngest(ctx context.Context, _ *mcp.CallToolRequest, input IngestInput) (
	*mcp.CallToolResult,
	IngestOutput,
	error,
) {
	if input.Path == "" {
		return nil, IngestOutput{}, NewInvalidParamsError("path parameter is required")
	}

	requestID := generateRequestID()
	s.logger.Info("ingest started", slog.String("request_id", requestID), slog.String("path", input.Path))

	summary, err := s.service.IngestDirectory(ctx, input.Path, 0, 0)
	if err != nil {
		s.logger.Error("ingest failed", slog.String("request_id", requestID), slog.String("error", err.Error()))
		return nil, IngestOutput{}, MapError(err)
	}

	chunks := 0
	for _, r := range summary.Results {
		chunks += r.ChunkCount
	}

	out := IngestOutput{
		DocumentsProcessed: summary.Succeeded,
		ChunksIndexed:       chunks,
		Failed:               summary.Failed,
		Errors:               summary.Errors,
	}
	s.logger.Info("ingest completed", slog.String("request_id", requestID), slog.Int("documents", out.DocumentsProcessed))
	return nil, out, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport string) error {
	s.logger.Info("starting mcp server", slog.String("transport", transport))

	switch transport {
	case "stdio":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("mcp server stopped with error", slog.String("error", err.Error()))
		} else {
			s.logger.Info("mcp server stopped gracefully")
		}
		return err
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
