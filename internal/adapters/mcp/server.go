package mcpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/doc-intelligence/internal/core/domain"
	"github.com/kirillkom/doc-intelligence/internal/core/ports"
)

const (
	toolAskDocument    = "ask_document"
	toolDocumentStatus = "document_status"
)

// Server exposes chat and document status as MCP tools.
type Server struct {
	chat   ports.ChatService
	reader ports.DocumentReader
	mcp    *server.MCPServer
}

func NewServer(chat ports.ChatService, reader ports.DocumentReader, version string) *Server {
	s := &Server{
		chat:   chat,
		reader: reader,
		mcp:    server.NewMCPServer("doc-intelligence", version, server.WithToolCapabilities(false)),
	}

	s.mcp.AddTool(mcp.NewTool(toolAskDocument,
		mcp.WithDescription("Ask a question about an ingested document. The answer is grounded in the document's indexed passages and recorded in its chat session."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id returned by the upload endpoint")),
		mcp.WithString("question", mcp.Required(), mcp.Description("Question in natural language")),
	), s.askDocument)

	s.mcp.AddTool(mcp.NewTool(toolDocumentStatus,
		mcp.WithDescription("Report the processing state of a document, including error details when processing failed."),
		mcp.WithString("document_id", mcp.Required(), mcp.Description("Document id returned by the upload endpoint")),
	), s.documentStatus)

	return s
}

func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio blocks serving JSON-RPC over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

type askResult struct {
	AssistantText string   `json:"assistantText"`
	CitedChunkIDs []string `json:"citedChunkIds"`
}

func (s *Server) askDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	question, err := req.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	reply, err := s.chat.PostMessage(ctx, documentID, question, nil)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(askResult{AssistantText: reply.AssistantText, CitedChunkIDs: reply.CitedChunkIDs})
}

type statusResult struct {
	DocumentID string            `json:"documentId"`
	State      string            `json:"state"`
	Revision   int               `json:"revision"`
	Tags       []string          `json:"tags"`
	Error      *domain.ErrorInfo `json:"error,omitempty"`
}

func (s *Server) documentStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	documentID, err := req.RequireString("document_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := s.reader.GetByID(ctx, documentID)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(statusResult{
		DocumentID: doc.ID,
		State:      string(doc.State),
		Revision:   doc.Revision,
		Tags:       doc.Tags,
		Error:      doc.ErrorInfo,
	})
}

// toolError reports domain failures to the model as tool errors; only transport problems are protocol errors.
func toolError(err error) *mcp.CallToolResult {
	kind := domain.KindOf(err)
	switch {
	case errors.Is(err, domain.ErrDocumentNotFound):
		return mcp.NewToolResultError("document not found")
	case kind != domain.KindUnknown:
		return mcp.NewToolResultError(fmt.Sprintf("%s: %v", kind, err))
	default:
		return mcp.NewToolResultError(err.Error())
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return mcp.NewToolResultText(string(raw)), nil
}
