// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes read-only ledger and document tools via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/examvault/internal/ledger"
	"github.com/starford/examvault/internal/lifecycle"
)

// Server wraps the MCP server with examvault tools.
type Server struct {
	mcp   *server.MCPServer
	chain *ledger.Engine
	docs  *lifecycle.Coordinator
}

// New creates a new MCP server with all examvault tools registered.
// None of the tools mutate state.
func New(chain *ledger.Engine, docs *lifecycle.Coordinator) *Server {
	s := &Server{chain: chain, docs: docs}

	s.mcp = server.NewMCPServer(
		"examvault",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_chain",
		mcp.WithDescription("List every ledger block in index order. "+
			"Read the examvault://ledger-format resource for the field meanings."),
	), s.listChain)

	s.mcp.AddTool(mcp.NewTool("verify_chain",
		mcp.WithDescription("Walk the ledger and report whether it is intact. "+
			"On failure the result names the first failing block index and the reason."),
	), s.verifyChain)

	s.mcp.AddTool(mcp.NewTool("document_history",
		mcp.WithDescription("List the ledger blocks recording events for one document."),
		mcp.WithString("subject_id", mcp.Required(), mcp.Description("Document ID")),
	), s.documentHistory)

	s.mcp.AddTool(mcp.NewTool("list_documents",
		mcp.WithDescription("List documents with their release date and whether they can be retrieved today. "+
			"Content is never returned."),
		mcp.WithBoolean("encrypted_only", mcp.Description("Only list sealed documents")),
	), s.listDocuments)

	// Resource: ledger format description.
	s.mcp.AddResource(
		mcp.NewResource(LedgerFormatURI, "Ledger Format",
			mcp.WithResourceDescription("Block fields, hash input and verification reasons."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readLedgerFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	blocks, err := s.chain.ListChain(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(blocks) == 0 {
		return mcp.NewToolResultText("ledger is empty"), nil
	}
	return jsonResult(blocks)
}

func (s *Server) verifyChain(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := s.chain.Verify(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

func (s *Server) documentHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	subjectID, err := req.RequireString("subject_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	blocks, err := s.chain.HistoryOf(ctx, subjectID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(blocks) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("no blocks recorded for %s", subjectID)), nil
	}
	return jsonResult(blocks)
}

func (s *Server) listDocuments(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := lifecycle.ListFilter{EncryptedOnly: req.GetBool("encrypted_only", false)}
	docs, err := s.docs.List(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(docs)
}

func (s *Server) readLedgerFormatResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      LedgerFormatURI,
			MIMEType: "text/markdown",
			Text:     LedgerFormat,
		},
	}, nil
}
