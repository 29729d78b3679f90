package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/examvault/internal/accessgate"
	"github.com/starford/examvault/internal/ledger"
	"github.com/starford/examvault/internal/lifecycle"
	"github.com/starford/examvault/internal/models"
	"github.com/starford/examvault/internal/testutil"
)

func testServer(t *testing.T) (*Server, *lifecycle.Coordinator) {
	t.Helper()
	db := testutil.TestDB(t)
	_, blobs := testutil.TestBlobs(t)
	chain := ledger.New(db, ledger.WithDifficulty(1))
	docs := lifecycle.New(db, blobs, accessgate.New(testutil.GateKey), chain)
	return New(chain, docs), docs
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so the handlers are
	// invoked directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_chain":
		result, err = srv.listChain(ctx, req)
	case "verify_chain":
		result, err = srv.verifyChain(ctx, req)
	case "document_history":
		result, err = srv.documentHistory(ctx, req)
	case "list_documents":
		result, err = srv.listDocuments(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func upload(t *testing.T, docs *lifecycle.Coordinator, label string) models.SealedDocument {
	t.Helper()
	doc, err := docs.Upload(context.Background(), lifecycle.UploadRequest{
		Label: label, Content: []byte(label), ReleaseDate: "2026-06-01", Uploader: "alice",
	})
	if err != nil {
		t.Fatal(err)
	}
	return doc
}

func TestListChainEmpty(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "list_chain", map[string]any{})
	if text := resultText(r); text != "ledger is empty" {
		t.Errorf("list_chain = %q", text)
	}
}

func TestListChainAndVerify(t *testing.T) {
	srv, docs := testServer(t)
	upload(t, docs, "Physics")

	var blocks []models.Block
	r := callTool(t, srv, "list_chain", map[string]any{})
	if err := json.Unmarshal([]byte(resultText(r)), &blocks); err != nil {
		t.Fatalf("decode chain: %v", err)
	}
	if len(blocks) != 2 || blocks[1].Payload.Label != "Physics" {
		t.Errorf("chain = %+v", blocks)
	}

	var res models.VerificationResult
	r = callTool(t, srv, "verify_chain", map[string]any{})
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatalf("decode verify: %v", err)
	}
	if !res.Valid || res.Blocks != 2 {
		t.Errorf("verify = %+v", res)
	}
}

func TestDocumentHistory(t *testing.T) {
	srv, docs := testServer(t)
	doc := upload(t, docs, "Chemistry")
	if _, err := docs.EncryptDocument(context.Background(), doc.ID, "registrar"); err != nil {
		t.Fatal(err)
	}

	r := callTool(t, srv, "document_history", map[string]any{"subject_id": doc.ID})
	var blocks []models.Block
	if err := json.Unmarshal([]byte(resultText(r)), &blocks); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(blocks) != 2 || blocks[1].Payload.Action != models.ActionEncrypted {
		t.Errorf("history = %+v", blocks)
	}

	r = callTool(t, srv, "document_history", map[string]any{"subject_id": "ghost"})
	if !strings.Contains(resultText(r), "no blocks recorded") {
		t.Errorf("unknown subject = %q", resultText(r))
	}
}

func TestDocumentHistoryRequiresSubject(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "document_history", map[string]any{})
	if !r.IsError {
		t.Error("expected error for missing subject_id")
	}
}

func TestListDocuments(t *testing.T) {
	srv, docs := testServer(t)
	upload(t, docs, "Draft")
	sealed := upload(t, docs, "Final")
	if _, err := docs.EncryptDocument(context.Background(), sealed.ID, ""); err != nil {
		t.Fatal(err)
	}

	var all []lifecycle.DocumentView
	_ = json.Unmarshal([]byte(resultText(callTool(t, srv, "list_documents", map[string]any{}))), &all)
	if len(all) != 2 {
		t.Errorf("all documents = %d, want 2", len(all))
	}

	var only []lifecycle.DocumentView
	text := resultText(callTool(t, srv, "list_documents", map[string]any{"encrypted_only": true}))
	_ = json.Unmarshal([]byte(text), &only)
	if len(only) != 1 || only[0].ID != sealed.ID {
		t.Errorf("encrypted documents = %+v", only)
	}
	if strings.Contains(text, "ciphertext") {
		t.Error("tool output leaks sealed content")
	}
}

func TestLedgerFormatResource(t *testing.T) {
	srv, _ := testServer(t)
	contents, err := srv.readLedgerFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != LedgerFormatURI || !strings.Contains(tc.Text, "DifficultyUnmet") {
		t.Errorf("resource = %+v", contents)
	}
}
