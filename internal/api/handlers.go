package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/examvault/internal/apperr"
	"github.com/starford/examvault/internal/clock"
	"github.com/starford/examvault/internal/ledger"
	"github.com/starford/examvault/internal/lifecycle"
	"github.com/starford/examvault/internal/models"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Handler holds API route handlers.
type Handler struct {
	docs  *lifecycle.Coordinator
	chain *ledger.Engine
	clock clock.Clock
}

// NewHandler creates a new Handler.
func NewHandler(docs *lifecycle.Coordinator, chain *ledger.Engine, clk clock.Clock) *Handler {
	return &Handler{docs: docs, chain: chain, clock: clk}
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List documents with their release accessibility
//	@Tags			documents
//	@Produce		json
//	@Param			encrypted	query		bool	false	"Only sealed documents"
//	@Param			uploader	query		string	false	"Only documents uploaded by this actor"
//	@Success		200			{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	encryptedOnly, _ := strconv.ParseBool(r.URL.Query().Get("encrypted"))
	docs, err := h.docs.List(r.Context(), lifecycle.ListFilter{
		EncryptedOnly: encryptedOnly,
		Uploader:      r.URL.Query().Get("uploader"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs, Total: len(docs)})
}

// UploadDocument handles POST /api/documents (multipart/form-data).
//
//	@Summary		Upload a document for sealing
//	@Tags			documents
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file			formData	file	true	"Document content"
//	@Param			release_date	formData	string	true	"Release day (YYYY-MM-DD)"
//	@Param			uploader		formData	string	false	"Uploader name"
//	@Param			label			formData	string	false	"Label, defaults to the file name"
//	@Success		201				{object}	models.SealedDocument
//	@Failure		400				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *Handler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(apperr.CodeInvalidRequest, "file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(apperr.CodeInvalidRequest, "missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(apperr.CodeInvalidRequest, "failed to read file"))
		return
	}

	label := r.FormValue("label")
	if label == "" {
		label = header.Filename
	}

	doc, err := h.docs.Upload(r.Context(), lifecycle.UploadRequest{
		Label:       label,
		Content:     content,
		ReleaseDate: r.FormValue("release_date"),
		Uploader:    r.FormValue("uploader"),
	})
	if err != nil {
		if apperr.Code(err) == apperr.CodeInvalidRequest {
			writeJSON(w, http.StatusBadRequest, errorBody(apperr.CodeInvalidRequest, err.Error()))
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// GetDocument handles GET /api/documents/{id}.
//
//	@Summary		Get a document with its access log
//	@Tags			documents
//	@Produce		json
//	@Param			id	path		string	true	"Document ID"
//	@Success		200	{object}	DocumentView
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// EncryptDocument handles POST /api/documents/{id}/encrypt.
//
//	@Summary		Seal a document and discard its raw content
//	@Tags			documents
//	@Produce		json
//	@Param			id		path		string	true	"Document ID"
//	@Param			X-Actor	header		string	false	"Who performs the encryption"
//	@Success		200		{object}	models.SealedDocument
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/encrypt [post]
func (h *Handler) EncryptDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.EncryptDocument(r.Context(), chi.URLParam(r, "id"), r.Header.Get("X-Actor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DocumentContent handles GET /api/documents/{id}/content.
//
//	@Summary		Retrieve plaintext on the release day
//	@Tags			documents
//	@Produce		octet-stream
//	@Param			id			path		string	true	"Document ID"
//	@Param			X-Accessor	header		string	false	"Who retrieves the document"
//	@Success		200			{file}		binary
//	@Failure		403			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{id}/content [get]
func (h *Handler) DocumentContent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	plaintext, doc, err := h.docs.Retrieve(r.Context(), id, h.clock.Now(), r.Header.Get("X-Accessor"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.Label}))
	w.Header().Set("Content-Length", strconv.Itoa(len(plaintext)))
	w.Header().Set("X-Content-Digest", "sha-256="+doc.RawDigest)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(plaintext); err != nil {
		slog.Warn("write content failed", slog.String("id", id), slog.String("error", err.Error()))
	}
}

// Chain handles GET /api/ledger/chain.
//
//	@Summary		List every ledger block
//	@Tags			ledger
//	@Produce		json
//	@Success		200	{object}	ChainResponse
//	@Security		BearerAuth
//	@Router			/ledger/chain [get]
func (h *Handler) Chain(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.chain.ListChain(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	writeJSON(w, http.StatusOK, ChainResponse{Blocks: blocks, Length: len(blocks), Difficulty: h.chain.Difficulty()})
}

// Verify handles GET /api/ledger/verify.
//
//	@Summary		Verify the chain and report the first violation
//	@Tags			ledger
//	@Produce		json
//	@Success		200	{object}	models.VerificationResult
//	@Security		BearerAuth
//	@Router			/ledger/verify [get]
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	res, err := h.chain.Verify(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// History handles GET /api/ledger/history/{subjectID}.
//
//	@Summary		List the blocks recorded for one document
//	@Tags			ledger
//	@Produce		json
//	@Param			subjectID	path		string	true	"Document ID"
//	@Success		200			{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/ledger/history/{subjectID} [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectID")
	blocks, err := h.chain.HistoryOf(r.Context(), subjectID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if blocks == nil {
		blocks = []models.Block{}
	}
	writeJSON(w, http.StatusOK, HistoryResponse{SubjectID: subjectID, Blocks: blocks})
}

// Rebuild handles POST /api/ledger/rebuild.
//
// Rebuild re-seals whatever payloads are stored. It repairs structure, it
// does not vouch for content.
//
//	@Summary		Re-mine every block after genesis
//	@Tags			ledger
//	@Produce		json
//	@Success		200	{object}	RebuildResponse
//	@Failure		401	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/ledger/rebuild [post]
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	n, err := h.chain.Rebuild(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.chain.Verify(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("verify after rebuild: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, RebuildResponse{Rewritten: n, Verification: res})
}

// Stats handles GET /api/stats.
//
//	@Summary		Document and ledger counts
//	@Tags			stats
//	@Produce		json
//	@Success		200	{object}	lifecycle.Stats
//	@Security		BearerAuth
//	@Router			/stats [get]
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.docs.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
