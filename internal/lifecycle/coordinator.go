// Package lifecycle binds the access gate and the ledger: every document
// transition is effected by the gate and recorded as a block.
//
// Per document the states are UPLOADED, ENCRYPTED and then any number of
// ACCESSED events. Encryption is one way; the raw bytes are discarded once
// the ciphertext is stored.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/examvault/internal/apperr"
	"github.com/starford/examvault/internal/clock"
	"github.com/starford/examvault/internal/metrics"
	"github.com/starford/examvault/internal/models"
	"github.com/starford/examvault/internal/sse"
	"github.com/starford/examvault/internal/storage"
)

// DocumentStore persists document metadata, sealed content and access logs.
type DocumentStore interface {
	CreateDocument(ctx context.Context, d models.SealedDocument) error
	GetDocument(ctx context.Context, id string) (models.SealedDocument, error)
	ListDocuments(ctx context.Context, encryptedOnly bool) ([]models.SealedDocument, error)
	MarkEncrypted(ctx context.Context, id string, ciphertext, iv []byte) error
	SetLinkedBlockHash(ctx context.Context, id, hash string) error
	AppendAccess(ctx context.Context, id string, entry models.AccessEntry) error
	CountDocuments(ctx context.Context) (total, encrypted int, err error)
}

// Sealer encrypts and fingerprints document content.
type Sealer interface {
	Encrypt(plaintext []byte) (ciphertext, iv []byte, err error)
	Decrypt(ciphertext, iv []byte) ([]byte, error)
	Digest(content []byte) string
	VerifyIntegrity(content []byte, expected string) bool
}

// Recorder appends lifecycle events to the ledger.
type Recorder interface {
	Append(ctx context.Context, payload models.Payload) (models.Block, error)
	Len(ctx context.Context) (int, error)
}

// Publisher receives a notification after every successful transition.
type Publisher interface {
	PublishDocumentEvent(kind string, data any)
}

type nopPublisher struct{}

func (nopPublisher) PublishDocumentEvent(string, any) {}

// UploadRequest describes a new document.
type UploadRequest struct {
	Label       string
	Content     []byte
	ReleaseDate string // YYYY-MM-DD
	Uploader    string
}

// Validate checks the request fields.
func (r UploadRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Label, validation.Required, validation.Length(1, 255)),
		validation.Field(&r.ReleaseDate, validation.Required, validation.Date(models.DateLayout)),
		validation.Field(&r.Uploader, validation.Length(0, 128)),
	)
}

// ListFilter narrows List results.
type ListFilter struct {
	EncryptedOnly bool
	// Uploader, when set, keeps only documents uploaded by that actor.
	Uploader string
}

// DocumentView is a document plus whether its release gate is open now.
type DocumentView struct {
	models.SealedDocument
	Accessible bool `json:"accessible"`
}

// Stats summarizes the vault.
type Stats struct {
	Documents   int `json:"documents"`
	Encrypted   int `json:"encrypted"`
	Unencrypted int `json:"unencrypted"`
	Blocks      int `json:"blocks"`
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the clock used for upload times and List accessibility.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithLocation sets the time zone in which release dates are compared.
func WithLocation(loc *time.Location) Option {
	return func(co *Coordinator) { co.loc = loc }
}

// WithPublisher sets the transition event sink.
func WithPublisher(p Publisher) Option {
	return func(co *Coordinator) { co.publisher = p }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(co *Coordinator) { co.logger = l }
}

// Coordinator drives documents through their lifecycle.
type Coordinator struct {
	docs      DocumentStore
	blobs     storage.Provider
	gate      Sealer
	ledger    Recorder
	clock     clock.Clock
	loc       *time.Location
	publisher Publisher
	logger    *slog.Logger

	// encryptMu serializes EncryptDocument so a transition is recorded once.
	encryptMu sync.Mutex
}

// New creates a Coordinator.
func New(docs DocumentStore, blobs storage.Provider, gate Sealer, ledger Recorder, opts ...Option) *Coordinator {
	co := &Coordinator{
		docs:      docs,
		blobs:     blobs,
		gate:      gate,
		ledger:    ledger,
		clock:     clock.Real(),
		loc:       time.UTC,
		publisher: nopPublisher{},
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

func rawKey(id string) string {
	return "raw/" + id
}

// Upload stores raw content, records its metadata and appends an UPLOADED block.
func (c *Coordinator) Upload(ctx context.Context, req UploadRequest) (doc models.SealedDocument, err error) {
	started := time.Now()
	defer func() { metrics.ObserveLifecycle("upload", err, started) }()

	req.Label = strings.TrimSpace(req.Label)
	if err := req.Validate(); err != nil {
		return models.SealedDocument{}, fmt.Errorf("lifecycle: upload: %v: %w", err, apperr.ErrInvalidRequest)
	}
	req.Uploader = actorOr(req.Uploader)

	doc = models.SealedDocument{
		ID:          uuid.NewString(),
		Label:       req.Label,
		RawDigest:   c.gate.Digest(req.Content),
		Size:        int64(len(req.Content)),
		ReleaseDate: req.ReleaseDate,
		Uploader:    req.Uploader,
		UploadedAt:  c.clock.Now().UnixMilli(),
		AccessLog:   []models.AccessEntry{},
	}

	if err := c.blobs.Put(rawKey(doc.ID), req.Content); err != nil {
		return models.SealedDocument{}, fmt.Errorf("lifecycle: upload: %w", err)
	}
	if err := c.docs.CreateDocument(ctx, doc); err != nil {
		if derr := c.blobs.Delete(rawKey(doc.ID)); derr != nil {
			c.logger.Error("lifecycle: discard raw content failed",
				slog.String("id", doc.ID), slog.String("error", derr.Error()))
		}
		return models.SealedDocument{}, fmt.Errorf("lifecycle: upload: %w", err)
	}

	block, err := c.record(ctx, doc, models.ActionUploaded, req.Uploader)
	if err != nil {
		return models.SealedDocument{}, err
	}
	doc.LinkedBlockHash = block.Hash

	c.logger.Info("lifecycle: document uploaded",
		slog.String("id", doc.ID),
		slog.String("label", doc.Label),
		slog.Int64("size", doc.Size),
		slog.String("release_date", doc.ReleaseDate))
	c.publisher.PublishDocumentEvent(sse.EventDocumentUploaded, event(doc, block, req.Uploader))
	return doc, nil
}

// EncryptDocument seals a document's raw content, discards the raw bytes and
// appends an ENCRYPTED block whose hash is linked on the document. A sealed
// document whose raw blob survived an earlier failed discard is completed
// instead of rejected.
func (c *Coordinator) EncryptDocument(ctx context.Context, id, actor string) (doc models.SealedDocument, err error) {
	started := time.Now()
	defer func() { metrics.ObserveLifecycle("encrypt", err, started) }()

	c.encryptMu.Lock()
	defer c.encryptMu.Unlock()

	doc, err = c.docs.GetDocument(ctx, id)
	if err != nil {
		return models.SealedDocument{}, fmt.Errorf("lifecycle: encrypt: %w", err)
	}
	if doc.Encrypted {
		leftover, err := c.blobs.Exists(rawKey(id))
		if err != nil {
			return models.SealedDocument{}, fmt.Errorf("lifecycle: encrypt %s: %w", id, err)
		}
		if !leftover {
			return models.SealedDocument{}, fmt.Errorf("lifecycle: encrypt %s: %w", id, apperr.ErrAlreadyEncrypted)
		}
		c.logger.Warn("lifecycle: completing interrupted encryption", slog.String("id", id))
		return c.completeEncrypt(ctx, doc, actor)
	}

	raw, err := c.blobs.Get(rawKey(id))
	if err != nil {
		// Another writer may have sealed and discarded it since the read above.
		if errors.Is(err, apperr.ErrNotFound) {
			if current, gerr := c.docs.GetDocument(ctx, id); gerr == nil && current.Encrypted {
				return models.SealedDocument{}, fmt.Errorf("lifecycle: encrypt %s: %w", id, apperr.ErrAlreadyEncrypted)
			}
		}
		return models.SealedDocument{}, fmt.Errorf("lifecycle: encrypt %s: read raw: %w", id, err)
	}
	if !c.gate.VerifyIntegrity(raw, doc.RawDigest) {
		return models.SealedDocument{}, fmt.Errorf("lifecycle: encrypt %s: raw content: %w", id, apperr.ErrIntegrity)
	}

	ciphertext, iv, err := c.gate.Encrypt(raw)
	if err != nil {
		return models.SealedDocument{}, fmt.Errorf("lifecycle: encrypt %s: %w", id, err)
	}
	if err := c.docs.MarkEncrypted(ctx, id, ciphertext, iv); err != nil {
		return models.SealedDocument{}, fmt.Errorf("lifecycle: encrypt: %w", err)
	}
	doc.Encrypted, doc.Ciphertext, doc.IV = true, ciphertext, iv

	return c.completeEncrypt(ctx, doc, actor)
}

// completeEncrypt discards the raw blob of a sealed document and records the
// transition. The ledger is not touched while the raw blob remains.
func (c *Coordinator) completeEncrypt(ctx context.Context, doc models.SealedDocument, actor string) (models.SealedDocument, error) {
	if err := c.blobs.Delete(rawKey(doc.ID)); err != nil {
		c.logger.Error("lifecycle: discard raw content failed",
			slog.String("id", doc.ID), slog.String("error", err.Error()))
		return models.SealedDocument{}, fmt.Errorf("lifecycle: encrypt %s: discard raw: %w", doc.ID, err)
	}

	actor = actorOr(actor)
	block, err := c.record(ctx, doc, models.ActionEncrypted, actor)
	if err != nil {
		return models.SealedDocument{}, err
	}
	doc.LinkedBlockHash = block.Hash

	c.logger.Info("lifecycle: document encrypted",
		slog.String("id", doc.ID),
		slog.Uint64("block", block.Index))
	c.publisher.PublishDocumentEvent(sse.EventDocumentEncrypted, event(doc, block, actor))
	return doc, nil
}

// ReleaseGate reports whether the document is encrypted and now falls on
// its release date in the configured location. The window is that single
// calendar day.
func (c *Coordinator) ReleaseGate(ctx context.Context, id string, now time.Time) (bool, error) {
	doc, err := c.docs.GetDocument(ctx, id)
	if err != nil {
		return false, fmt.Errorf("lifecycle: release gate: %w", err)
	}
	return c.gateOpen(doc, now), nil
}

func (c *Coordinator) gateOpen(doc models.SealedDocument, now time.Time) bool {
	return doc.Encrypted && now.In(c.loc).Format(models.DateLayout) == doc.ReleaseDate
}

// Retrieve decrypts a document whose release gate is open, records the
// access and returns the plaintext.
func (c *Coordinator) Retrieve(ctx context.Context, id string, now time.Time, accessor string) (plaintext []byte, doc models.SealedDocument, err error) {
	started := time.Now()
	defer func() { metrics.ObserveLifecycle("retrieve", err, started) }()

	doc, err = c.docs.GetDocument(ctx, id)
	if err != nil {
		return nil, models.SealedDocument{}, fmt.Errorf("lifecycle: retrieve: %w", err)
	}
	if !c.gateOpen(doc, now) {
		c.logger.Warn("lifecycle: access denied",
			slog.String("id", id),
			slog.String("accessor", accessor),
			slog.Bool("encrypted", doc.Encrypted),
			slog.String("release_date", doc.ReleaseDate))
		return nil, models.SealedDocument{}, fmt.Errorf("lifecycle: retrieve %s: %w", id, apperr.ErrAccessDenied)
	}

	plaintext, err = c.gate.Decrypt(doc.Ciphertext, doc.IV)
	if err != nil {
		return nil, models.SealedDocument{}, fmt.Errorf("lifecycle: retrieve %s: %w", id, err)
	}
	if !c.gate.VerifyIntegrity(plaintext, doc.RawDigest) {
		return nil, models.SealedDocument{}, fmt.Errorf("lifecycle: retrieve %s: plaintext: %w", id, apperr.ErrIntegrity)
	}

	accessor = actorOr(accessor)
	entry := models.AccessEntry{Accessor: accessor, Timestamp: now.UnixMilli()}
	if err := c.docs.AppendAccess(ctx, id, entry); err != nil {
		return nil, models.SealedDocument{}, fmt.Errorf("lifecycle: retrieve: %w", err)
	}
	doc.AccessLog = append(doc.AccessLog, entry)

	block, err := c.record(ctx, doc, models.ActionAccessed, accessor)
	if err != nil {
		return nil, models.SealedDocument{}, err
	}

	c.logger.Info("lifecycle: document accessed",
		slog.String("id", id),
		slog.String("accessor", accessor),
		slog.Uint64("block", block.Index))
	c.publisher.PublishDocumentEvent(sse.EventDocumentAccessed, event(doc, block, accessor))
	return plaintext, doc, nil
}

// Get returns a document with its access log.
func (c *Coordinator) Get(ctx context.Context, id string) (DocumentView, error) {
	doc, err := c.docs.GetDocument(ctx, id)
	if err != nil {
		return DocumentView{}, fmt.Errorf("lifecycle: get: %w", err)
	}
	return DocumentView{SealedDocument: doc, Accessible: c.gateOpen(doc, c.clock.Now())}, nil
}

// List returns documents with their accessibility at the current time.
func (c *Coordinator) List(ctx context.Context, filter ListFilter) ([]DocumentView, error) {
	docs, err := c.docs.ListDocuments(ctx, filter.EncryptedOnly)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list: %w", err)
	}
	now := c.clock.Now()
	out := make([]DocumentView, 0, len(docs))
	for _, d := range docs {
		if filter.Uploader != "" && d.Uploader != filter.Uploader {
			continue
		}
		if d.AccessLog == nil {
			d.AccessLog = []models.AccessEntry{}
		}
		out = append(out, DocumentView{SealedDocument: d, Accessible: c.gateOpen(d, now)})
	}
	return out, nil
}

// Stats returns document and block counts.
func (c *Coordinator) Stats(ctx context.Context) (Stats, error) {
	total, encrypted, err := c.docs.CountDocuments(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("lifecycle: stats: %w", err)
	}
	blocks, err := c.ledger.Len(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("lifecycle: stats: %w", err)
	}
	return Stats{
		Documents:   total,
		Encrypted:   encrypted,
		Unencrypted: total - encrypted,
		Blocks:      blocks,
	}, nil
}

// record appends a block for a committed transition. A failure here leaves
// the document store ahead of the ledger; it is logged and returned.
func (c *Coordinator) record(ctx context.Context, doc models.SealedDocument, action models.Action, actor string) (models.Block, error) {
	block, err := c.ledger.Append(ctx, models.Payload{
		SubjectID:     doc.ID,
		Label:         doc.Label,
		ScheduledDate: doc.ReleaseDate,
		Action:        action,
		Actor:         actor,
	})
	if err != nil {
		c.logger.Error("lifecycle: ledger append failed after commit",
			slog.String("id", doc.ID),
			slog.String("action", string(action)),
			slog.String("error", err.Error()))
		return models.Block{}, fmt.Errorf("lifecycle: record %s: %w", action, err)
	}
	if action == models.ActionAccessed {
		return block, nil
	}
	if err := c.docs.SetLinkedBlockHash(ctx, doc.ID, block.Hash); err != nil {
		c.logger.Error("lifecycle: link block failed",
			slog.String("id", doc.ID),
			slog.String("hash", block.Hash),
			slog.String("error", err.Error()))
		return models.Block{}, fmt.Errorf("lifecycle: link block: %w", err)
	}
	return block, nil
}

func actorOr(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return "anonymous"
	}
	return actor
}

func event(doc models.SealedDocument, block models.Block, actor string) map[string]any {
	return map[string]any{
		"id":         doc.ID,
		"label":      doc.Label,
		"actor":      actor,
		"blockIndex": block.Index,
		"blockHash":  block.Hash,
	}
}
