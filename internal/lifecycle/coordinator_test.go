package lifecycle_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/examvault/internal/accessgate"
	"github.com/starford/examvault/internal/apperr"
	"github.com/starford/examvault/internal/clock"
	"github.com/starford/examvault/internal/ledger"
	"github.com/starford/examvault/internal/lifecycle"
	"github.com/starford/examvault/internal/models"
	"github.com/starford/examvault/internal/storage"
	"github.com/starford/examvault/internal/store"
	"github.com/starford/examvault/internal/testutil"
)

type recordedEvent struct {
	kind string
	data any
}

type capturePublisher struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (p *capturePublisher) PublishDocumentEvent(kind string, data any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, recordedEvent{kind: kind, data: data})
}

func (p *capturePublisher) kinds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.kind
	}
	return out
}

type env struct {
	coord  *lifecycle.Coordinator
	db     *store.DB
	blobs  *storage.FS
	engine *ledger.Engine
	clock  *clock.FakeClock
	events *capturePublisher
}

var releaseDay = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func newEnv(t *testing.T, opts ...lifecycle.Option) *env {
	t.Helper()
	db := testutil.TestDB(t)
	_, blobs := testutil.TestBlobs(t)
	clk := clock.Fake(releaseDay.AddDate(0, 0, -7))
	engine := ledger.New(db, ledger.WithDifficulty(1), ledger.WithClock(clk))
	events := &capturePublisher{}

	opts = append([]lifecycle.Option{lifecycle.WithClock(clk), lifecycle.WithPublisher(events)}, opts...)
	coord := lifecycle.New(db, blobs, accessgate.New(testutil.GateKey), engine, opts...)
	return &env{coord: coord, db: db, blobs: blobs, engine: engine, clock: clk, events: events}
}

func (e *env) upload(t *testing.T, content string) models.SealedDocument {
	t.Helper()
	doc, err := e.coord.Upload(context.Background(), lifecycle.UploadRequest{
		Label:       "Algebra final",
		Content:     []byte(content),
		ReleaseDate: "2026-06-01",
		Uploader:    "alice",
	})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return doc
}

func (e *env) sealed(t *testing.T, content string) models.SealedDocument {
	t.Helper()
	doc := e.upload(t, content)
	if _, err := e.coord.EncryptDocument(context.Background(), doc.ID, "registrar"); err != nil {
		t.Fatalf("EncryptDocument: %v", err)
	}
	return doc
}

func TestUploadRecordsDocumentAndBlock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.upload(t, "Q1. Factor x^2-1.")

	if doc.ID == "" || doc.Encrypted || doc.Size != int64(len("Q1. Factor x^2-1.")) {
		t.Errorf("doc = %+v", doc)
	}
	ok, err := e.blobs.Exists("raw/" + doc.ID)
	if err != nil || !ok {
		t.Errorf("raw blob missing: %v", err)
	}

	history, err := e.engine.HistoryOf(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 1 || history[0].Payload.Action != models.ActionUploaded || history[0].Payload.Actor != "alice" {
		t.Fatalf("history = %+v", history)
	}
	if history[0].Payload.ScheduledDate != "2026-06-01" {
		t.Errorf("scheduled date = %q", history[0].Payload.ScheduledDate)
	}

	stored, _ := e.db.GetDocument(ctx, doc.ID)
	if stored.LinkedBlockHash != history[0].Hash {
		t.Errorf("LinkedBlockHash = %q, want %q", stored.LinkedBlockHash, history[0].Hash)
	}
}

func TestUploadRejectsInvalidRequest(t *testing.T) {
	e := newEnv(t)
	cases := map[string]lifecycle.UploadRequest{
		"no label":   {ReleaseDate: "2026-06-01"},
		"no date":    {Label: "x"},
		"bad date":   {Label: "x", ReleaseDate: "01/06/2026"},
		"blank name": {Label: "   ", ReleaseDate: "2026-06-01"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.coord.Upload(context.Background(), req)
			if !errors.Is(err, apperr.ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
	n, _ := e.engine.Len(context.Background())
	if n != 0 {
		t.Errorf("blocks = %d, want 0", n)
	}
}

func TestEncryptDiscardsRawAndLinksBlock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.upload(t, "answers")

	got, err := e.coord.EncryptDocument(ctx, doc.ID, "registrar")
	if err != nil {
		t.Fatalf("EncryptDocument: %v", err)
	}
	if !got.Encrypted || len(got.IV) != accessgate.IVSize || bytes.Contains(got.Ciphertext, []byte("answers")) {
		t.Errorf("sealed doc = %+v", got)
	}
	if ok, _ := e.blobs.Exists("raw/" + doc.ID); ok {
		t.Error("raw blob still present after encryption")
	}

	tail, _ := e.engine.ListChain(ctx)
	last := tail[len(tail)-1]
	if last.Payload.Action != models.ActionEncrypted || last.Payload.Actor != "registrar" {
		t.Errorf("last block = %+v", last.Payload)
	}
	if got.LinkedBlockHash != last.Hash {
		t.Errorf("LinkedBlockHash = %q, want %q", got.LinkedBlockHash, last.Hash)
	}
}

func TestEncryptTwiceFails(t *testing.T) {
	e := newEnv(t)
	doc := e.sealed(t, "answers")
	before, _ := e.engine.Len(context.Background())

	_, err := e.coord.EncryptDocument(context.Background(), doc.ID, "registrar")
	if !errors.Is(err, apperr.ErrAlreadyEncrypted) {
		t.Fatalf("err = %v, want ErrAlreadyEncrypted", err)
	}
	after, _ := e.engine.Len(context.Background())
	if after != before {
		t.Errorf("blocks %d -> %d on rejected encrypt", before, after)
	}
}

func TestEncryptDetectsTamperedRaw(t *testing.T) {
	e := newEnv(t)
	doc := e.upload(t, "answers")
	if err := e.blobs.Put("raw/"+doc.ID, []byte("answerz")); err != nil {
		t.Fatal(err)
	}
	_, err := e.coord.EncryptDocument(context.Background(), doc.ID, "registrar")
	if !errors.Is(err, apperr.ErrIntegrity) {
		t.Fatalf("err = %v, want ErrIntegrity", err)
	}
}

func TestEncryptMissingDocument(t *testing.T) {
	e := newEnv(t)
	_, err := e.coord.EncryptDocument(context.Background(), "nope", "registrar")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestEncryptWithBadKeyIsConfigurationError(t *testing.T) {
	db := testutil.TestDB(t)
	_, blobs := testutil.TestBlobs(t)
	engine := ledger.New(db, ledger.WithDifficulty(1))
	coord := lifecycle.New(db, blobs, accessgate.New("abcd"), engine)

	doc, err := coord.Upload(context.Background(), lifecycle.UploadRequest{
		Label: "x", Content: []byte("y"), ReleaseDate: "2026-06-01",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := coord.EncryptDocument(context.Background(), doc.ID, ""); !errors.Is(err, apperr.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	if ok, _ := blobs.Exists("raw/" + doc.ID); !ok {
		t.Error("raw blob discarded although encryption failed")
	}
}

// flakyBlobs fails Delete until healed.
type flakyBlobs struct {
	*storage.FS
	mu     sync.Mutex
	broken bool
}

func (b *flakyBlobs) Delete(key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.broken {
		return errors.New("disk unavailable")
	}
	return b.FS.Delete(key)
}

func (b *flakyBlobs) heal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = false
}

func TestEncryptFailedDiscardIsNotRecorded(t *testing.T) {
	db := testutil.TestDB(t)
	_, fs := testutil.TestBlobs(t)
	blobs := &flakyBlobs{FS: fs, broken: true}
	engine := ledger.New(db, ledger.WithDifficulty(1))
	events := &capturePublisher{}
	coord := lifecycle.New(db, blobs, accessgate.New(testutil.GateKey), engine,
		lifecycle.WithPublisher(events))
	ctx := context.Background()

	doc, err := coord.Upload(ctx, lifecycle.UploadRequest{
		Label: "Chemistry", Content: []byte("secret exam"), ReleaseDate: "2026-06-01",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := coord.EncryptDocument(ctx, doc.ID, "registrar"); err == nil {
		t.Fatal("EncryptDocument succeeded although the raw blob could not be discarded")
	}
	history, _ := engine.HistoryOf(ctx, doc.ID)
	if len(history) != 1 || history[0].Payload.Action != models.ActionUploaded {
		t.Fatalf("history after failed discard = %+v, want UPLOADED only", history)
	}
	if got := events.kinds(); len(got) != 1 {
		t.Errorf("events = %v, want upload only", got)
	}

	// A retry finishes the discard and records the transition once.
	blobs.heal()
	sealed, err := coord.EncryptDocument(ctx, doc.ID, "registrar")
	if err != nil {
		t.Fatalf("retry EncryptDocument: %v", err)
	}
	if ok, _ := fs.Exists("raw/" + doc.ID); ok {
		t.Error("raw blob still present after retry")
	}
	history, _ = engine.HistoryOf(ctx, doc.ID)
	if len(history) != 2 || history[1].Payload.Action != models.ActionEncrypted {
		t.Fatalf("history after retry = %+v", history)
	}
	if sealed.LinkedBlockHash != history[1].Hash {
		t.Errorf("LinkedBlockHash = %q, want %q", sealed.LinkedBlockHash, history[1].Hash)
	}

	if _, err := coord.EncryptDocument(ctx, doc.ID, "registrar"); !errors.Is(err, apperr.ErrAlreadyEncrypted) {
		t.Errorf("third encrypt err = %v, want ErrAlreadyEncrypted", err)
	}
}

// sealingBlobs seals the document from another writer the first time its raw
// blob is read, the way a concurrent process would.
type sealingBlobs struct {
	*storage.FS
	db   *store.DB
	once sync.Once
}

func (b *sealingBlobs) Get(key string) ([]byte, error) {
	b.once.Do(func() {
		id := strings.TrimPrefix(key, "raw/")
		_ = b.db.MarkEncrypted(context.Background(), id, []byte("ct"), make([]byte, accessgate.IVSize))
		_ = b.FS.Delete(key)
	})
	return b.FS.Get(key)
}

func TestEncryptLosingRaceIsAlreadyEncrypted(t *testing.T) {
	db := testutil.TestDB(t)
	_, fs := testutil.TestBlobs(t)
	engine := ledger.New(db, ledger.WithDifficulty(1))
	coord := lifecycle.New(db, &sealingBlobs{FS: fs, db: db}, accessgate.New(testutil.GateKey), engine)
	ctx := context.Background()

	doc, err := coord.Upload(ctx, lifecycle.UploadRequest{
		Label: "Physics", Content: []byte("paper"), ReleaseDate: "2026-06-01",
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = coord.EncryptDocument(ctx, doc.ID, "registrar")
	if !errors.Is(err, apperr.ErrAlreadyEncrypted) {
		t.Fatalf("err = %v, want ErrAlreadyEncrypted", err)
	}
}

func TestConcurrentEncryptRecordsOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.upload(t, "answers")

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.coord.EncryptDocument(ctx, doc.ID, "registrar")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case !errors.Is(err, apperr.ErrAlreadyEncrypted):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 {
		t.Errorf("successful encrypts = %d, want 1", ok)
	}
	history, _ := e.engine.HistoryOf(ctx, doc.ID)
	if len(history) != 2 {
		t.Errorf("history = %d blocks, want 2", len(history))
	}
}

func TestReleaseGateSingleDay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.sealed(t, "answers")

	cases := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"day before", releaseDay.AddDate(0, 0, -1), false},
		{"release day morning", releaseDay, true},
		{"release day last instant", time.Date(2026, 6, 1, 23, 59, 59, 0, time.UTC), true},
		{"day after", releaseDay.AddDate(0, 0, 1), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.coord.ReleaseGate(ctx, doc.ID, tc.now)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("ReleaseGate = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestReleaseGateClosedWhileUnencrypted(t *testing.T) {
	e := newEnv(t)
	doc := e.upload(t, "answers")
	open, err := e.coord.ReleaseGate(context.Background(), doc.ID, releaseDay)
	if err != nil || open {
		t.Errorf("ReleaseGate = %v, %v; want closed", open, err)
	}
}

func TestReleaseGateUsesConfiguredLocation(t *testing.T) {
	tokyo := time.FixedZone("JST", 9*3600)
	e := newEnv(t, lifecycle.WithLocation(tokyo))
	doc := e.sealed(t, "answers")

	// 2026-05-31 20:00 UTC is already 2026-06-01 in Tokyo.
	open, err := e.coord.ReleaseGate(context.Background(), doc.ID, time.Date(2026, 5, 31, 20, 0, 0, 0, time.UTC))
	if err != nil || !open {
		t.Errorf("ReleaseGate = %v, %v; want open", open, err)
	}
}

func TestRetrieveOnReleaseDay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.sealed(t, "Q1. Factor x^2-1.")

	plaintext, got, err := e.coord.Retrieve(ctx, doc.ID, releaseDay, "centre-7")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if string(plaintext) != "Q1. Factor x^2-1." {
		t.Errorf("plaintext = %q", plaintext)
	}
	if len(got.AccessLog) != 1 || got.AccessLog[0].Accessor != "centre-7" || got.AccessLog[0].Timestamp != releaseDay.UnixMilli() {
		t.Errorf("AccessLog = %+v", got.AccessLog)
	}

	history, _ := e.engine.HistoryOf(ctx, doc.ID)
	var actions []models.Action
	for _, b := range history {
		actions = append(actions, b.Payload.Action)
	}
	want := []models.Action{models.ActionUploaded, models.ActionEncrypted, models.ActionAccessed}
	if len(actions) != len(want) {
		t.Fatalf("history actions = %v, want %v", actions, want)
	}
	for i := range want {
		if actions[i] != want[i] {
			t.Fatalf("history actions = %v, want %v", actions, want)
		}
	}
	if history[2].Payload.Actor != "centre-7" {
		t.Errorf("ACCESSED actor = %q", history[2].Payload.Actor)
	}

	res, err := e.engine.Verify(ctx)
	if err != nil || !res.Valid {
		t.Errorf("Verify = %+v, %v", res, err)
	}

	kinds := e.events.kinds()
	wantKinds := []string{"document.uploaded", "document.encrypted", "document.accessed"}
	if len(kinds) != 3 || kinds[0] != wantKinds[0] || kinds[1] != wantKinds[1] || kinds[2] != wantKinds[2] {
		t.Errorf("events = %v, want %v", kinds, wantKinds)
	}
}

func TestRetrieveDeniedOutsideReleaseDay(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.sealed(t, "answers")
	before, _ := e.engine.Len(ctx)

	for _, now := range []time.Time{releaseDay.AddDate(0, 0, -1), releaseDay.AddDate(0, 0, 1)} {
		_, _, err := e.coord.Retrieve(ctx, doc.ID, now, "centre-7")
		if !errors.Is(err, apperr.ErrAccessDenied) {
			t.Errorf("Retrieve at %s: err = %v, want ErrAccessDenied", now, err)
		}
	}

	after, _ := e.engine.Len(ctx)
	if after != before {
		t.Errorf("blocks %d -> %d on denied access", before, after)
	}
	stored, _ := e.db.GetDocument(ctx, doc.ID)
	if len(stored.AccessLog) != 0 {
		t.Errorf("AccessLog = %+v, want empty", stored.AccessLog)
	}
}

func TestRetrieveUnencryptedDenied(t *testing.T) {
	e := newEnv(t)
	doc := e.upload(t, "answers")
	_, _, err := e.coord.Retrieve(context.Background(), doc.ID, releaseDay, "centre-7")
	if !errors.Is(err, apperr.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestRetrieveRepeatedAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	doc := e.sealed(t, "answers")
	for _, who := range []string{"centre-1", "centre-2", "centre-1"} {
		if _, _, err := e.coord.Retrieve(ctx, doc.ID, releaseDay, who); err != nil {
			t.Fatalf("Retrieve by %s: %v", who, err)
		}
	}
	stored, _ := e.db.GetDocument(ctx, doc.ID)
	if len(stored.AccessLog) != 3 {
		t.Errorf("AccessLog len = %d, want 3", len(stored.AccessLog))
	}
}

func TestEmptyDocumentRoundTrip(t *testing.T) {
	e := newEnv(t)
	doc := e.sealed(t, "")
	plaintext, _, err := e.coord.Retrieve(context.Background(), doc.ID, releaseDay, "centre-1")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(plaintext) != 0 {
		t.Errorf("plaintext = %q, want empty", plaintext)
	}
}

type failingRecorder struct {
	lifecycle.Recorder
}

func (failingRecorder) Append(context.Context, models.Payload) (models.Block, error) {
	return models.Block{}, context.DeadlineExceeded
}

func TestLedgerFailureAfterCommitIsReported(t *testing.T) {
	db := testutil.TestDB(t)
	_, blobs := testutil.TestBlobs(t)
	engine := ledger.New(db, ledger.WithDifficulty(1))
	events := &capturePublisher{}
	coord := lifecycle.New(db, blobs, accessgate.New(testutil.GateKey), failingRecorder{engine},
		lifecycle.WithPublisher(events))

	_, err := coord.Upload(context.Background(), lifecycle.UploadRequest{
		Label: "x", Content: []byte("y"), ReleaseDate: "2026-06-01",
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	// The document row committed before the append failed.
	docs, _ := db.ListDocuments(context.Background(), false)
	if len(docs) != 1 {
		t.Errorf("documents = %d, want 1", len(docs))
	}
	if len(events.kinds()) != 0 {
		t.Errorf("events published for failed transition: %v", events.kinds())
	}
}

func TestListAndStats(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.upload(t, "draft")
	sealed := e.sealed(t, "answers")

	e.clock.Set(releaseDay)
	all, err := e.coord.List(ctx, lifecycle.ListFilter{})
	if err != nil || len(all) != 2 {
		t.Fatalf("List = %d, %v", len(all), err)
	}
	only, err := e.coord.List(ctx, lifecycle.ListFilter{EncryptedOnly: true})
	if err != nil || len(only) != 1 || only[0].ID != sealed.ID || !only[0].Accessible {
		t.Fatalf("List(encrypted) = %+v, %v", only, err)
	}

	mine, err := e.coord.List(ctx, lifecycle.ListFilter{Uploader: "alice"})
	if err != nil || len(mine) != 2 {
		t.Fatalf("List(alice) = %d, %v", len(mine), err)
	}
	if others, _ := e.coord.List(ctx, lifecycle.ListFilter{Uploader: "bob"}); len(others) != 0 {
		t.Errorf("List(bob) = %d, want 0", len(others))
	}

	e.clock.Set(releaseDay.AddDate(0, 0, 1))
	view, err := e.coord.Get(ctx, sealed.ID)
	if err != nil || view.Accessible {
		t.Errorf("Get = %+v, %v; want inaccessible", view, err)
	}

	stats, err := e.coord.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// genesis + 2 uploads + 1 encrypt
	want := lifecycle.Stats{Documents: 2, Encrypted: 1, Unencrypted: 1, Blocks: 4}
	if stats != want {
		t.Errorf("Stats = %+v, want %+v", stats, want)
	}
}
