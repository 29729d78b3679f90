package internal

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/starford/examvault/internal/accessgate"
	"github.com/starford/examvault/internal/clock"
	"github.com/starford/examvault/internal/ledger"
	"github.com/starford/examvault/internal/lifecycle"
	"github.com/starford/examvault/internal/storage"
	"github.com/starford/examvault/internal/store"
)

// services holds the wired components shared by the server and the CLI
// commands.
type services struct {
	db     *store.DB
	blobs  *storage.FS
	gate   *accessgate.Gate
	chain  *ledger.Engine
	docs   *lifecycle.Coordinator
	clock  clock.Clock
	logger *slog.Logger
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, errors.New("config is required")
	}
	if app.clock == nil {
		app.clock = clock.Real()
	}
	if app.out == nil {
		app.out = os.Stdout
	}
	return app, nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
}

// openServices opens the stores and builds the ledger engine and the
// lifecycle coordinator. The caller must call close.
func openServices(app *application, logger *slog.Logger, publisher lifecycle.Publisher) (*services, error) {
	cfg := app.config

	loc, err := cfg.Release.Location()
	if err != nil {
		return nil, fmt.Errorf("release timezone: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	blobs, err := storage.NewFS(cfg.Blobs.Path)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init blob storage: %w", err)
	}

	chain := ledger.New(db,
		ledger.WithDifficulty(cfg.Ledger.Difficulty),
		ledger.WithMineTimeout(cfg.Ledger.MineTimeout),
		ledger.WithAppendRetries(cfg.Ledger.AppendRetries),
		ledger.WithClock(app.clock),
		ledger.WithLogger(logger),
	)
	gate := accessgate.New(cfg.Gate.Key)

	docOpts := []lifecycle.Option{
		lifecycle.WithClock(app.clock),
		lifecycle.WithLocation(loc),
		lifecycle.WithLogger(logger),
	}
	if publisher != nil {
		docOpts = append(docOpts, lifecycle.WithPublisher(publisher))
	}
	docs := lifecycle.New(db, blobs, gate, chain, docOpts...)

	return &services{
		db:     db,
		blobs:  blobs,
		gate:   gate,
		chain:  chain,
		docs:   docs,
		clock:  app.clock,
		logger: logger,
	}, nil
}

func (s *services) close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close store failed", slog.String("error", err.Error()))
	}
}
