// Package ledger maintains the hash-linked, proof-of-work block sequence that
// records every document lifecycle event.
//
// The ledger has exactly one logical writer. Within a process, appends are
// serialized by a mutex; across processes sharing a store, the store's
// unique index constraint turns a lost race into apperr.ErrIndexConflict and
// Append re-reads the tail and retries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/starford/examvault/internal/apperr"
	"github.com/starford/examvault/internal/clock"
	"github.com/starford/examvault/internal/metrics"
	"github.com/starford/examvault/internal/models"
)

const (
	// GenesisPreviousHash is the sentinel previous hash of block 0.
	GenesisPreviousHash = "0"

	DefaultDifficulty    = 2
	DefaultAppendRetries = 5
	DefaultMineTimeout   = 30 * time.Second
)

// GenesisPayload is the fixed payload of block 0.
var GenesisPayload = models.Payload{
	SubjectID: "genesis",
	Label:     "Genesis Block",
	Action:    models.ActionGenesis,
	Actor:     "SYSTEM",
}

// Option configures an Engine.
type Option func(*Engine)

// WithDifficulty sets the number of leading '0' hex characters a block hash needs.
func WithDifficulty(d int) Option {
	return func(e *Engine) { e.difficulty = d }
}

// WithMineTimeout bounds the time spent mining a single block. Zero disables the bound.
func WithMineTimeout(d time.Duration) Option {
	return func(e *Engine) { e.mineTimeout = d }
}

// WithAppendRetries sets how many index conflicts Append absorbs before giving up.
func WithAppendRetries(n int) Option {
	return func(e *Engine) { e.retries = n }
}

// WithClock sets the clock used for block timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine owns block creation, verification and repair.
type Engine struct {
	store       BlockStore
	difficulty  int
	mineTimeout time.Duration
	retries     int
	workers     int
	clock       clock.Clock
	logger      *slog.Logger

	// mu serializes read-tail/mine/insert and rebuild.
	mu sync.Mutex
}

// New creates an Engine over store.
func New(store BlockStore, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		difficulty:  DefaultDifficulty,
		mineTimeout: DefaultMineTimeout,
		retries:     DefaultAppendRetries,
		workers:     runtime.NumCPU(),
		clock:       clock.Real(),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Difficulty returns the proof-of-work difficulty.
func (e *Engine) Difficulty() int {
	return e.difficulty
}

// CreateGenesis mines and persists block 0 if the ledger is empty. On a
// non-empty ledger it returns the existing genesis block.
func (e *Engine) CreateGenesis(ctx context.Context) (models.Block, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.createGenesisLocked(ctx)
}

func (e *Engine) createGenesisLocked(ctx context.Context) (models.Block, error) {
	n, err := e.store.CountBlocks(ctx)
	if err != nil {
		return models.Block{}, fmt.Errorf("ledger: count blocks: %w", err)
	}
	if n > 0 {
		return e.store.BlockAt(ctx, 0)
	}

	genesis, err := e.mineBlock(ctx, 0, e.clock.Now().UnixMilli(), GenesisPayload, GenesisPreviousHash)
	if err != nil {
		return models.Block{}, err
	}
	if err := e.store.Insert(ctx, genesis); err != nil {
		if errors.Is(err, apperr.ErrIndexConflict) {
			// Another writer initialized the ledger first.
			return e.store.BlockAt(ctx, 0)
		}
		return models.Block{}, fmt.Errorf("ledger: insert genesis: %w", err)
	}
	e.logger.Info("ledger: genesis block created", slog.String("hash", genesis.Hash))
	return genesis, nil
}

// Append mines a block recording payload on top of the current tail and
// persists it. An empty ledger is initialized with a genesis block first.
func (e *Engine) Append(ctx context.Context, payload models.Payload) (block models.Block, err error) {
	started := time.Now()
	defer func() { metrics.ObserveLedger("append", err, started) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	conflicts := 0
	for {
		tail, err := e.store.Tail(ctx)
		if errors.Is(err, apperr.ErrNotFound) {
			if _, err := e.createGenesisLocked(ctx); err != nil {
				return models.Block{}, err
			}
			continue
		}
		if err != nil {
			return models.Block{}, fmt.Errorf("ledger: read tail: %w", err)
		}

		block, err := e.mineBlock(ctx, tail.Index+1, e.clock.Now().UnixMilli(), payload, tail.Hash)
		if err != nil {
			return models.Block{}, err
		}

		err = e.store.Insert(ctx, block)
		if err == nil {
			e.logger.Debug("ledger: block appended",
				slog.Uint64("index", block.Index),
				slog.String("action", string(payload.Action)),
				slog.String("subject_id", payload.SubjectID))
			return block, nil
		}
		if !errors.Is(err, apperr.ErrIndexConflict) || conflicts >= e.retries {
			return models.Block{}, fmt.Errorf("ledger: insert block %d: %w", block.Index, err)
		}
		conflicts++
		metrics.IncAppendConflict()
		e.logger.Warn("ledger: index conflict, retrying",
			slog.Uint64("index", block.Index),
			slog.Int("attempt", conflicts))
	}
}

// mineBlock runs Mine on its own goroutine so the caller can abandon it when
// ctx ends or the mine timeout expires.
func (e *Engine) mineBlock(ctx context.Context, index uint64, timestamp int64, payload models.Payload, previousHash string) (models.Block, error) {
	if e.mineTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.mineTimeout)
		defer cancel()
	}

	type result struct {
		hash  string
		nonce uint64
		err   error
	}
	done := make(chan result, 1)
	go func() {
		hash, nonce, err := e.Mine(ctx, index, timestamp, payload, previousHash)
		done <- result{hash: hash, nonce: nonce, err: err}
	}()

	select {
	case <-ctx.Done():
		return models.Block{}, fmt.Errorf("ledger: mine block %d: %w", index, ctx.Err())
	case r := <-done:
		if r.err != nil {
			return models.Block{}, fmt.Errorf("ledger: mine block %d: %w", index, r.err)
		}
		metrics.ObserveMining(r.nonce)
		return models.Block{
			Index:        index,
			Timestamp:    timestamp,
			Payload:      payload,
			PreviousHash: previousHash,
			Hash:         r.hash,
			Nonce:        r.nonce,
		}, nil
	}
}

// ListChain returns every block in index order.
func (e *Engine) ListChain(ctx context.Context) ([]models.Block, error) {
	blocks, err := e.store.Blocks(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list chain: %w", err)
	}
	return blocks, nil
}

// HistoryOf returns the blocks that record events for subjectID, in index order.
func (e *Engine) HistoryOf(ctx context.Context, subjectID string) ([]models.Block, error) {
	blocks, err := e.store.BlocksBySubject(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("ledger: history of %s: %w", subjectID, err)
	}
	return blocks, nil
}

// Len returns the number of blocks.
func (e *Engine) Len(ctx context.Context) (int, error) {
	return e.store.CountBlocks(ctx)
}
