package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/starford/examvault/internal/metrics"
	"github.com/starford/examvault/internal/models"
	"github.com/starford/examvault/pkg/workerpool"
)

// Verify walks the chain in index order from block 1 and reports the first
// violation. Integrity failures are returned in the result, never as an
// error; the error is reserved for store failures.
func (e *Engine) Verify(ctx context.Context) (res models.VerificationResult, err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveLedger("verify", err, started)
		if err == nil {
			metrics.SetChainValid(res.Valid)
		}
	}()

	blocks, err := e.store.Blocks(ctx)
	if err != nil {
		return models.VerificationResult{}, fmt.Errorf("ledger: verify: %w", err)
	}
	if len(blocks) == 0 {
		return models.VerificationResult{Valid: false, Reason: models.ReasonEmptyChain}, nil
	}

	genesis := blocks[0]
	if genesis.Index != 0 || genesis.PreviousHash != GenesisPreviousHash {
		return failure(genesis.Index, models.ReasonBrokenLink, len(blocks)), nil
	}

	// Digest recomputation is independent per block; the scan below stays
	// sequential so the lowest failing index wins.
	digests, err := workerpool.Map(ctx, e.workers, blocks[1:], func(_ context.Context, b models.Block) (string, error) {
		return BlockDigest(b), nil
	})
	if err != nil {
		return models.VerificationResult{}, fmt.Errorf("ledger: verify: %w", err)
	}

	for i := 1; i < len(blocks); i++ {
		current, previous := blocks[i], blocks[i-1]
		if digests[i-1] != current.Hash {
			return failure(current.Index, models.ReasonHashMismatch, len(blocks)), nil
		}
		if current.PreviousHash != previous.Hash || current.Index != previous.Index+1 {
			return failure(current.Index, models.ReasonBrokenLink, len(blocks)), nil
		}
		if !MeetsDifficulty(current.Hash, e.difficulty) {
			return failure(current.Index, models.ReasonDifficultyUnmet, len(blocks)), nil
		}
	}
	return models.VerificationResult{Valid: true, Blocks: len(blocks)}, nil
}

func failure(index uint64, reason models.Reason, n int) models.VerificationResult {
	return models.VerificationResult{Valid: false, FailingIndex: &index, Reason: reason, Blocks: n}
}

// Rebuild re-mines every block after genesis using its recorded timestamp
// and payload and the freshly recomputed predecessor hash, then overwrites
// the stored previous hash, hash and nonce in one transaction. It returns
// the number of rewritten blocks.
//
// Rebuild restores structural consistency only. It cannot tell tampered
// payloads from legitimate ones and will seal whatever content it finds.
// It is an administrative repair tool, not a security remediation.
func (e *Engine) Rebuild(ctx context.Context) (n int, err error) {
	started := time.Now()
	defer func() { metrics.ObserveLedger("rebuild", err, started) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	blocks, err := e.store.Blocks(ctx)
	if err != nil {
		return 0, fmt.Errorf("ledger: rebuild: %w", err)
	}
	if len(blocks) < 2 {
		return 0, nil
	}

	e.logger.Warn("ledger: rebuilding chain; payload content is re-sealed without review",
		slog.Int("blocks", len(blocks)))

	for i := 1; i < len(blocks); i++ {
		b := blocks[i]
		resealed, err := e.mineBlock(ctx, b.Index, b.Timestamp, b.Payload, blocks[i-1].Hash)
		if err != nil {
			return 0, fmt.Errorf("ledger: rebuild: %w", err)
		}
		blocks[i] = resealed
	}

	if err := e.store.UpdateSeals(ctx, blocks[1:]); err != nil {
		return 0, fmt.Errorf("ledger: rebuild: %w", err)
	}
	e.logger.Info("ledger: chain rebuilt", slog.Int("rewritten", len(blocks)-1))
	return len(blocks) - 1, nil
}
