// Package audit re-verifies the ledger when its store files change on disk.
//
// The watcher cannot tell our own writes from foreign ones, so every change
// schedules a verification. Bursts are coalesced by a debounce timer.
package audit

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/examvault/internal/models"
)

// DefaultDebounce is used when Watch is given a non-positive debounce.
const DefaultDebounce = 2 * time.Second

// Verifier checks the ledger.
type Verifier interface {
	Verify(ctx context.Context) (models.VerificationResult, error)
}

// ResultCallback is called with every verification the watcher runs.
type ResultCallback func(res models.VerificationResult)

// Watch starts an fsnotify watcher on the directory containing storePath and
// verifies the ledger after changes to the store file or its WAL, until ctx
// is cancelled. It calls cb (if non-nil) after each verification.
func Watch(ctx context.Context, storePath string, v Verifier, debounce time.Duration, logger *slog.Logger, cb ResultCallback) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	abs, err := filepath.Abs(storePath)
	if err != nil {
		return err
	}
	dir, base := filepath.Split(abs)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}

	logger.Info("audit: watching store", slog.String("path", abs), slog.Duration("debounce", debounce))

	var verifyTimer *time.Timer
	var verifyCh <-chan time.Time

	scheduleVerify := func() {
		if verifyTimer == nil {
			verifyTimer = time.NewTimer(debounce)
			verifyCh = verifyTimer.C
		} else {
			verifyTimer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if verifyTimer != nil {
				verifyTimer.Stop()
			}
			logger.Info("audit: stopped")
			return nil

		case <-verifyCh:
			runVerify(ctx, v, logger, cb)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !watched(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug("audit: store changed", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			scheduleVerify()

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("audit: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// watched reports whether name is the store file or its WAL. The shared
// memory index changes on every read and is ignored.
func watched(name, base string) bool {
	return name == base || name == base+"-wal"
}

func runVerify(ctx context.Context, v Verifier, logger *slog.Logger, cb ResultCallback) {
	res, err := v.Verify(ctx)
	if err != nil {
		logger.Error("audit: verify failed", slog.String("error", err.Error()))
		return
	}
	if res.Valid {
		logger.Info("audit: chain valid", slog.Int("blocks", res.Blocks))
	} else {
		attrs := []any{slog.String("reason", string(res.Reason)), slog.Int("blocks", res.Blocks)}
		if res.FailingIndex != nil {
			attrs = append(attrs, slog.Uint64("failing_index", *res.FailingIndex))
		}
		logger.Warn("audit: chain verification failed", attrs...)
	}
	if cb != nil {
		cb(res)
	}
}
