package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/examvault/internal/apperr"
	"github.com/starford/examvault/internal/models"
)

const blockColumns = `idx, timestamp, subject_id, label, scheduled_date, action, actor, previous_hash, hash, nonce`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBlock(s rowScanner) (models.Block, error) {
	var (
		b          models.Block
		idx, nonce int64
		action     string
	)
	err := s.Scan(&idx, &b.Timestamp, &b.Payload.SubjectID, &b.Payload.Label, &b.Payload.ScheduledDate,
		&action, &b.Payload.Actor, &b.PreviousHash, &b.Hash, &nonce)
	if err != nil {
		return models.Block{}, err
	}
	b.Index = uint64(idx)
	b.Nonce = uint64(nonce)
	b.Payload.Action = models.Action(action)
	return b, nil
}

func (db *DB) queryBlocks(ctx context.Context, query string, args ...any) ([]models.Block, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Tail returns the block with the highest index.
func (db *DB) Tail(ctx context.Context) (models.Block, error) {
	b, err := scanBlock(db.conn.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM blocks ORDER BY idx DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Block{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Block{}, fmt.Errorf("store: tail: %w", err)
	}
	return b, nil
}

// BlockAt returns the block with the given index.
func (db *DB) BlockAt(ctx context.Context, index uint64) (models.Block, error) {
	b, err := scanBlock(db.conn.QueryRowContext(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE idx = ?`, int64(index)))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Block{}, apperr.ErrNotFound
	}
	if err != nil {
		return models.Block{}, fmt.Errorf("store: block %d: %w", index, err)
	}
	return b, nil
}

// Insert persists a new block. A duplicate index yields apperr.ErrIndexConflict.
func (db *DB) Insert(ctx context.Context, b models.Block) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO blocks (`+blockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, int64(b.Index), b.Timestamp, b.Payload.SubjectID, b.Payload.Label, b.Payload.ScheduledDate,
		string(b.Payload.Action), b.Payload.Actor, b.PreviousHash, b.Hash, int64(b.Nonce))
	if isConstraint(err) {
		return fmt.Errorf("store: insert block %d: %w", b.Index, apperr.ErrIndexConflict)
	}
	if err != nil {
		return fmt.Errorf("store: insert block %d: %w", b.Index, err)
	}
	return nil
}

// Blocks returns every block in index order.
func (db *DB) Blocks(ctx context.Context) ([]models.Block, error) {
	out, err := db.queryBlocks(ctx, `SELECT `+blockColumns+` FROM blocks ORDER BY idx`)
	if err != nil {
		return nil, fmt.Errorf("store: blocks: %w", err)
	}
	return out, nil
}

// BlocksBySubject returns the blocks recording events for subjectID.
func (db *DB) BlocksBySubject(ctx context.Context, subjectID string) ([]models.Block, error) {
	out, err := db.queryBlocks(ctx,
		`SELECT `+blockColumns+` FROM blocks WHERE subject_id = ? ORDER BY idx`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("store: blocks by subject: %w", err)
	}
	return out, nil
}

// CountBlocks returns the number of blocks.
func (db *DB) CountBlocks(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM blocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count blocks: %w", err)
	}
	return n, nil
}

// UpdateSeals rewrites previous hash, hash and nonce of the given blocks
// within one transaction.
func (db *DB) UpdateSeals(ctx context.Context, blocks []models.Block) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	stmt, err := tx.PrepareContext(ctx, `UPDATE blocks SET previous_hash = ?, hash = ?, nonce = ? WHERE idx = ?`)
	if err != nil {
		return fmt.Errorf("store: prepare seal update: %w", err)
	}
	defer stmt.Close()

	for _, b := range blocks {
		res, err := stmt.ExecContext(ctx, b.PreviousHash, b.Hash, int64(b.Nonce), int64(b.Index))
		if err != nil {
			return fmt.Errorf("store: update seal %d: %w", b.Index, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("store: update seal %d: %w", b.Index, apperr.ErrNotFound)
		}
	}
	return tx.Commit()
}
