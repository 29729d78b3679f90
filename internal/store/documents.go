package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/examvault/internal/apperr"
	"github.com/starford/examvault/internal/models"
)

const documentColumns = `id, label, raw_digest, size, encrypted, ciphertext, iv, release_date, linked_block_hash, uploader, uploaded_at`

func scanDocument(s rowScanner) (models.SealedDocument, error) {
	var d models.SealedDocument
	err := s.Scan(&d.ID, &d.Label, &d.RawDigest, &d.Size, &d.Encrypted, &d.Ciphertext, &d.IV,
		&d.ReleaseDate, &d.LinkedBlockHash, &d.Uploader, &d.UploadedAt)
	return d, err
}

// CreateDocument inserts a new, unencrypted document record.
func (db *DB) CreateDocument(ctx context.Context, d models.SealedDocument) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Label, d.RawDigest, d.Size, d.Encrypted, d.Ciphertext, d.IV,
		d.ReleaseDate, d.LinkedBlockHash, d.Uploader, d.UploadedAt)
	if isConstraint(err) {
		return fmt.Errorf("store: create document %s: %w", d.ID, apperr.ErrInvalidRequest)
	}
	if err != nil {
		return fmt.Errorf("store: create document %s: %w", d.ID, err)
	}
	return nil
}

// GetDocument returns a document together with its access log.
func (db *DB) GetDocument(ctx context.Context, id string) (models.SealedDocument, error) {
	d, err := scanDocument(db.conn.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.SealedDocument{}, fmt.Errorf("store: document %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return models.SealedDocument{}, fmt.Errorf("store: document %s: %w", id, err)
	}

	d.AccessLog, err = db.accessLog(ctx, id)
	if err != nil {
		return models.SealedDocument{}, err
	}
	return d, nil
}

func (db *DB) accessLog(ctx context.Context, id string) ([]models.AccessEntry, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT accessor, accessed_at FROM access_log WHERE document_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("store: access log %s: %w", id, err)
	}
	defer rows.Close()

	out := []models.AccessEntry{}
	for rows.Next() {
		var e models.AccessEntry
		if err := rows.Scan(&e.Accessor, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("store: access log %s: %w", id, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListDocuments returns documents ordered by upload time. Access logs are
// not loaded. When encryptedOnly is set only sealed documents are returned.
func (db *DB) ListDocuments(ctx context.Context, encryptedOnly bool) ([]models.SealedDocument, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	if encryptedOnly {
		query += ` WHERE encrypted = 1`
	}
	query += ` ORDER BY uploaded_at, id`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("store: list documents: %w", err)
	}
	defer rows.Close()

	out := []models.SealedDocument{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("store: list documents: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkEncrypted stores ciphertext and IV and flips the encrypted flag. The
// update only applies to a document that is not yet encrypted, so two
// concurrent callers cannot both succeed.
func (db *DB) MarkEncrypted(ctx context.Context, id string, ciphertext, iv []byte) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE documents SET encrypted = 1, ciphertext = ?, iv = ?
		WHERE id = ? AND encrypted = 0
	`, ciphertext, iv, id)
	if err != nil {
		return fmt.Errorf("store: mark encrypted %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}

	var encrypted bool
	err = db.conn.QueryRowContext(ctx, `SELECT encrypted FROM documents WHERE id = ?`, id).Scan(&encrypted)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("store: mark encrypted %s: %w", id, apperr.ErrNotFound)
	case err != nil:
		return fmt.Errorf("store: mark encrypted %s: %w", id, err)
	default:
		return fmt.Errorf("store: mark encrypted %s: %w", id, apperr.ErrAlreadyEncrypted)
	}
}

// SetLinkedBlockHash records the hash of the block that logged the
// document's most recent state change.
func (db *DB) SetLinkedBlockHash(ctx context.Context, id, hash string) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE documents SET linked_block_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("store: link block %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: link block %s: %w", id, apperr.ErrNotFound)
	}
	return nil
}

// AppendAccess adds an entry to a document's access log.
func (db *DB) AppendAccess(ctx context.Context, id string, entry models.AccessEntry) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO access_log (document_id, accessor, accessed_at) VALUES (?, ?, ?)`,
		id, entry.Accessor, entry.Timestamp)
	if isConstraint(err) {
		return fmt.Errorf("store: append access %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("store: append access %s: %w", id, err)
	}
	return nil
}

// CountDocuments returns the total and encrypted document counts.
func (db *DB) CountDocuments(ctx context.Context) (total, encrypted int, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT count(*), coalesce(sum(encrypted), 0) FROM documents`).Scan(&total, &encrypted)
	if err != nil {
		return 0, 0, fmt.Errorf("store: count documents: %w", err)
	}
	return total, encrypted, nil
}
