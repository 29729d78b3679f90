package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/starford/examvault/internal/codec"
	"github.com/starford/examvault/internal/models"
)

// cancelCheckInterval is how many nonces Mine tries between context checks.
const cancelCheckInterval = 1024

// digestInput is the hashed tuple. Positional encoding fixes the field order.
type digestInput struct {
	_            struct{} `cbor:",toarray"`
	Index        uint64
	Timestamp    int64
	Payload      models.Payload
	PreviousHash string
	Nonce        uint64
}

// CanonicalDigest returns the hex SHA-256 of the canonical encoding of a
// block's hashed fields. The timestamp is Unix milliseconds everywhere, so
// a block reloaded from storage reproduces its original digest.
func CanonicalDigest(index uint64, timestamp int64, payload models.Payload, previousHash string, nonce uint64) string {
	data, err := codec.Marshal(digestInput{
		Index:        index,
		Timestamp:    timestamp,
		Payload:      payload,
		PreviousHash: previousHash,
		Nonce:        nonce,
	})
	if err != nil {
		// Only strings and integers are encoded; this cannot fail.
		panic("ledger: canonical encoding failed: " + err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// BlockDigest recomputes the digest of b from its persisted fields.
func BlockDigest(b models.Block) string {
	return CanonicalDigest(b.Index, b.Timestamp, b.Payload, b.PreviousHash, b.Nonce)
}

// MeetsDifficulty reports whether hash starts with at least difficulty '0'
// hex characters.
func MeetsDifficulty(hash string, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	return len(hash) >= difficulty && strings.Count(hash[:difficulty], "0") == difficulty
}

// Mine searches nonces from 1 upward until the digest meets the engine's
// difficulty. The loop has no upper bound; it stops early only when ctx is
// done, which is checked every cancelCheckInterval attempts.
func (e *Engine) Mine(ctx context.Context, index uint64, timestamp int64, payload models.Payload, previousHash string) (string, uint64, error) {
	for nonce := uint64(1); ; nonce++ {
		if nonce%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return "", 0, err
			}
		}
		hash := CanonicalDigest(index, timestamp, payload, previousHash, nonce)
		if MeetsDifficulty(hash, e.difficulty) {
			return hash, nonce, nil
		}
	}
}
