package ledger

import (
	"context"

	"github.com/starford/examvault/internal/models"
)

// BlockStore persists blocks. Implementations must reject a second block
// with an existing index by returning apperr.ErrIndexConflict, and must
// return apperr.ErrNotFound from Tail and BlockAt when nothing matches.
type BlockStore interface {
	// Tail returns the block with the highest index.
	Tail(ctx context.Context) (models.Block, error)
	// BlockAt returns the block with the given index.
	BlockAt(ctx context.Context, index uint64) (models.Block, error)
	// Insert persists a new block in a single atomic write.
	Insert(ctx context.Context, b models.Block) error
	// Blocks returns every block in index order.
	Blocks(ctx context.Context) ([]models.Block, error)
	// BlocksBySubject returns the blocks whose payload names subjectID, in index order.
	BlocksBySubject(ctx context.Context, subjectID string) ([]models.Block, error)
	// CountBlocks returns the number of persisted blocks.
	CountBlocks(ctx context.Context) (int, error)
	// UpdateSeals overwrites previous hash, hash and nonce of the given
	// blocks in one transaction. Index, timestamp and payload are untouched.
	UpdateSeals(ctx context.Context, blocks []models.Block) error
}
