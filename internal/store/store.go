package store

import "github.com/starford/examvault/internal/ledger"

// Verify *DB satisfies ledger.BlockStore at compile time.
var _ ledger.BlockStore = (*DB)(nil)
