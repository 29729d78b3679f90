// Package models defines the domain types for examvault.
package models

// Action identifies the lifecycle event a block records.
type Action string

const (
	ActionGenesis   Action = "GENESIS"
	ActionUploaded  Action = "UPLOADED"
	ActionEncrypted Action = "ENCRYPTED"
	ActionAccessed  Action = "ACCESSED"
)

// Payload is the structured record carried by a block.
//
// The cbor toarray option encodes the struct as a positional array, so the
// field order below is part of the hash format. Do not reorder.
type Payload struct {
	_             struct{} `cbor:",toarray"`
	SubjectID     string   `json:"subjectId"`
	Label         string   `json:"label"`
	ScheduledDate string   `json:"scheduledDate,omitempty"`
	Action        Action   `json:"action"`
	Actor         string   `json:"actor"`
}

// Block is one hash-linked ledger entry.
type Block struct {
	Index        uint64  `json:"index"`
	Timestamp    int64   `json:"timestamp"` // Unix milliseconds
	Payload      Payload `json:"payload"`
	PreviousHash string  `json:"previousHash"`
	Hash         string  `json:"hash"`
	Nonce        uint64  `json:"nonce"`
}

// Reason explains why a chain failed verification.
type Reason string

const (
	ReasonEmptyChain      Reason = "EmptyChain"
	ReasonHashMismatch    Reason = "HashMismatch"
	ReasonBrokenLink      Reason = "BrokenLink"
	ReasonDifficultyUnmet Reason = "DifficultyUnmet"
)

// VerificationResult is the outcome of a chain walk. Only the first
// violation is reported.
type VerificationResult struct {
	Valid        bool    `json:"valid"`
	FailingIndex *uint64 `json:"failingIndex,omitempty"`
	Reason       Reason  `json:"reason,omitempty"`
	Blocks       int     `json:"blocks"`
}
