package api

import (
	"github.com/starford/examvault/internal/lifecycle"
	"github.com/starford/examvault/internal/models"
)

// DocumentView is a document with its current accessibility (aliased from the domain layer).
type DocumentView = lifecycle.DocumentView

// DocumentListResponse wraps document listings.
type DocumentListResponse struct {
	Documents []DocumentView `json:"documents" validate:"required"`
	Total     int            `json:"total" example:"12" validate:"required"`
}

// ChainResponse wraps the full block sequence.
type ChainResponse struct {
	Blocks     []models.Block `json:"blocks" validate:"required"`
	Length     int            `json:"length" example:"7" validate:"required"`
	Difficulty int            `json:"difficulty" example:"2" validate:"required"`
}

// HistoryResponse wraps the blocks recorded for one subject.
type HistoryResponse struct {
	SubjectID string         `json:"subjectId" example:"2f1c6a1e-8a1b-4b8e-9a59-2c6f0f3b7d11" validate:"required"`
	Blocks    []models.Block `json:"blocks" validate:"required"`
}

// RebuildResponse reports a completed rebuild.
type RebuildResponse struct {
	Rewritten    int                       `json:"rewritten" example:"6" validate:"required"`
	Verification models.VerificationResult `json:"verification" validate:"required"`
}
