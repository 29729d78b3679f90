package models

// DateLayout is the calendar-date format used for release dates.
const DateLayout = "2006-01-02"

// AccessEntry records one successful retrieval.
type AccessEntry struct {
	Accessor  string `json:"accessor"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds
}

// SealedDocument is a document moving through upload, encryption and access.
type SealedDocument struct {
	ID              string        `json:"id"`
	Label           string        `json:"label"`
	RawDigest       string        `json:"rawDigest"`
	Size            int64         `json:"size"`
	Encrypted       bool          `json:"encrypted"`
	Ciphertext      []byte        `json:"-"`
	IV              []byte        `json:"-"`
	ReleaseDate     string        `json:"releaseDate"`
	LinkedBlockHash string        `json:"linkedBlockHash,omitempty"`
	Uploader        string        `json:"uploader"`
	UploadedAt      int64         `json:"uploadedAt"`
	AccessLog       []AccessEntry `json:"accessLog"`
}
