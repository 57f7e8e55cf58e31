package ledger

import "time"

// Entry is what the ledger remembers about an issued certificate. Texts and
// proof tokens are never stored.
type Entry struct {
	CertificateID string `json:"certificate_id"`
	Hash          string `json:"hash"`
	IssuedAt      int64  `json:"issued_at_ms"`
	Model         string `json:"model"`
	Version       string `json:"version"`
	SourceLang    string `json:"src_lang"`
	TargetLang    string `json:"tgt_lang"`
	Channel       string `json:"channel"`
}

// Record chains an Entry to its predecessor.
type Record struct {
	Index      int64     `json:"index"`
	RecordedAt time.Time `json:"recorded_at"`
	Entry      Entry     `json:"entry"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// RootRecord captures the Merkle root for a batch of record hashes.
type RootRecord struct {
	FromIndex int64     `json:"from_index"`
	ToIndex   int64     `json:"to_index"`
	RootHash  string    `json:"root_hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Report summarizes offline ledger verification.
type Report struct {
	OK           bool     `json:"ok"`
	Total        int64    `json:"total"`
	LastIndex    int64    `json:"last_index"`
	LastHash     string   `json:"last_hash"`
	RootsChecked int      `json:"roots_checked"`
	Errors       []string `json:"errors"`
}
