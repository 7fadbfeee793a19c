package models

import "time"

// PaperRecord is one catalog entry returned by an arXiv search.
// Immutable once produced by the search adapter.
type PaperRecord struct {
	ID        string    `json:"id"`
	EntryURL  string    `json:"entry_url"`
	PDFURL    string    `json:"pdf_url"`
	Title     string    `json:"title"`
	Authors   []string  `json:"authors"`
	Published time.Time `json:"published"`
	Summary   string    `json:"summary,omitempty"`
}

// FetchOutcome records the result of downloading one paper. A failed
// download is data, not an error that escapes the batch.
type FetchOutcome struct {
	Record   PaperRecord
	Path     string
	Attempts int
	Err      error
}

// Success reports whether the paper landed on disk.
func (o FetchOutcome) Success() bool { return o.Err == nil }
