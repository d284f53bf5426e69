package domain

import "time"

// TextLengths records how much text each section of a source article held.
type TextLengths struct {
	Title    int `json:"title"`
	Abstract int `json:"abstract"`
	Body     int `json:"body"`
	Cleaned  int `json:"cleaned"`
}

// ArticleAnalysis is the per-article output record written by the batch
// pipeline. One record per PMID; the record's existence on disk marks the
// article as processed for resumability.
type ArticleAnalysis struct {
	PMID                  string       `json:"pmid"`
	XMLFile               string       `json:"xml_file"`
	Title                 string       `json:"title"`
	Abstract              string       `json:"abstract"`
	ComprehensiveSummary  string       `json:"comprehensive_summary"`
	Topics                []string     `json:"topics"`
	Keywords              []string     `json:"keywords"`
	Molecules             []string     `json:"molecules"`
	TextLength            TextLengths  `json:"text_length"`
	ProcessingTimeSeconds float64      `json:"processing_time_seconds"`
	Verification          *VerifyAudit `json:"verification,omitempty"`
}

// VerifyAudit records what source-grounding verification removed or renamed
// in an analysis record. Present only on records that have been verified.
type VerifyAudit struct {
	VerifiedAt       time.Time `json:"verified_at"`
	MoleculesRemoved []string  `json:"molecules_removed,omitempty"`
	MoleculesRenamed []Rename  `json:"molecules_renamed,omitempty"`
	KeywordsRemoved  []string  `json:"keywords_removed,omitempty"`
}

// Rename records a registry-driven molecule rename.
type Rename struct {
	From string `json:"from"`
	To   string `json:"to"`
}
