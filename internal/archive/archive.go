// Package archive provides the optional PostgreSQL-backed session archive.
//
// A completed session is stored as one row plus its utterances, generated
// answers, and informational notes. Info notes additionally carry a pgvector
// embedding so past notes can be recalled by semantic similarity across
// sessions. The archive is write-mostly: the live pipeline never blocks on it.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it automatically via CREATE EXTENSION IF NOT EXISTS.
package archive

import "time"

// Session is the archived record of one completed conversation session.
type Session struct {
	// ID uniquely identifies the session (assigned by the caller).
	ID string

	// SourceLang and TargetLang are the session's language pair.
	SourceLang string
	TargetLang string

	StartedAt time.Time
	EndedAt   time.Time

	// OriginalText is the full accumulated source-language text.
	OriginalText string

	// QualityTranslation is the final cloud translation of OriginalText.
	QualityTranslation string

	Answers []Answer
	Notes   []Note
}

// Answer records one generated answer suggestion.
type Answer struct {
	// Question is the source-language text the answer responds to.
	Question string

	// Text is the suggested answer in the responder's language.
	Text string

	// Translation is the answer rendered in the asker's language.
	Translation string

	CreatedAt time.Time
}

// Note is one informational statement extracted from a session.
type Note struct {
	// Text is the translated note content.
	Text string

	// Embedding is the note's dense vector, produced by the configured
	// embeddings provider. May be nil when no provider is available; such
	// notes are archived but excluded from semantic search.
	Embedding []float32

	CreatedAt time.Time
}

// NoteResult is one semantic search hit.
type NoteResult struct {
	Note      Note
	SessionID string

	// Distance is the cosine distance to the query vector; smaller is closer.
	Distance float64
}
