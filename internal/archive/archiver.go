package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tolk-ai/tolk/internal/session"
	"github.com/tolk-ai/tolk/pkg/provider/embeddings"
)

// Saver is the subset of [Store] the Archiver needs. Satisfied by *Store.
type Saver interface {
	SaveSession(ctx context.Context, sess Session) error
}

// Archiver turns a finished session snapshot into an archive record,
// embedding info notes along the way. embedder may be nil; notes are then
// archived without vectors.
type Archiver struct {
	store    Saver
	embedder embeddings.Provider
	srcLang  string
	tgtLang  string
	logger   *slog.Logger
}

// NewArchiver creates an Archiver writing to store.
func NewArchiver(store Saver, embedder embeddings.Provider, srcLang, tgtLang string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		store:    store,
		embedder: embedder,
		srcLang:  srcLang,
		tgtLang:  tgtLang,
		logger:   logger.With("component", "archive"),
	}
}

// Archive stores the session identified by id from its final snapshot.
// A snapshot with no accumulated text is skipped silently.
func (a *Archiver) Archive(ctx context.Context, id string, startedAt time.Time, snap session.Snapshot) error {
	if snap.OriginalText == "" {
		return nil
	}

	sess := Session{
		ID:                 id,
		SourceLang:         a.srcLang,
		TargetLang:         a.tgtLang,
		StartedAt:          startedAt,
		EndedAt:            time.Now(),
		OriginalText:       snap.OriginalText,
		QualityTranslation: snap.QualityTranslation,
	}

	if snap.Answer.Answer != "" {
		sess.Answers = append(sess.Answers, Answer{
			Question:    snap.Answer.LastAnsweredText,
			Text:        snap.Answer.Answer,
			Translation: snap.Answer.AnswerTranslation,
		})
	}

	sess.Notes = a.buildNotes(ctx, snap.InfoNotes)

	if err := a.store.SaveSession(ctx, sess); err != nil {
		return fmt.Errorf("archive: save session %q: %w", id, err)
	}

	a.logger.Info("session archived",
		"session_id", id,
		"words", len(snap.OriginalText),
		"notes", len(sess.Notes),
	)
	return nil
}

// buildNotes embeds the info notes in one batch. Embedding failure degrades
// to unembedded notes rather than losing them.
func (a *Archiver) buildNotes(ctx context.Context, texts []string) []Note {
	notes := make([]Note, 0, len(texts))
	for _, t := range texts {
		notes = append(notes, Note{Text: t})
	}
	if a.embedder == nil || len(notes) == 0 {
		return notes
	}

	vecs, err := a.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		a.logger.Warn("embedding info notes failed, archiving without vectors", "error", err)
		return notes
	}
	for i := range notes {
		notes[i].Embedding = vecs[i]
	}
	return notes
}
