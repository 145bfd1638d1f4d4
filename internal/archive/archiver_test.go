package archive

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/tolk-ai/tolk/internal/session"
	embmock "github.com/tolk-ai/tolk/pkg/provider/embeddings/mock"
)

type saverStub struct {
	saved []Session
	err   error
}

func (s *saverStub) SaveSession(_ context.Context, sess Session) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, sess)
	return nil
}

func TestArchive_StoresSessionWithEmbeddedNotes(t *testing.T) {
	store := &saverStub{}
	embedder := &embmock.Provider{
		EmbedBatchResult: [][]float32{{0.1, 0.2}, {0.3, 0.4}},
	}
	a := NewArchiver(store, embedder, "nb", "ru", slog.New(slog.DiscardHandler))

	started := time.Now().Add(-time.Minute)
	snap := session.Snapshot{
		OriginalText:       "kan du sende sveiseprosedyren",
		QualityTranslation: "можешь прислать процедуру сварки",
		InfoNotes:          []string{"скоро смена заканчивается", "шов номер четыре готов"},
	}
	snap.Answer.Answer = "Ja, jeg sender den straks"
	snap.Answer.AnswerTranslation = "да, сейчас отправлю"
	snap.Answer.LastAnsweredText = snap.OriginalText

	if err := a.Archive(context.Background(), "sess-1", started, snap); err != nil {
		t.Fatalf("Archive: %v", err)
	}

	if len(store.saved) != 1 {
		t.Fatalf("saved %d sessions, want 1", len(store.saved))
	}
	sess := store.saved[0]
	if sess.ID != "sess-1" || sess.SourceLang != "nb" || sess.TargetLang != "ru" {
		t.Fatalf("session header = %+v", sess)
	}
	if sess.OriginalText != snap.OriginalText {
		t.Errorf("OriginalText = %q", sess.OriginalText)
	}
	if len(sess.Answers) != 1 {
		t.Fatalf("answers = %d, want 1", len(sess.Answers))
	}
	if sess.Answers[0].Question != snap.OriginalText {
		t.Errorf("answer question = %q", sess.Answers[0].Question)
	}
	if len(sess.Notes) != 2 {
		t.Fatalf("notes = %d, want 2", len(sess.Notes))
	}
	if sess.Notes[1].Embedding == nil {
		t.Error("note embedding missing")
	}
	if len(embedder.EmbedBatchCalls) != 1 {
		t.Fatalf("EmbedBatch called %d times, want 1", len(embedder.EmbedBatchCalls))
	}
}

func TestArchive_EmptySnapshotSkipped(t *testing.T) {
	store := &saverStub{}
	a := NewArchiver(store, nil, "nb", "ru", slog.New(slog.DiscardHandler))

	if err := a.Archive(context.Background(), "sess-1", time.Now(), session.Snapshot{}); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(store.saved) != 0 {
		t.Fatal("empty session should not be archived")
	}
}

func TestArchive_EmbeddingFailureDegrades(t *testing.T) {
	store := &saverStub{}
	embedder := &embmock.Provider{EmbedBatchErr: errors.New("embedder down")}
	a := NewArchiver(store, embedder, "nb", "ru", slog.New(slog.DiscardHandler))

	snap := session.Snapshot{
		OriginalText: "noe tekst",
		InfoNotes:    []string{"заметка"},
	}
	if err := a.Archive(context.Background(), "sess-2", time.Now(), snap); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d sessions, want 1", len(store.saved))
	}
	notes := store.saved[0].Notes
	if len(notes) != 1 {
		t.Fatalf("notes = %d, want 1", len(notes))
	}
	if notes[0].Embedding != nil {
		t.Error("failed embedding should leave notes without vectors")
	}
}

func TestArchive_NoEmbedderArchivesPlainNotes(t *testing.T) {
	store := &saverStub{}
	a := NewArchiver(store, nil, "nb", "ru", slog.New(slog.DiscardHandler))

	snap := session.Snapshot{
		OriginalText: "noe tekst",
		InfoNotes:    []string{"без векторов"},
	}
	if err := a.Archive(context.Background(), "sess-3", time.Now(), snap); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if got := store.saved[0].Notes[0].Text; got != "без векторов" {
		t.Errorf("note text = %q", got)
	}
}

func TestArchive_StoreErrorPropagates(t *testing.T) {
	wantErr := errors.New("db down")
	store := &saverStub{err: wantErr}
	a := NewArchiver(store, nil, "nb", "ru", slog.New(slog.DiscardHandler))

	err := a.Archive(context.Background(), "sess-4", time.Now(), session.Snapshot{OriginalText: "x"})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want wrapped store error", err)
	}
}
