package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// ddlSessions holds the archive DDL without the embedding column.
const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id                  TEXT         PRIMARY KEY,
    source_lang         TEXT         NOT NULL,
    target_lang         TEXT         NOT NULL,
    started_at          TIMESTAMPTZ  NOT NULL,
    ended_at            TIMESTAMPTZ  NOT NULL,
    original_text       TEXT         NOT NULL,
    quality_translation TEXT         NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at
    ON sessions (started_at);

CREATE INDEX IF NOT EXISTS idx_sessions_fts
    ON sessions USING GIN (to_tsvector('simple', original_text));

CREATE TABLE IF NOT EXISTS answers (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    question    TEXT         NOT NULL,
    answer      TEXT         NOT NULL,
    translation TEXT         NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_answers_session_id
    ON answers (session_id);
`

// ddlNotes returns the info-note DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddlNotes(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS info_notes (
    id          BIGSERIAL    PRIMARY KEY,
    session_id  TEXT         NOT NULL REFERENCES sessions (id) ON DELETE CASCADE,
    text        TEXT         NOT NULL,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_info_notes_session_id
    ON info_notes (session_id);

CREATE INDEX IF NOT EXISTS idx_info_notes_embedding
    ON info_notes USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates or ensures all required database tables and extensions exist.
// It is idempotent and safe to call on every application start.
//
// embeddingDimensions must match the configured embeddings provider (e.g.,
// 768 for nomic-embed-text). Changing this value after the first migration
// requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlSessions,
		ddlNotes(embeddingDimensions),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("archive migrate: %w", err)
		}
	}
	return nil
}

// Store is the PostgreSQL-backed archive. It holds a single [pgxpool.Pool].
// All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive store: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close releases all connections held by the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// SaveSession writes the session and its answers and notes in one transaction.
// Saving a session with an existing ID replaces its previous record.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("archive store: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	const upsert = `
		INSERT INTO sessions
		    (id, source_lang, target_lang, started_at, ended_at, original_text, quality_translation)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
		    source_lang         = EXCLUDED.source_lang,
		    target_lang         = EXCLUDED.target_lang,
		    started_at          = EXCLUDED.started_at,
		    ended_at            = EXCLUDED.ended_at,
		    original_text       = EXCLUDED.original_text,
		    quality_translation = EXCLUDED.quality_translation`

	if _, err := tx.Exec(ctx, upsert,
		sess.ID,
		sess.SourceLang,
		sess.TargetLang,
		sess.StartedAt,
		sess.EndedAt,
		sess.OriginalText,
		sess.QualityTranslation,
	); err != nil {
		return fmt.Errorf("archive store: save session: %w", err)
	}

	// Replace, not append, so re-saving after a crash recovery is safe.
	if _, err := tx.Exec(ctx, `DELETE FROM answers WHERE session_id = $1`, sess.ID); err != nil {
		return fmt.Errorf("archive store: clear answers: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM info_notes WHERE session_id = $1`, sess.ID); err != nil {
		return fmt.Errorf("archive store: clear notes: %w", err)
	}

	for _, a := range sess.Answers {
		if _, err := tx.Exec(ctx, `
			INSERT INTO answers (session_id, question, answer, translation, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			sess.ID, a.Question, a.Text, a.Translation, orNow(a.CreatedAt),
		); err != nil {
			return fmt.Errorf("archive store: save answer: %w", err)
		}
	}

	for _, n := range sess.Notes {
		var vec any
		if n.Embedding != nil {
			vec = pgvector.NewVector(n.Embedding)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO info_notes (session_id, text, embedding, created_at)
			VALUES ($1, $2, $3, $4)`,
			sess.ID, n.Text, vec, orNow(n.CreatedAt),
		); err != nil {
			return fmt.Errorf("archive store: save note: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("archive store: commit: %w", err)
	}
	return nil
}

// GetSession loads one archived session with its answers and notes.
// Returns pgx.ErrNoRows wrapped when the ID is unknown.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	const q = `
		SELECT id, source_lang, target_lang, started_at, ended_at, original_text, quality_translation
		FROM   sessions
		WHERE  id = $1`

	var sess Session
	if err := s.pool.QueryRow(ctx, q, id).Scan(
		&sess.ID,
		&sess.SourceLang,
		&sess.TargetLang,
		&sess.StartedAt,
		&sess.EndedAt,
		&sess.OriginalText,
		&sess.QualityTranslation,
	); err != nil {
		return nil, fmt.Errorf("archive store: get session %q: %w", id, err)
	}

	answers, err := s.pool.Query(ctx, `
		SELECT question, answer, translation, created_at
		FROM   answers
		WHERE  session_id = $1
		ORDER  BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("archive store: load answers: %w", err)
	}
	sess.Answers, err = pgx.CollectRows(answers, func(row pgx.CollectableRow) (Answer, error) {
		var a Answer
		err := row.Scan(&a.Question, &a.Text, &a.Translation, &a.CreatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan answers: %w", err)
	}

	notes, err := s.pool.Query(ctx, `
		SELECT text, embedding, created_at
		FROM   info_notes
		WHERE  session_id = $1
		ORDER  BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("archive store: load notes: %w", err)
	}
	sess.Notes, err = pgx.CollectRows(notes, func(row pgx.CollectableRow) (Note, error) {
		var (
			n   Note
			vec *pgvector.Vector
		)
		if err := row.Scan(&n.Text, &vec, &n.CreatedAt); err != nil {
			return Note{}, err
		}
		if vec != nil {
			n.Embedding = vec.Slice()
		}
		return n, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan notes: %w", err)
	}

	return &sess, nil
}

// SearchNotes finds the topK info notes whose embeddings are closest (cosine
// distance) to the query embedding, across all archived sessions.
//
// Results are ordered by ascending distance (most similar first). Notes
// archived without an embedding are never returned.
func (s *Store) SearchNotes(ctx context.Context, embedding []float32, topK int) ([]NoteResult, error) {
	const q = `
		SELECT session_id, text, embedding, created_at,
		       embedding <=> $1 AS distance
		FROM   info_notes
		WHERE  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("archive store: search notes: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (NoteResult, error) {
		var (
			nr  NoteResult
			vec pgvector.Vector
		)
		if err := row.Scan(&nr.SessionID, &nr.Note.Text, &vec, &nr.Note.CreatedAt, &nr.Distance); err != nil {
			return NoteResult{}, err
		}
		nr.Note.Embedding = vec.Slice()
		return nr, nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan notes: %w", err)
	}
	if results == nil {
		results = []NoteResult{}
	}
	return results, nil
}

// RecentSessions returns sessions started within the given duration, newest
// first, without their answers and notes.
func (s *Store) RecentSessions(ctx context.Context, within time.Duration, limit int) ([]Session, error) {
	const q = `
		SELECT id, source_lang, target_lang, started_at, ended_at, original_text, quality_translation
		FROM   sessions
		WHERE  started_at >= now() - ($1::bigint * interval '1 microsecond')
		ORDER  BY started_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, within.Microseconds(), limit)
	if err != nil {
		return nil, fmt.Errorf("archive store: recent sessions: %w", err)
	}

	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Session, error) {
		var sess Session
		err := row.Scan(
			&sess.ID,
			&sess.SourceLang,
			&sess.TargetLang,
			&sess.StartedAt,
			&sess.EndedAt,
			&sess.OriginalText,
			&sess.QualityTranslation,
		)
		return sess, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive store: scan sessions: %w", err)
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return sessions, nil
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
