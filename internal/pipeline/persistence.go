package pipeline

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgvpgx "github.com/pgvector/pgvector-go/pgx"

	"github.com/kawaz/voice-agent/internal/errors"
	"github.com/kawaz/voice-agent/internal/logging"
)

// FinalizedSession is the record spec.md §6's persistence sink accepts
// once per finalized session, extended per SPEC_FULL.md §3.1 with the
// extra columns original_source/database.py keeps (processing_time_ms,
// explicit start/end timestamps) and an optional embedding.
type FinalizedSession struct {
	SessionID        string
	WakeWord         string
	WakeWordType     string
	AudioDurationS   float64
	TranscribedText  string
	Level            string
	Language         string
	WallMs           int64
	StreamRangeStart float64
	StreamRangeEnd   float64
	AudioClip        []byte // optional Opus-encoded export (SPEC_FULL.md §4.8)
	Embedding        []float32
}

// PersistenceSink is the append-only sink named in spec.md §6.
type PersistenceSink interface {
	Insert(ctx context.Context, rec FinalizedSession) error
	Close() error
}

// NewPersistenceSink builds the configured sink. An empty DSN disables
// persistence, matching "non-goal disabled integrations" in the teacher's
// own config (SPEC_FULL.md §6.1).
func NewPersistenceSink(dsn string, storeEmbedding bool) (PersistenceSink, error) {
	if dsn == "" {
		return noopSink{}, nil
	}
	return newPostgresSink(dsn, storeEmbedding)
}

// noopSink is used when persistence.dsn is empty.
type noopSink struct{}

func (noopSink) Insert(context.Context, FinalizedSession) error { return nil }
func (noopSink) Close() error                                   { return nil }

// postgresSink persists finalized sessions to Postgres via pgx, grounded
// on MrWong99-glyphoxa's pkg/memory/postgres.Store: a single pooled
// connection, pgvector registered on every new connection when embeddings
// are enabled, migration run once at startup.
type postgresSink struct {
	pool           *pgxpool.Pool
	storeEmbedding bool
	logger         *logging.Logger
}

func newPostgresSink(dsn string, storeEmbedding bool) (*postgresSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryPersistence).Build()
	}
	if storeEmbedding {
		poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			return pgvpgx.RegisterTypes(ctx, conn)
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.New(err).Category(errors.CategoryPersistence).Build()
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.New(err).Category(errors.CategoryPersistence).Build()
	}

	s := &postgresSink{pool: pool, storeEmbedding: storeEmbedding, logger: logging.ForService("persistence")}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *postgresSink) migrate(ctx context.Context) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS transcriptions (
	id                 BIGSERIAL PRIMARY KEY,
	session_id         TEXT NOT NULL,
	wake_word          TEXT NOT NULL,
	wake_word_type     TEXT NOT NULL,
	audio_duration_s   DOUBLE PRECISION NOT NULL,
	transcribed_text   TEXT NOT NULL,
	level              TEXT NOT NULL,
	language           TEXT NOT NULL,
	processing_time_ms BIGINT NOT NULL,
	timestamp_start    DOUBLE PRECISION NOT NULL,
	timestamp_end      DOUBLE PRECISION NOT NULL,
	audio_clip         BYTEA,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);`
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return errors.New(err).Category(errors.CategoryPersistence).Build()
	}
	if s.storeEmbedding {
		if _, err := s.pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
			return errors.New(err).Category(errors.CategoryPersistence).Build()
		}
		if _, err := s.pool.Exec(ctx, `ALTER TABLE transcriptions ADD COLUMN IF NOT EXISTS embedding vector(1536)`); err != nil {
			return errors.New(err).Category(errors.CategoryPersistence).Build()
		}
	}
	return nil
}

func (s *postgresSink) Insert(ctx context.Context, rec FinalizedSession) error {
	if s.storeEmbedding && len(rec.Embedding) > 0 {
		const q = `
INSERT INTO transcriptions
	(session_id, wake_word, wake_word_type, audio_duration_s, transcribed_text,
	 level, language, processing_time_ms, timestamp_start, timestamp_end, audio_clip, embedding)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
		_, err := s.pool.Exec(ctx, q,
			rec.SessionID, rec.WakeWord, rec.WakeWordType, rec.AudioDurationS, rec.TranscribedText,
			rec.Level, rec.Language, rec.WallMs, rec.StreamRangeStart, rec.StreamRangeEnd, rec.AudioClip,
			pgvector.NewVector(rec.Embedding),
		)
		if err != nil {
			return errors.New(err).Category(errors.CategoryPersistence).Context("session_id", rec.SessionID).Build()
		}
		return nil
	}

	const q = `
INSERT INTO transcriptions
	(session_id, wake_word, wake_word_type, audio_duration_s, transcribed_text,
	 level, language, processing_time_ms, timestamp_start, timestamp_end, audio_clip)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := s.pool.Exec(ctx, q,
		rec.SessionID, rec.WakeWord, rec.WakeWordType, rec.AudioDurationS, rec.TranscribedText,
		rec.Level, rec.Language, rec.WallMs, rec.StreamRangeStart, rec.StreamRangeEnd, rec.AudioClip,
	)
	if err != nil {
		return errors.New(err).Category(errors.CategoryPersistence).Context("session_id", rec.SessionID).Build()
	}
	return nil
}

func (s *postgresSink) Close() error {
	s.pool.Close()
	return nil
}
