// Package postgres provides the PostgreSQL persistence layer for the voice
// agent: calls, interactions, escalations, human agents, and the pgvector
// knowledge-chunk index behind the retrieval pipeline.
//
// All tables share a single [pgxpool.Pool]. The pgvector extension must be
// available in the target database; [Migrate] installs it automatically via
// CREATE EXTENSION IF NOT EXISTS.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCalls = `
CREATE TABLE IF NOT EXISTS calls (
    id           TEXT         PRIMARY KEY,
    call_sid     TEXT         UNIQUE,
    direction    TEXT         NOT NULL,
    status       TEXT         NOT NULL,
    from_number  TEXT         NOT NULL DEFAULT '',
    to_number    TEXT         NOT NULL DEFAULT '',
    business_id  TEXT,
    started_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at     TIMESTAMPTZ,
    meta         JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_calls_status ON calls (status);
CREATE INDEX IF NOT EXISTS idx_calls_business ON calls (business_id);
`

const ddlInteractions = `
CREATE TABLE IF NOT EXISTS call_interactions (
    id         BIGSERIAL    PRIMARY KEY,
    call_id    TEXT         NOT NULL REFERENCES calls(id),
    speaker    TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    audio_url  TEXT         NOT NULL DEFAULT '',
    timestamp  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    meta       JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_interactions_call_ts
    ON call_interactions (call_id, timestamp);
`

const ddlEscalations = `
CREATE TABLE IF NOT EXISTS escalations (
    id                    TEXT         PRIMARY KEY,
    call_id               TEXT         NOT NULL REFERENCES calls(id),
    status                TEXT         NOT NULL,
    trigger_type          TEXT         NOT NULL,
    trigger_details       JSONB        NOT NULL DEFAULT '{}',
    assigned_agent_id     TEXT,
    conversation_summary  TEXT,
    context_data          JSONB        NOT NULL DEFAULT '{}',
    requested_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    accepted_at           TIMESTAMPTZ,
    completed_at          TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_escalations_call ON escalations (call_id);
CREATE INDEX IF NOT EXISTS idx_escalations_status ON escalations (status);
`

const ddlHumanAgents = `
CREATE TABLE IF NOT EXISTS human_agents (
    id             TEXT         PRIMARY KEY,
    name           TEXT         NOT NULL,
    email          TEXT         NOT NULL UNIQUE,
    is_available   BOOLEAN      NOT NULL DEFAULT false,
    is_active      BOOLEAN      NOT NULL DEFAULT true,
    skills         JSONB        NOT NULL DEFAULT '[]',
    departments    JSONB        NOT NULL DEFAULT '[]',
    active_calls   INT          NOT NULL DEFAULT 0,
    last_active_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_agents_available
    ON human_agents (is_available, is_active);
`

// ddlKnowledgeChunks uses a parameterised vector dimension; see Migrate.
const ddlKnowledgeChunks = `
CREATE TABLE IF NOT EXISTS knowledge_chunks (
    id           TEXT         PRIMARY KEY,
    business_id  TEXT         NOT NULL,
    title        TEXT         NOT NULL DEFAULT '',
    source       TEXT         NOT NULL DEFAULT '',
    content      TEXT         NOT NULL,
    chunk_index  INT          NOT NULL DEFAULT 0,
    vendor       TEXT         NOT NULL DEFAULT '',
    doc_type     TEXT         NOT NULL DEFAULT '',
    embedding    vector(%d)   NOT NULL,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_chunks_business ON knowledge_chunks (business_id);

CREATE INDEX IF NOT EXISTS idx_chunks_embedding
    ON knowledge_chunks USING hnsw (embedding vector_cosine_ops);
`

// Migrate creates the pgvector extension and all tables the core depends on.
// Idempotent; safe to run at every startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres: embedding dimensions must be positive, got %d", embeddingDimensions)
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		ddlCalls,
		ddlInteractions,
		ddlEscalations,
		ddlHumanAgents,
		fmt.Sprintf(ddlKnowledgeChunks, embeddingDimensions),
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}
