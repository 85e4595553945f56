package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/xBlackSmurfx008/AI-Caller-sub001/internal/retrieval"
)

// UpsertKnowledgeChunk inserts or replaces one pre-embedded knowledge chunk.
func (s *Store) UpsertKnowledgeChunk(ctx context.Context, doc retrieval.Document, embedding []float32) error {
	const q = `
		INSERT INTO knowledge_chunks
		    (id, business_id, title, source, content, chunk_index, vendor, doc_type, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
		    business_id = EXCLUDED.business_id,
		    title       = EXCLUDED.title,
		    source      = EXCLUDED.source,
		    content     = EXCLUDED.content,
		    chunk_index = EXCLUDED.chunk_index,
		    vendor      = EXCLUDED.vendor,
		    doc_type    = EXCLUDED.doc_type,
		    embedding   = EXCLUDED.embedding`

	_, err := s.pool.Exec(ctx, q,
		doc.ID, doc.BusinessID, doc.Title, doc.Source, doc.Content,
		doc.ChunkIndex, doc.Vendor, doc.DocType, pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert knowledge chunk: %w", err)
	}
	return nil
}

// SearchVector implements [retrieval.ChunkStore]. Results are ordered by
// ascending cosine distance; Similarity is reported as 1 - distance.
func (s *Store) SearchVector(ctx context.Context, businessID string, embedding []float32, f retrieval.Filter, topK int) ([]retrieval.VectorHit, error) {
	args := []any{pgvector.NewVector(embedding), businessID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"business_id = $2"}
	if f.Vendor != "" {
		conditions = append(conditions, "vendor = "+next(f.Vendor))
	}
	if f.DocType != "" {
		conditions = append(conditions, "doc_type = "+next(f.DocType))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, business_id, title, source, content, chunk_index, vendor, doc_type,
		       embedding <=> $1 AS distance
		FROM   knowledge_chunks
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: vector search: %w", err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.VectorHit, error) {
		var (
			h        retrieval.VectorHit
			distance float64
		)
		if err := row.Scan(
			&h.ID, &h.BusinessID, &h.Title, &h.Source, &h.Content,
			&h.ChunkIndex, &h.Vendor, &h.DocType, &distance,
		); err != nil {
			return retrieval.VectorHit{}, err
		}
		h.Similarity = 1 - distance
		return h, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan vector hits: %w", err)
	}
	if hits == nil {
		hits = []retrieval.VectorHit{}
	}
	return hits, nil
}

// SearchKeyword implements [retrieval.ChunkStore]. It uses full-text search
// over title and content as a coarse candidate filter; the pipeline rescores
// the candidates with BM25.
func (s *Store) SearchKeyword(ctx context.Context, businessID string, terms []string, f retrieval.Filter, topK int) ([]retrieval.Document, error) {
	if len(terms) == 0 {
		return []retrieval.Document{}, nil
	}

	args := []any{businessID, strings.Join(terms, " ")}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{
		"business_id = $1",
		"to_tsvector('english', title || ' ' || content) @@ plainto_tsquery('english', $2)",
	}
	if f.Vendor != "" {
		conditions = append(conditions, "vendor = "+next(f.Vendor))
	}
	if f.DocType != "" {
		conditions = append(conditions, "doc_type = "+next(f.DocType))
	}

	args = append(args, topK)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT id, business_id, title, source, content, chunk_index, vendor, doc_type
		FROM   knowledge_chunks
		WHERE  %s
		ORDER  BY ts_rank(to_tsvector('english', title || ' ' || content),
		                  plainto_tsquery('english', $2)) DESC
		LIMIT  %s`, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: keyword search: %w", err)
	}

	docs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (retrieval.Document, error) {
		var d retrieval.Document
		err := row.Scan(&d.ID, &d.BusinessID, &d.Title, &d.Source, &d.Content,
			&d.ChunkIndex, &d.Vendor, &d.DocType)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan keyword hits: %w", err)
	}
	if docs == nil {
		docs = []retrieval.Document{}
	}
	return docs, nil
}

var _ retrieval.ChunkStore = (*Store)(nil)
