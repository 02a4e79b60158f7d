package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/clinicalkb/medrag/internal/rag"
)

// Postgres serves corpus lookups from a pgvector-backed table. Candidate
// ordering and metadata filtering both happen server-side.
type Postgres struct {
	DB *sql.DB
}

// NewPostgres opens a connection pool and verifies connectivity.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{DB: db}, nil
}

// Search fetches the nearest candidates ordered by cosine distance, with the
// hard metadata filters applied in SQL.
func (s *Postgres) Search(ctx context.Context, q Query) ([]rag.DocumentChunk, error) {
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("query vector must not be empty")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 16
	}
	vecLiteral, err := encodeVectorLiteral(q.Vector)
	if err != nil {
		return nil, err
	}

	var (
		conds []string
		args  []interface{}
	)
	args = append(args, vecLiteral)
	if len(q.Filters.Specialties) > 0 {
		args = append(args, pq.Array(q.Filters.Specialties))
		conds = append(conds, fmt.Sprintf("(specialties = '{}' OR specialties && $%d)", len(args)))
	}
	if q.Filters.AgeGroup != "" {
		args = append(args, q.Filters.AgeGroup)
		conds = append(conds, fmt.Sprintf("(age_groups = '{}' OR $%d = ANY(age_groups))", len(args)))
	}
	if q.Filters.Urgency != "" {
		if qr, ok := urgencyRank[q.Filters.Urgency]; ok {
			args = append(args, qr)
			conds = append(conds, fmt.Sprintf("(urgency = '' OR abs(urgency_rank(urgency) - $%d) <= 1)", len(args)))
		}
	}
	where := ""
	if len(conds) > 0 {
		where = "WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
SELECT id, content, embedding, chapter, section, title, specialties, age_groups,
       urgency, evidence_level, last_reviewed, chunk_index, chunk_total
FROM corpus_chunks
%s
ORDER BY embedding <=> $1::vector
LIMIT $%d
`, where, len(args))

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("corpus search: %w", err)
	}
	defer rows.Close()

	var chunks []rag.DocumentChunk
	for rows.Next() {
		var (
			chunk        rag.DocumentChunk
			embedding    string
			specialties  pq.StringArray
			ageGroups    pq.StringArray
			lastReviewed sql.NullTime
		)
		if err := rows.Scan(&chunk.ID, &chunk.Content, &embedding, &chunk.Metadata.Chapter,
			&chunk.Metadata.Section, &chunk.Metadata.Title, &specialties, &ageGroups,
			&chunk.Metadata.Urgency, &chunk.Metadata.EvidenceLevel, &lastReviewed,
			&chunk.Metadata.ChunkIndex, &chunk.Metadata.ChunkTotal); err != nil {
			return nil, err
		}
		vec, err := decodeVectorLiteral(embedding)
		if err != nil {
			return nil, fmt.Errorf("decode embedding for chunk %s: %w", chunk.ID, err)
		}
		chunk.Embedding = vec
		chunk.Metadata.Specialties = specialties
		chunk.Metadata.AgeGroups = ageGroups
		if lastReviewed.Valid {
			chunk.Metadata.LastReviewed = lastReviewed.Time
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// UpsertChunks writes corpus chunks, replacing any existing rows with the
// same id. Used by the indexing command, not by the query path.
func (s *Postgres) UpsertChunks(ctx context.Context, chunks []rag.DocumentChunk) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO corpus_chunks (id, content, embedding, chapter, section, title, specialties,
                           age_groups, urgency, evidence_level, last_reviewed, chunk_index, chunk_total)
VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
    content = EXCLUDED.content, embedding = EXCLUDED.embedding, chapter = EXCLUDED.chapter,
    section = EXCLUDED.section, title = EXCLUDED.title, specialties = EXCLUDED.specialties,
    age_groups = EXCLUDED.age_groups, urgency = EXCLUDED.urgency,
    evidence_level = EXCLUDED.evidence_level, last_reviewed = EXCLUDED.last_reviewed,
    chunk_index = EXCLUDED.chunk_index, chunk_total = EXCLUDED.chunk_total
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		vecLiteral, err := encodeVectorLiteral(chunk.Embedding)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", chunk.ID, err)
		}
		var lastReviewed interface{}
		if !chunk.Metadata.LastReviewed.IsZero() {
			lastReviewed = chunk.Metadata.LastReviewed
		}
		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.Content, vecLiteral,
			chunk.Metadata.Chapter, chunk.Metadata.Section, chunk.Metadata.Title,
			pq.Array(chunk.Metadata.Specialties), pq.Array(chunk.Metadata.AgeGroups),
			chunk.Metadata.Urgency, chunk.Metadata.EvidenceLevel, lastReviewed,
			chunk.Metadata.ChunkIndex, chunk.Metadata.ChunkTotal); err != nil {
			return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
		}
	}
	return tx.Commit()
}

// Ping reports store reachability for health checks.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Postgres) Close() error {
	return s.DB.Close()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func decodeVectorLiteral(lit string) ([]float32, error) {
	lit = strings.TrimSpace(lit)
	lit = strings.TrimPrefix(lit, "[")
	lit = strings.TrimSuffix(lit, "]")
	if lit == "" {
		return nil, fmt.Errorf("empty vector literal")
	}
	parts := strings.Split(lit, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, err
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

var _ Store = (*Postgres)(nil)
