package corpus

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/clinicalkb/medrag/internal/provider"
	"github.com/clinicalkb/medrag/internal/rag"
)

const embedBatchSize = 64

// ChunkRecord is one line of an indexing input file: the chunk text plus its
// metadata, before embedding.
type ChunkRecord struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	Chapter       string    `json:"chapter"`
	Section       string    `json:"section"`
	Title         string    `json:"title"`
	Specialties   []string  `json:"specialties,omitempty"`
	AgeGroups     []string  `json:"age_groups,omitempty"`
	Urgency       string    `json:"urgency,omitempty"`
	EvidenceLevel string    `json:"evidence_level,omitempty"`
	LastReviewed  time.Time `json:"last_reviewed,omitempty"`
	ChunkIndex    int       `json:"chunk_index"`
	ChunkTotal    int       `json:"chunk_total"`
}

// Indexer embeds chunk records and writes them into the Postgres store.
type Indexer struct {
	embedder provider.Embedder
	store    *Postgres
	logger   *log.Logger
}

func NewIndexer(embedder provider.Embedder, store *Postgres, logger *log.Logger) *Indexer {
	if logger == nil {
		logger = log.New(log.Writer(), "[INDEX] ", log.LstdFlags)
	}
	return &Indexer{embedder: embedder, store: store, logger: logger}
}

// IndexJSONL reads newline-delimited ChunkRecord JSON from r, embeds the
// contents in batches and upserts the resulting chunks. Returns the number
// of chunks written.
func (ix *Indexer) IndexJSONL(ctx context.Context, r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	var (
		batch []ChunkRecord
		total int
		line  int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := ix.indexBatch(ctx, batch)
		total += n
		batch = batch[:0]
		return err
	}

	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var rec ChunkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.ID == "" || rec.Content == "" {
			return total, fmt.Errorf("line %d: id and content are required", line)
		}
		batch = append(batch, rec)
		if len(batch) >= embedBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return total, err
	}
	if err := flush(); err != nil {
		return total, err
	}
	ix.logger.Printf("indexed %d chunks", total)
	return total, nil
}

func (ix *Indexer) indexBatch(ctx context.Context, records []ChunkRecord) (int, error) {
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Content
	}
	vectors, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(records) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(records))
	}

	chunks := make([]rag.DocumentChunk, len(records))
	for i, rec := range records {
		chunks[i] = rag.DocumentChunk{
			ID:        rec.ID,
			Content:   rec.Content,
			Embedding: vectors[i],
			Metadata: rag.ChunkMetadata{
				Chapter:       rec.Chapter,
				Section:       rec.Section,
				Title:         rec.Title,
				Specialties:   rec.Specialties,
				AgeGroups:     rec.AgeGroups,
				Urgency:       rec.Urgency,
				EvidenceLevel: rec.EvidenceLevel,
				LastReviewed:  rec.LastReviewed,
				ChunkIndex:    rec.ChunkIndex,
				ChunkTotal:    rec.ChunkTotal,
			},
		}
	}
	if err := ix.store.UpsertChunks(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}
