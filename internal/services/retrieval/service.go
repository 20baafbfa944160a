// Package retrieval ranks a user's embedded document passages against a query.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

var ErrEmptyDocument = errors.New("document has no chunks")

// Embedder maps text to fixed-length vectors. EmbedBatch preserves input order.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkRepository stores passages and returns the ones belonging to a user's
// indexed documents.
type ChunkRepository interface {
	ForUserScope(ctx context.Context, userID string) ([]models.StoredChunk, error)
	SaveDocument(ctx context.Context, doc models.Document, chunks []models.StoredChunk) error
	SetDocumentStatus(ctx context.Context, documentID string, status models.DocumentStatus) error
}

type Service struct {
	embedder    Embedder
	chunks      ChunkRepository
	defaultTopK int
}

func NewService(embedder Embedder, chunks ChunkRepository, defaultTopK int) *Service {
	if defaultTopK <= 0 {
		defaultTopK = 5
	}
	return &Service{
		embedder:    embedder,
		chunks:      chunks,
		defaultTopK: defaultTopK,
	}
}

type scored struct {
	chunk models.StoredChunk
	score float64
}

// Query embeds text and returns the topK closest passages from the user's
// indexed documents, best first. Equal scores keep repository order.
func (s *Service) Query(ctx context.Context, text, userID string, topK int) ([]models.RetrievedPassage, error) {
	if topK <= 0 {
		topK = s.defaultTopK
	}

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	chunks, err := s.chunks.ForUserScope(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}

	results := make([]scored, 0, len(chunks))
	for _, c := range chunks {
		results = append(results, scored{chunk: c, score: CosineSimilarity(vector, c.Vector)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})

	if len(results) > topK {
		results = results[:topK]
	}

	passages := make([]models.RetrievedPassage, len(results))
	for i, r := range results {
		passages[i] = models.RetrievedPassage{
			Text:            r.chunk.Text,
			SourceName:      r.chunk.Filename,
			PageNumber:      r.chunk.PageNumber,
			SimilarityScore: roundScore(r.score),
		}
	}

	log.Debug().
		Str("user_id", userID).
		Int("candidates", len(chunks)).
		Int("returned", len(passages)).
		Msg("Retrieval query completed")

	return passages, nil
}

// Index embeds pre-split chunks and stores them under a new document. The
// document is marked failed when embedding does not succeed.
func (s *Service) Index(ctx context.Context, userID, filename string, inputs []models.ChunkInput) (models.Document, error) {
	doc := models.Document{
		ID:       uuid.NewString(),
		UserID:   userID,
		Filename: filename,
		Status:   models.DocumentProcessing,
	}
	if len(inputs) == 0 {
		return doc, ErrEmptyDocument
	}

	if err := s.chunks.SaveDocument(ctx, doc, nil); err != nil {
		return doc, fmt.Errorf("failed to save document: %w", err)
	}

	texts := make([]string, len(inputs))
	for i, in := range inputs {
		texts[i] = in.Text
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(texts))
	}
	if err != nil {
		doc.Status = models.DocumentFailed
		if serr := s.chunks.SetDocumentStatus(ctx, doc.ID, doc.Status); serr != nil {
			log.Error().Err(serr).Str("document_id", doc.ID).Msg("Failed to mark document as failed")
		}
		return doc, fmt.Errorf("failed to embed chunks: %w", err)
	}

	stored := make([]models.StoredChunk, len(inputs))
	for i, in := range inputs {
		stored[i] = models.StoredChunk{
			Text:       in.Text,
			Vector:     vectors[i],
			PageNumber: in.PageNumber,
			Filename:   filename,
		}
	}

	doc.Status = models.DocumentIndexed
	if err := s.chunks.SaveDocument(ctx, doc, stored); err != nil {
		return doc, fmt.Errorf("failed to save chunks: %w", err)
	}

	log.Info().
		Str("document_id", doc.ID).
		Str("filename", filename).
		Int("chunks", len(stored)).
		Msg("Document indexed")

	return doc, nil
}
