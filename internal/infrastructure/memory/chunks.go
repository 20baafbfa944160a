package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/deepgram/colloquy/internal/services/chat/models"
)

type ChunkStore struct {
	mu        sync.RWMutex
	documents map[string]models.Document
	order     []string
	chunks    map[string][]models.StoredChunk
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		documents: make(map[string]models.Document),
		chunks:    make(map[string][]models.StoredChunk),
	}
}

// ForUserScope returns chunks of the user's indexed documents in upload order.
func (s *ChunkStore) ForUserScope(ctx context.Context, userID string) ([]models.StoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.StoredChunk
	for _, id := range s.order {
		doc := s.documents[id]
		if doc.UserID != userID || doc.Status != models.DocumentIndexed {
			continue
		}
		out = append(out, s.chunks[id]...)
	}
	return out, nil
}

// SaveDocument upserts the document and appends the given chunks to it.
func (s *ChunkStore) SaveDocument(ctx context.Context, doc models.Document, chunks []models.StoredChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[doc.ID]; !ok {
		s.order = append(s.order, doc.ID)
	}
	s.documents[doc.ID] = doc
	s.chunks[doc.ID] = append(s.chunks[doc.ID], chunks...)
	return nil
}

func (s *ChunkStore) SetDocumentStatus(ctx context.Context, documentID string, status models.DocumentStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.documents[documentID]
	if !ok {
		return fmt.Errorf("document %s not found", documentID)
	}
	doc.Status = status
	s.documents[documentID] = doc
	return nil
}
