package models

// DocumentStatus is the indexing state of an uploaded document.
type DocumentStatus string

const (
	DocumentProcessing DocumentStatus = "processing"
	DocumentIndexed    DocumentStatus = "indexed"
	DocumentFailed     DocumentStatus = "failed"
)

// StoredChunk is a passage with its precomputed embedding.
type StoredChunk struct {
	Text       string    `json:"text"`
	Vector     []float32 `json:"vector"`
	PageNumber int       `json:"page_number"`
	Filename   string    `json:"filename"`
}

// RetrievedPassage is a ranked retrieval hit.
type RetrievedPassage struct {
	Text            string  `json:"text"`
	SourceName      string  `json:"source_name"`
	PageNumber      int     `json:"page_number"`
	SimilarityScore float64 `json:"similarity_score"`
}

// Citation converts the passage into the event payload sent to callers.
func (p RetrievedPassage) Citation() Citation {
	return Citation{Source: p.SourceName, Page: p.PageNumber, Relevance: p.SimilarityScore}
}

// ChunkInput is one pre-split passage of a document to index.
type ChunkInput struct {
	Text       string `json:"text" validate:"required"`
	PageNumber int    `json:"page_number" validate:"gte=0"`
}

// Document is an indexed source owned by a user.
type Document struct {
	ID       string         `json:"id"`
	UserID   string         `json:"user_id"`
	Filename string         `json:"filename"`
	Status   DocumentStatus `json:"status"`
}
