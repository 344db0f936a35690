package domain

import "github.com/google/uuid"

// SearchMode selects how the knowledge retriever scores passages.
type SearchMode string

const (
	SearchModeVector SearchMode = "vector"
	SearchModeText   SearchMode = "text"
	SearchModeHybrid SearchMode = "hybrid"
)

// KnowledgePassage is one retrievable chunk of source-document text with
// its locator metadata and the scores attached during retrieval.
// Passages are immutable once returned by a repository.
type KnowledgePassage struct {
	ID            uuid.UUID
	Title         string // source document title, required for citation
	Chapter       string
	Section       string
	Page          int
	Ordinal       int // position within the source document
	Content       string
	Embedding     []float32
	VectorScore   float32
	TextScore     float32
	CombinedScore float32
}

// Citable reports whether the passage carries enough metadata to be
// rendered back to the user as a citation.
func (p KnowledgePassage) Citable() bool {
	return p.Title != ""
}

// RetrievalQuery describes one retrieval request. Constructed per request,
// read-only afterwards.
type RetrievalQuery struct {
	Text      string
	Embedding []float32 // optional precomputed embedding
	Count     int
	Threshold float32
	Mode      SearchMode
}

// Citation annotates an answer with the source a passage came from.
type Citation struct {
	Index      int     `json:"index"`
	Title      string  `json:"title"`
	Chapter    string  `json:"chapter,omitempty"`
	Page       int     `json:"page,omitempty"`
	Similarity float32 `json:"similarity"`
}

// CitationFromPassage derives the citation for a passage used in the final
// prompt context. Index is 1-based to match the cite-by-index instruction
// given to the model.
func CitationFromPassage(index int, p KnowledgePassage) Citation {
	return Citation{
		Index:      index,
		Title:      p.Title,
		Chapter:    p.Chapter,
		Page:       p.Page,
		Similarity: p.CombinedScore,
	}
}
