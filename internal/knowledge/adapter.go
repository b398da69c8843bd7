// Package knowledge is a uniform search facade over the project document
// store. Semantic search runs against an embedded chromem collection;
// without embedding capability it degrades to keyword search, and without
// a store it returns nothing. It never returns errors to callers.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/overseer-dev/overseer/internal/cmn/logger"
	"github.com/overseer-dev/overseer/internal/cmn/logger/tag"
)

// Snippet is one retrieved document fragment.
type Snippet struct {
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float32 `json:"similarity,omitempty"`
	Category   string  `json:"category,omitempty"`
}

// Options bounds a search.
type Options struct {
	Limit     int
	Threshold float32
	Category  string
}

// Adapter answers semantic and keyword queries over the document corpus.
type Adapter interface {
	Search(ctx context.Context, query string, opts Options) []Snippet
}

// document is the keyword-searchable mirror of the stored corpus.
type document struct {
	id       string
	title    string
	content  string
	category string
}

// Store is a chromem-backed Adapter.
type Store struct {
	mu         sync.RWMutex
	collection *chromem.Collection
	embedding  chromem.EmbeddingFunc
	docs       []document
}

// Config configures the store.
type Config struct {
	// PersistPath enables on-disk persistence when non-empty.
	PersistPath string
	// Embedding is optional; without it searches fall back to keyword
	// matching.
	Embedding chromem.EmbeddingFunc
}

// NewStore opens (or creates) the document store. Returns a store without
// a collection on failure; searches then return nothing.
func NewStore(ctx context.Context, cfg Config) *Store {
	s := &Store{embedding: cfg.Embedding}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, false)
	} else {
		db = chromem.NewDB()
	}
	if err != nil {
		logger.Error(ctx, "Knowledge store unavailable", tag.Error(err))
		return s
	}

	embedding := cfg.Embedding
	if embedding == nil {
		// A collection still needs an embedding func for writes; reads in
		// keyword mode never touch it.
		embedding = func(_ context.Context, _ string) ([]float32, error) {
			return nil, errNoEmbedding
		}
	}
	collection, err := db.GetOrCreateCollection("project-knowledge", nil, embedding)
	if err != nil {
		logger.Error(ctx, "Knowledge collection unavailable", tag.Error(err))
		return s
	}
	s.collection = collection
	return s
}

var errNoEmbedding = &noEmbeddingError{}

type noEmbeddingError struct{}

func (*noEmbeddingError) Error() string { return "no embedding capability configured" }

// Add indexes a document under the given ID.
func (s *Store) Add(ctx context.Context, id, title, content, category string) error {
	s.mu.Lock()
	s.docs = append(s.docs, document{id: id, title: title, content: content, category: category})
	s.mu.Unlock()

	if s.collection == nil || s.embedding == nil {
		return nil
	}
	return s.collection.AddDocument(ctx, chromem.Document{
		ID:      id,
		Content: content,
		Metadata: map[string]string{
			"title":    title,
			"category": category,
		},
	})
}

// Search implements Adapter.
func (s *Store) Search(ctx context.Context, query string, opts Options) []Snippet {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	if strings.TrimSpace(query) == "" {
		return nil
	}
	if s.collection != nil && s.embedding != nil {
		if results := s.semanticSearch(ctx, query, opts); results != nil {
			return results
		}
	}
	return s.keywordSearch(query, opts)
}

func (s *Store) semanticSearch(ctx context.Context, query string, opts Options) []Snippet {
	limit := opts.Limit
	if count := s.collection.Count(); count < limit {
		limit = count
	}
	if limit == 0 {
		return nil
	}
	var where map[string]string
	if opts.Category != "" {
		where = map[string]string{"category": opts.Category}
	}
	results, err := s.collection.Query(ctx, query, limit, where, nil)
	if err != nil {
		logger.Warn(ctx, "Semantic search failed, falling back to keyword", tag.Error(err))
		return nil
	}
	out := make([]Snippet, 0, len(results))
	for _, r := range results {
		if r.Similarity < opts.Threshold {
			continue
		}
		out = append(out, Snippet{
			Title:      r.Metadata["title"],
			Content:    r.Content,
			Similarity: r.Similarity,
			Category:   r.Metadata["category"],
		})
	}
	return out
}

// keywordSearch scores documents by matched query terms.
func (s *Store) keywordSearch(query string, opts Options) []Snippet {
	s.mu.RLock()
	docs := s.docs
	s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	type scored struct {
		doc   document
		score int
	}
	var matches []scored
	for _, doc := range docs {
		if opts.Category != "" && doc.category != opts.Category {
			continue
		}
		haystack := strings.ToLower(doc.title + " " + doc.content)
		score := 0
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				score++
			}
		}
		if score > 0 {
			matches = append(matches, scored{doc: doc, score: score})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	out := make([]Snippet, 0, len(matches))
	for _, m := range matches {
		out = append(out, Snippet{
			Title:    m.doc.title,
			Content:  m.doc.content,
			Category: m.doc.category,
		})
	}
	return out
}

// Empty is an Adapter without any backing store.
type Empty struct{}

// Search implements Adapter.
func (Empty) Search(context.Context, string, Options) []Snippet {
	return nil
}
