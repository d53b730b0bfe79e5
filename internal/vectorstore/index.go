package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nidhogg/aibrain/internal/embedding"
	"go.uber.org/zap"
)

// Store is the subset of Client the semantic index needs.
type Store interface {
	EnsureCollection(ctx context.Context, name string, dimension uint64) error
	Upsert(ctx context.Context, collection string, points ...Point) error
	Search(ctx context.Context, collection string, vector []float32, topK uint64) ([]Hit, error)
}

// pointNamespace scopes deterministic point ids so re-indexing the same
// observation overwrites rather than duplicates.
var pointNamespace = uuid.MustParse("6f1c1f9e-8c5e-4b8e-9d3a-2f7a1c0e5b44")

// MinScore drops weak matches from semantic recall.
const MinScore = 0.3

// SemanticIndex maps observation text to memory entity names through
// embeddings stored in Qdrant.
type SemanticIndex struct {
	store      Store
	embedder   embedding.Provider
	collection string
	logger     *zap.Logger

	mu    sync.Mutex
	ready bool
}

// NewSemanticIndex builds an index over collection.
func NewSemanticIndex(store Store, embedder embedding.Provider, collection string, logger *zap.Logger) *SemanticIndex {
	return &SemanticIndex{store: store, embedder: embedder, collection: collection, logger: logger}
}

func (s *SemanticIndex) ensure(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready {
		return nil
	}
	if dim <= 0 {
		return fmt.Errorf("semantic index: unknown embedding dimension")
	}
	if err := s.store.EnsureCollection(ctx, s.collection, uint64(dim)); err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *SemanticIndex) embedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("semantic index: empty embedding")
	}
	return vectors[0], nil
}

// Index records that text was observed on entity name.
func (s *SemanticIndex) Index(ctx context.Context, name, text string) error {
	vec, err := s.embedOne(ctx, text)
	if err != nil {
		return err
	}
	if err := s.ensure(ctx, len(vec)); err != nil {
		return err
	}
	return s.store.Upsert(ctx, s.collection, Point{
		ID:      uuid.NewSHA1(pointNamespace, []byte(name+"\x00"+text)).String(),
		Vector:  vec,
		Payload: map[string]string{"entity_name": name, "text": text},
	})
}

// Query returns entity names whose observations are closest to text, best
// first and without duplicates.
func (s *SemanticIndex) Query(ctx context.Context, text string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	vec, err := s.embedOne(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := s.ensure(ctx, len(vec)); err != nil {
		return nil, err
	}
	hits, err := s.store.Search(ctx, s.collection, vec, uint64(limit*2))
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var names []string
	for _, h := range hits {
		name := h.Payload["entity_name"]
		if name == "" || seen[name] || h.Score < MinScore {
			continue
		}
		seen[name] = true
		names = append(names, name)
		if len(names) == limit {
			break
		}
	}
	s.logger.Debug("semantic recall", zap.Int("hits", len(hits)), zap.Int("entities", len(names)))
	return names, nil
}
