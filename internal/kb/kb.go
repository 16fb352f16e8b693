// Package kb implements the vector knowledge base consulted by decision
// support: four fixed collections of embedded documents with cosine
// similarity search, persisted under a local directory.
package kb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/seiri-ai/seiri/internal/infra"
)

// Collection names, fixed at init.
const (
	CollectionKnowledgeBase = "knowledge_base"
	CollectionDocuments     = "documents"
	CollectionPolicies      = "policies"
	CollectionSOPs          = "sops"
)

// Collections lists all collection names.
var Collections = []string{
	CollectionKnowledgeBase,
	CollectionDocuments,
	CollectionPolicies,
	CollectionSOPs,
}

// Hit is one similarity search result.
type Hit struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Similarity float64           `json:"similarity"`
}

// document is one stored record.
type document struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Category string            `json:"category,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Vector   []float32         `json:"vector"`
}

// Store is the in-process vector knowledge base. Collections live in memory
// and are mirrored to one JSONL file per collection under dir.
type Store struct {
	provider Provider
	dir      string
	cache    infra.Cache // optional query cache; nil disables
	logger   *slog.Logger

	mu          sync.RWMutex
	collections map[string][]document
}

// queryCacheTTL bounds staleness of cached query results after a corpus
// update.
const queryCacheTTL = 5 * time.Minute

// New opens the store, loading any previously persisted collections from
// dir. A nil cache disables query caching.
func New(provider Provider, dir string, cache infra.Cache, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("kb: create store dir: %w", err)
	}
	s := &Store{
		provider:    provider,
		dir:         dir,
		cache:       cache,
		logger:      logger,
		collections: make(map[string][]document, len(Collections)),
	}
	for _, name := range Collections {
		docs, err := s.loadCollection(name)
		if err != nil {
			return nil, err
		}
		s.collections[name] = docs
	}
	return s, nil
}

func (s *Store) collectionPath(name string) string {
	return filepath.Join(s.dir, name+".jsonl")
}

func (s *Store) loadCollection(name string) ([]document, error) {
	raw, err := os.ReadFile(s.collectionPath(name))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kb: read collection %s: %w", name, err)
	}
	var docs []document
	dec := json.NewDecoder(bytes.NewReader(raw))
	for dec.More() {
		var d document
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("kb: decode collection %s: %w", name, err)
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// persistCollection rewrites one collection file. Called with the lock held.
func (s *Store) persistCollection(name string) error {
	tmp := s.collectionPath(name) + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("kb: create collection file: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, d := range s.collections[name] {
		if err := enc.Encode(d); err != nil {
			_ = f.Close()
			return fmt.Errorf("kb: encode document: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("kb: close collection file: %w", err)
	}
	if err := os.Rename(tmp, s.collectionPath(name)); err != nil {
		return fmt.Errorf("kb: replace collection file: %w", err)
	}
	return nil
}

// Add embeds text and upserts it into a collection. The document ID is the
// hex SHA-256 of the text, so re-adding identical content is idempotent.
func (s *Store) Add(ctx context.Context, collection, text string, metadata map[string]string, category string) (string, error) {
	if !validCollection(collection) {
		return "", fmt.Errorf("kb: unknown collection %q", collection)
	}
	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("kb: embed document: %w", err)
	}
	sum := sha256.Sum256([]byte(text))
	id := hex.EncodeToString(sum[:])
	doc := document{ID: id, Text: text, Category: category, Metadata: metadata, Vector: vec}

	s.mu.Lock()
	defer s.mu.Unlock()
	docs := s.collections[collection]
	replaced := false
	for i := range docs {
		if docs[i].ID == id {
			docs[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		docs = append(docs, doc)
	}
	s.collections[collection] = docs
	if err := s.persistCollection(collection); err != nil {
		return "", err
	}
	return id, nil
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Query embeds text and returns up to n documents from a collection with
// similarity (1 - cosine distance) at or above threshold, sorted by
// descending similarity. Category filters when non-empty.
func (s *Store) Query(ctx context.Context, collection, text string, n int, category string, threshold float64) ([]Hit, error) {
	if !validCollection(collection) {
		return nil, fmt.Errorf("kb: unknown collection %q", collection)
	}

	cacheKey := queryCacheKey(collection, text, n, category, threshold)
	if s.cache != nil {
		var cached []Hit
		if ok, err := infra.GetJSON(ctx, s.cache, cacheKey, &cached); err == nil && ok {
			return cached, nil
		}
	}

	qvec, err := s.provider.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("kb: embed query: %w", err)
	}

	s.mu.RLock()
	docs := s.collections[collection]
	hits := make([]Hit, 0, len(docs))
	for _, d := range docs {
		if category != "" && d.Category != category {
			continue
		}
		sim := cosineSimilarity(qvec, d.Vector)
		if sim < threshold {
			continue
		}
		hits = append(hits, Hit{ID: d.ID, Text: d.Text, Metadata: d.Metadata, Similarity: sim})
	}
	s.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > n {
		hits = hits[:n]
	}

	if s.cache != nil {
		if err := infra.SetJSON(ctx, s.cache, cacheKey, hits, queryCacheTTL); err != nil {
			s.logger.Warn("kb query cache write failed", "error", err)
		}
	}
	return hits, nil
}

// DecisionSupport runs the three retrieval queries backing the decision
// support agent in parallel: the knowledge base filtered by case type, the
// policies collection, and the SOPs collection. The result is keyed by
// collection name.
func (s *Store) DecisionSupport(ctx context.Context, contextText, caseType string, n int) (map[string][]Hit, error) {
	var (
		resMu   sync.Mutex
		results = make(map[string][]Hit, 3)
	)
	g, gctx := errgroup.WithContext(ctx)

	query := func(collection, category string) func() error {
		return func() error {
			hits, err := s.Query(gctx, collection, contextText, n, category, 0)
			if err != nil {
				return err
			}
			resMu.Lock()
			results[collection] = hits
			resMu.Unlock()
			return nil
		}
	}
	g.Go(query(CollectionKnowledgeBase, caseType))
	g.Go(query(CollectionPolicies, ""))
	g.Go(query(CollectionSOPs, ""))

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func validCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

func queryCacheKey(collection, text string, n int, category string, threshold float64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%s|%g", collection, text, n, category, threshold))
	return "kb:query:" + hex.EncodeToString(sum[:16])
}

// cosineSimilarity returns 1 - cosine distance. Mismatched or zero vectors
// score 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
