package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/raphaelgruber/tempest/internal/models"
)

var _ Store = (*ChromemStore)(nil)

// Metadata keys stored alongside each chromem document.
const (
	metaKind         = "kind"
	metaAuthor       = "author"
	metaSignificance = "significance"
	metaImportance   = "importance"
	metaExplicitness = "explicitness"
	metaCreatedAt    = "created_at"
)

// ChromemStore keeps memories in an embedded chromem-go database, one collection per channel.
// chromem has no ordered scan, so each collection also records its insertion order.
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*chromemCollection
	mu          sync.RWMutex
	logger      *slog.Logger
}

type chromemCollection struct {
	col   *chromem.Collection
	mu    sync.Mutex
	order []orderEntry
}

type orderEntry struct {
	id   string
	kind models.Kind
}

// NewChromemStore creates an in-memory store.
func NewChromemStore(logger *slog.Logger) *ChromemStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChromemStore{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromemCollection),
		logger:      logger,
	}
}

// EnsureCollection returns the collection for a channel, creating it on first use.
func (s *ChromemStore) EnsureCollection(_ context.Context, channel string) (Collection, error) {
	_, handle, err := s.getOrCreate(channel)
	return handle, err
}

func (s *ChromemStore) getOrCreate(channel string) (*chromemCollection, Collection, error) {
	name := models.CollectionName(channel)
	handle := Collection{Channel: channel, Name: name}

	s.mu.RLock()
	cc, exists := s.collections[name]
	s.mu.RUnlock()
	if exists {
		return cc, handle, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if cc, exists := s.collections[name]; exists {
		return cc, handle, nil
	}

	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, handle, Unavailable("create collection", err)
	}

	cc = &chromemCollection{col: col}
	s.collections[name] = cc
	s.logger.Debug("created memory collection", "collection", name)
	return cc, handle, nil
}

// CollectionExists reports whether the channel has a collection.
func (s *ChromemStore) CollectionExists(_ context.Context, channel string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[models.CollectionName(channel)]
	return ok, nil
}

// Insert stores m with its embedding.
func (s *ChromemStore) Insert(ctx context.Context, c Collection, m models.Memory, embedding []float32) error {
	cc, _, err := s.getOrCreate(c.Channel)
	if err != nil {
		return err
	}

	doc := chromem.Document{
		ID:        m.ID,
		Content:   m.Text,
		Embedding: embedding,
		Metadata: map[string]string{
			metaKind:         string(m.Kind),
			metaAuthor:       m.Author,
			metaSignificance: string(m.Significance),
			metaImportance:   strconv.FormatFloat(m.Importance, 'g', -1, 64),
			metaExplicitness: strconv.FormatFloat(m.Explicitness, 'g', -1, 64),
			metaCreatedAt:    m.CreatedAt.Format(time.RFC3339Nano),
		},
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	if err := cc.col.AddDocument(ctx, doc); err != nil {
		return Unavailable("add document", err)
	}
	cc.order = append(cc.order, orderEntry{id: m.ID, kind: m.Kind})
	return nil
}

// QueryNearest returns up to limit memories ordered by cosine similarity.
func (s *ChromemStore) QueryNearest(ctx context.Context, c Collection, embedding []float32, limit int, kind models.Kind) ([]models.Memory, error) {
	cc, _, err := s.getOrCreate(c.Channel)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	// chromem-go requires nResults <= collection size
	n := min(limit, cc.col.Count())
	if n <= 0 {
		return nil, nil
	}

	var where map[string]string
	if kind != "" {
		where = map[string]string{metaKind: string(kind)}
	}

	results, err := cc.col.QueryEmbedding(ctx, embedding, n, where, nil)
	if err != nil {
		return nil, Unavailable("query embedding", err)
	}

	out := make([]models.Memory, 0, len(results))
	for _, r := range results {
		m, err := decodeDocument(r.ID, r.Content, r.Metadata)
		if err != nil {
			s.logger.Warn("skipping undecodable memory", "collection", c.Name, "id", r.ID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// FetchRecent returns up to limit memories, newest first.
func (s *ChromemStore) FetchRecent(ctx context.Context, c Collection, limit int, kind models.Kind) ([]models.Memory, error) {
	cc, _, err := s.getOrCreate(c.Channel)
	if err != nil {
		return nil, err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	var out []models.Memory
	for i := len(cc.order) - 1; i >= 0 && len(out) < limit; i-- {
		e := cc.order[i]
		if kind != "" && e.kind != kind {
			continue
		}
		doc, err := cc.col.GetByID(ctx, e.id)
		if err != nil {
			return nil, Unavailable("get document", err)
		}
		m, err := decodeDocument(doc.ID, doc.Content, doc.Metadata)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// DeleteByType removes every memory of kind.
func (s *ChromemStore) DeleteByType(ctx context.Context, c Collection, kind models.Kind) error {
	cc, _, err := s.getOrCreate(c.Channel)
	if err != nil {
		return err
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	var ids []string
	kept := make([]orderEntry, 0, len(cc.order))
	for _, e := range cc.order {
		if e.kind == kind {
			ids = append(ids, e.id)
			continue
		}
		kept = append(kept, e)
	}
	if len(ids) == 0 {
		return nil
	}

	if err := cc.col.Delete(ctx, nil, nil, ids...); err != nil {
		return Unavailable("delete documents", err)
	}
	cc.order = kept
	return nil
}

// DeleteCollection drops the channel's collection.
func (s *ChromemStore) DeleteCollection(_ context.Context, c Collection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[c.Name]; !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, c.Name)
	}
	if err := s.db.DeleteCollection(c.Name); err != nil {
		return Unavailable("delete collection", err)
	}
	delete(s.collections, c.Name)
	return nil
}

// Close releases resources. chromem-go keeps everything in memory, so there is nothing to close.
func (s *ChromemStore) Close(context.Context) error {
	return nil
}

func decodeDocument(id, content string, meta map[string]string) (models.Memory, error) {
	m := models.Memory{
		ID:           id,
		Kind:         models.Kind(meta[metaKind]),
		Significance: models.Significance(meta[metaSignificance]),
		Author:       meta[metaAuthor],
		Text:         content,
	}

	var err error
	if m.Importance, err = strconv.ParseFloat(meta[metaImportance], 64); err != nil {
		return m, fmt.Errorf("parse importance: %w", err)
	}
	if m.Explicitness, err = strconv.ParseFloat(meta[metaExplicitness], 64); err != nil {
		return m, fmt.Errorf("parse explicitness: %w", err)
	}
	if m.CreatedAt, err = time.Parse(time.RFC3339Nano, meta[metaCreatedAt]); err != nil {
		return m, fmt.Errorf("parse created_at: %w", err)
	}
	return m, nil
}
