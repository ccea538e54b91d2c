package db

import (
	"context"
	"fmt"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/tempest/internal/memory"
	"github.com/raphaelgruber/tempest/internal/metrics"
	"github.com/raphaelgruber/tempest/internal/models"
)

// memoryRow is the SELECT projection shared by every memory query.
type memoryRow struct {
	ID           string  `json:"id"`
	Kind         string  `json:"kind"`
	Importance   float64 `json:"importance"`
	Explicitness float64 `json:"explicitness"`
	Significance string  `json:"significance"`
	Author       string  `json:"author"`
	Text         string  `json:"text"`
	CreatedNS    int64   `json:"created_ns"`
}

const memoryFields = `record::id(id) AS id, kind, importance, explicitness, significance, author, text,
		created, time::nano(created) AS created_ns`

func (r memoryRow) toModel() models.Memory {
	return models.Memory{
		ID:           r.ID,
		Kind:         models.Kind(r.Kind),
		Importance:   r.Importance,
		Explicitness: r.Explicitness,
		Significance: models.Significance(r.Significance),
		Author:       r.Author,
		Text:         r.Text,
		CreatedAt:    time.Unix(0, r.CreatedNS).UTC(),
	}
}

func rowsToModels(results *[]surrealdb.QueryResult[[]memoryRow]) []models.Memory {
	if results == nil || len(*results) == 0 {
		return []models.Memory{}
	}
	rows := (*results)[0].Result
	out := make([]models.Memory, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out
}

// EnsureCollection defines the channel's memory table on first use.
func (c *Client) EnsureCollection(ctx context.Context, channel string) (memory.Collection, error) {
	name := models.CollectionName(channel)
	handle := memory.Collection{Channel: channel, Name: name}

	if _, ok := c.known.Load(name); ok {
		return handle, nil
	}

	_, err, _ := c.group.Do(name, func() (any, error) {
		if _, ok := c.known.Load(name); ok {
			return nil, nil
		}
		start := time.Now()
		defer c.record(metrics.OpStoreQuery, start)

		_, err := surrealdb.Query[any](ctx, c.db, CollectionSQL(name, c.cfg.Dimension), map[string]any{
			"name":    name,
			"channel": channel,
		})
		if err != nil {
			return nil, wrapQueryError("define collection", err)
		}
		c.known.Store(name, struct{}{})
		c.logger.Info("defined memory collection", "collection", name)
		return nil, nil
	})
	return handle, err
}

// CollectionExists reports whether the registry knows the channel.
func (c *Client) CollectionExists(ctx context.Context, channel string) (bool, error) {
	name := models.CollectionName(channel)
	if _, ok := c.known.Load(name); ok {
		return true, nil
	}

	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, `
		SELECT channel FROM type::record("collection", $name)
	`, map[string]any{"name": name})
	if err != nil {
		return false, wrapQueryError("collection exists", err)
	}
	return results != nil && len(*results) > 0 && len((*results)[0].Result) > 0, nil
}

// ListCollections returns the names of every registered memory table.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	results, err := surrealdb.Query[[]string](ctx, c.db, `
		SELECT VALUE record::id(id) FROM collection
	`, nil)
	if err != nil {
		return nil, wrapQueryError("list collections", err)
	}
	if results == nil || len(*results) == 0 {
		return []string{}, nil
	}
	return (*results)[0].Result, nil
}

// Insert stores m with its embedding.
func (c *Client) Insert(ctx context.Context, col memory.Collection, m models.Memory, embedding []float32) error {
	if _, err := c.EnsureCollection(ctx, col.Channel); err != nil {
		return err
	}

	start := time.Now()
	defer c.record(metrics.OpStoreQuery, start)

	_, err := surrealdb.Query[any](ctx, c.db, `
		CREATE type::record($tb, $id) SET
			kind = $kind,
			importance = $importance,
			explicitness = $explicitness,
			significance = $significance,
			author = $author,
			text = $text,
			embedding = $embedding,
			created = <datetime>$created
	`, map[string]any{
		"tb":           col.Name,
		"id":           m.ID,
		"kind":         string(m.Kind),
		"importance":   m.Importance,
		"explicitness": m.Explicitness,
		"significance": string(m.Significance),
		"author":       m.Author,
		"text":         m.Text,
		"embedding":    embedding,
		"created":      m.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return wrapQueryError("insert memory", err)
	}
	return nil
}

// QueryNearest runs an HNSW nearest-neighbour search.
func (c *Client) QueryNearest(ctx context.Context, col memory.Collection, embedding []float32, limit int, kind models.Kind) ([]models.Memory, error) {
	if limit <= 0 {
		return []models.Memory{}, nil
	}
	if _, err := c.EnsureCollection(ctx, col.Channel); err != nil {
		return nil, err
	}

	// A collection holds at most one summary, so nearest summaries are just the latest one.
	if kind == models.KindChatSummary {
		return c.FetchRecent(ctx, col, limit, kind)
	}

	// The kind filter may run after the k-NN step, where the summary can take a slot.
	k := limit
	kindClause := ""
	if kind != "" {
		k = limit + 1
		kindClause = "AND kind = $kind"
	}

	// HNSW with ef=40, same as the index default recall target
	sql := fmt.Sprintf(`
		SELECT %s, vector::distance::knn() AS distance
		FROM %s
		WHERE embedding <|%d,40|> $emb %s
		ORDER BY distance
	`, memoryFields, col.Name, k, kindClause)

	start := time.Now()
	defer c.record(metrics.OpStoreSearch, start)

	results, err := surrealdb.Query[[]memoryRow](ctx, c.db, sql, map[string]any{
		"emb":  embedding,
		"kind": string(kind),
	})
	if err != nil {
		return nil, wrapQueryError("query nearest", err)
	}
	found := rowsToModels(results)
	if len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// FetchRecent returns up to limit memories, newest first.
func (c *Client) FetchRecent(ctx context.Context, col memory.Collection, limit int, kind models.Kind) ([]models.Memory, error) {
	if limit <= 0 {
		return []models.Memory{}, nil
	}
	if _, err := c.EnsureCollection(ctx, col.Channel); err != nil {
		return nil, err
	}

	kindClause := ""
	if kind != "" {
		kindClause = "WHERE kind = $kind"
	}

	sql := fmt.Sprintf(`
		SELECT %s FROM %s %s
		ORDER BY created DESC
		LIMIT $limit
	`, memoryFields, col.Name, kindClause)

	start := time.Now()
	defer c.record(metrics.OpStoreQuery, start)

	results, err := surrealdb.Query[[]memoryRow](ctx, c.db, sql, map[string]any{
		"kind":  string(kind),
		"limit": limit,
	})
	if err != nil {
		return nil, wrapQueryError("fetch recent", err)
	}
	return rowsToModels(results), nil
}

// DeleteByType removes every memory of kind.
func (c *Client) DeleteByType(ctx context.Context, col memory.Collection, kind models.Kind) error {
	if _, err := c.EnsureCollection(ctx, col.Channel); err != nil {
		return err
	}

	start := time.Now()
	defer c.record(metrics.OpStoreQuery, start)

	_, err := surrealdb.Query[any](ctx, c.db, fmt.Sprintf(`DELETE %s WHERE kind = $kind`, col.Name),
		map[string]any{"kind": string(kind)})
	if err != nil {
		return wrapQueryError("delete by type", err)
	}
	return nil
}

// DeleteCollection removes the channel's table and its registry entry.
func (c *Client) DeleteCollection(ctx context.Context, col memory.Collection) error {
	start := time.Now()
	defer c.record(metrics.OpStoreQuery, start)

	_, err := surrealdb.Query[any](ctx, c.db, fmt.Sprintf(`
		REMOVE TABLE IF EXISTS %s;
		DELETE type::record("collection", $name);
	`, col.Name), map[string]any{"name": col.Name})
	if err != nil {
		return wrapQueryError("delete collection", err)
	}
	c.known.Delete(col.Name)
	return nil
}
