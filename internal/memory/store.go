// Package memory defines the per-channel memory store contract and an in-process implementation.
package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/raphaelgruber/tempest/internal/models"
)

// Sentinel errors for store operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrStoreUnavailable indicates the backing store could not be reached or rejected the call.
	ErrStoreUnavailable = errors.New("memory store unavailable")

	// ErrCollectionNotFound indicates the channel has no memory collection.
	ErrCollectionNotFound = errors.New("memory collection not found")
)

// Collection is a handle to one channel's memory collection.
type Collection struct {
	Channel string
	Name    string
}

// Store is a vector-backed keyed collection per conversation channel.
// Every method lazily initializes the connection and collection it needs.
// Kind filters accept the empty Kind to mean "any kind".
type Store interface {
	// EnsureCollection returns the channel's collection, creating it on first use.
	// Concurrent callers for the same channel share one collection.
	EnsureCollection(ctx context.Context, channel string) (Collection, error)

	// CollectionExists reports whether the channel already has a collection.
	CollectionExists(ctx context.Context, channel string) (bool, error)

	// Insert stores m with its embedding.
	Insert(ctx context.Context, c Collection, m models.Memory, embedding []float32) error

	// QueryNearest returns up to limit memories ordered by similarity to embedding.
	QueryNearest(ctx context.Context, c Collection, embedding []float32, limit int, kind models.Kind) ([]models.Memory, error)

	// FetchRecent returns up to limit memories ordered newest-first.
	FetchRecent(ctx context.Context, c Collection, limit int, kind models.Kind) ([]models.Memory, error)

	// DeleteByType removes every memory of kind.
	DeleteByType(ctx context.Context, c Collection, kind models.Kind) error

	// DeleteCollection drops the whole collection.
	DeleteCollection(ctx context.Context, c Collection) error

	// Close releases the store's resources.
	Close(ctx context.Context) error
}

// Unavailable wraps err as ErrStoreUnavailable, keeping err in the chain.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// ReplaceSummary makes summary the channel's only summary record.
// The old summary is deleted before the new one is inserted, so a reader may briefly see none.
func ReplaceSummary(ctx context.Context, s Store, c Collection, summary models.Memory, embedding []float32) error {
	summary.Kind = models.KindChatSummary
	if err := s.DeleteByType(ctx, c, models.KindChatSummary); err != nil {
		return fmt.Errorf("delete old summary: %w", err)
	}
	if err := s.Insert(ctx, c, summary, embedding); err != nil {
		return fmt.Errorf("insert summary: %w", err)
	}
	return nil
}

// LatestSummary returns the channel's summary, or nil when none exists.
func LatestSummary(ctx context.Context, s Store, c Collection) (*models.Memory, error) {
	found, err := s.FetchRecent(ctx, c, 1, models.KindChatSummary)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}
