package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/tempest/internal/memory"
)

func TestWrapQueryError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"missing table", &surrealdb.QueryError{Message: "The table 'Memory_x' does not exist"}, true},
		{"wrapped missing table", fmt.Errorf("query: %w", &surrealdb.QueryError{Message: "table does not exist"}), true},
		{"other query error", &surrealdb.QueryError{Message: "Parse error"}, false},
		{"connection reset", errors.New("connection reset by peer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapQueryError("fetch recent", tt.err)
			if errors.Is(got, memory.ErrCollectionNotFound) != tt.notFound {
				t.Errorf("ErrCollectionNotFound match = %v, want %v (%v)", !tt.notFound, tt.notFound, got)
			}
			if !tt.notFound && !errors.Is(got, memory.ErrStoreUnavailable) {
				t.Errorf("expected ErrStoreUnavailable, got %v", got)
			}
			if !errors.Is(got, tt.err) && !tt.notFound {
				t.Errorf("original error should stay in the chain")
			}
		})
	}

	if wrapQueryError("noop", nil) != nil {
		t.Error("nil error should stay nil")
	}
}

func TestCollectionSQL(t *testing.T) {
	sql := CollectionSQL("Memory_general", 1024)
	for _, want := range []string{
		"DEFINE TABLE IF NOT EXISTS Memory_general SCHEMAFULL",
		"HNSW DIMENSION 1024 DIST COSINE",
		`UPSERT type::record("collection", $name)`,
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("CollectionSQL missing %q", want)
		}
	}
}
