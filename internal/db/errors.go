package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/tempest/internal/memory"
)

// wrapQueryError maps a SurrealDB error onto the memory store sentinels.
// Missing tables become memory.ErrCollectionNotFound; everything else is memory.ErrStoreUnavailable.
func wrapQueryError(op string, err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		if strings.Contains(msg, "does not exist") {
			return fmt.Errorf("%s: %w: %s", op, memory.ErrCollectionNotFound, msg)
		}
	}

	return memory.Unavailable(op, err)
}
