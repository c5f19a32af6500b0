package graph

import (
	"context"
	"fmt"

	"jamsession/looper/internal/history"
)

// Load reads every record from store into a TreeSnapshot.
func Load(ctx context.Context, store history.Store) (*TreeSnapshot, error) {
	recs, err := store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return FromRecords(recs), nil
}
