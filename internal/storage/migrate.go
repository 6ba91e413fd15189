package storage

import (
	"context"
	"fmt"
)

// Migrate copies every record of src into dst, keeping the original
// UpdatedAt. A record that is at least as new in dst is left alone. It
// returns the number of records written to dst.
//
// Artifacts are copied byte for byte, so sealed artifacts stay sealed with
// the same key.
func Migrate(ctx context.Context, dst, src Backend) (int, error) {
	entries, err := src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list source: %w", err)
	}

	copied := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return copied, err
		}

		rec, err := src.Get(ctx, e.AccountID)
		if err != nil {
			return copied, fmt.Errorf("read %q from source: %w", e.AccountID, err)
		}
		if rec == nil {
			continue
		}

		existing, err := dst.Get(ctx, e.AccountID)
		if err != nil {
			return copied, fmt.Errorf("read %q from destination: %w", e.AccountID, err)
		}
		if existing != nil && existing.UpdatedAt >= rec.UpdatedAt {
			continue
		}

		if err := dst.Put(ctx, *rec); err != nil {
			return copied, fmt.Errorf("write %q to destination: %w", e.AccountID, err)
		}
		copied++
	}
	return copied, nil
}
