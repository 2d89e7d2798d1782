package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/emergent/loom/internal/diff"
)

// insertOverflowsTx writes displaced scalar values inside a version
// transaction. Rows are content-addressed by digest; re-inserting the same
// value is a no-op, so versions can share overflow rows.
func insertOverflowsTx(ctx context.Context, tx *sql.Tx, enc *zstd.Encoder, overflows []diff.OverflowValue, createdAt time.Time) error {
	for _, ov := range overflows {
		compressed := enc.EncodeAll(ov.Data, nil)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO value_overflow (digest, size, compressed, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(digest) DO NOTHING
		`,
			ov.Digest,
			ov.Size,
			compressed,
			createdAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert overflow %s: %w", ov.Digest, err)
		}
	}
	return nil
}

// GetOverflow retrieves and decompresses a displaced value by its digest.
// Returns a NOT_FOUND error if no value with that digest was stored.
func (s *Store) GetOverflow(ctx context.Context, digest string) ([]byte, error) {
	var size int
	var compressed []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT size, compressed FROM value_overflow WHERE digest = ?
	`, digest).Scan(&size, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFound("overflow value", digest)
	}
	if err != nil {
		return nil, fmt.Errorf("get overflow: %w", err)
	}

	data, err := s.dec.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("decompress overflow %s: %w", digest, err)
	}
	return data, nil
}

// HasOverflow checks whether a displaced value with the digest exists.
func (s *Store) HasOverflow(ctx context.Context, digest string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM value_overflow WHERE digest = ?
	`, digest).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check overflow: %w", err)
	}
	return count > 0, nil
}
