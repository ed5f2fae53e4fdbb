package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-commerce/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed bucket persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Find loads a bucket without locking it.
func (r *Repository) Find(ctx context.Context, key string) (Bucket, bool, error) {
	var b Bucket
	err := r.pool.QueryRow(ctx, `SELECT key, tokens, last_refill FROM rate_limit_buckets WHERE key = $1`, key).
		Scan(&b.Key, &b.Tokens, &b.LastRefill)
	if errors.Is(err, pgx.ErrNoRows) {
		return Bucket{}, false, nil
	}
	if err != nil {
		return Bucket{}, false, err
	}
	return b, true, nil
}

// Mutate serializes concurrent consumers of the same key with a row lock.
// Two concurrent consumes must never both read the same token count.
func (r *Repository) Mutate(ctx context.Context, key string, fn func(b Bucket, found bool) (Bucket, bool)) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		b := Bucket{Key: key}
		found := true
		err := tx.QueryRow(ctx, `SELECT key, tokens, last_refill FROM rate_limit_buckets WHERE key = $1 FOR UPDATE`, key).
			Scan(&b.Key, &b.Tokens, &b.LastRefill)
		if errors.Is(err, pgx.ErrNoRows) {
			found = false
		} else if err != nil {
			return err
		}

		next, persist := fn(b, found)
		if !persist {
			return nil
		}
		if next.Key == "" {
			next.Key = key
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO rate_limit_buckets (key, tokens, last_refill)
			VALUES ($1, $2, $3)
			ON CONFLICT (key) DO UPDATE SET tokens = EXCLUDED.tokens, last_refill = EXCLUDED.last_refill`,
			next.Key, next.Tokens, next.LastRefill)
		return err
	})
}

// Sweep deletes buckets whose refill clock has been idle past the horizon.
// An idle bucket is back at full capacity, so deleting it is equivalent to
// the lazy-create fresh state.
func (r *Repository) Sweep(ctx context.Context, idleFor time.Duration) (int64, error) {
	cutoff := time.Now().Add(-idleFor)
	tag, err := r.pool.Exec(ctx, `DELETE FROM rate_limit_buckets WHERE last_refill < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*Repository)(nil)
