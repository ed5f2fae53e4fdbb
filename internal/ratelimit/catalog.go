package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// CatalogRepository persists the operation name to class assignments in
// rate_limit_operations. The table replaces name sniffing: an operation is
// throttled as `dangerous` because a row says so, not because its name
// contains "remove".
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// ClassFor returns the class assigned to an operation.
func (r *CatalogRepository) ClassFor(ctx context.Context, operation string) (Class, bool, error) {
	var class string
	err := r.pool.QueryRow(ctx, `SELECT class FROM rate_limit_operations WHERE operation = $1`, operation).Scan(&class)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return Class(class), true, nil
}

// Assign upserts the class for an operation.
func (r *CatalogRepository) Assign(ctx context.Context, operation string, class Class) error {
	if !class.Valid() {
		return errors.New("ratelimit: unknown class " + string(class))
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rate_limit_operations (operation, class)
		VALUES ($1, $2)
		ON CONFLICT (operation) DO UPDATE SET class = EXCLUDED.class`,
		operation, string(class))
	return err
}

// CatalogSource abstracts catalog lookups for the cached view.
type CatalogSource interface {
	ClassFor(ctx context.Context, operation string) (Class, bool, error)
}

// Catalog resolves operation classes with a Redis fast path in front of the
// persisted catalog. Unknown operations default to the mutation class.
type Catalog struct {
	source CatalogSource
	client *redis.Client
	ttl    time.Duration
}

// NewCatalog constructs a Catalog. The Redis client may be nil, in which
// case every lookup hits the source.
func NewCatalog(source CatalogSource, client *redis.Client, ttl time.Duration) *Catalog {
	return &Catalog{source: source, client: client, ttl: ttl}
}

// ClassFor resolves the class for an operation name.
func (c *Catalog) ClassFor(ctx context.Context, operation string) (Class, error) {
	if c.client != nil {
		cached, err := c.client.Get(ctx, c.cacheKey(operation)).Result()
		if err == nil && Class(cached).Valid() {
			return Class(cached), nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			return "", err
		}
	}

	class, found, err := c.source.ClassFor(ctx, operation)
	if err != nil {
		return "", err
	}
	if !found {
		class = ClassMutation
	}

	if c.client != nil {
		if err := c.client.Set(ctx, c.cacheKey(operation), string(class), c.ttl).Err(); err != nil {
			return "", err
		}
	}
	return class, nil
}

func (c *Catalog) cacheKey(operation string) string {
	return "ratelimit:op:" + operation
}
