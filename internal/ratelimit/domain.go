// Package ratelimit implements token-bucket admission control for admin
// operations. Buckets are persisted per (class, identifier) key and refilled
// lazily in whole-interval steps.
package ratelimit

import "time"

// Class names a rate-limit policy. Call sites pick the class explicitly;
// nothing is inferred from operation names.
type Class string

const (
	// ClassDangerous covers destructive bulk operations (seed, clear, remove).
	ClassDangerous Class = "dangerous"
	// ClassMutation covers ordinary admin writes.
	ClassMutation Class = "mutation"
	// ClassQuery covers read operations.
	ClassQuery Class = "query"
	// ClassAuth covers login and verification attempts.
	ClassAuth Class = "auth"
)

// Limit describes the bucket parameters of a class.
type Limit struct {
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
}

var limits = map[Class]Limit{
	ClassDangerous: {Capacity: 10, RefillTokens: 1, RefillInterval: time.Minute},
	ClassMutation:  {Capacity: 100, RefillTokens: 10, RefillInterval: time.Minute},
	ClassQuery:     {Capacity: 500, RefillTokens: 50, RefillInterval: time.Minute},
	ClassAuth:      {Capacity: 5, RefillTokens: 1, RefillInterval: time.Minute},
}

// Limit returns the bucket parameters for the class. Unknown classes fall
// back to the mutation limit.
func (c Class) Limit() Limit {
	if lim, ok := limits[c]; ok {
		return lim
	}
	return limits[ClassMutation]
}

// Valid reports whether the class is one of the defined policies.
func (c Class) Valid() bool {
	_, ok := limits[c]
	return ok
}

// Bucket is the persisted state of one (class, identifier) key.
type Bucket struct {
	Key        string
	Tokens     int
	LastRefill time.Time
}

// Result reports an admission decision. Denials are results, not errors:
// callers need Remaining and ResetIn to surface retry guidance.
type Result struct {
	Allowed   bool
	Remaining int
	ResetIn   time.Duration
}

// BucketKey composes the persisted bucket key.
func BucketKey(class Class, identifier string) string {
	return string(class) + ":" + identifier
}
