// Package ratelimit throttles repeated attempts per caller.
//
// It only counts attempts. It never stores anything about the resource
// being accessed.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one attempt.
type Decision struct {
	Allowed    bool
	Count      int
	RetryAfter time.Duration
}

// Limiter consumes one attempt for key in scope.
type Limiter interface {
	Consume(ctx context.Context, scope, key string) (Decision, error)
}
