package mail

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Breaker wraps a Transport in a circuit breaker. When the remote provider is
// rejecting or timing out most requests, the breaker opens and sends fail fast
// instead of burning the rest of the batch against a dead upstream. A fast
// failure is still just a failed attempt for that entry, eligible for retry.
type Breaker struct {
	inner Transport
	cb    *gobreaker.CircuitBreaker[string]
}

func NewBreaker(inner Transport, name string) *Breaker {
	settings := gobreaker.Settings{
		Name:    name,
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && counts.TotalFailures*2 > counts.Requests
		},
	}
	return &Breaker{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[string](settings),
	}
}

func (b *Breaker) Send(ctx context.Context, e Email) (string, error) {
	return b.cb.Execute(func() (string, error) {
		return b.inner.Send(ctx, e)
	})
}
