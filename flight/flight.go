// Package flight de-duplicates concurrent token fetches per store key. The
// first caller for a key becomes the leader and runs the fetch; everyone
// arriving while it is in flight becomes a follower and observes the exact
// value the leader publishes. The registry is purely in-process.
package flight

import (
	"context"
	"errors"

	"golang.org/x/sync/singleflight"

	"github.com/hack-ink/oauth2-broker/identity"
	"github.com/hack-ink/oauth2-broker/token"
)

// ErrLeaderAbandoned is what followers observe when the leader was
// cancelled mid-flight. It is transient: the next caller becomes a new
// leader and retries.
var ErrLeaderAbandoned = errors.New("singleflight leader abandoned the fetch")

// Registry coordinates at most one in-flight fetch per store key.
type Registry struct {
	group singleflight.Group
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Do runs fn once per key per flight window. The returned leader flag
// reports whether this caller executed fn; a caller that returns because
// its own context ended reports false. A follower whose own context
// stays live while the leader is cancelled receives ErrLeaderAbandoned
// rather than the leader's cancellation. Follower cancellation detaches
// the follower only; the flight keeps running.
func (r *Registry) Do(ctx context.Context, key identity.StoreKey, fn func(context.Context) (token.Record, error)) (token.Record, bool, error) {
	led := false
	ch := r.group.DoChan(key.String(), func() (any, error) {
		led = true
		record, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return record, nil
	})

	select {
	case result := <-ch:
		if result.Err != nil {
			if !led && isCancellation(result.Err) && ctx.Err() == nil {
				return token.Record{}, false, ErrLeaderAbandoned
			}
			return token.Record{}, led, result.Err
		}
		record, ok := result.Val.(token.Record)
		if !ok {
			return token.Record{}, led, errors.New("singleflight published an unexpected value")
		}
		return record, led, nil
	case <-ctx.Done():
		return token.Record{}, false, ctx.Err()
	}
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
