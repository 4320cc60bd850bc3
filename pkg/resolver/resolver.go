// Package resolver turns raw upstream video URLs into playable stream
// URLs. Three strategies are tried in fixed priority order by Chain;
// each strategy knows one upstream resolve mechanism and nothing about
// the others.
package resolver

import (
	"context"
	"errors"
	"sync/atomic"
)

// Stream is the playable result of resolving one raw episode URL.
// ArtifactID references the locally stored manifest when one was captured.
type Stream struct {
	FinalURL   string `json:"final_url"`
	ArtifactID string `json:"artifact_id,omitempty"`
}

// Strategy resolves a single raw URL. Implementations must be safe for
// concurrent use; the chain runs many episodes at once.
type Strategy interface {
	Name() string
	Resolve(ctx context.Context, rawURL string) (Stream, error)
}

var (
	// ErrExhausted means every strategy failed for one episode. Callers
	// drop the episode; the surrounding item and request carry on.
	ErrExhausted = errors.New("resolver: all strategies exhausted")

	// ErrMasterLoop means the stream URL needed more than one
	// stream-selection redirect hop.
	ErrMasterLoop = errors.New("resolver: master playlist redirect loop")
)

// Token is the shared write-once cancellation flag for one resolve
// request. It is advisory: a cancelled token stops new attempts from being
// dispatched, it does not abort in-flight network calls.
type Token struct {
	cancelled atomic.Bool
}

func NewToken() *Token {
	return &Token{}
}

// Claim flips the token and reports whether this caller did the flipping.
// The chain claims the token on success, so of several racing resolution
// attempts exactly one gets to report its result.
func (t *Token) Claim() bool {
	return t.cancelled.CompareAndSwap(false, true)
}

// Cancel marks the token cancelled regardless of who wins.
func (t *Token) Cancel() {
	t.cancelled.Store(true)
}

func (t *Token) Cancelled() bool {
	return t.cancelled.Load()
}
