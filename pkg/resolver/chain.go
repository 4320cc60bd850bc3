package resolver

import (
	"context"
	"errors"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/artifacts"
	"github.com/qq148376839/video-parser-service/pkg/credstore"
)

// Chain tries each strategy in priority order until one yields a usable
// stream. Resolution dominates end-to-end latency (seconds per episode),
// so successful results are memoized per raw URL in-process on top of the
// durable result cache.
type Chain struct {
	strategies []Strategy
	// extraRetries applies to the first (credential) strategy only; the
	// remaining strategies get a single attempt each.
	extraRetries int
	client       *http.Client
	artifacts    *artifacts.Store
	memo         *gocache.Cache
}

// NewChain builds a chain over strategies. retryCount is the number of
// extra attempts granted to the first strategy. art may be nil to disable
// artifact capture.
func NewChain(strategies []Strategy, retryCount int, client *http.Client, art *artifacts.Store, memoTTL time.Duration) *Chain {
	if retryCount < 0 {
		retryCount = 0
	}
	if client == nil {
		client = http.DefaultClient
	}
	if memoTTL <= 0 {
		memoTTL = 30 * time.Minute
	}
	return &Chain{
		strategies:   strategies,
		extraRetries: retryCount,
		client:       client,
		artifacts:    art,
		memo:         gocache.New(memoTTL, 10*time.Minute),
	}
}

// Resolve runs the fallback chain for one raw URL. The token is checked
// before every attempt and every retry; once it is cancelled no new work
// is started. On success the chain claims the token: the first resolution
// to finish wins, a later sibling success is discarded instead of
// overwriting it.
func (c *Chain) Resolve(ctx context.Context, rawURL string, tok *Token) (Stream, bool) {
	if tok == nil {
		tok = NewToken()
	}

	if cached, found := c.memo.Get(rawURL); found {
		if !tok.Claim() {
			return Stream{}, false
		}
		utils.Log.Debugf("Resolution memo hit for %s", rawURL)
		return cached.(Stream), true
	}

	for i, strat := range c.strategies {
		attempts := 1
		if i == 0 {
			attempts += c.extraRetries
		}
		for attempt := 0; attempt < attempts; attempt++ {
			if tok.Cancelled() || ctx.Err() != nil {
				return Stream{}, false
			}

			stream, err := strat.Resolve(ctx, rawURL)
			if err != nil {
				if errors.Is(err, credstore.ErrNoActiveCredential) {
					// Pool empty: no point retrying this strategy for
					// the rest of the chain.
					utils.Log.Warn("Credential pool empty, skipping credential strategy")
					break
				}
				utils.Log.Debugf("Strategy [%s] attempt %d failed for %s: %v", strat.Name(), attempt+1, rawURL, err)
				continue
			}

			final, err := c.finalize(ctx, stream)
			if err != nil {
				if errors.Is(err, ErrMasterLoop) {
					// More than one selection hop: give up on the
					// episode rather than chase the loop.
					utils.Log.Warnf("Master playlist loop for %s via [%s]", rawURL, strat.Name())
					return Stream{}, false
				}
				utils.Log.Debugf("Strategy [%s] produced unfetchable stream for %s: %v", strat.Name(), rawURL, err)
				continue
			}

			if !tok.Claim() {
				return Stream{}, false
			}
			utils.Log.Infof("Resolved %s via [%s]", rawURL, strat.Name())
			c.memo.SetDefault(rawURL, final)
			return final, true
		}
	}

	utils.Log.Debugf("All strategies exhausted for %s", rawURL)
	return Stream{}, false
}

// finalize fetches the strategy's stream URL, follows at most one master
// manifest hop and captures the final media manifest as an artifact.
func (c *Chain) finalize(ctx context.Context, stream Stream) (Stream, error) {
	finalURL, body, err := fetchFinalManifest(ctx, stream.FinalURL, c.client)
	if err != nil {
		return Stream{}, err
	}
	stream.FinalURL = finalURL

	if c.artifacts != nil {
		id, err := c.artifacts.Put(body, finalURL)
		if err != nil {
			// Artifact capture is best effort; the stream URL alone is
			// a complete answer.
			utils.Log.Warnf("Failed to store artifact for %s: %v", finalURL, err)
		} else {
			stream.ArtifactID = id
		}
	}
	return stream, nil
}
