// Package search is the orchestration layer: it ties the source
// aggregator, the resolver fallback chain and the result cache into the
// one operation callers actually want, a query in and playable streams
// out.
package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/cache"
	"github.com/qq148376839/video-parser-service/pkg/catalog"
	"github.com/qq148376839/video-parser-service/pkg/resolver"
)

var ErrEmptyQuery = errors.New("search: empty query")

const defaultResolveConcurrency = 6

type Service struct {
	agg         *catalog.Aggregator
	chain       *resolver.Chain
	cache       *cache.Cache
	concurrency int
	// per-episode resolution deadline; zero means inherit the caller's.
	resolveTimeout time.Duration
}

func New(agg *catalog.Aggregator, chain *resolver.Chain, c *cache.Cache, concurrency int, resolveTimeout time.Duration) *Service {
	if concurrency <= 0 {
		concurrency = defaultResolveConcurrency
	}
	return &Service{
		agg:            agg,
		chain:          chain,
		cache:          c,
		concurrency:    concurrency,
		resolveTimeout: resolveTimeout,
	}
}

// Result is one answered search.
type Result struct {
	Items     []cache.ResolvedItem `json:"items"`
	FromCache bool                 `json:"from_cache"`
	// Merged reports that a cached entry was extended with newly
	// resolved episodes rather than rebuilt from scratch.
	Merged bool `json:"merged"`
}

// Search answers a query. A cache hit with an unchanged catalog is
// served without any resolution work; a hit whose catalog grew or moved
// episodes resolves only that delta and merges it back; a miss resolves
// everything. Aggregation runs even on a hit because it is cheap next to
// resolution and is the only way to notice new episodes.
func (s *Service) Search(ctx context.Context, query string) (Result, error) {
	key := cache.NormalizeKey(query)
	if key == "" {
		return Result{}, ErrEmptyQuery
	}

	entry, hit, err := s.cache.Get(ctx, key)
	if err != nil {
		utils.Log.Warnf("Cache read for %q failed: %v", key, err)
	}

	fresh := s.freshItems(ctx, query)
	if len(fresh) == 0 {
		if hit {
			utils.Log.Infof("No sources answered for %q, serving cached result", key)
			return Result{Items: entry.Items, FromCache: true}, nil
		}
		// The only legitimately empty answer.
		return Result{}, nil
	}

	var cached []cache.ResolvedItem
	if hit {
		cached = entry.Items
	}
	merged, work := cache.PlanMerge(cached, fresh)

	if hit && len(work) == 0 {
		utils.Log.Debugf("Catalog unchanged for %q, %d items from cache", key, len(merged))
		return Result{Items: merged, FromCache: true}, nil
	}

	utils.Log.Infof("Resolving %d episode(s) for %q", len(work), key)
	s.resolveUnits(ctx, merged, work)
	final := cache.FinishMerge(merged)

	if len(final) > 0 {
		if err := s.cache.Put(ctx, key, final); err != nil {
			utils.Log.Warnf("Cache write for %q failed: %v", key, err)
		}
	}
	return Result{Items: final, FromCache: false, Merged: hit}, nil
}

// Resolve runs the fallback chain for a single raw URL, outside of any
// search context.
func (s *Service) Resolve(ctx context.Context, rawURL string) (resolver.Stream, bool) {
	if s.resolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.resolveTimeout)
		defer cancel()
	}
	return s.chain.Resolve(ctx, rawURL, resolver.NewToken())
}

func (s *Service) freshItems(ctx context.Context, query string) []cache.FreshItem {
	items := s.agg.Search(ctx, query)
	fresh := make([]cache.FreshItem, 0, len(items))
	for _, item := range items {
		eps := catalog.ParseManifest(item.PlayManifest)
		if len(eps) == 0 {
			utils.Log.Debugf("Item %q (%s) has no playable episodes", item.Title, item.SourceKey)
			continue
		}
		item.PlayManifest = "" // episodes carry the URLs from here on
		fresh = append(fresh, cache.FreshItem{Item: item, Episodes: eps})
	}
	return fresh
}

// resolveUnits fills the stream slots the merge plan left open. Workers
// write into disjoint episode slots, so results land in manifest order
// with no reordering pass. Each unit gets its own cancellation token;
// a unit that fails or times out just leaves its slot empty.
func (s *Service) resolveUnits(ctx context.Context, merged []cache.ResolvedItem, work []cache.WorkUnit) {
	if len(work) == 0 {
		return
	}
	jobs := make(chan cache.WorkUnit, len(work))

	var wg sync.WaitGroup
	workers := s.concurrency
	if workers > len(work) {
		workers = len(work)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range jobs {
				if ctx.Err() != nil {
					continue
				}
				rctx, cancel := ctx, context.CancelFunc(func() {})
				if s.resolveTimeout > 0 {
					rctx, cancel = context.WithTimeout(ctx, s.resolveTimeout)
				}
				if stream, ok := s.chain.Resolve(rctx, unit.RawURL, resolver.NewToken()); ok {
					merged[unit.ItemIndex].Episodes[unit.EpisodeIndex].Stream = stream
				}
				cancel()
			}
		}()
	}
	for _, unit := range work {
		jobs <- unit
	}
	close(jobs)
	wg.Wait()
}
