package cache

import (
	"github.com/qq148376839/video-parser-service/pkg/catalog"
)

// FreshItem is a newly aggregated catalog item with its parsed episode
// sequence, before any resolution.
type FreshItem struct {
	Item     catalog.Item
	Episodes []catalog.Episode
}

// WorkUnit points at one episode in the merged result that still needs
// resolution.
type WorkUnit struct {
	ItemIndex    int
	EpisodeIndex int
	RawURL       string
}

// PlanMerge reconciles a cached result with a fresh aggregation pass.
// Items are matched by title and source; within a matched item, episodes
// are matched by raw URL value. An episode whose raw URL appears in the
// cached item reuses its resolved stream untouched; everything else,
// whether genuinely new or a changed URL under an old label, becomes a
// work unit. The merged episode order follows the fresh manifest, so a
// reordered catalog reorders the cached streams without re-resolving
// them. Cached items absent from the fresh pass are kept: a source that
// failed this round must not discard streams already paid for.
//
// Work-unit episodes carry an empty stream until the caller resolves
// them; FinishMerge drops the ones that never got one.
func PlanMerge(cached []ResolvedItem, fresh []FreshItem) ([]ResolvedItem, []WorkUnit) {
	type itemKey struct{ title, source string }
	cachedByKey := make(map[itemKey]ResolvedItem, len(cached))
	for _, it := range cached {
		cachedByKey[itemKey{it.Item.Title, it.Item.SourceKey}] = it
	}

	merged := make([]ResolvedItem, 0, len(fresh))
	var work []WorkUnit
	seen := make(map[itemKey]bool, len(fresh))

	for _, fi := range fresh {
		key := itemKey{fi.Item.Title, fi.Item.SourceKey}
		seen[key] = true

		resolvedByURL := map[string]ResolvedEpisode{}
		if old, ok := cachedByKey[key]; ok {
			for _, ep := range old.Episodes {
				resolvedByURL[ep.RawURL] = ep
			}
		}

		item := ResolvedItem{Item: fi.Item}
		for _, ep := range fi.Episodes {
			if old, ok := resolvedByURL[ep.RawURL]; ok {
				old.Label = ep.Label
				item.Episodes = append(item.Episodes, old)
				continue
			}
			work = append(work, WorkUnit{
				ItemIndex:    len(merged),
				EpisodeIndex: len(item.Episodes),
				RawURL:       ep.RawURL,
			})
			item.Episodes = append(item.Episodes, ResolvedEpisode{
				Label:  ep.Label,
				RawURL: ep.RawURL,
			})
		}
		merged = append(merged, item)
	}

	for _, it := range cached {
		if !seen[itemKey{it.Item.Title, it.Item.SourceKey}] {
			merged = append(merged, it)
		}
	}
	return merged, work
}

// FinishMerge strips episodes whose work unit never produced a stream
// and items left with no playable episode at all.
func FinishMerge(merged []ResolvedItem) []ResolvedItem {
	out := merged[:0]
	for _, it := range merged {
		eps := make([]ResolvedEpisode, 0, len(it.Episodes))
		for _, ep := range it.Episodes {
			if ep.Stream.FinalURL != "" {
				eps = append(eps, ep)
			}
		}
		if len(eps) == 0 {
			continue
		}
		it.Episodes = eps
		out = append(out, it)
	}
	return out
}
