package cache

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/qq148376839/video-parser-service/pkg/catalog"
	"github.com/qq148376839/video-parser-service/pkg/resolver"
)

func resolvedEp(label, raw, final string) ResolvedEpisode {
	return ResolvedEpisode{Label: label, RawURL: raw, Stream: resolver.Stream{FinalURL: final}}
}

func TestPlanMergeIdenticalCatalogNeedsNoWork(t *testing.T) {
	cached := sampleItems()
	fresh := []FreshItem{{
		Item: catalog.Item{ID: "101", Title: "某剧", SourceKey: "src-a"},
		Episodes: []catalog.Episode{
			{Label: "第01集", RawURL: "https://v.test/e1"},
			{Label: "第02集", RawURL: "https://v.test/e2"},
		},
	}}

	merged, work := PlanMerge(cached, fresh)
	if len(work) != 0 {
		t.Fatalf("work units = %d, want 0 for an unchanged catalog", len(work))
	}
	if diff := cmp.Diff(cached[0].Episodes, merged[0].Episodes); diff != "" {
		t.Errorf("episodes changed on no-op merge (-cached +merged):\n%s", diff)
	}
}

func TestPlanMergeResolvesOnlyTheDelta(t *testing.T) {
	cached := sampleItems()
	fresh := []FreshItem{{
		Item: catalog.Item{ID: "101", Title: "某剧", SourceKey: "src-a"},
		Episodes: []catalog.Episode{
			{Label: "第01集", RawURL: "https://v.test/e1"},
			{Label: "第02集", RawURL: "https://v.test/e2"},
			{Label: "第03集", RawURL: "https://v.test/e3"},
		},
	}}

	merged, work := PlanMerge(cached, fresh)
	if len(work) != 1 {
		t.Fatalf("work units = %v, want exactly the new episode", work)
	}
	if work[0].RawURL != "https://v.test/e3" || work[0].ItemIndex != 0 || work[0].EpisodeIndex != 2 {
		t.Errorf("work unit = %+v", work[0])
	}

	merged[work[0].ItemIndex].Episodes[work[0].EpisodeIndex].Stream =
		resolver.Stream{FinalURL: "https://cdn.test/e3.m3u8"}
	final := FinishMerge(merged)

	want := []ResolvedEpisode{
		resolvedEp("第01集", "https://v.test/e1", "https://cdn.test/e1.m3u8"),
		resolvedEp("第02集", "https://v.test/e2", "https://cdn.test/e2.m3u8"),
		resolvedEp("第03集", "https://v.test/e3", "https://cdn.test/e3.m3u8"),
	}
	if diff := cmp.Diff(want, final[0].Episodes); diff != "" {
		t.Errorf("merged episodes (-want +got):\n%s", diff)
	}
}

func TestPlanMergeChangedURLIsReResolved(t *testing.T) {
	cached := sampleItems()
	fresh := []FreshItem{{
		Item: catalog.Item{ID: "101", Title: "某剧", SourceKey: "src-a"},
		Episodes: []catalog.Episode{
			{Label: "第01集", RawURL: "https://v.test/e1-moved"},
			{Label: "第02集", RawURL: "https://v.test/e2"},
		},
	}}

	_, work := PlanMerge(cached, fresh)
	if len(work) != 1 || work[0].RawURL != "https://v.test/e1-moved" {
		t.Fatalf("work = %+v, want only the moved URL", work)
	}
}

func TestPlanMergeFollowsFreshOrder(t *testing.T) {
	cached := sampleItems()
	fresh := []FreshItem{{
		Item: catalog.Item{ID: "101", Title: "某剧", SourceKey: "src-a"},
		Episodes: []catalog.Episode{
			{Label: "第02集", RawURL: "https://v.test/e2"},
			{Label: "第01集", RawURL: "https://v.test/e1"},
		},
	}}

	merged, work := PlanMerge(cached, fresh)
	if len(work) != 0 {
		t.Fatalf("reordering produced %d work units, want 0", len(work))
	}
	if merged[0].Episodes[0].RawURL != "https://v.test/e2" {
		t.Errorf("merged order = %+v, want fresh manifest order", merged[0].Episodes)
	}
}

func TestPlanMergeKeepsCachedOnlyItems(t *testing.T) {
	cached := append(sampleItems(), ResolvedItem{
		Item:     catalog.Item{ID: "202", Title: "别的剧", SourceKey: "src-b"},
		Episodes: []ResolvedEpisode{resolvedEp("正片", "https://v.test/other", "https://cdn.test/other.m3u8")},
	})
	fresh := []FreshItem{{
		Item:     catalog.Item{ID: "101", Title: "某剧", SourceKey: "src-a"},
		Episodes: []catalog.Episode{{Label: "第01集", RawURL: "https://v.test/e1"}},
	}}

	merged, _ := PlanMerge(cached, fresh)
	if len(merged) != 2 {
		t.Fatalf("merged items = %d, want the cached-only item retained", len(merged))
	}
	if merged[1].Item.Title != "别的剧" {
		t.Errorf("cached-only item = %+v", merged[1].Item)
	}
}

func TestFinishMergeDropsUnresolved(t *testing.T) {
	merged := []ResolvedItem{
		{
			Item: catalog.Item{Title: "a", SourceKey: "s"},
			Episodes: []ResolvedEpisode{
				resolvedEp("1", "https://v.test/1", "https://cdn.test/1.m3u8"),
				{Label: "2", RawURL: "https://v.test/2"}, // resolution failed
			},
		},
		{
			Item:     catalog.Item{Title: "b", SourceKey: "s"},
			Episodes: []ResolvedEpisode{{Label: "1", RawURL: "https://v.test/3"}},
		},
	}

	final := FinishMerge(merged)
	if len(final) != 1 {
		t.Fatalf("items = %d, want the fully unresolved item dropped", len(final))
	}
	if len(final[0].Episodes) != 1 || final[0].Episodes[0].Label != "1" {
		t.Errorf("episodes = %+v", final[0].Episodes)
	}
}
