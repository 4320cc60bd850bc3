package catalog

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/whttp"
)

const defaultConcurrency = 10

// Aggregator runs one query against every configured source concurrently.
// A slow or broken source degrades to an empty contribution; it never takes
// the whole search down with it.
type Aggregator struct {
	sources     []Source
	denylist    []string
	concurrency int
	client      *http.Client
}

func NewAggregator(sources []Source, denylist []string, concurrency int, client *http.Client) *Aggregator {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if client == nil {
		client = http.DefaultClient
	}
	lowered := make([]string, 0, len(denylist))
	for _, term := range denylist {
		term = strings.ToLower(strings.TrimSpace(term))
		if term != "" {
			lowered = append(lowered, term)
		}
	}
	return &Aggregator{
		sources:     sources,
		denylist:    lowered,
		concurrency: concurrency,
		client:      client,
	}
}

// Search fans the query out to all sources and returns the deduplicated,
// filtered union. Item identity is (SourceKey, ID); when the same identity
// shows up twice the item from the lower-ranked (higher priority) source
// wins.
func (a *Aggregator) Search(ctx context.Context, query string) []Item {
	srcChan := make(chan Source, len(a.sources))

	var mu sync.Mutex
	var all []Item

	var wg sync.WaitGroup
	workers := a.concurrency
	if workers > len(a.sources) {
		workers = len(a.sources)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for src := range srcChan {
				items := a.searchSource(ctx, src, query)
				if len(items) == 0 {
					continue
				}
				mu.Lock()
				all = append(all, items...)
				mu.Unlock()
			}
		}()
	}
	for _, src := range a.sources {
		srcChan <- src
	}
	close(srcChan)
	wg.Wait()

	return a.dedup(all)
}

func (a *Aggregator) searchSource(ctx context.Context, src Source, query string) []Item {
	base := strings.TrimSuffix(strings.TrimSpace(src.BaseURL), "/")
	if !utils.IsHTTPURL(base) {
		utils.Log.Warnf("Source [%s] has an invalid base URL: %q", src.Name, src.BaseURL)
		return nil
	}
	searchURL := base + "/?ac=videolist&wd=" + url.QueryEscape(query)

	utils.Log.Debugf("Searching source [%s]: %s", src.Name, searchURL)
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: searchURL}, a.client)
	if err != nil {
		utils.Log.Warnf("Source [%s] request failed: %v", src.Name, err)
		return nil
	}
	if res.StatusCode != 200 {
		utils.Log.Warnf("Source [%s] returned status %d", src.Name, res.StatusCode)
		return nil
	}
	if gjson.Get(res.BodyString, "code").Int() != 1 {
		utils.Log.Debugf("Source [%s] returned no results", src.Name)
		return nil
	}

	var items []Item
	count := int(gjson.Get(res.BodyString, "list.#").Int())
	for i := 0; i < count; i++ {
		prefix := "list." + strconv.Itoa(i) + "."
		item := Item{
			ID:           gjson.Get(res.BodyString, prefix+"vod_id").String(),
			Title:        gjson.Get(res.BodyString, prefix+"vod_name").String(),
			Class:        gjson.Get(res.BodyString, prefix+"vod_class").String(),
			TypeName:     gjson.Get(res.BodyString, prefix+"type_name").String(),
			Year:         gjson.Get(res.BodyString, prefix+"vod_year").String(),
			Description:  gjson.Get(res.BodyString, prefix+"vod_content").String(),
			Pic:          gjson.Get(res.BodyString, prefix+"vod_pic").String(),
			PlayManifest: gjson.Get(res.BodyString, prefix+"vod_play_url").String(),
			SourceKey:    src.Key,
			SourceRank:   src.Rank,
		}
		if item.ID == "" || item.Title == "" {
			continue
		}
		if a.denied(item) {
			utils.Log.Debugf("Source [%s] item %q dropped by denylist", src.Name, item.Title)
			continue
		}
		items = append(items, item)
	}
	utils.Log.Infof("Source [%s] returned %d usable items", src.Name, len(items))
	return items
}

func (a *Aggregator) denied(item Item) bool {
	haystack := strings.ToLower(item.Class + " " + item.TypeName)
	for _, term := range a.denylist {
		if strings.Contains(haystack, term) {
			return true
		}
	}
	return false
}

func (a *Aggregator) dedup(items []Item) []Item {
	type identity struct{ sourceKey, id string }
	byKey := make(map[identity]Item, len(items))
	for _, item := range items {
		key := identity{item.SourceKey, item.ID}
		existing, seen := byKey[key]
		if !seen || rankOrLast(item.SourceRank) < rankOrLast(existing.SourceRank) {
			byKey[key] = item
		}
	}
	out := make([]Item, 0, len(byKey))
	for _, item := range byKey {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := rankOrLast(out[i].SourceRank), rankOrLast(out[j].SourceRank)
		if ri != rj {
			return ri < rj
		}
		if out[i].SourceKey != out[j].SourceKey {
			return out[i].SourceKey < out[j].SourceKey
		}
		return out[i].ID < out[j].ID
	})
	return out
}
