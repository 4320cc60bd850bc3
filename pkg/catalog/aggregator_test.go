package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/qq148376839/video-parser-service/pkg/whttp"
)

func catalogJSON(items ...string) string {
	list := ""
	for i, it := range items {
		if i > 0 {
			list += ","
		}
		list += it
	}
	return `{"code":1,"msg":"ok","list":[` + list + `]}`
}

func itemJSON(id, name, class string) string {
	return fmt.Sprintf(`{"vod_id":"%s","vod_name":"%s","vod_class":"%s","vod_year":"2023","vod_play_url":"正片$https://v.test/%s.html"}`, id, name, class, id)
}

func newCatalogServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ac") != "videolist" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearchMergesSources(t *testing.T) {
	srvA := newCatalogServer(t, catalogJSON(itemJSON("1", "Movie A", "动作")))
	srvB := newCatalogServer(t, catalogJSON(itemJSON("7", "Movie B", "剧情")))

	agg := NewAggregator([]Source{
		{Key: "a", BaseURL: srvA.URL, Name: "A", Rank: 1},
		{Key: "b", BaseURL: srvB.URL, Name: "B", Rank: 2},
	}, nil, 0, nil)

	items := agg.Search(context.Background(), "movie")
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	// Rank 1 sorts first.
	if items[0].SourceKey != "a" || items[1].SourceKey != "b" {
		t.Errorf("order = [%s %s], want [a b]", items[0].SourceKey, items[1].SourceKey)
	}
}

func TestSearchFailingSourceDegrades(t *testing.T) {
	srvOK := newCatalogServer(t, catalogJSON(itemJSON("1", "Movie A", "")))
	srvBad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srvBad.Close)

	agg := NewAggregator([]Source{
		{Key: "ok", BaseURL: srvOK.URL, Name: "OK"},
		{Key: "bad", BaseURL: srvBad.URL, Name: "Bad"},
		{Key: "gone", BaseURL: "http://127.0.0.1:1", Name: "Gone"},
	}, nil, 0, whttp.NewClient(time.Second, 2*time.Second))

	items := agg.Search(context.Background(), "movie")
	if len(items) != 1 || items[0].SourceKey != "ok" {
		t.Fatalf("items = %+v, want only the healthy source's item", items)
	}
}

func TestSearchSlowSourceTimesOut(t *testing.T) {
	srvSlow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		fmt.Fprint(w, catalogJSON(itemJSON("9", "Slow", "")))
	}))
	t.Cleanup(srvSlow.Close)
	srvOK := newCatalogServer(t, catalogJSON(itemJSON("1", "Fast", "")))

	agg := NewAggregator([]Source{
		{Key: "slow", BaseURL: srvSlow.URL, Name: "Slow"},
		{Key: "fast", BaseURL: srvOK.URL, Name: "Fast"},
	}, nil, 0, whttp.NewClient(50*time.Millisecond, 100*time.Millisecond))

	start := time.Now()
	items := agg.Search(context.Background(), "movie")
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("search took %v, slow source must not block aggregation", elapsed)
	}
	if len(items) != 1 || items[0].SourceKey != "fast" {
		t.Fatalf("items = %+v, want only the fast source's item", items)
	}
}

func TestSearchDenylistFiltersClassFields(t *testing.T) {
	srv := newCatalogServer(t, catalogJSON(
		itemJSON("1", "Keep", "动作"),
		itemJSON("2", "Drop", "伦理片"),
	))

	agg := NewAggregator([]Source{{Key: "a", BaseURL: srv.URL, Name: "A"}}, []string{"伦理"}, 0, nil)
	items := agg.Search(context.Background(), "x")
	if len(items) != 1 || items[0].Title != "Keep" {
		t.Fatalf("items = %+v, want only the non-denied item", items)
	}
}

func TestSearchDedupSameSourceDuplicateID(t *testing.T) {
	srv := newCatalogServer(t, catalogJSON(
		itemJSON("1", "Dup", ""),
		itemJSON("1", "Dup", ""),
	))

	agg := NewAggregator([]Source{{Key: "a", BaseURL: srv.URL, Name: "A"}}, nil, 0, nil)
	items := agg.Search(context.Background(), "dup")
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1 after dedup", len(items))
	}
}

func TestSearchSameIDDistinctSourcesKept(t *testing.T) {
	body := catalogJSON(itemJSON("42", "Same Title", ""))
	srvA := newCatalogServer(t, body)
	srvB := newCatalogServer(t, body)

	agg := NewAggregator([]Source{
		{Key: "a", BaseURL: srvA.URL, Name: "A"},
		{Key: "b", BaseURL: srvB.URL, Name: "B"},
	}, nil, 0, nil)

	items := agg.Search(context.Background(), "same")
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2: identity is (sourceKey, id)", len(items))
	}
}
