package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/qq148376839/video-parser-service/pkg/artifacts"
	"github.com/qq148376839/video-parser-service/pkg/cache"
	"github.com/qq148376839/video-parser-service/pkg/catalog"
	"github.com/qq148376839/video-parser-service/pkg/credstore"
	"github.com/qq148376839/video-parser-service/pkg/resolver"
	"github.com/qq148376839/video-parser-service/pkg/search"
	"github.com/qq148376839/video-parser-service/pkg/storage"
	"github.com/qq148376839/video-parser-service/pkg/whttp"
)

func newTestServer(t *testing.T) (*Server, *storage.DB) {
	t.Helper()

	manifestSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:10,\nseg0.ts\n#EXT-X-ENDLIST\n")
	}))
	t.Cleanup(manifestSrv.Close)

	catalogSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"code":1,"list":[{"vod_id":1,"vod_name":"某剧","vod_play_url":"正片$%s/e1.m3u8"}]}`, manifestSrv.URL)
	}))
	t.Cleanup(catalogSrv.Close)

	db, err := storage.Open(filepath.Join(t.TempDir(), "t.sqlite"))
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	agg := catalog.NewAggregator(
		[]catalog.Source{{Key: "src-a", Name: "A", BaseURL: catalogSrv.URL}},
		nil, 2, whttp.NewClient(time.Second, 2*time.Second))
	// Raw URLs already point at the manifest server, so the parameter-free
	// passthrough below is a complete strategy.
	chain := resolver.NewChain([]resolver.Strategy{passthrough{}}, 0, nil, nil, 0)
	c := cache.New(db, time.Hour)
	svc := search.New(agg, chain, c, 2, 5*time.Second)

	art, err := artifacts.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("artifacts.NewStore: %v", err)
	}
	return New(svc, c, credstore.New(db), art, nil, "", ""), db
}

type passthrough struct{}

func (passthrough) Name() string { return "passthrough" }
func (passthrough) Resolve(ctx context.Context, rawURL string) (resolver.Stream, error) {
	return resolver.Stream{FinalURL: rawURL}, nil
}

func TestSearchEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/search?wd=某剧")
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res search.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(res.Items) != 1 || len(res.Items[0].Episodes) != 1 {
		t.Errorf("result = %+v, want one resolved episode", res)
	}
}

func TestSearchEndpointVideoListShape(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/search?ac=videolist&wd=某剧")
	if err != nil {
		t.Fatalf("GET search: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var res struct {
		Code int `json:"code"`
		List []struct {
			VodName    string `json:"vod_name"`
			VodPlayURL string `json:"vod_play_url"`
		} `json:"list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Code != 1 || len(res.List) != 1 {
		t.Fatalf("response = %+v, want code 1 and one item", res)
	}
	if res.List[0].VodName != "某剧" {
		t.Errorf("vod_name = %q", res.List[0].VodName)
	}
	// The play manifest is rebuilt in the upstream delimiter grammar,
	// pointing at the resolved stream instead of the raw episode page.
	playURL := res.List[0].VodPlayURL
	if !strings.HasPrefix(playURL, "正片$") || !strings.Contains(playURL, "/e1.m3u8") {
		t.Errorf("vod_play_url = %q, want grammar-formatted resolved stream", playURL)
	}
}

func TestSearchEndpointMissingQuery(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/search")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, db := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	var health struct {
		Status string `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Status != "degraded" {
		t.Errorf("status = %q with no credentials and no parameter, want degraded", health.Status)
	}

	if _, err := db.SQL().Exec(`
INSERT INTO credentials (email, password, uid, access_key, is_active)
VALUES ('a@x.test', 'pw', 'u1', 'k1', 1)`); err != nil {
		t.Fatalf("insert credential: %v", err)
	}
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Status != "ok" {
		t.Errorf("status = %q with an active credential, want ok", health.Status)
	}
}

func TestCacheClearEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	// Populate the cache through a real search first.
	if _, err := http.Get(ts.URL + "/api/v1/search?wd=某剧"); err != nil {
		t.Fatalf("warm-up search: %v", err)
	}

	body := bytes.NewBufferString(`{"key":"某剧"}`)
	resp, err := http.Post(ts.URL+"/api/v1/cache/clear", "application/json", body)
	if err != nil {
		t.Fatalf("POST clear: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d", resp.StatusCode)
	}

	resp, err = http.Get(ts.URL + "/api/v1/cache/stats")
	if err != nil {
		t.Fatalf("GET stats: %v", err)
	}
	var stats cache.Stats
	json.NewDecoder(resp.Body).Decode(&stats)
	resp.Body.Close()
	if stats.Total != 0 {
		t.Errorf("cache still holds %d entries after clear", stats.Total)
	}
}

func TestArtifactEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	id, err := srv.Artifacts.Put("#EXTM3U\n#EXTINF:10,\nseg0.ts\n", "https://cdn.test/a/index.m3u8")
	if err != nil {
		t.Fatalf("artifacts.Put: %v", err)
	}

	resp, err := http.Get(ts.URL + "/m3u8/" + id)
	if err != nil {
		t.Fatalf("GET artifact: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/vnd.apple.mpegurl" {
		t.Errorf("Content-Type = %q", ct)
	}

	resp, err = http.Get(ts.URL + "/m3u8/not-a-real-id")
	if err != nil {
		t.Fatalf("GET bad artifact: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("bad id status = %d, want 404", resp.StatusCode)
	}
}

func TestBasicAuthGuardsAPI(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.Username, srv.Password = "admin", "secret"
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/v1/cache/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/cache/stats", nil)
	req.SetBasicAuth("admin", "secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("authenticated GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", resp.StatusCode)
	}

	// Playback stays open.
	resp, err = http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200 without auth", resp.StatusCode)
	}
}
