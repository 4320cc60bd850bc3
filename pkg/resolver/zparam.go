package resolver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/storage"
	"github.com/qq148376839/video-parser-service/pkg/whttp"
)

const paramKey = "z_param"

// ParamSnapshot is the shared signing parameter triple the resolve API
// expects. It expires upstream every few hours; an external job (or the
// HTTP refresh endpoint) replaces it.
type ParamSnapshot struct {
	Z         string    `json:"z"`
	S1ig      string    `json:"s1ig"`
	G         string    `json:"g"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParameterResolver signs resolve requests with a refreshable shared
// parameter. Second strategy in the chain.
type ParameterResolver struct {
	apiBase    string
	refreshURL string
	ttl        time.Duration
	client     *http.Client
	db         *storage.DB

	mu   sync.RWMutex
	snap ParamSnapshot
}

// NewParameterResolver loads the last persisted snapshot, if any.
// refreshURL may be empty when only the external job supplies parameters.
func NewParameterResolver(db *storage.DB, apiBase, refreshURL string, ttl time.Duration, client *http.Client) *ParameterResolver {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	if client == nil {
		client = http.DefaultClient
	}
	r := &ParameterResolver{
		apiBase:    strings.TrimSuffix(apiBase, "/"),
		refreshURL: refreshURL,
		ttl:        ttl,
		client:     client,
		db:         db,
	}
	if snap, err := r.loadSnapshot(context.Background()); err == nil {
		r.snap = snap
	} else if !errors.Is(err, sql.ErrNoRows) {
		utils.Log.Warnf("Could not load signing parameter: %v", err)
	}
	return r
}

func (r *ParameterResolver) Name() string { return "parameter" }

// Age returns how old the current parameter is; used by the health check.
func (r *ParameterResolver) Age() (time.Duration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snap.Z == "" {
		return 0, false
	}
	return time.Since(r.snap.UpdatedAt), true
}

func (r *ParameterResolver) current() (ParamSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.snap.Z == "" || time.Since(r.snap.UpdatedAt) > r.ttl {
		return ParamSnapshot{}, false
	}
	return r.snap, true
}

func (r *ParameterResolver) Resolve(ctx context.Context, rawURL string) (Stream, error) {
	snap, ok := r.current()
	if !ok {
		var err error
		snap, err = r.Refresh(ctx)
		if err != nil {
			return Stream{}, fmt.Errorf("signing parameter unavailable: %w", err)
		}
	}

	apiURL := fmt.Sprintf("%s/api/v/?z=%s&jx=%s&s1ig=%s&g=%s",
		r.apiBase, url.QueryEscape(snap.Z), url.QueryEscape(rawURL),
		url.QueryEscape(snap.S1ig), url.QueryEscape(snap.G))

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: apiURL}, r.client)
	if err != nil {
		return Stream{}, fmt.Errorf("signed api call: %w", err)
	}
	if res.StatusCode != 200 {
		return Stream{}, fmt.Errorf("signed api status %d", res.StatusCode)
	}

	// The api answers an expired parameter with an ad page, not an error
	// status.
	if strings.Contains(res.BodyString, "联系QQ") {
		r.invalidate()
		return Stream{}, fmt.Errorf("signing parameter rejected upstream")
	}

	if streamURL := findStreamURL(gjson.Parse(res.BodyString)); streamURL != "" {
		return Stream{FinalURL: streamURL}, nil
	}
	if m := bodyM3U8Regexp.FindString(res.BodyString); m != "" {
		return Stream{FinalURL: m}, nil
	}
	return Stream{}, fmt.Errorf("no manifest in signed api response")
}

// findStreamURL walks a JSON document for the first http(s) string value
// that references an m3u8 manifest. The api hides the URL at a different
// depth depending on the upstream platform.
func findStreamURL(v gjson.Result) string {
	if v.Type == gjson.String {
		s := v.String()
		if utils.IsHTTPURL(s) && strings.Contains(s, ".m3u8") {
			return s
		}
		return ""
	}
	var found string
	v.ForEach(func(_, value gjson.Result) bool {
		found = findStreamURL(value)
		return found == ""
	})
	return found
}

// Refresh fetches a new parameter snapshot over HTTP and persists it.
func (r *ParameterResolver) Refresh(ctx context.Context) (ParamSnapshot, error) {
	if r.refreshURL == "" {
		return ParamSnapshot{}, fmt.Errorf("no refresh endpoint configured")
	}
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: r.refreshURL}, r.client)
	if err != nil {
		return ParamSnapshot{}, fmt.Errorf("refresh call: %w", err)
	}
	if res.StatusCode != 200 {
		return ParamSnapshot{}, fmt.Errorf("refresh status %d", res.StatusCode)
	}
	snap := ParamSnapshot{
		Z:         gjson.Get(res.BodyString, "z").String(),
		S1ig:      gjson.Get(res.BodyString, "s1ig").String(),
		G:         gjson.Get(res.BodyString, "g").String(),
		UpdatedAt: time.Now(),
	}
	if snap.Z == "" {
		return ParamSnapshot{}, fmt.Errorf("refresh response missing z value")
	}

	r.mu.Lock()
	r.snap = snap
	r.mu.Unlock()

	if err := r.storeSnapshot(ctx, snap); err != nil {
		// A lost write only costs a refresh after restart.
		utils.Log.Warnf("Could not persist signing parameter: %v", err)
	}
	utils.Log.Info("Signing parameter refreshed")
	return snap, nil
}

func (r *ParameterResolver) invalidate() {
	r.mu.Lock()
	r.snap = ParamSnapshot{}
	r.mu.Unlock()
}

func (r *ParameterResolver) loadSnapshot(ctx context.Context) (ParamSnapshot, error) {
	if r.db == nil {
		return ParamSnapshot{}, sql.ErrNoRows
	}
	var raw string
	err := r.db.SQL().QueryRowContext(ctx,
		"SELECT param_value FROM param_cache WHERE param_key = ?", paramKey).Scan(&raw)
	if err != nil {
		return ParamSnapshot{}, err
	}
	var snap ParamSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return ParamSnapshot{}, err
	}
	return snap, nil
}

func (r *ParameterResolver) storeSnapshot(ctx context.Context, snap ParamSnapshot) error {
	if r.db == nil {
		return nil
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = r.db.SQL().ExecContext(ctx, `
INSERT OR REPLACE INTO param_cache (param_key, param_value, updated_at, expire_at)
VALUES (?, ?, datetime('now'), datetime('now', ?))`,
		paramKey, string(raw), fmt.Sprintf("+%d seconds", int(r.ttl.Seconds())))
	return err
}
