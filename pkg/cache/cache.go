// Package cache memoizes fully resolved search results in durable
// storage. Resolution costs seconds per episode while a cache read costs
// tens of milliseconds, so everything already resolved must be reusable:
// expiry is lazy, empty results are never stored, and re-resolution after
// a catalog change is limited to the episode delta (see merge.go).
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/catalog"
	"github.com/qq148376839/video-parser-service/pkg/resolver"
	"github.com/qq148376839/video-parser-service/pkg/storage"
)

const timeLayout = "2006-01-02 15:04:05"

// ResolvedEpisode pairs the upstream raw URL with its resolved stream.
// The raw URL is retained so a later merge can tell new episodes from
// already-resolved ones by value.
type ResolvedEpisode struct {
	Label  string          `json:"label,omitempty"`
	RawURL string          `json:"raw_url"`
	Stream resolver.Stream `json:"stream"`
}

// ResolvedItem is one catalog item with its resolved episode sequence.
type ResolvedItem struct {
	Item     catalog.Item      `json:"item"`
	Episodes []ResolvedEpisode `json:"episodes"`
}

// Entry is one cached search result.
type Entry struct {
	Key       string
	Items     []ResolvedItem
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpireAt  time.Time
	HitCount  int
}

type Cache struct {
	db  *storage.DB
	ttl time.Duration
}

func New(db *storage.DB, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Cache{db: db, ttl: ttl}
}

// NormalizeKey folds a query into its cache key form.
func NormalizeKey(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Get returns the entry for key if present and unexpired. An expired
// entry is a miss but is left in place for ClearExpired. A hit bumps the
// hit counter.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool, error) {
	key = NormalizeKey(key)
	row := c.db.SQL().QueryRowContext(ctx, `
SELECT results, created_at, updated_at, expire_at, hit_count
FROM search_cache WHERE keyword = ?`, key)

	var raw, createdAt, updatedAt, expireAt string
	var hits int
	err := row.Scan(&raw, &createdAt, &updatedAt, &expireAt, &hits)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	entry := Entry{
		Key:       key,
		CreatedAt: parseTime(createdAt),
		UpdatedAt: parseTime(updatedAt),
		ExpireAt:  parseTime(expireAt),
		HitCount:  hits,
	}
	if !time.Now().UTC().Before(entry.ExpireAt) {
		utils.Log.Debugf("Cache entry for %q expired", key)
		return Entry{}, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &entry.Items); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached results for %q: %w", key, err)
	}

	if _, err := c.db.SQL().ExecContext(ctx,
		"UPDATE search_cache SET hit_count = hit_count + 1 WHERE keyword = ?", key); err != nil {
		utils.Log.Warnf("Could not bump hit count for %q: %v", key, err)
	} else {
		entry.HitCount++
	}
	return entry, true, nil
}

// Put stores items under key with a fresh TTL. An empty item list is a
// no-op: a transient upstream failure must not evict a good entry or
// cache the failure. An existing entry keeps its created_at and
// hit_count; only results, updated_at and expire_at move.
func (c *Cache) Put(ctx context.Context, key string, items []ResolvedItem) error {
	if len(items) == 0 {
		utils.Log.Debugf("Refusing to cache empty result for %q", key)
		return nil
	}
	key = NormalizeKey(key)
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode results for %q: %w", key, err)
	}
	now := time.Now().UTC()
	_, err = c.db.SQL().ExecContext(ctx, `
INSERT INTO search_cache (keyword, results, created_at, updated_at, expire_at, hit_count)
VALUES (?, ?, ?, ?, ?, 0)
ON CONFLICT(keyword) DO UPDATE SET
  results    = excluded.results,
  updated_at = excluded.updated_at,
  expire_at  = excluded.expire_at`,
		key, string(raw),
		now.Format(timeLayout), now.Format(timeLayout),
		now.Add(c.ttl).Format(timeLayout))
	if err != nil {
		return fmt.Errorf("persist cache entry for %q: %w", key, err)
	}
	return nil
}

// Clear removes the entry for key. Idempotent.
func (c *Cache) Clear(ctx context.Context, key string) error {
	_, err := c.db.SQL().ExecContext(ctx,
		"DELETE FROM search_cache WHERE keyword = ?", NormalizeKey(key))
	return err
}

// ClearExpired removes every entry past its expiry and reports how many
// went. Idempotent.
func (c *Cache) ClearExpired(ctx context.Context) (int64, error) {
	res, err := c.db.SQL().ExecContext(ctx,
		"DELETE FROM search_cache WHERE expire_at < ?", time.Now().UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type Stats struct {
	Total     int   `json:"total"`
	Expired   int   `json:"expired"`
	TotalHits int64 `json:"total_hits"`
}

func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	row := c.db.SQL().QueryRowContext(ctx, `
SELECT COUNT(*),
       SUM(CASE WHEN expire_at < ? THEN 1 ELSE 0 END),
       COALESCE(SUM(hit_count), 0)
FROM search_cache`, time.Now().UTC().Format(timeLayout))
	var expired sql.NullInt64
	if err := row.Scan(&st.Total, &expired, &st.TotalHits); err != nil {
		return Stats{}, err
	}
	st.Expired = int(expired.Int64)
	return st, nil
}

func parseTime(s string) time.Time {
	if t, err := time.ParseInLocation(timeLayout, s, time.UTC); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
