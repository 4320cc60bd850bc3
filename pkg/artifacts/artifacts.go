// Package artifacts persists resolved media manifests on disk, keyed by
// content hash. Callers are handed an opaque id instead of the upstream
// URL, so identical upstream content is served locally instead of being
// re-fetched.
package artifacts

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/spf13/afero"

	"github.com/qq148376839/video-parser-service/internal/utils"
)

var keyURIPattern = regexp.MustCompile(`URI=(["'])([^"']+)(["'])`)

type Store struct {
	fs  afero.Fs
	dir string
}

// NewStore writes artifacts under dir on the real filesystem.
func NewStore(dir string) (*Store, error) {
	return NewStoreFS(afero.NewOsFs(), dir)
}

// NewStoreFS is NewStore with an explicit filesystem, used by tests.
func NewStoreFS(fs afero.Fs, dir string) (*Store, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &Store{fs: fs, dir: dir}, nil
}

// Put rewrites relative references in the manifest against baseURL,
// strips injected ad segments and stores the result. The returned id is
// stable for identical content, so a Put of already-stored content is a
// no-op.
func (s *Store) Put(manifest, baseURL string) (string, error) {
	rewritten := CleanAdSegments(RewriteRelativeURIs(manifest, baseURL))
	sum := sha1.Sum([]byte(rewritten))
	id := hex.EncodeToString(sum[:])

	path := s.path(id)
	if ok, _ := afero.Exists(s.fs, path); ok {
		utils.Log.Debugf("Artifact %s already stored", id)
		return id, nil
	}
	if err := afero.WriteFile(s.fs, path, []byte(rewritten), 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", id, err)
	}
	return id, nil
}

// Get returns the stored manifest for id.
func (s *Store) Get(id string) (string, error) {
	if !validID(id) {
		return "", fmt.Errorf("invalid artifact id %q", id)
	}
	b, err := afero.ReadFile(s.fs, s.path(id))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Has reports whether id is stored without reading it.
func (s *Store) Has(id string) bool {
	if !validID(id) {
		return false
	}
	ok, _ := afero.Exists(s.fs, s.path(id))
	return ok
}

func (s *Store) path(id string) string {
	return s.dir + string(os.PathSeparator) + id + ".m3u8"
}

func validID(id string) bool {
	if len(id) != 40 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// RewriteRelativeURIs converts relative segment paths and EXT-X-KEY URIs in
// an HLS manifest into absolute URLs against base. Players fetching the
// stored artifact have no usable base of their own.
func RewriteRelativeURIs(manifest, base string) string {
	baseURL, err := url.Parse(base)
	if err != nil || !utils.IsHTTPURL(base) {
		return manifest
	}

	lines := strings.Split(manifest, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "#EXT-X-KEY"):
			lines[i] = keyURIPattern.ReplaceAllStringFunc(line, func(m string) string {
				parts := keyURIPattern.FindStringSubmatch(m)
				uri := parts[2]
				if utils.IsHTTPURL(uri) || strings.HasPrefix(uri, "//") {
					return m
				}
				abs := resolveAgainst(baseURL, uri)
				return "URI=" + parts[1] + abs + parts[3]
			})
		case trimmed != "" && !strings.HasPrefix(trimmed, "#"):
			if utils.IsHTTPURL(trimmed) || strings.HasPrefix(trimmed, "//") {
				continue
			}
			lines[i] = strings.Replace(line, trimmed, resolveAgainst(baseURL, trimmed), 1)
		}
	}
	return strings.Join(lines, "\n")
}

// CleanAdSegments strips segments injected into an HLS manifest by an ad
// network. Injected segments live on a different host than the real
// stream, so the host carrying the most segment URLs is the stream and
// every other host is dropped, together with the #EXTINF tag that
// precedes each dropped segment. Runs after relative URIs have been made
// absolute, so legitimate relative segments count toward the stream host.
func CleanAdSegments(manifest string) string {
	lines := strings.Split(manifest, "\n")

	counts := map[string]int{}
	for _, line := range lines {
		if host := segmentHost(line); host != "" {
			counts[host]++
		}
	}
	// One host means nothing was injected; zero means relative segments
	// survived without a parseable base.
	if len(counts) < 2 {
		return manifest
	}
	max := 0
	for _, c := range counts {
		if c > max {
			max = c
		}
	}

	out := make([]string, 0, len(lines))
	removed := 0
	for _, line := range lines {
		if host := segmentHost(line); host != "" && counts[host] != max {
			if len(out) > 0 && strings.HasPrefix(strings.TrimSpace(out[len(out)-1]), "#EXTINF") {
				out = out[:len(out)-1]
			}
			removed++
			continue
		}
		out = append(out, line)
	}
	if removed > 0 {
		utils.Log.Infof("Removed %d injected segment(s) from manifest", removed)
	}
	return strings.Join(out, "\n")
}

func segmentHost(line string) string {
	line = strings.TrimSpace(line)
	if !utils.IsHTTPURL(line) {
		return ""
	}
	u, err := url.Parse(line)
	if err != nil {
		return ""
	}
	return u.Host
}

func resolveAgainst(base *url.URL, ref string) string {
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(refURL).String()
}
