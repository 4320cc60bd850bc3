package catalog

import (
	"strings"

	"github.com/qq148376839/video-parser-service/internal/utils"
)

// Play manifests arrive in one of two delimiter grammars:
//
//	standard: <group>$<url1>$<url2>...
//	labeled:  <group>$<label1>$<url1>#<label2>$<url2>#...
//
// Multiple play-source groups are separated by $$$. The group yielding the
// most extractable URLs is the one worth resolving.

// ParseManifest extracts the episode sequence from a raw vod_play_url
// value. Tokens that are not absolute http(s) URLs are dropped.
func ParseManifest(raw string) []Episode {
	var best []Episode
	for _, group := range strings.Split(raw, "$$$") {
		eps := parseGroup(strings.TrimSpace(group))
		if len(eps) > len(best) {
			best = eps
		}
	}
	return best
}

func parseGroup(group string) []Episode {
	if group == "" || !strings.Contains(group, "$") {
		return nil
	}
	_, rest, _ := strings.Cut(group, "$")
	rest = strings.TrimSpace(rest)

	if strings.Contains(rest, "#") {
		// Labeled grammar. A part without its own $ is a bare URL
		// (positional episode, empty label).
		var eps []Episode
		for _, part := range strings.Split(rest, "#") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			label, url, found := strings.Cut(part, "$")
			if !found {
				label, url = "", part
			}
			url = strings.TrimSpace(url)
			if utils.IsHTTPURL(url) {
				eps = append(eps, Episode{Label: strings.TrimSpace(label), RawURL: url})
			}
		}
		return eps
	}

	var eps []Episode
	for _, token := range strings.Split(rest, "$") {
		token = strings.TrimSpace(token)
		if utils.IsHTTPURL(token) {
			eps = append(eps, Episode{RawURL: token})
		}
	}
	return eps
}

// FormatManifest renders episodes back into the upstream grammar, used to
// answer catalog-protocol callers with a drop-in vod_play_url. Labeled
// episodes use the labeled grammar; purely positional ones the standard one.
func FormatManifest(group string, eps []Episode) string {
	if len(eps) == 0 {
		return ""
	}
	if group == "" {
		group = "正片"
	}
	labeled := false
	for _, ep := range eps {
		if ep.Label != "" {
			labeled = true
			break
		}
	}
	parts := make([]string, 0, len(eps))
	if labeled {
		for _, ep := range eps {
			parts = append(parts, ep.Label+"$"+ep.RawURL)
		}
		return group + "$" + strings.Join(parts, "#")
	}
	for _, ep := range eps {
		parts = append(parts, ep.RawURL)
	}
	return group + "$" + strings.Join(parts, "$")
}
