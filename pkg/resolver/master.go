package resolver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/whttp"
)

// maxMasterHops caps stream-selection redirects. One hop is enough for
// every upstream observed; anything deeper is a loop.
const maxMasterHops = 1

// isMasterManifest reports whether an HLS body is a stream-selection
// playlist rather than a media playlist.
func isMasterManifest(body string) bool {
	return strings.Contains(body, "#EXT-X-STREAM-INF")
}

// masterReference returns the first variant reference of a master
// manifest: the first non-empty, non-comment line.
func masterReference(body string) (string, bool) {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		return line, true
	}
	return "", false
}

// ResolveMasterReference turns a variant reference from a master manifest
// into an absolute URL against the master's own URL.
func ResolveMasterReference(masterURL, ref string) (string, error) {
	base, err := url.Parse(masterURL)
	if err != nil {
		return "", fmt.Errorf("parse master url: %w", err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse variant reference: %w", err)
	}
	return base.ResolveReference(refURL).String(), nil
}

// fetchFinalManifest fetches streamURL and follows at most one
// stream-selection hop, returning the final media URL and its body.
func fetchFinalManifest(ctx context.Context, streamURL string, client *http.Client) (string, string, error) {
	finalURL := streamURL
	var body string
	for hop := 0; ; hop++ {
		res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: finalURL}, client)
		if err != nil {
			return "", "", fmt.Errorf("fetch manifest: %w", err)
		}
		if res.StatusCode != 200 {
			return "", "", fmt.Errorf("fetch manifest: status %d", res.StatusCode)
		}
		body = res.BodyString
		if !isMasterManifest(body) {
			return finalURL, body, nil
		}
		if hop >= maxMasterHops {
			return "", "", ErrMasterLoop
		}
		ref, ok := masterReference(body)
		if !ok {
			return "", "", fmt.Errorf("master manifest without variant reference")
		}
		next, err := ResolveMasterReference(finalURL, ref)
		if err != nil {
			return "", "", err
		}
		utils.Log.Debugf("Master manifest at %s, following variant %s", finalURL, next)
		finalURL = next
	}
}
