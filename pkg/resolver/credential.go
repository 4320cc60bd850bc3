package resolver

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/credstore"
	"github.com/qq148376839/video-parser-service/pkg/whttp"
)

var (
	varURLPattern  = regexp.MustCompile(`var url = "([^"]+)"`)
	bodyM3U8Regexp = regexp.MustCompile(`https?://[^\s"'<>]+\.m3u8[^\s"'<>]*`)
)

// CredentialResolver calls the paid resolve API with a rotating credential
// from the pool. It is the first strategy in the chain.
type CredentialResolver struct {
	store    *credstore.Store
	endpoint string
	client   *http.Client
}

// NewCredentialResolver wires the resolver against a credential pool.
// The upstream endpoint 302s to the manifest for some credentials and
// serves manifest content inline for others; redirects stay unfollowed so
// the Location header can be read directly.
func NewCredentialResolver(store *credstore.Store, endpoint string, timeout time.Duration) *CredentialResolver {
	rc := retryablehttp.NewClient()
	rc.Logger = log.New(io.Discard, "", 0)
	rc.RetryMax = 1
	rc.HTTPClient.Timeout = timeout
	rc.HTTPClient.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &CredentialResolver{
		store:    store,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   rc.StandardClient(),
	}
}

func (r *CredentialResolver) Name() string { return "credential" }

func (r *CredentialResolver) Resolve(ctx context.Context, rawURL string) (Stream, error) {
	cred, err := r.store.CheckoutNext(ctx)
	if err != nil {
		return Stream{}, err
	}

	apiURL := fmt.Sprintf("%s?uid=%s&my=%s&url=%s",
		r.endpoint, url.QueryEscape(cred.UID), url.QueryEscape(cred.AccessKey), url.QueryEscape(rawURL))

	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: apiURL}, r.client)
	if err != nil {
		return Stream{}, fmt.Errorf("resolve api call: %w", err)
	}

	// Some credentials get a redirect straight to the manifest.
	if res.StatusCode >= 300 && res.StatusCode < 400 {
		if res.Location == "" {
			return Stream{}, fmt.Errorf("resolve api redirect without location (uid=%s)", cred.UID)
		}
		utils.Log.Debugf("Credential %s resolved via redirect", cred.UID)
		return Stream{FinalURL: res.Location}, nil
	}
	if res.StatusCode != 200 {
		return Stream{}, fmt.Errorf("resolve api status %d (uid=%s)", res.StatusCode, cred.UID)
	}

	// Inline manifest content: the api URL itself is the fetchable stream.
	if strings.HasPrefix(strings.TrimSpace(res.BodyString), "#EXTM3U") {
		utils.Log.Debugf("Credential %s returned inline manifest", cred.UID)
		return Stream{FinalURL: apiURL}, nil
	}

	// Legacy responses embed the manifest URL in HTML or JSON.
	if m := varURLPattern.FindStringSubmatch(res.BodyString); m != nil {
		return Stream{FinalURL: m[1]}, nil
	}
	if m := bodyM3U8Regexp.FindString(res.BodyString); m != "" {
		return Stream{FinalURL: m}, nil
	}

	return Stream{}, fmt.Errorf("no manifest in resolve api response (uid=%s)", cred.UID)
}
