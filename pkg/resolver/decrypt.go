package resolver

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/qq148376839/video-parser-service/internal/utils"
	"github.com/qq148376839/video-parser-service/pkg/whttp"
)

var (
	configURLPattern = regexp.MustCompile(`"url"\s*:\s*"([^"]+)"`)
	configUIDPattern = regexp.MustCompile(`"uid"\s*:\s*"([^"]+)"`)
)

// The player page derives its AES key from the uid with these fixed
// affixes; the IV is a constant.
const (
	decryptKeyPrefix = "2890"
	decryptKeySuffix = "tB959C"
	decryptIV        = "2F131BE91247866E"
)

// DecryptResolver scrapes a public parser page and decrypts the stream
// URL embedded in its player config. Stateless; last strategy in the
// chain.
type DecryptResolver struct {
	parserURL string
	client    *http.Client
}

func NewDecryptResolver(parserURL string, client *http.Client) *DecryptResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &DecryptResolver{
		parserURL: strings.TrimSuffix(parserURL, "/"),
		client:    client,
	}
}

func (r *DecryptResolver) Name() string { return "decrypt" }

func (r *DecryptResolver) Resolve(ctx context.Context, rawURL string) (Stream, error) {
	pageURL := r.parserURL + "/?url=" + url.QueryEscape(rawURL)
	res, err := whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: pageURL}, r.client)
	if err != nil {
		return Stream{}, fmt.Errorf("fetch parser page: %w", err)
	}
	if res.StatusCode != 200 {
		return Stream{}, fmt.Errorf("parser page status %d", res.StatusCode)
	}

	iframeURL, err := extractIframeURL(res.BodyString, pageURL)
	if err != nil {
		return Stream{}, err
	}

	res, err = whttp.SendHTTPRequest(ctx, &whttp.WHTTPReq{URL: iframeURL}, r.client)
	if err != nil {
		return Stream{}, fmt.Errorf("fetch player frame: %w", err)
	}
	if res.StatusCode != 200 {
		return Stream{}, fmt.Errorf("player frame status %d", res.StatusCode)
	}

	encrypted, uid, err := extractPlayerConfig(res.BodyString)
	if err != nil {
		return Stream{}, err
	}

	decrypted, err := decryptStreamURL(encrypted, uid)
	if err != nil {
		return Stream{}, err
	}
	utils.Log.Debugf("Decrypted stream URL for %s", rawURL)
	return Stream{FinalURL: decrypted}, nil
}

func extractIframeURL(page, pageURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse parser page: %w", err)
	}
	src, ok := doc.Find("iframe[src]").First().Attr("src")
	if !ok || src == "" {
		return "", fmt.Errorf("no player iframe on parser page")
	}
	if utils.IsHTTPURL(src) {
		return src, nil
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(src)
	if err != nil {
		return "", fmt.Errorf("bad iframe src %q: %w", src, err)
	}
	return base.ResolveReference(ref).String(), nil
}

func extractPlayerConfig(frame string) (encrypted, uid string, err error) {
	urlMatch := configURLPattern.FindStringSubmatch(frame)
	uidMatch := configUIDPattern.FindStringSubmatch(frame)
	if urlMatch == nil || uidMatch == nil {
		return "", "", fmt.Errorf("player config not found in frame")
	}
	return strings.ReplaceAll(urlMatch[1], `\/`, "/"), uidMatch[1], nil
}

// decryptStreamURL undoes the player's AES-128-CBC obfuscation:
// key = MD5(prefix + uid + suffix), constant ASCII IV, PKCS#7 padding.
func decryptStreamURL(encrypted, uid string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("decode encrypted url: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("encrypted url length %d not a block multiple", len(data))
	}

	key := md5.Sum([]byte(decryptKeyPrefix + uid + decryptKeySuffix))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", err
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, []byte(decryptIV)).CryptBlocks(plain, data)

	plain, err = stripPKCS7(plain)
	if err != nil {
		return "", err
	}
	result := string(plain)
	if !utils.IsHTTPURL(result) {
		return "", fmt.Errorf("decrypted value is not a URL")
	}
	return result, nil
}

func stripPKCS7(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	pad := int(b[len(b)-1])
	if pad == 0 || pad > aes.BlockSize || pad > len(b) {
		return nil, fmt.Errorf("bad padding")
	}
	for _, c := range b[len(b)-pad:] {
		if int(c) != pad {
			return nil, fmt.Errorf("bad padding")
		}
	}
	return b[:len(b)-pad], nil
}
