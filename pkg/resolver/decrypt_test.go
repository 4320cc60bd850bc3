package resolver

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

// encryptForTest mirrors the player page's obfuscation so the resolver's
// decryption can be exercised end to end.
func encryptForTest(t *testing.T, plain, uid string) string {
	t.Helper()
	key := md5.Sum([]byte(decryptKeyPrefix + uid + decryptKeySuffix))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		t.Fatalf("aes.NewCipher: %v", err)
	}
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := []byte(plain)
	for i := 0; i < pad; i++ {
		padded = append(padded, byte(pad))
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, []byte(decryptIV)).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out)
}

func TestDecryptStreamURLRoundTrip(t *testing.T) {
	const streamURL = "https://cdn.test/play/hls/abc/index.m3u8"
	const uid = "8bd9c7a2"

	got, err := decryptStreamURL(encryptForTest(t, streamURL, uid), uid)
	if err != nil {
		t.Fatalf("decryptStreamURL: %v", err)
	}
	if got != streamURL {
		t.Errorf("decrypted = %q, want %q", got, streamURL)
	}
}

func TestDecryptStreamURLRejectsGarbage(t *testing.T) {
	if _, err := decryptStreamURL("not-base64!!!", "u"); err == nil {
		t.Error("decrypt succeeded on invalid base64")
	}
	if _, err := decryptStreamURL(base64.StdEncoding.EncodeToString([]byte("short")), "u"); err == nil {
		t.Error("decrypt succeeded on non-block-aligned input")
	}
	// Wrong uid produces padding garbage, not a URL.
	enc := encryptForTest(t, "https://cdn.test/x.m3u8", "right-uid")
	if _, err := decryptStreamURL(enc, "wrong-uid"); err == nil {
		t.Error("decrypt succeeded with the wrong uid")
	}
}

func TestDecryptResolverEndToEnd(t *testing.T) {
	const uid = "42abc"
	streamURL := "" // filled in once the manifest server exists

	manifestSrv := newManifestServer(t)
	streamURL = manifestSrv.URL + "/final.m3u8"

	mux := http.NewServeMux()
	parserSrv := httptest.NewServer(mux)
	t.Cleanup(parserSrv.Close)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><iframe src="/player?id=1"></iframe></body></html>`)
	})
	mux.HandleFunc("/player", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<script>var ConFig = {"url":"%s","config":{"uid":"%s"}}</script>`,
			encryptForTest(t, streamURL, uid), uid)
	})

	r := NewDecryptResolver(parserSrv.URL, nil)
	stream, err := r.Resolve(context.Background(), "https://v.test/ep1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if stream.FinalURL != streamURL {
		t.Errorf("FinalURL = %q, want %q", stream.FinalURL, streamURL)
	}
}

func TestExtractIframeURLRelative(t *testing.T) {
	page := `<html><iframe src="/play/frame.html"></iframe></html>`
	got, err := extractIframeURL(page, "https://jx.test/?url=x")
	if err != nil {
		t.Fatalf("extractIframeURL: %v", err)
	}
	if got != "https://jx.test/play/frame.html" {
		t.Errorf("iframe URL = %q", got)
	}

	if _, err := extractIframeURL("<html><p>no frame</p></html>", "https://jx.test/"); err == nil {
		t.Error("extractIframeURL succeeded without an iframe")
	}
}
