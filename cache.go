package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// cachedResponse is a helper struct to store the response fields
// we care about in a simple JSON format.
type cachedResponse struct {
	Status     string              `json:"status"`
	StatusCode int                 `json:"status_code"`
	Proto      string              `json:"proto"`
	Header     map[string][]string `json:"header"`
	Body       []byte              `json:"body"`
	FetchedAt  time.Time           `json:"fetched_at"`
}

// CachingRoundTripper implements http.RoundTripper, keeping successful GET
// responses on disk for up to TTL.
type CachingRoundTripper struct {
	// UnderlyingTransport will be used when there's a cache miss.
	// If nil, http.DefaultTransport will be used.
	UnderlyingTransport http.RoundTripper

	// CacheDir is the directory where response files are stored.
	CacheDir string

	// TTL is how long a cached response is served before it is refetched.
	// Zero keeps entries forever.
	TTL time.Duration

	now func() time.Time
}

func (c *CachingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := c.UnderlyingTransport
	if transport == nil {
		transport = http.DefaultTransport
	}

	if req.Method != http.MethodGet {
		return transport.RoundTrip(req)
	}

	// The Authorization header is part of the key so different API keys never share entries.
	cacheFilePath := c.cacheFilePath(cacheKey(req.Method, req.URL.String(), req.Header.Get("Authorization")))

	if cr, err := loadCachedResponse(cacheFilePath); err == nil && c.fresh(cr) {
		return buildHTTPResponse(req, *cr), nil
	}

	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	cr := cachedResponse{
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Proto:      resp.Proto,
		Header:     resp.Header.Clone(),
		Body:       respBodyBytes,
		FetchedAt:  c.clock(),
	}

	// Errors are never cached, the next cycle should try again.
	if resp.StatusCode/100 == 2 {
		if err := saveCachedResponse(cacheFilePath, &cr); err != nil {
			return nil, err
		}
	}

	return buildHTTPResponse(req, cr), nil
}

func (c *CachingRoundTripper) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *CachingRoundTripper) fresh(cr *cachedResponse) bool {
	if c.TTL <= 0 {
		return true
	}
	return c.clock().Sub(cr.FetchedAt) < c.TTL
}

// cacheKey builds a SHA-256 hash string from method, url and credential.
func cacheKey(method, url, auth string) string {
	hash := sha256.New()
	hash.Write([]byte(method))
	hash.Write([]byte(url))
	hash.Write([]byte(auth))
	return hex.EncodeToString(hash.Sum(nil))
}

// cacheFilePath returns the path to the cache file for the given key.
func (c *CachingRoundTripper) cacheFilePath(key string) string {
	return filepath.Join(c.CacheDir, fmt.Sprintf("%s.json", key))
}

// loadCachedResponse reads and deserializes a cached file.
func loadCachedResponse(path string) (*cachedResponse, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cr cachedResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, err
	}
	return &cr, nil
}

// saveCachedResponse saves the response struct to a file in JSON format.
func saveCachedResponse(path string, cr *cachedResponse) error {
	data, err := json.MarshalIndent(cr, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// buildHTTPResponse constructs a new *http.Response from cachedResponse data.
func buildHTTPResponse(req *http.Request, cr cachedResponse) *http.Response {
	return &http.Response{
		Status:        cr.Status,
		StatusCode:    cr.StatusCode,
		Proto:         cr.Proto,
		Header:        cr.Header,
		Body:          io.NopCloser(bytes.NewReader(cr.Body)),
		ContentLength: int64(len(cr.Body)),
		Request:       req,
	}
}
