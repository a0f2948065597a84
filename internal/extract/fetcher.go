package extract

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxFetchBody caps how much of a response body is read. 20 MiB is far past
// any sane HTML document.
const maxFetchBody = 20 << 20

// HTTPFetcher retrieves page HTML without a browser, for extraction paths
// that do not need JavaScript. Requests are rate limited per host.
type HTTPFetcher struct {
	client      *http.Client
	userAgent   string
	ratePerHost rate.Limit
	logger      *zap.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewHTTPFetcher builds a fetcher. ratePerHost is requests per second
// allowed against a single host; zero or negative disables limiting.
func NewHTTPFetcher(timeout time.Duration, userAgent string, ratePerHost float64, logger *zap.Logger) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				// Compression is negotiated explicitly so brotli can be
				// offered alongside gzip.
				DisableCompression: true,
			},
		},
		userAgent:   userAgent,
		ratePerHost: rate.Limit(ratePerHost),
		logger:      logger.Named("fetcher"),
		limiters:    make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		l = rate.NewLimiter(f.ratePerHost, 1)
		f.limiters[host] = l
	}
	return l
}

// Fetch retrieves the page at rawURL and returns its decoded HTML and the
// HTTP status code. Non-2xx statuses are returned as errors alongside the
// status so callers can report them.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (string, int, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", 0, fmt.Errorf("invalid URL %q", rawURL)
	}

	if f.ratePerHost > 0 {
		if err := f.limiter(u.Host).Wait(ctx); err != nil {
			return "", 0, fmt.Errorf("rate limit wait canceled: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Encoding", "br, gzip")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request to %s failed: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read response from %s: %w", rawURL, err)
	}

	f.logger.Debug("Fetched page.",
		zap.String("url", rawURL),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return string(body), resp.StatusCode, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return string(body), resp.StatusCode, nil
}

// decodeBody decompresses the response according to Content-Encoding.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = io.LimitReader(resp.Body, maxFetchBody)

	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		reader = brotli.NewReader(reader)
	case "gzip":
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return nil, fmt.Errorf("bad gzip stream: %w", err)
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}
