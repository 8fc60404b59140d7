package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// Fetcher 资源获取
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// DefaultMaxAssetBytes caps a single fetched asset when no limit is set.
const DefaultMaxAssetBytes int64 = 64 << 20

var ErrAssetTooLarge = errors.New("asset exceeds size limit")

// URLFetcher resolves http(s)://, file:// and plain filesystem paths.
type URLFetcher struct {
	Client *http.Client
	// MaxBytes rejects larger assets. 0 means DefaultMaxAssetBytes.
	MaxBytes int64
}

type FetchOption func(*URLFetcher)

func WithHTTPClient(c *http.Client) FetchOption {
	return func(f *URLFetcher) { f.Client = c }
}

func WithMaxBytes(n int64) FetchOption {
	return func(f *URLFetcher) { f.MaxBytes = n }
}

func NewURLFetcher(opts ...FetchOption) *URLFetcher {
	f := &URLFetcher{Client: http.DefaultClient}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *URLFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return f.fetchHTTP(ctx, rawURL)
	case strings.HasPrefix(rawURL, "file://"):
		u, err := url.Parse(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", rawURL, err)
		}
		return f.readFile(ctx, u.Path)
	default:
		return f.readFile(ctx, rawURL)
	}
}

func (f *URLFetcher) limit() int64 {
	if f.MaxBytes > 0 {
		return f.MaxBytes
	}
	return DefaultMaxAssetBytes
}

func (f *URLFetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", rawURL, resp.Status)
	}
	if resp.ContentLength > f.limit() {
		return nil, fmt.Errorf("fetch %s: %w (%d > %d bytes)", rawURL, ErrAssetTooLarge, resp.ContentLength, f.limit())
	}
	return f.readLimited(resp.Body, rawURL)
}

func (f *URLFetcher) readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if info, err := file.Stat(); err == nil && info.Size() > f.limit() {
		return nil, fmt.Errorf("read %s: %w (%d > %d bytes)", path, ErrAssetTooLarge, info.Size(), f.limit())
	}
	return f.readLimited(file, path)
}

// readLimited reads one byte past the limit to tell a full read from a
// truncated one.
func (f *URLFetcher) readLimited(r io.Reader, name string) ([]byte, error) {
	limit := f.limit()
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("read %s: %w (limit %d bytes)", name, ErrAssetTooLarge, limit)
	}
	return data, nil
}
