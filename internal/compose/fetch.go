package compose

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SourceFetcher retrieves the raw bytes of a previously generated source
// image. A failed fetch is always a hard failure for the composite.
type SourceFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

const maxSourceBytes = 32 << 20

// HTTPFetcher fetches source images with a plain GET. No retries: one
// failed fetch is one failed composite.
type HTTPFetcher struct {
	client *http.Client
}

func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build source request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch source image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch source image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read source image body: %w", err)
	}
	if len(data) > maxSourceBytes {
		return nil, fmt.Errorf("source image exceeds %d bytes", maxSourceBytes)
	}
	return data, nil
}
