package fleet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"lsfleet-agent/internal/model"
)

const maxResponseBytes = 4 << 20

// Fetcher retrieves one child's snapshot.
type Fetcher interface {
	Fetch(ctx context.Context, addr string) (model.NodeSnapshot, error)
}

// HTTPFetcher GETs the child node endpoint built from a URL template in
// which "{addr}" is replaced by the child identifier.
type HTTPFetcher struct {
	client      *http.Client
	urlTemplate string
}

func NewHTTPFetcher(urlTemplate string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPFetcher{client: client, urlTemplate: urlTemplate}
}

func (f *HTTPFetcher) URL(addr string) string {
	return strings.ReplaceAll(f.urlTemplate, "{addr}", addr)
}

func (f *HTTPFetcher) Fetch(ctx context.Context, addr string) (model.NodeSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(addr), nil)
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("build request for %s: %w", addr, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.NodeSnapshot{}, fmt.Errorf("fetch %s: timed out", addr)
		}
		return model.NodeSnapshot{}, fmt.Errorf("fetch %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return model.NodeSnapshot{}, fmt.Errorf("%w: %s from %s", ErrBadStatus, resp.Status, addr)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("read %s: %w", addr, err)
	}
	var res model.NodeResult
	if err := json.Unmarshal(body, &res); err != nil {
		return model.NodeSnapshot{}, fmt.Errorf("%w from %s: %v", ErrDecode, addr, err)
	}
	if !res.OK() {
		return model.NodeSnapshot{}, fmt.Errorf("%s reported: %s", addr, res.Error)
	}
	return *res.Snapshot, nil
}
