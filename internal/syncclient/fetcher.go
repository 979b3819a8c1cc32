package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/erimias46/babrber-frontend-sub000/internal/requests"
)

// HTTPFetcher reads booking requests from the API with a bearer token.
type HTTPFetcher struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPFetcher(baseURL, token string, client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFetcher{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

func (f *HTTPFetcher) Get(ctx context.Context, id string) (*requests.BookingRequest, error) {
	var out requests.BookingRequest
	if err := f.do(ctx, "/requests/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (f *HTTPFetcher) List(ctx context.Context) ([]requests.BookingRequest, error) {
	var out struct {
		Requests []requests.BookingRequest `json:"requests"`
	}
	if err := f.do(ctx, "/requests", &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

func (f *HTTPFetcher) do(ctx context.Context, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path, nil)
	if err != nil {
		return err
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("syncclient: GET %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return requests.ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("syncclient: GET %s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("syncclient: decode %s: %w", path, err)
	}
	return nil
}
