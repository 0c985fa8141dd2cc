package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/teleregnet/syncbridge/record"
)

// HTTPFetcher fetches a snapshot from a connector endpoint that serves the
// agency's remote records as a JSON array. It is the simplest concrete
// SnapshotFetcher; real harvesters plug in behind the same interface.
type HTTPFetcher struct {
	client *http.Client
}

var _ SnapshotFetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates an HTTPFetcher. A nil client uses
// http.DefaultClient; per-fetch timeouts come from the context, not the
// client, so WithTimeout keeps working.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, agencyID string, cfg Config) ([]record.RemoteRecord, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("fetch source endpoint is required")
	}

	endpoint, err := url.Parse(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("invalid fetch source %q: %w", cfg.Source, err)
	}
	q := endpoint.Query()
	q.Set("agency", agencyID)
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		// Unwrap the url.Error so context.DeadlineExceeded stays matchable.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot endpoint returned %s", resp.Status)
	}

	var records []record.RemoteRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	for i := range records {
		if records[i].AgencyID == "" {
			records[i].AgencyID = agencyID
		}
	}
	return records, nil
}
