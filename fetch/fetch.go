// Package fetch defines the contract for the external snapshot source and
// the timeout handling around it. The actual harvesting (scraping, partner
// APIs, connectors) lives outside the engine; it only has to yield a
// point-in-time set of remote records for one agency.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	syncErrors "github.com/teleregnet/syncbridge/errors"
	"github.com/teleregnet/syncbridge/record"
)

// DefaultTimeout bounds the snapshot fetch when the config leaves it unset.
const DefaultTimeout = 30 * time.Second

// Config describes one fetch run against an agency's external source.
type Config struct {
	// Source identifies the external system, e.g. a connector name or URL.
	Source string `json:"source" yaml:"source"`

	// Params are passed opaquely to the fetcher implementation.
	Params map[string]string `json:"params,omitempty" yaml:"params,omitempty"`

	// Timeout bounds the whole fetch. Zero means DefaultTimeout.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// SnapshotFetcher is the consumed interface for the remote data source.
// Implementations may be slow and may fail; the engine never lets a fetch
// hold the per-agency session guard open indefinitely.
type SnapshotFetcher interface {
	Fetch(ctx context.Context, agencyID string, cfg Config) ([]record.RemoteRecord, error)
}

// FetcherFunc adapts a function to the SnapshotFetcher interface.
type FetcherFunc func(ctx context.Context, agencyID string, cfg Config) ([]record.RemoteRecord, error)

func (f FetcherFunc) Fetch(ctx context.Context, agencyID string, cfg Config) ([]record.RemoteRecord, error) {
	return f(ctx, agencyID, cfg)
}

// WithTimeout runs one fetch bounded by cfg.Timeout (or DefaultTimeout) and
// converts a deadline overrun into ErrFetchTimeout so the session can be
// failed with a recognizable "timeout" error.
func WithTimeout(ctx context.Context, fetcher SnapshotFetcher, agencyID string, cfg Config) ([]record.RemoteRecord, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	records, err := fetcher.Fetch(fetchCtx, agencyID, cfg)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", syncErrors.ErrFetchTimeout, timeout)
		}
		return nil, err
	}
	return records, nil
}
