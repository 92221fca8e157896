// Package providertest provides a configurable in-memory adapter for tests.
package providertest

import (
	"context"
	"sync"

	"github.com/example/topup-engine/internal/provider"
)

// Fake implements provider.Adapter with per-call hooks and call recording.
// Unset hooks fall back to benign defaults.
type Fake struct {
	mu sync.Mutex

	QuoteFunc  func(ctx context.Context, params provider.QuoteParams) (int64, error)
	PlaceFunc  func(ctx context.Context, params provider.PlaceParams) (provider.PlaceResult, error)
	CancelFunc func(ctx context.Context, ref string) error
	PollFunc   func(ctx context.Context, ref string) (provider.StatusResult, error)

	QuoteCalls  []provider.QuoteParams
	PlaceCalls  []provider.PlaceParams
	CancelCalls []string
	PollCalls   []string
}

var _ provider.Adapter = (*Fake)(nil)

func (f *Fake) Quote(ctx context.Context, params provider.QuoteParams) (int64, error) {
	f.mu.Lock()
	f.QuoteCalls = append(f.QuoteCalls, params)
	f.mu.Unlock()
	if f.QuoteFunc != nil {
		return f.QuoteFunc(ctx, params)
	}
	return 10000, nil
}

func (f *Fake) Place(ctx context.Context, params provider.PlaceParams) (provider.PlaceResult, error) {
	f.mu.Lock()
	f.PlaceCalls = append(f.PlaceCalls, params)
	f.mu.Unlock()
	if f.PlaceFunc != nil {
		return f.PlaceFunc(ctx, params)
	}
	return provider.PlaceResult{Ref: "fake-" + params.RefID, State: provider.StatePending}, nil
}

func (f *Fake) Cancel(ctx context.Context, ref string) error {
	f.mu.Lock()
	f.CancelCalls = append(f.CancelCalls, ref)
	f.mu.Unlock()
	if f.CancelFunc != nil {
		return f.CancelFunc(ctx, ref)
	}
	return nil
}

func (f *Fake) PollStatus(ctx context.Context, ref string) (provider.StatusResult, error) {
	f.mu.Lock()
	f.PollCalls = append(f.PollCalls, ref)
	f.mu.Unlock()
	if f.PollFunc != nil {
		return f.PollFunc(ctx, ref)
	}
	return provider.StatusResult{State: provider.StatePending}, nil
}
