package provider

import (
	"context"
	"fmt"

	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
)

// State is a provider's view of one placement.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailed  State = "failed"
)

// QuoteParams identify a product variant for a wholesale price lookup. The
// lease fields are only set for virtual-number rentals.
type QuoteParams struct {
	SKU      string
	Qty      int
	Service  string
	Country  string
	Operator string
}

// PlaceParams describe one placement. RefID is the caller-chosen reference
// the provider echoes back on callbacks.
type PlaceParams struct {
	RefID    string
	SKU      string
	Target   string
	Qty      int
	Service  string
	Country  string
	Operator string
}

// PlaceResult is the provider's synchronous answer to a placement. Ref is
// the provider-side identifier; Detail carries the serial number, SMS phone
// number, or whatever artifact the provider returned.
type PlaceResult struct {
	Ref    string
	State  State
	Detail string
	Note   string
}

// StatusResult reports the current state of a previously placed order.
type StatusResult struct {
	State  State
	Detail string
	Note   string
}

// Adapter abstracts one upstream supplier. Implementations own their API
// shape, auth, and currency conversion; everything crossing this boundary is
// normalized (IDR amounts, the three-valued State).
type Adapter interface {
	Quote(ctx context.Context, params QuoteParams) (int64, error)
	Place(ctx context.Context, params PlaceParams) (PlaceResult, error)
	Cancel(ctx context.Context, ref string) error
	PollStatus(ctx context.Context, ref string) (StatusResult, error)
}

// Registry maps provider codes to adapters.
type Registry struct {
	adapters map[enums.ProviderCode]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[enums.ProviderCode]Adapter)}
}

func (r *Registry) Register(code enums.ProviderCode, adapter Adapter) error {
	if !code.IsValid() {
		return fmt.Errorf("invalid provider code %q", code)
	}
	if adapter == nil {
		return fmt.Errorf("adapter for %s is nil", code)
	}
	r.adapters[code] = adapter
	return nil
}

func (r *Registry) Adapter(code enums.ProviderCode) (Adapter, error) {
	adapter, ok := r.adapters[code]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("no adapter registered for provider %s", code))
	}
	return adapter, nil
}
