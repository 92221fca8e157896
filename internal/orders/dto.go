package orders

import (
	"github.com/google/uuid"

	"github.com/example/topup-engine/pkg/enums"
)

// CreateInput captures a purchase request. Prices are never part of the
// input; they are derived from the provider wholesale quote and the caller's
// margin at creation time.
type CreateInput struct {
	UserID        uuid.UUID
	PaymentMethod enums.PaymentMethod
	Items         []CreateItemInput
}

// CreateItemInput identifies one variant to fulfill. Category selects the
// margin config; Target is the game account, phone number, or profile URL
// the goods are delivered to.
type CreateItemInput struct {
	VariantName  string
	Category     string
	ProviderCode enums.ProviderCode
	ProviderSKU  string
	Target       string
	Qty          int
}

// ItemResultInput applies one provider outcome to an order item. A pending
// status only records the ref and note; success and failed are terminal for
// the item.
type ItemResultInput struct {
	OrderID     uuid.UUID
	ItemID      uuid.UUID
	Status      enums.ItemStatus
	ProviderRef *string
	Payload     *string
	Note        *string
}

// ProviderEventInput is an asynchronous provider callback. Ref is either the
// reference we chose at placement (the item id) or the provider-assigned
// one.
type ProviderEventInput struct {
	Ref     string
	Status  enums.ItemStatus
	Payload *string
	Note    *string
}
