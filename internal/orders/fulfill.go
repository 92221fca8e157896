package orders

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/example/topup-engine/internal/ledger"
	"github.com/example/topup-engine/internal/provider"
	"github.com/example/topup-engine/pkg/db/models"
	"github.com/example/topup-engine/pkg/enums"
	pkgerrors "github.com/example/topup-engine/pkg/errors"
)

// Dispatch places every pending item that has no provider reference yet.
// Provider calls run outside any database transaction; each outcome is then
// applied as its own transition. Transient placement errors leave the item
// pending for the next sweep.
func (s *service) Dispatch(ctx context.Context, orderID uuid.UUID) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusProcessing {
		return nil
	}

	var errs error
	for _, item := range order.Items {
		if item.Status != enums.ItemStatusPending || item.ProviderRef != nil {
			continue
		}
		if err := s.placeItem(ctx, order, item); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("item %s: %w", item.ID, err))
		}
	}
	return errs
}

func (s *service) placeItem(ctx context.Context, order *models.Order, item models.OrderItem) error {
	adapter, err := s.providers.Adapter(item.ProviderCode)
	if err != nil {
		return err
	}

	res, err := adapter.Place(ctx, provider.PlaceParams{
		RefID:  item.ID.String(),
		SKU:    item.ProviderSKU,
		Target: item.Target,
		Qty:    item.Qty,
	})
	if err != nil {
		if provider.IsPermanent(err) {
			note := err.Error()
			return s.ApplyItemResult(ctx, ItemResultInput{
				OrderID: order.ID,
				ItemID:  item.ID,
				Status:  enums.ItemStatusFailed,
				Note:    &note,
			})
		}
		return err
	}

	result := ItemResultInput{
		OrderID: order.ID,
		ItemID:  item.ID,
		Status:  mapProviderState(res.State),
	}
	if res.Ref != "" {
		result.ProviderRef = &res.Ref
	}
	if res.Detail != "" {
		result.Payload = &res.Detail
	}
	if res.Note != "" {
		result.Note = &res.Note
	}
	return s.ApplyItemResult(ctx, result)
}

func (s *service) ApplyItemResult(ctx context.Context, input ItemResultInput) error {
	if input.OrderID == uuid.Nil || input.ItemID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id and item id required")
	}
	if !input.Status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid item status %q", input.Status))
	}

	s.locks.Lock(input.OrderID.String())
	defer s.locks.Unlock(input.OrderID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.applyItemResultTx(ctx, tx, input)
	})
}

// applyItemResultTx runs one item transition inside the caller's
// transaction. The caller holds the order stripe lock.
func (s *service) applyItemResultTx(ctx context.Context, tx *gorm.DB, input ItemResultInput) error {
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByID(ctx, input.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Status.IsTerminal() {
		return nil
	}

	var item *models.OrderItem
	for i := range order.Items {
		if order.Items[i].ID == input.ItemID {
			item = &order.Items[i]
			break
		}
	}
	if item == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order item not found")
	}
	if item.Status.IsTerminal() {
		return nil
	}

	claimed, err := repo.ClaimItemStatus(ctx, item.ID, item.Status, input.Status)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	if input.ProviderRef != nil {
		item.ProviderRef = input.ProviderRef
	}
	if input.Payload != nil {
		item.Payload = input.Payload
	}
	if input.Note != nil {
		item.Note = input.Note
	}
	item.Status = input.Status
	if err := repo.UpdateItem(ctx, item); err != nil {
		return err
	}

	if input.Status == enums.ItemStatusFailed {
		if _, err := s.ledger.Refund(ctx, tx, ledger.MovementInput{
			UserID:      order.UserID,
			AmountIDR:   item.ValueIDR(),
			Reference:   fmt.Sprintf("%s/%s", order.InvoiceCode, item.ID),
			Description: fmt.Sprintf("failed item %s on %s", item.VariantName, order.InvoiceCode),
		}); err != nil {
			return err
		}
	}

	return s.finalizeOrderTx(ctx, tx, repo, order)
}

// finalizeOrderTx settles the order status once every item is terminal:
// delivered when all succeeded, failed when any item failed.
func (s *service) finalizeOrderTx(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) error {
	anyFailed := false
	for _, item := range order.Items {
		if !item.Status.IsTerminal() {
			return nil
		}
		if item.Status == enums.ItemStatusFailed {
			anyFailed = true
		}
	}

	target := enums.OrderStatusDelivered
	if anyFailed {
		target = enums.OrderStatusFailed
	}
	claimed, err := repo.ClaimStatus(ctx, order.ID, order.Status, target)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	order.Status = target
	if target == enums.OrderStatusDelivered {
		now := s.now()
		order.DeliveredAt = &now
		if err := s.ledger.IncrementCompleted(ctx, tx, order.UserID); err != nil {
			return err
		}
	}
	return repo.UpdateOrder(ctx, order)
}

func (s *service) ApplyProviderEvent(ctx context.Context, input ProviderEventInput) error {
	if input.Ref == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "provider ref required")
	}

	item, err := s.resolveItem(ctx, input.Ref)
	if err != nil {
		return err
	}
	if item == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "no order item matches ref")
	}

	return s.ApplyItemResult(ctx, ItemResultInput{
		OrderID: item.OrderID,
		ItemID:  item.ID,
		Status:  input.Status,
		Payload: input.Payload,
		Note:    input.Note,
	})
}

// resolveItem matches a callback ref against the placement reference (the
// item id) first and the provider-assigned ref second.
func (s *service) resolveItem(ctx context.Context, ref string) (*models.OrderItem, error) {
	if id, err := uuid.Parse(ref); err == nil {
		item, err := s.repo.FindItem(ctx, id)
		if err != nil || item != nil {
			return item, err
		}
	}
	return s.repo.FindItemByProviderRef(ctx, ref)
}

func (s *service) RecordPollAttempt(ctx context.Context, orderID, itemID uuid.UUID, note string) error {
	if orderID == uuid.Nil || itemID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id and item id required")
	}

	s.locks.Lock(orderID.String())
	defer s.locks.Unlock(orderID.String())

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		attempts, err := repo.IncrementPollAttempts(ctx, itemID)
		if err != nil {
			return err
		}
		if attempts < s.maxPollAttempts {
			return nil
		}

		exhausted := fmt.Sprintf("gave up after %d status polls", attempts)
		if note != "" {
			exhausted = exhausted + ": " + note
		}
		return s.applyItemResultTx(ctx, tx, ItemResultInput{
			OrderID: orderID,
			ItemID:  itemID,
			Status:  enums.ItemStatusFailed,
			Note:    &exhausted,
		})
	})
}

func mapProviderState(state provider.State) enums.ItemStatus {
	switch state {
	case provider.StateSuccess:
		return enums.ItemStatusSuccess
	case provider.StateFailed:
		return enums.ItemStatusFailed
	default:
		return enums.ItemStatusPending
	}
}
