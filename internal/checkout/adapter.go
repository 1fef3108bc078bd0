package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/blendsoftware/possync/internal/types"
)

// Outbox defines the single write the adapter performs.
// Implemented by store.SQLiteStore.
type Outbox interface {
	EnqueueSale(ctx context.Context, sale types.OutboxSale) error
}

// Adapter finalizes carts into outbox sales. The generated ULID doubles as
// the remote idempotency key, so a sale retried across many cycles is
// charged exactly once.
type Adapter struct {
	outbox   Outbox
	kioscoID string
}

// NewAdapter creates an Adapter recording sales for the given terminal.
func NewAdapter(outbox Outbox, kioscoID string) *Adapter {
	return &Adapter{outbox: outbox, kioscoID: kioscoID}
}

// Checkout validates payment, records the sale durably in PENDING state and
// clears the cart. On a storage failure the cart is left intact and the
// error is returned: the operator must see a failed sale, never lose one
// silently.
func (a *Adapter) Checkout(ctx context.Context, cart *Cart, payment types.PaymentMethod, tendered decimal.Decimal) (*types.OutboxSale, error) {
	if cart.Empty() {
		return nil, ErrEmptyCart
	}

	switch payment {
	case types.PaymentCash:
		if tendered.LessThan(cart.Total()) {
			return nil, ErrInsufficientTendered
		}
	case types.PaymentCard, types.PaymentTransfer:
		// Electronic payments settle exactly; the tendered field mirrors
		// the total on the receipt.
		tendered = cart.Total()
	default:
		return nil, ErrInvalidPayment
	}

	sale := types.OutboxSale{
		ID:            ulid.Make().String(),
		KioscoID:      a.kioscoID,
		Lines:         cart.Lines(),
		PaymentMethod: payment,
		Discount:      cart.Discount(),
		Tendered:      tendered,
		Total:         cart.Total(),
		State:         types.SalePending,
		CreatedAt:     time.Now().UTC(),
	}

	if err := a.outbox.EnqueueSale(ctx, sale); err != nil {
		slog.Error("sale enqueue failed",
			"component", "checkout",
			"sale_id", sale.ID,
			"total", sale.Total.String(),
			"error", err,
		)
		return nil, fmt.Errorf("enqueue sale: %w", err)
	}

	slog.Info("sale recorded",
		"component", "checkout",
		"sale_id", sale.ID,
		"lines", len(sale.Lines),
		"total", sale.Total.String(),
		"medio_pago", string(sale.PaymentMethod),
	)

	cart.Clear()
	return &sale, nil
}

// ChangeDue returns the change for a cash payment.
func ChangeDue(total, tendered decimal.Decimal) (decimal.Decimal, error) {
	if tendered.LessThan(total) {
		return decimal.Zero, ErrInsufficientTendered
	}
	return tendered.Sub(total), nil
}
