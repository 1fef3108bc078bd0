// Package checkout builds carts from replica products and records finished
// sales into the outbox. Recording is local-only: a sale succeeds or fails
// on the spot regardless of connectivity, and the sync engine settles it
// with the authority later.
package checkout

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/blendsoftware/possync/internal/types"
)

var (
	ErrEmptyCart            = errors.New("checkout: cart is empty")
	ErrInvalidQuantity      = errors.New("checkout: quantity must be positive")
	ErrInvalidDiscount      = errors.New("checkout: discount must be between zero and the subtotal")
	ErrInvalidPayment       = errors.New("checkout: unknown payment method")
	ErrInsufficientTendered = errors.New("checkout: tendered amount below total")
)

// Cart accumulates sale lines for one transaction. Prices are copied from
// the replica at add time, so a catalog pull mid-transaction never reprices
// a line already rung up. Not safe for concurrent use; each register screen
// owns one cart.
type Cart struct {
	lines    []types.SaleLine
	discount decimal.Decimal
}

// NewCart creates an empty cart.
func NewCart() *Cart {
	return &Cart{}
}

// AddProduct adds quantity units of the product. Adding a product already
// in the cart increments its line instead of creating a duplicate.
func (c *Cart) AddProduct(p types.CatalogProduct, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	for i := range c.lines {
		if c.lines[i].ProductID == p.ID {
			c.lines[i].Quantity += quantity
			return nil
		}
	}

	c.lines = append(c.lines, types.SaleLine{
		ProductID: p.ID,
		Name:      p.Name,
		Quantity:  quantity,
		UnitPrice: p.SalePrice,
	})
	return nil
}

// SetQuantity sets the quantity of an existing line. Zero removes the line.
func (c *Cart) SetQuantity(productID string, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			if quantity == 0 {
				c.lines = append(c.lines[:i], c.lines[i+1:]...)
			} else {
				c.lines[i].Quantity = quantity
			}
			return nil
		}
	}
	return ErrInvalidQuantity
}

// SetDiscount applies a flat discount to the whole cart.
func (c *Cart) SetDiscount(d decimal.Decimal) error {
	if d.IsNegative() || d.GreaterThan(c.Subtotal()) {
		return ErrInvalidDiscount
	}
	c.discount = d
	return nil
}

// Lines returns a copy of the current lines in add order.
func (c *Cart) Lines() []types.SaleLine {
	out := make([]types.SaleLine, len(c.lines))
	copy(out, c.lines)
	return out
}

// Subtotal is the sum of line subtotals before discount.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.lines {
		total = total.Add(l.Subtotal())
	}
	return total
}

// Discount returns the applied flat discount.
func (c *Cart) Discount() decimal.Decimal {
	return c.discount
}

// Total is the subtotal minus the discount.
func (c *Cart) Total() decimal.Decimal {
	return c.Subtotal().Sub(c.discount)
}

// Empty reports whether the cart has no lines.
func (c *Cart) Empty() bool {
	return len(c.lines) == 0
}

// Clear drops all lines and the discount.
func (c *Cart) Clear() {
	c.lines = nil
	c.discount = decimal.Zero
}
