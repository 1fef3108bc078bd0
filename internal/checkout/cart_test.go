package checkout

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/blendsoftware/possync/internal/types"
)

func agua() types.CatalogProduct {
	return types.CatalogProduct{
		ID: "p-agua", Name: "Agua 500ml", SalePrice: decimal.NewFromInt(500), Active: true,
	}
}

func alfajor() types.CatalogProduct {
	return types.CatalogProduct{
		ID: "p-alfajor", Name: "Alfajor triple", SalePrice: decimal.RequireFromString("925.50"), Active: true,
	}
}

func TestCart_AddMergesSameProduct(t *testing.T) {
	c := NewCart()
	if err := c.AddProduct(agua(), 1); err != nil {
		t.Fatalf("AddProduct: %v", err)
	}
	if err := c.AddProduct(agua(), 2); err != nil {
		t.Fatalf("AddProduct: %v", err)
	}

	lines := c.Lines()
	if len(lines) != 1 {
		t.Fatalf("expected 1 merged line, got %d", len(lines))
	}
	if lines[0].Quantity != 3 {
		t.Errorf("expected quantity 3, got %d", lines[0].Quantity)
	}
	if !c.Total().Equal(decimal.NewFromInt(1500)) {
		t.Errorf("expected total 1500, got %s", c.Total())
	}
}

func TestCart_RejectsNonPositiveQuantity(t *testing.T) {
	c := NewCart()
	if err := c.AddProduct(agua(), 0); err != ErrInvalidQuantity {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if err := c.AddProduct(agua(), -1); err != ErrInvalidQuantity {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
}

func TestCart_SetQuantityZeroRemovesLine(t *testing.T) {
	c := NewCart()
	c.AddProduct(agua(), 2)
	c.AddProduct(alfajor(), 1)

	if err := c.SetQuantity("p-agua", 0); err != nil {
		t.Fatalf("SetQuantity: %v", err)
	}
	lines := c.Lines()
	if len(lines) != 1 || lines[0].ProductID != "p-alfajor" {
		t.Errorf("expected only alfajor left, got %+v", lines)
	}
}

func TestCart_DecimalTotalsStayExact(t *testing.T) {
	c := NewCart()
	// 3 x 925.50 would drift with binary floats
	c.AddProduct(alfajor(), 3)

	if !c.Subtotal().Equal(decimal.RequireFromString("2776.50")) {
		t.Errorf("expected subtotal 2776.50, got %s", c.Subtotal())
	}
}

func TestCart_Discount(t *testing.T) {
	c := NewCart()
	c.AddProduct(agua(), 2)

	if err := c.SetDiscount(decimal.NewFromInt(200)); err != nil {
		t.Fatalf("SetDiscount: %v", err)
	}
	if !c.Total().Equal(decimal.NewFromInt(800)) {
		t.Errorf("expected total 800 after discount, got %s", c.Total())
	}

	if err := c.SetDiscount(decimal.NewFromInt(-1)); err != ErrInvalidDiscount {
		t.Errorf("expected ErrInvalidDiscount for negative, got %v", err)
	}
	if err := c.SetDiscount(decimal.NewFromInt(5000)); err != ErrInvalidDiscount {
		t.Errorf("expected ErrInvalidDiscount above subtotal, got %v", err)
	}
}

func TestCart_Clear(t *testing.T) {
	c := NewCart()
	c.AddProduct(agua(), 1)
	c.SetDiscount(decimal.NewFromInt(100))

	c.Clear()

	if !c.Empty() {
		t.Error("expected empty cart after Clear")
	}
	if !c.Total().Equal(decimal.Zero) {
		t.Errorf("expected zero total, got %s", c.Total())
	}
}

func TestChangeDue(t *testing.T) {
	change, err := ChangeDue(decimal.NewFromInt(800), decimal.NewFromInt(1000))
	if err != nil {
		t.Fatalf("ChangeDue: %v", err)
	}
	if !change.Equal(decimal.NewFromInt(200)) {
		t.Errorf("expected change 200, got %s", change)
	}

	if _, err := ChangeDue(decimal.NewFromInt(800), decimal.NewFromInt(500)); err != ErrInsufficientTendered {
		t.Errorf("expected ErrInsufficientTendered, got %v", err)
	}
}
