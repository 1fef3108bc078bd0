package types

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SaleState represents the outbox lifecycle of a locally recorded sale.
type SaleState string

const (
	SalePending SaleState = "PENDING"
	SaleSyncing SaleState = "SYNCING"
	SaleSynced  SaleState = "SYNCED"
	SaleFailed  SaleState = "FAILED"
)

// Valid reports whether s is a known sale state.
func (s SaleState) Valid() bool {
	switch s {
	case SalePending, SaleSyncing, SaleSynced, SaleFailed:
		return true
	}
	return false
}

// SyncStatus represents the engine-level synchronization status.
type SyncStatus string

const (
	StatusIdle    SyncStatus = "IDLE"
	StatusSyncing SyncStatus = "SYNCING"
	StatusError   SyncStatus = "ERROR"
)

// PaymentMethod identifies how a sale was paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "EFECTIVO"
	PaymentCard     PaymentMethod = "TARJETA"
	PaymentTransfer PaymentMethod = "TRANSFERENCIA"
)

// CatalogProduct is the local replica of a remote product. It is written only
// by catalog pulls and never mutated locally.
type CatalogProduct struct {
	ID         string          `json:"id"`
	Code       string          `json:"codigo"`
	Barcode    string          `json:"codigo_barras"`
	Name       string          `json:"nombre"`
	CategoryID string          `json:"categoria_id"`
	CostPrice  decimal.Decimal `json:"precio_costo"`
	SalePrice  decimal.Decimal `json:"precio_venta"`
	Stock      int             `json:"stock"`
	StockLow   bool            `json:"stock_bajo"`
	Favorite   bool            `json:"favorito"`
	Active     bool            `json:"activo"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// CatalogCategory is the local replica of a remote category.
type CatalogCategory struct {
	ID           string    `json:"id"`
	Name         string    `json:"nombre"`
	DisplayOrder int       `json:"orden"`
	Active       bool      `json:"activo"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SaleLine is one ordered line item of a sale.
type SaleLine struct {
	ProductID string          `json:"producto_id"`
	Name      string          `json:"nombre"`
	Quantity  int             `json:"cantidad"`
	UnitPrice decimal.Decimal `json:"precio_unitario"`
}

// Subtotal returns quantity times unit price for the line.
func (l SaleLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// OutboxSale is a locally originated sale awaiting remote confirmation.
// The ID is client-generated and stable across retries; the remote authority
// uses it as an idempotency key so a resubmitted sale never duplicates.
type OutboxSale struct {
	ID            string          `json:"id"`
	KioscoID      string          `json:"kiosco_id"`
	Lines         []SaleLine      `json:"items"`
	PaymentMethod PaymentMethod   `json:"medio_pago"`
	Discount      decimal.Decimal `json:"descuento"`
	Tendered      decimal.Decimal `json:"monto_recibido"`
	Total         decimal.Decimal `json:"total"`
	State         SaleState       `json:"estado"`
	// Terminal marks a permanently rejected sale. It is excluded from
	// automatic push retries until an operator requeues it.
	Terminal   bool `json:"terminal,omitempty"`
	RetryCount int  `json:"retry_count"`
	LastError     string          `json:"last_error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	SyncedAt      *time.Time      `json:"synced_at,omitempty"`
}

// SyncMeta records process-wide synchronization metadata. Persisted so it
// survives restarts.
type SyncMeta struct {
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	ErrorCount int        `json:"error_count"`
}

// CatalogSnapshot is the full catalog as returned by the remote authority.
type CatalogSnapshot struct {
	Products   []CatalogProduct  `json:"productos"`
	Categories []CatalogCategory `json:"categorias"`
	AsOf       time.Time         `json:"as_of"`
}

// Notification is the payload delivered to status subscribers on every
// status or pending-count transition.
type Notification struct {
	Status       SyncStatus `json:"status"`
	PendingCount int        `json:"pending_count"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
}

// SyncReport summarizes one completed sync cycle.
type SyncReport struct {
	Pushed         int       `json:"pushed"`
	Failed         int       `json:"failed"`
	CatalogUpdated bool      `json:"catalog_updated"`
	FinishedAt     time.Time `json:"finished_at"`
}

// HealthResponse is returned by the local health endpoint.
type HealthResponse struct {
	Status       string     `json:"status"`
	Version      string     `json:"version"`
	Online       bool       `json:"online"`
	PendingSales int        `json:"pending_sales"`
	LastSyncAt   *time.Time `json:"last_sync_at,omitempty"`
}

// MarshalJSON ensures nil Lines in OutboxSale marshals as [] not null.
func (s OutboxSale) MarshalJSON() ([]byte, error) {
	if s.Lines == nil {
		s.Lines = []SaleLine{}
	}
	type Alias OutboxSale
	return json.Marshal(Alias(s))
}

// MarshalJSON ensures nil slices in CatalogSnapshot marshal as [] not null.
func (c CatalogSnapshot) MarshalJSON() ([]byte, error) {
	if c.Products == nil {
		c.Products = []CatalogProduct{}
	}
	if c.Categories == nil {
		c.Categories = []CatalogCategory{}
	}
	type Alias CatalogSnapshot
	return json.Marshal(Alias(c))
}
