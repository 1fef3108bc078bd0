// Package api serves the register UI over loopback HTTP. Every read is
// answered from the local replica; the only endpoints that touch the network
// indirectly are the sync trigger and the status stream reporting on it.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/blendsoftware/possync/internal/catalog"
	"github.com/blendsoftware/possync/internal/checkout"
	"github.com/blendsoftware/possync/internal/status"
	"github.com/blendsoftware/possync/internal/store"
	"github.com/blendsoftware/possync/internal/types"
)

// Syncer triggers sync cycles. Implemented by syncer.Engine.
type Syncer interface {
	ForceSync(ctx context.Context) (*types.SyncReport, error)
}

// Connectivity reports the last probed link state.
// Implemented by connectivity.Monitor.
type Connectivity interface {
	Online() bool
}

// Handler implements the API handlers
type Handler struct {
	store       store.Store
	catalog     *catalog.Service
	checkout    *checkout.Adapter
	syncer      Syncer
	broadcaster *status.Broadcaster
	conn        Connectivity
	version     string
}

// NewHandler creates a new Handler.
func NewHandler(
	s store.Store,
	c *catalog.Service,
	ck *checkout.Adapter,
	sy Syncer,
	b *status.Broadcaster,
	conn Connectivity,
	version string,
) *Handler {
	return &Handler{
		store:       s,
		catalog:     c,
		checkout:    ck,
		syncer:      sy,
		broadcaster: b,
		conn:        conn,
		version:     version,
	}
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	pending, err := h.store.CountPending(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	meta, err := h.store.GetSyncMeta(r.Context())
	if err != nil {
		WriteProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		Online:       h.conn.Online(),
		PendingSales: pending,
		LastSyncAt:   meta.LastSyncAt,
	})
}

// productFilter builds the replica filter from the categoria, favoritos and
// q query parameters.
func productFilter(r *http.Request) store.ProductFilter {
	return store.ProductFilter{
		CategoryID:    r.URL.Query().Get("categoria"),
		FavoritesOnly: r.URL.Query().Get("favoritos") == "true",
		Text:          r.URL.Query().Get("q"),
	}
}

// Products handles GET /api/v1/products with optional categoria, favoritos
// and q filters.
func (h *Handler) Products(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.Products(r.Context(), productFilter(r))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, products)
}

// ProductByBarcode handles GET /api/v1/products/barcode/{codigo}.
func (h *Handler) ProductByBarcode(w http.ResponseWriter, r *http.Request) {
	p, err := h.catalog.ByBarcode(r.Context(), chi.URLParam(r, "codigo"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Categories handles GET /api/v1/categories.
func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.catalog.Categories(r.Context())
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, categories)
}

// Status handles GET /api/v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.broadcaster.Current())
}

// StatusStream handles GET /api/v1/status/stream as server-sent events.
// The current state is sent immediately, then every transition until the
// client disconnects.
func (h *Handler) StatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteProblem(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Buffered so a slow client drops intermediate transitions instead of
	// blocking the broadcaster.
	events := make(chan types.Notification, 16)
	unsubscribe := h.broadcaster.Subscribe(func(n types.Notification) {
		select {
		case events <- n:
		default:
		}
	})
	defer unsubscribe()

	for {
		select {
		case <-r.Context().Done():
			return
		case n := <-events:
			payload, err := json.Marshal(n)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// CatalogStream handles GET /api/v1/catalog/stream as server-sent events.
// It accepts the same filter parameters as the products endpoint, sends the
// matching listing immediately, then a fresh listing after every replica
// change, so a catalog pull landing mid-shift updates the grid without
// polling.
func (h *Handler) CatalogStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteProblem(w, r, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Single-slot queue keeping only the newest listing. The view delivers
	// from one goroutine, so the drain-then-send swap never races.
	updates := make(chan []types.CatalogProduct, 1)
	view := catalog.NewLiveView(h.store, productFilter(r), func(products []types.CatalogProduct) {
		select {
		case updates <- products:
		default:
			select {
			case <-updates:
			default:
			}
			updates <- products
		}
	})

	done := make(chan error, 1)
	go func() { done <- view.Run(r.Context()) }()

	for {
		select {
		case <-r.Context().Done():
			return
		case err := <-done:
			if err != nil && r.Context().Err() == nil {
				slog.Warn("catalog stream ended", "component", "api", "error", err)
			}
			return
		case products := <-updates:
			payload, err := json.Marshal(products)
			if err != nil {
				continue
			}
			if _, err := w.Write([]byte("data: " + string(payload) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// TriggerSync handles POST /api/v1/sync. Returns the cycle report, or 202
// when a cycle was already in flight and the trigger coalesced into it.
func (h *Handler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	report, err := h.syncer.ForceSync(r.Context())
	if err != nil {
		slog.Warn("manual sync failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Sync failed: "+err.Error())
		return
	}
	if report == nil {
		writeJSON(w, http.StatusAccepted, h.broadcaster.Current())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// SaleItemRequest is one requested line of a sale.
type SaleItemRequest struct {
	ProductID string `json:"producto_id"`
	Quantity  int    `json:"cantidad"`
}

// SaleRequest is the register UI's checkout payload.
type SaleRequest struct {
	Items         []SaleItemRequest   `json:"items"`
	PaymentMethod types.PaymentMethod `json:"medio_pago"`
	Discount      decimal.Decimal     `json:"descuento"`
	Tendered      decimal.Decimal     `json:"monto_recibido"`
}

// CreateSale handles POST /api/v1/sales. The sale is recorded locally and
// queued for sync; the response never waits for the network.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, "Invalid JSON: "+err.Error())
		return
	}

	cart := checkout.NewCart()
	for _, item := range req.Items {
		p, err := h.store.GetProduct(r.Context(), item.ProductID)
		if err != nil {
			MapDomainError(w, r, err)
			return
		}
		if err := cart.AddProduct(*p, item.Quantity); err != nil {
			MapDomainError(w, r, err)
			return
		}
	}
	if !req.Discount.IsZero() {
		if err := cart.SetDiscount(req.Discount); err != nil {
			MapDomainError(w, r, err)
			return
		}
	}

	sale, err := h.checkout.Checkout(r.Context(), cart, req.PaymentMethod, req.Tendered)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sale)
}

// Outbox handles GET /api/v1/outbox with an optional limit parameter.
func (h *Handler) Outbox(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteProblem(w, r, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	sales, err := h.store.ListSales(r.Context(), limit)
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sales)
}

// OutboxSale handles GET /api/v1/outbox/{id}.
func (h *Handler) OutboxSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.store.GetSale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		MapDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
