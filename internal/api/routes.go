package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Get("/products", h.Products)
		r.Get("/products/barcode/{codigo}", h.ProductByBarcode)
		r.Get("/categories", h.Categories)
		r.Get("/catalog/stream", h.CatalogStream)

		r.Get("/status", h.Status)
		r.Get("/status/stream", h.StatusStream)
		r.Post("/sync", h.TriggerSync)

		r.Post("/sales", h.CreateSale)
		r.Get("/outbox", h.Outbox)
		r.Get("/outbox/{id}", h.OutboxSale)
	})

	return r
}
