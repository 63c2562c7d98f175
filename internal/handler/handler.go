// Package handler exposes settlement, sales and cash drawers over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/pos-settlement/internal/domain/auth"
	"github.com/xenking/pos-settlement/internal/domain/drawer"
	"github.com/xenking/pos-settlement/internal/domain/money"
	"github.com/xenking/pos-settlement/internal/domain/sale"
)

// SaleService settles carts and commits sales.
type SaleService interface {
	Quote(ctx context.Context, req sale.QuoteRequest) (*sale.Quote, error)
	Commit(ctx context.Context, req sale.CommitRequest) (*sale.CommitResult, error)
	Get(ctx context.Context, id string) (*sale.Sale, error)
}

// DrawerService manages cash drawer sessions.
type DrawerService interface {
	Open(ctx context.Context, initialFloat money.Money) (*drawer.Session, error)
	Get(ctx context.Context, id string) (*drawer.Session, error)
	RecordMovement(ctx context.Context, id string, typ drawer.MovementType, amount money.Money, reason string) (*drawer.Session, error)
	Close(ctx context.Context, id string, counted money.Money, breakdown []drawer.DenominationCount) (*drawer.Session, error)
}

// Authenticator resolves a raw API key.
type Authenticator interface {
	Authenticate(ctx context.Context, key string) (*auth.APIKeyInfo, error)
}

// Handler serves the /api routes.
type Handler struct {
	sales   SaleService
	drawers DrawerService
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(sales SaleService, drawers DrawerService) *Handler {
	return &Handler{sales: sales, drawers: drawers}
}

// Routes returns the API router. Every route requires an API key carrying
// the scope of its group. Middlewares in authenticated run after the key is
// resolved, so they can read it with KeyFromContext.
func (h *Handler) Routes(authn Authenticator, authenticated ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(Authenticate(authn))
	r.Use(authenticated...)

	r.With(RequireScope(auth.ScopeQuote)).Post("/settlements/quote", h.Quote)

	r.Route("/sales", func(r chi.Router) {
		r.Use(RequireScope(auth.ScopeSell))
		r.Post("/", h.CommitSale)
		r.Get("/{id}", h.GetSale)
	})

	r.Route("/drawers", func(r chi.Router) {
		r.Use(RequireScope(auth.ScopeDrawer))
		r.Post("/", h.OpenDrawer)
		r.Get("/{id}", h.GetDrawer)
		r.Post("/{id}/movements", h.RecordMovement)
		r.Post("/{id}/close", h.CloseDrawer)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
