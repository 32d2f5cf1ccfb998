package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/checkout"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/inventory"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/order"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/reservation"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/session"
	"github.com/andreasstove999/ecommerce-system/services/reservation-service-go/internal/store"
)

const (
	sessionCookie = "session_token"
	sessionHeader = "X-Session-Token"
)

// Reserver is implemented by checkout.Service.
type Reserver interface {
	Reserve(ctx context.Context, sessionID string, lines []cart.Line, currency string) (checkout.Result, error)
}

type Handler struct {
	scope    store.Scope
	sessions session.Resolver
	reserver Reserver
	currency string
	logger   zerolog.Logger
}

func NewHandler(scope store.Scope, sessions session.Resolver, reserver Reserver, currency string, logger zerolog.Logger) *Handler {
	return &Handler{
		scope:    scope,
		sessions: sessions,
		reserver: reserver,
		currency: currency,
		logger:   logger,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type reserveRequest struct {
	Currency string `json:"currency"`
}

type errorResponse struct {
	Error string   `json:"error"`
	SKUs  []string `json:"skus,omitempty"`
}

// Reserve holds stock for everything in the caller's cart.
func (h *Handler) Reserve(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = h.currency
	}
	if len(currency) != 3 {
		writeError(w, http.StatusBadRequest, "invalid currency")
		return
	}

	var lines []cart.Line
	err := h.scope.Execute(r.Context(), func(ctx context.Context, repos store.Repos) error {
		var err error
		lines, err = repos.Carts.Snapshot(ctx, sessionID)
		return err
	})
	if err != nil {
		h.internal(w, r, err, "load cart")
		return
	}

	res, err := h.reserver.Reserve(r.Context(), sessionID, lines, currency)
	if err != nil {
		var oos *checkout.OutOfStockError
		var nf *checkout.NotFoundError
		switch {
		case errors.As(err, &oos):
			writeJSON(w, http.StatusConflict, errorResponse{Error: "out of stock", SKUs: oos.SKUs})
		case errors.As(err, &nf):
			writeError(w, http.StatusNotFound, nf.Error())
		case errors.Is(err, checkout.ErrInvalidCart):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.internal(w, r, err, "reserve")
		}
		return
	}

	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.session(w, r)
	if !ok {
		return
	}

	var rs []reservation.Reservation
	err := h.scope.Execute(r.Context(), func(ctx context.Context, repos store.Repos) error {
		var err error
		rs, err = repos.Reservations.ListPendingBySession(ctx, sessionID)
		return err
	})
	if err != nil {
		h.internal(w, r, err, "list reservations")
		return
	}
	if rs == nil {
		rs = []reservation.Reservation{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	sku := chi.URLParam(r, "sku")

	var item inventory.StockItem
	err := h.scope.Execute(r.Context(), func(ctx context.Context, repos store.Repos) error {
		var err error
		item, err = repos.Inventory.Get(ctx, sku)
		return err
	})
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		h.internal(w, r, err, "get availability")
		return
	}

	writeJSON(w, http.StatusOK, item)
}

type adjustRequest struct {
	SKU       string `json:"sku"`
	Available int    `json:"available"`
}

// AdjustAvailability overwrites the stock level of a sku. Units currently
// held by reservations are not part of the figure.
func (h *Handler) AdjustAvailability(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	if req.SKU == "" || req.Available < 0 {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	err := h.scope.Execute(r.Context(), func(ctx context.Context, repos store.Repos) error {
		return repos.Inventory.SetAvailable(ctx, req.SKU, req.Available)
	})
	if err != nil {
		h.internal(w, r, err, "adjust availability")
		return
	}

	writeJSON(w, http.StatusOK, inventory.StockItem{SKU: req.SKU, Available: req.Available})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")

	var lines []order.Line
	err := h.scope.Execute(r.Context(), func(ctx context.Context, repos store.Repos) error {
		var err error
		lines, err = repos.Orders.ListByReference(ctx, reference)
		return err
	})
	if err != nil {
		h.internal(w, r, err, "get order")
		return
	}
	if len(lines) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, lines)
}

// session resolves the caller's session token. It writes the error response
// and returns false when there is no usable session.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := r.Header.Get(sessionHeader)
	if token == "" {
		if c, err := r.Cookie(sessionCookie); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing session token")
		return "", false
	}

	id, err := h.sessions.Resolve(r.Context(), token)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return "", false
		}
		h.internal(w, r, err, "resolve session")
		return "", false
	}
	return id, true
}

func (h *Handler) internal(w http.ResponseWriter, r *http.Request, err error, op string) {
	h.logger.Error().Err(err).Str("op", op).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
