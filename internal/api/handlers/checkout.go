package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ticketing/internal/core"
	"ticketing/internal/external"
	"ticketing/internal/types"
)

// CheckoutStarter opens a payment checkout for a ticket.
type CheckoutStarter interface {
	Begin(ctx context.Context, ticketID int64, userID string) (*external.CheckoutSession, error)
}

// CheckoutHandler starts checkouts for the calling user's tickets.
type CheckoutHandler struct {
	checkout CheckoutStarter
	logger   *slog.Logger
}

// NewCheckoutHandler creates a CheckoutHandler.
func NewCheckoutHandler(checkout CheckoutStarter, logger *slog.Logger) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{checkout: checkout, logger: logger}
}

// RegisterRoutes mounts the checkout endpoint on the /v1 router.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/tickets/{ticketID}/checkout", h.Begin)
}

type checkoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// Begin handles POST /v1/tickets/{ticketID}/checkout.
func (h *CheckoutHandler) Begin(w http.ResponseWriter, r *http.Request) {
	userID, err := core.CurrentUser(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	ticketID, err := ticketIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	session, err := h.checkout.Begin(r.Context(), ticketID, userID)
	if err != nil {
		h.logger.WarnContext(r.Context(), "checkout begin failed",
			"ticket_id", ticketID,
			"user_id", userID,
			"error", err,
		)
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, checkoutResponse{SessionID: session.ID, URL: session.URL})
}

func ticketIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "ticketID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, types.NewAppErrorWithDetails(
			types.ErrCodeValidationMalformedPayload,
			"ticket id must be a positive integer",
			err,
			map[string]any{"ticket_id": raw},
		)
	}
	return id, nil
}
