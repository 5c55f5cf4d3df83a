package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ticketing/internal/core"
	"ticketing/internal/types"
)

// TicketRedeemer validates a scan token and checks the ticket in.
type TicketRedeemer interface {
	Redeem(ctx context.Context, ticketID int64, token string) (*types.Ticket, error)
}

// RequestValidator validates decoded request bodies.
type RequestValidator interface {
	ValidateStruct(s any) error
}

// CheckinHandler redeems scan tokens at the venue entrance.
type CheckinHandler struct {
	redeemer  TicketRedeemer
	validator RequestValidator
	logger    *slog.Logger
}

// NewCheckinHandler creates a CheckinHandler.
func NewCheckinHandler(redeemer TicketRedeemer, validator RequestValidator, logger *slog.Logger) *CheckinHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckinHandler{redeemer: redeemer, validator: validator, logger: logger}
}

// RegisterRoutes mounts the check-in endpoint on the /v1 router.
func (h *CheckinHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkin", h.Redeem)
}

type checkinRequest struct {
	TicketID int64  `json:"ticket_id" validate:"required,gt=0"`
	Token    string `json:"token" validate:"required,scan_token"`
}

type checkinResponse struct {
	TicketID    int64     `json:"ticket_id"`
	EventID     string    `json:"event_id"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

// Redeem handles POST /v1/checkin.
func (h *CheckinHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req checkinRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	ticket, err := h.redeemer.Redeem(r.Context(), req.TicketID, req.Token)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := checkinResponse{TicketID: ticket.ID, EventID: ticket.EventID}
	if ticket.CheckedInAt != nil {
		resp.CheckedInAt = *ticket.CheckedInAt
	}
	core.JSON(w, r, http.StatusOK, resp)
}
