package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"ticketing/internal/core"
	"ticketing/internal/external"
	"ticketing/internal/types"
)

type beginCall struct {
	TicketID int64
	UserID   string
}

type mockCheckoutStarter struct {
	calls   []beginCall
	session *external.CheckoutSession
	err     error
}

func (m *mockCheckoutStarter) Begin(ctx context.Context, ticketID int64, userID string) (*external.CheckoutSession, error) {
	m.calls = append(m.calls, beginCall{TicketID: ticketID, UserID: userID})
	return m.session, m.err
}

// v1Router mounts register under /v1 behind the gateway user header, the
// way core.Server does.
func v1Router(register func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		r.Use(core.UserMiddleware(core.HeaderUserResolver("")))
		register(r)
	})
	return r
}

func TestCheckoutHandler_Begin(t *testing.T) {
	starter := &mockCheckoutStarter{session: &external.CheckoutSession{ID: "cs_new", URL: "https://checkout.example.com/cs_new"}}
	router := v1Router(NewCheckoutHandler(starter, nil).RegisterRoutes)

	req := httptest.NewRequest(http.MethodPost, "/v1/tickets/42/checkout", nil)
	req.Header.Set("X-User-ID", "user_1")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp checkoutResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SessionID != "cs_new" || resp.URL != "https://checkout.example.com/cs_new" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(starter.calls) != 1 || starter.calls[0] != (beginCall{TicketID: 42, UserID: "user_1"}) {
		t.Errorf("unexpected calls %+v", starter.calls)
	}
}

func TestCheckoutHandler_RequiresUser(t *testing.T) {
	starter := &mockCheckoutStarter{}
	router := v1Router(NewCheckoutHandler(starter, nil).RegisterRoutes)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/tickets/42/checkout", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if len(starter.calls) != 0 {
		t.Error("checkout must not start without a user")
	}
}

func TestCheckoutHandler_BadTicketID(t *testing.T) {
	for _, id := range []string{"abc", "0", "-3"} {
		t.Run(id, func(t *testing.T) {
			starter := &mockCheckoutStarter{}
			router := v1Router(NewCheckoutHandler(starter, nil).RegisterRoutes)

			req := httptest.NewRequest(http.MethodPost, "/v1/tickets/"+id+"/checkout", nil)
			req.Header.Set("X-User-ID", "user_1")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			if len(starter.calls) != 0 {
				t.Error("service must not be called")
			}
		})
	}
}

func TestCheckoutHandler_ServiceErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"not found", types.NewAppError(types.ErrCodeNotFoundTicket, "ticket not found", nil), http.StatusNotFound, types.ErrCodeNotFoundTicket},
		{"other owner", types.NewAppError(types.ErrCodePermissionTicketOwner, "ticket belongs to another user", nil), http.StatusForbidden, types.ErrCodePermissionTicketOwner},
		{"already paid", types.NewAppError(types.ErrCodeConflictTicketState, "ticket cannot be paid", nil), http.StatusConflict, types.ErrCodeConflictTicketState},
		{"stripe down", types.NewAppError(types.ErrCodeUpstreamStripe, "payment provider unavailable", nil), http.StatusBadGateway, types.ErrCodeUpstreamStripe},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &mockCheckoutStarter{err: tt.err}
			router := v1Router(NewCheckoutHandler(starter, nil).RegisterRoutes)

			req := httptest.NewRequest(http.MethodPost, "/v1/tickets/7/checkout", nil)
			req.Header.Set("X-User-ID", "user_1")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, w.Code)
			}
			if !strings.Contains(w.Body.String(), string(tt.wantCode)) {
				t.Errorf("expected code %s in %s", tt.wantCode, w.Body.String())
			}
		})
	}
}
