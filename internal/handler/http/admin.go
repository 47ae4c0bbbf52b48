package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rookgm/cryptomart/internal/models"
)

type AdminOrderService interface {
	// CancelByAdmin cancels an order on behalf of the shop with a full refund
	CancelByAdmin(ctx context.Context, orderID int64, reason string) (*models.Order, error)
	// MarkShipped moves a paid order with physical items to shipped
	MarkShipped(ctx context.Context, orderID int64) (*models.Order, error)
}

// AdminHandler represents HTTP handler for admin order requests
type AdminHandler struct {
	svc AdminOrderService
}

// NewAdminHandler creates new AdminHandler instance
func NewAdminHandler(svc AdminOrderService) *AdminHandler {
	return &AdminHandler{svc: svc}
}

type adminCancelRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder cancels an order on behalf of the shop
// 200 - order cancelled with a full refund
// 400 - bad order id or request format
// 401 - admin is not authorized
// 404 - order not found
// 409 - order can no longer be cancelled
// 500 - internal server error
func (ah *AdminHandler) CancelOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := getAuthPayload(r.Context(), authPayloadKey); !ok {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			http.Error(w, "bad order id", http.StatusBadRequest)
			return
		}

		var req adminCancelRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		order, err := ah.svc.CancelByAdmin(r.Context(), orderID, req.Reason)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDataNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
			case errors.Is(err, models.ErrInvalidTransition):
				http.Error(w, "order can no longer be cancelled", http.StatusConflict)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(newOrderResponse(order)); err != nil {
			return
		}
	}
}

// ShipOrder marks a paid order as shipped
// 200 - order shipped
// 400 - bad order id
// 401 - admin is not authorized
// 404 - order not found
// 409 - order is not awaiting shipment
// 500 - internal server error
func (ah *AdminHandler) ShipOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := getAuthPayload(r.Context(), authPayloadKey); !ok {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			http.Error(w, "bad order id", http.StatusBadRequest)
			return
		}

		order, err := ah.svc.MarkShipped(r.Context(), orderID)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDataNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
			case errors.Is(err, models.ErrInvalidTransition):
				http.Error(w, "order is not awaiting shipment", http.StatusConflict)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(newOrderResponse(order)); err != nil {
			return
		}
	}
}
