package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
)

type OrderService interface {
	// Checkout creates an order, reserving one unit per requested piece
	Checkout(ctx context.Context, userID int64, lines []models.OrderLine) (*models.Order, error)
	// GetOrder returns order by id
	GetOrder(ctx context.Context, orderID int64) (*models.Order, error)
	// SubmitAddress attaches a shipping address to an order waiting for one
	SubmitAddress(ctx context.Context, orderID int64, address string) (*models.Order, error)
	// AttemptWalletPayment pays the outstanding amount from the wallet
	AttemptWalletPayment(ctx context.Context, orderID int64) (*models.Order, error)
	// CancelByUser cancels a payment-pending order at the user's request
	CancelByUser(ctx context.Context, orderID int64) (*models.Order, error)
	// GetDeliverables returns the paid order's units with their payloads
	GetDeliverables(ctx context.Context, orderID int64) ([]models.Item, error)
}

// OrderHandler represents HTTP handler for order-related requests
type OrderHandler struct {
	svc OrderService
}

// NewOrderHandler creates new OrderHandler instance
func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{svc: svc}
}

type orderLineResponse struct {
	Name       string          `json:"name"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	IsPhysical bool            `json:"is_physical"`
}

type refundResponse struct {
	Wallet  decimal.Decimal `json:"wallet"`
	Gateway decimal.Decimal `json:"gateway"`
	Penalty decimal.Decimal `json:"penalty"`
}

type orderResponse struct {
	ID            int64               `json:"id"`
	UserID        int64               `json:"user_id"`
	Status        string              `json:"status"`
	Lines         []orderLineResponse `json:"lines"`
	Total         decimal.Decimal     `json:"total"`
	WalletPortion decimal.Decimal     `json:"wallet_portion"`
	Address       string              `json:"address,omitempty"`
	CancelReason  string              `json:"cancel_reason,omitempty"`
	Refund        *refundResponse     `json:"refund,omitempty"`
	CreatedAt     string              `json:"created_at"`
	ExpiresAt     string              `json:"expires_at"`
}

func newOrderResponse(order *models.Order) orderResponse {
	resp := orderResponse{
		ID:            order.ID,
		UserID:        order.UserID,
		Status:        string(order.Status),
		Total:         order.Total,
		WalletPortion: order.WalletPortion,
		Address:       order.Address,
		CancelReason:  order.CancelReason,
		CreatedAt:     order.CreatedAt.Format(time.RFC3339),
		ExpiresAt:     order.ExpiresAt.Format(time.RFC3339),
	}

	for _, line := range order.Lines {
		resp.Lines = append(resp.Lines, orderLineResponse{
			Name:       line.Name,
			Quantity:   line.Quantity,
			UnitPrice:  line.UnitPrice,
			IsPhysical: line.IsPhysical,
		})
	}

	if order.Refund != nil {
		resp.Refund = &refundResponse{
			Wallet:  order.Refund.Wallet,
			Gateway: order.Refund.Gateway,
			Penalty: order.Refund.Penalty,
		}
	}

	return resp
}

// orderIDParam extracts the order id from the route
func orderIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "orderID"), 10, 64)
}

type orderLineRequest struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type createOrderRequest struct {
	UserID int64              `json:"user_id"`
	Lines  []orderLineRequest `json:"lines"`
}

// CreateOrder checks out a cart: reserves units and opens the payment window
// 201 - order created
// 400 - bad request format
// 403 - user is banned
// 409 - not enough units of a position
// 500 - internal server error
func (oh *OrderHandler) CreateOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createOrderRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		if req.UserID <= 0 {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		var lines []models.OrderLine
		for _, line := range req.Lines {
			lines = append(lines, models.OrderLine{
				Name:     line.Name,
				Quantity: line.Quantity,
			})
		}

		order, err := oh.svc.Checkout(r.Context(), req.UserID, lines)
		if err != nil {
			var stockErr models.InsufficientStockError
			switch {
			case errors.Is(err, models.ErrUserBanned):
				http.Error(w, "user is banned", http.StatusForbidden)
			case errors.As(err, &stockErr):
				http.Error(w, stockErr.Error(), http.StatusConflict)
			case errors.Is(err, models.ErrMalformedPayload):
				http.Error(w, "bad request", http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)

		if err := json.NewEncoder(w).Encode(newOrderResponse(order)); err != nil {
			return
		}
	}
}

// GetOrder returns the order with its lines and refund breakdown
// 200 - order found
// 400 - bad order id
// 404 - order not found
// 500 - internal server error
func (oh *OrderHandler) GetOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			http.Error(w, "bad order id", http.StatusBadRequest)
			return
		}

		order, err := oh.svc.GetOrder(r.Context(), orderID)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDataNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
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

type addressRequest struct {
	Address string `json:"address"`
}

// SubmitAddress stores the shipping address for an order waiting for one
// 200 - address accepted
// 400 - bad request format
// 404 - order not found
// 409 - order is not waiting for an address
// 500 - internal server error
func (oh *OrderHandler) SubmitAddress() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			http.Error(w, "bad order id", http.StatusBadRequest)
			return
		}

		var req addressRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		order, err := oh.svc.SubmitAddress(r.Context(), orderID, req.Address)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDataNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
			case errors.Is(err, models.ErrMalformedPayload):
				http.Error(w, "address is required", http.StatusBadRequest)
			case errors.Is(err, models.ErrInvalidTransition):
				http.Error(w, "order is not waiting for an address", http.StatusConflict)
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

// PayFromWallet pays the order's outstanding amount from the wallet
// 200 - order paid
// 400 - bad order id
// 402 - insufficient wallet balance
// 404 - order not found
// 409 - order is not awaiting payment
// 500 - internal server error
func (oh *OrderHandler) PayFromWallet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			http.Error(w, "bad order id", http.StatusBadRequest)
			return
		}

		order, err := oh.svc.AttemptWalletPayment(r.Context(), orderID)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDataNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
			case errors.Is(err, models.ErrInsufficientBalance):
				http.Error(w, "insufficient balance", http.StatusPaymentRequired)
			case errors.Is(err, models.ErrInvalidTransition):
				http.Error(w, "order is not awaiting payment", http.StatusConflict)
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

// CancelOrder cancels a payment-pending order at the user's request
// 200 - order cancelled
// 400 - bad order id
// 404 - order not found
// 409 - order can no longer be cancelled
// 500 - internal server error
func (oh *OrderHandler) CancelOrder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			http.Error(w, "bad order id", http.StatusBadRequest)
			return
		}

		order, err := oh.svc.CancelByUser(r.Context(), orderID)
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

type deliverableResponse struct {
	ItemID     int64  `json:"item_id"`
	Name       string `json:"name"`
	IsPhysical bool   `json:"is_physical"`
	Payload    string `json:"payload,omitempty"`
}

// GetOrderItems returns the paid order's units for the delivery layer
// 200 - units returned
// 400 - bad order id
// 404 - order not found
// 409 - order is not paid yet
// 500 - internal server error
func (oh *OrderHandler) GetOrderItems() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			http.Error(w, "bad order id", http.StatusBadRequest)
			return
		}

		items, err := oh.svc.GetDeliverables(r.Context(), orderID)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDataNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
			case errors.Is(err, models.ErrInvalidTransition):
				http.Error(w, "order is not paid", http.StatusConflict)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		resp := make([]deliverableResponse, 0, len(items))
		for _, item := range items {
			resp = append(resp, deliverableResponse{
				ItemID:     item.ID,
				Name:       item.Name,
				IsPhysical: item.IsPhysical,
				Payload:    item.Payload,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			return
		}
	}
}
