package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rookgm/cryptomart/internal/gateway"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
)

type PaymentService interface {
	// RequestGatewayInvoice creates a crypto invoice for the order's outstanding amount
	RequestGatewayInvoice(ctx context.Context, orderID int64, payCurrency string, useWallet bool) (*models.Order, *models.Invoice, error)
	// HandleGatewayEvent verifies and reconciles one gateway webhook
	HandleGatewayEvent(ctx context.Context, hook gateway.Webhook) (*models.PaymentTransaction, error)
}

// PaymentHandler represents HTTP handler for payment-related requests
type PaymentHandler struct {
	svc PaymentService
}

// NewPaymentHandler creates new PaymentHandler instance
func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{svc: svc}
}

type createInvoiceRequest struct {
	PayCurrency string `json:"pay_currency"`
	UseWallet   bool   `json:"use_wallet"`
}

type invoiceResponse struct {
	OrderID       int64           `json:"order_id"`
	PaymentID     string          `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	PayURL        string          `json:"pay_url"`
	Attempt       int             `json:"attempt"`
	WalletPortion decimal.Decimal `json:"wallet_portion"`
}

// CreateInvoice issues a crypto invoice, optionally applying the wallet first
// 201 - invoice issued
// 400 - bad request format
// 404 - order not found
// 409 - order not awaiting payment, active invoice exists or wallet covers the total
// 503 - payment gateway is throttling, Retry-After set
// 500 - internal server error
func (ph *PaymentHandler) CreateInvoice() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := orderIDParam(r)
		if err != nil {
			http.Error(w, "bad order id", http.StatusBadRequest)
			return
		}

		var req createInvoiceRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		order, inv, err := ph.svc.RequestGatewayInvoice(r.Context(), orderID, req.PayCurrency, req.UseWallet)
		if err != nil {
			var throttleErr models.TooManyRequestsError
			switch {
			case errors.Is(err, models.ErrDataNotFound):
				http.Error(w, "order not found", http.StatusNotFound)
			case errors.Is(err, models.ErrMalformedPayload):
				http.Error(w, "pay_currency is required", http.StatusBadRequest)
			case errors.Is(err, models.ErrActiveInvoiceExists):
				http.Error(w, "order already has an active invoice", http.StatusConflict)
			case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrConflictData):
				http.Error(w, "order is not awaiting a gateway invoice", http.StatusConflict)
			case errors.As(err, &throttleErr):
				w.Header().Set("Retry-After", strconv.Itoa(int(throttleErr.RetryAfter.Seconds())))
				http.Error(w, "payment gateway is busy", http.StatusServiceUnavailable)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		resp := invoiceResponse{
			OrderID:       order.ID,
			PaymentID:     inv.PaymentID,
			Amount:        inv.Amount,
			Currency:      inv.Currency,
			FiatAmount:    inv.FiatAmount,
			PayURL:        inv.PayURL,
			Attempt:       inv.Attempt,
			WalletPortion: order.WalletPortion,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			return
		}
	}
}

type webhookResponse struct {
	PaymentID string `json:"payment_id"`
	Result    string `json:"result"`
}

// GatewayWebhook receives payment events from the crypto gateway
// 202 - event recorded, including stale and mismatched ones
// 400 - malformed payload
// 403 - invalid signature
// 500 - internal server error
func (ph *PaymentHandler) GatewayWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var hook gateway.Webhook

		if err := json.NewDecoder(r.Body).Decode(&hook); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		txn, err := ph.svc.HandleGatewayEvent(r.Context(), hook)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrInvalidSignature):
				http.Error(w, "invalid signature", http.StatusForbidden)
			case errors.Is(err, models.ErrMalformedPayload):
				http.Error(w, "bad request", http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		resp := webhookResponse{
			PaymentID: txn.PaymentID,
			Result:    string(txn.Result),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			return
		}
	}
}
