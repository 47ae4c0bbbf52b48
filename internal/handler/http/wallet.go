package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
)

type WalletService interface {
	// GetWallet returns the user's wallet
	GetWallet(ctx context.Context, userID int64) (*models.User, error)
	// TopUp credits the user's balance, lifting a ban at the threshold
	TopUp(ctx context.Context, userID int64, amount decimal.Decimal) (*models.User, error)
}

// WalletHandler represents HTTP handler for wallet-related requests
type WalletHandler struct {
	svc WalletService
}

// NewWalletHandler creates new WalletHandler instance
func NewWalletHandler(svc WalletService) *WalletHandler {
	return &WalletHandler{svc: svc}
}

type walletResponse struct {
	UserID   int64           `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Strikes  int             `json:"strikes"`
	IsBanned bool            `json:"is_banned"`
}

// userIDParam extracts the user id from the route
func userIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
}

// GetWallet returns the user's balance and strike standing
// 200 - wallet found
// 400 - bad user id
// 404 - unknown user
// 500 - internal server error
func (wh *WalletHandler) GetWallet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDParam(r)
		if err != nil {
			http.Error(w, "bad user id", http.StatusBadRequest)
			return
		}

		user, err := wh.svc.GetWallet(r.Context(), userID)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrDataNotFound):
				http.Error(w, "user not found", http.StatusNotFound)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		resp := walletResponse{
			UserID:   user.ID,
			Balance:  user.Balance,
			Strikes:  user.Strikes,
			IsBanned: user.IsBanned,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			return
		}
	}
}

type topUpRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// TopUpWallet credits the user's balance
// 200 - balance credited
// 400 - bad request format or non-positive amount
// 500 - internal server error
func (wh *WalletHandler) TopUpWallet() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := userIDParam(r)
		if err != nil {
			http.Error(w, "bad user id", http.StatusBadRequest)
			return
		}

		var req topUpRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		user, err := wh.svc.TopUp(r.Context(), userID, req.Amount)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrMalformedPayload):
				http.Error(w, "amount must be positive", http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		resp := walletResponse{
			UserID:   user.ID,
			Balance:  user.Balance,
			Strikes:  user.Strikes,
			IsBanned: user.IsBanned,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			return
		}
	}
}
