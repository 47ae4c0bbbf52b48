package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
)

type StockService interface {
	// AddUnits loads a batch of units into a position
	AddUnits(ctx context.Context, intake models.StockIntake) (int, error)
	// GetAvailability returns the free stock of a position
	GetAvailability(ctx context.Context, name string) (int, error)
}

// StockHandler represents HTTP handler for inventory requests
type StockHandler struct {
	svc StockService
}

// NewStockHandler creates new StockHandler instance
func NewStockHandler(svc StockService) *StockHandler {
	return &StockHandler{svc: svc}
}

type addStockRequest struct {
	Name       string          `json:"name"`
	Category   string          `json:"category"`
	Price      decimal.Decimal `json:"price"`
	IsPhysical bool            `json:"is_physical"`
	Quantity   int             `json:"quantity"`
	Payloads   []string        `json:"payloads"`
}

type stockResponse struct {
	Name      string `json:"name"`
	Available int    `json:"available"`
}

// AddStock loads sellable units into a position
// 201 - units loaded
// 400 - bad request format or empty batch
// 401 - admin is not authorized
// 500 - internal server error
func (sh *StockHandler) AddStock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := getAuthPayload(r.Context(), authPayloadKey); !ok {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		var req addStockRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		defer r.Body.Close()

		available, err := sh.svc.AddUnits(r.Context(), models.StockIntake{
			Name:       req.Name,
			Category:   req.Category,
			Price:      req.Price,
			IsPhysical: req.IsPhysical,
			Quantity:   req.Quantity,
			Payloads:   req.Payloads,
		})
		if err != nil {
			switch {
			case errors.Is(err, models.ErrMalformedPayload):
				http.Error(w, "bad stock batch", http.StatusBadRequest)
			default:
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
			return
		}

		resp := stockResponse{
			Name:      req.Name,
			Available: available,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			return
		}
	}
}

// GetStock returns the free stock of a position
// 200 - stock returned, zero for unknown positions
// 500 - internal server error
func (sh *StockHandler) GetStock() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		available, err := sh.svc.GetAvailability(r.Context(), name)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		resp := stockResponse{
			Name:      name,
			Available: available,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		if err := json.NewEncoder(w).Encode(resp); err != nil {
			return
		}
	}
}
