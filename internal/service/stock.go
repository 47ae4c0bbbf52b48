package service

import (
	"context"
	"fmt"

	"github.com/rookgm/cryptomart/internal/logger"
	"github.com/rookgm/cryptomart/internal/models"
	"go.uber.org/zap"
)

// StockRepository is interface for interacting with sellable units
type StockRepository interface {
	// CreateItem inserts new sellable unit
	CreateItem(ctx context.Context, item *models.Item) (*models.Item, error)
	// CountAvailableUnits returns the free stock of a position
	CountAvailableUnits(ctx context.Context, name string) (int, error)
}

// StockService manages the sellable inventory
type StockService struct {
	items StockRepository
	tx    TxRunner
}

// NewStockService creates new StockService instance
func NewStockService(items StockRepository, tx TxRunner) *StockService {
	return &StockService{items: items, tx: tx}
}

// AddUnits loads a batch of units into a position and returns the
// position's available count afterwards. Digital units carry one payload
// each; physical units are counted only.
func (ss *StockService) AddUnits(ctx context.Context, intake models.StockIntake) (int, error) {
	if intake.Name == "" || !intake.Price.IsPositive() {
		return 0, fmt.Errorf("stock intake for %q: %w", intake.Name, models.ErrMalformedPayload)
	}

	var payloads []string
	if intake.IsPhysical {
		if intake.Quantity <= 0 {
			return 0, fmt.Errorf("stock intake for %q without quantity: %w", intake.Name, models.ErrMalformedPayload)
		}
		payloads = make([]string, intake.Quantity)
	} else {
		if len(intake.Payloads) == 0 {
			return 0, fmt.Errorf("stock intake for %q without payloads: %w", intake.Name, models.ErrMalformedPayload)
		}
		payloads = intake.Payloads
	}

	price := models.RoundFiat(intake.Price)

	err := ss.tx.InTx(ctx, func(ctx context.Context) error {
		for _, payload := range payloads {
			item := &models.Item{
				Name:       intake.Name,
				Category:   intake.Category,
				Price:      price,
				IsPhysical: intake.IsPhysical,
				Payload:    payload,
			}
			if _, err := ss.items.CreateItem(ctx, item); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Log.Info("stock loaded",
		zap.String("name", intake.Name),
		zap.Int("units", len(payloads)))

	return ss.items.CountAvailableUnits(ctx, intake.Name)
}

// GetAvailability returns the free stock of a position. Unknown positions
// report zero.
func (ss *StockService) GetAvailability(ctx context.Context, name string) (int, error) {
	return ss.items.CountAvailableUnits(ctx, name)
}
