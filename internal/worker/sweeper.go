package worker

import (
	"context"
	"time"

	"github.com/rookgm/cryptomart/internal/logger"
	"go.uber.org/zap"
)

type OrderExpirer interface {
	ExpireDueOrders(ctx context.Context) (int, error)
}

// Sweeper is worker closing payment-pending orders past their deadline
type Sweeper struct {
	svc      OrderExpirer
	interval time.Duration
}

// NewSweeper creates new sweeper
func NewSweeper(svc OrderExpirer, interval time.Duration) *Sweeper {
	return &Sweeper{svc: svc, interval: interval}
}

// Run sweeps expired orders until the context is cancelled
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Debug("order sweeper is done")
			return
		case <-ticker.C:
			expired, err := sw.svc.ExpireDueOrders(ctx)
			if err != nil {
				logger.Log.Error("error sweeping expired orders", zap.Error(err))
				continue
			}
			if expired > 0 {
				logger.Log.Info("expired orders closed", zap.Int("count", expired))
			}
		}
	}
}
