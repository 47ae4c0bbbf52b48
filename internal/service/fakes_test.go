package service

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"testing"
	"time"

	"github.com/rookgm/cryptomart/internal/events"
	"github.com/rookgm/cryptomart/internal/gateway"
	"github.com/rookgm/cryptomart/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory stand-in for the database. Repository methods
// operate on value copies, and InTx restores a snapshot on error, so
// rollback semantics hold for the flows under test.
type memStore struct {
	orders     map[int64]models.Order
	lines      map[int64][]models.OrderLine
	items      map[int64]models.Item
	users      map[int64]models.User
	invoices   map[int64]models.Invoice
	txns       []models.PaymentTransaction
	deliveries map[int64][]int64
	nextID     int64
}

func newMemStore() *memStore {
	return &memStore{
		orders:     make(map[int64]models.Order),
		lines:      make(map[int64][]models.OrderLine),
		items:      make(map[int64]models.Item),
		users:      make(map[int64]models.User),
		invoices:   make(map[int64]models.Invoice),
		deliveries: make(map[int64][]int64),
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

type storeSnapshot struct {
	orders     map[int64]models.Order
	lines      map[int64][]models.OrderLine
	items      map[int64]models.Item
	users      map[int64]models.User
	invoices   map[int64]models.Invoice
	txns       []models.PaymentTransaction
	deliveries map[int64][]int64
	nextID     int64
}

func (s *memStore) snapshot() storeSnapshot {
	snap := storeSnapshot{
		orders:     maps.Clone(s.orders),
		items:      maps.Clone(s.items),
		users:      maps.Clone(s.users),
		invoices:   maps.Clone(s.invoices),
		txns:       slices.Clone(s.txns),
		nextID:     s.nextID,
		lines:      make(map[int64][]models.OrderLine, len(s.lines)),
		deliveries: make(map[int64][]int64, len(s.deliveries)),
	}
	for k, v := range s.lines {
		snap.lines[k] = slices.Clone(v)
	}
	for k, v := range s.deliveries {
		snap.deliveries[k] = slices.Clone(v)
	}
	return snap
}

func (s *memStore) restore(snap storeSnapshot) {
	s.orders = snap.orders
	s.lines = snap.lines
	s.items = snap.items
	s.users = snap.users
	s.invoices = snap.invoices
	s.txns = snap.txns
	s.deliveries = snap.deliveries
	s.nextID = snap.nextID
}

// memRepo implements every repository interface plus TxRunner on top of
// one memStore.
type memRepo struct {
	s *memStore
}

func (r *memRepo) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := r.s.snapshot()
	if err := fn(ctx); err != nil {
		r.s.restore(snap)
		return err
	}
	return nil
}

func (r *memRepo) CreateOrder(_ context.Context, order *models.Order) (*models.Order, error) {
	order.ID = r.s.id()
	order.CreatedAt = time.Now()
	r.s.orders[order.ID] = *order
	return order, nil
}

func (r *memRepo) CreateOrderLines(_ context.Context, orderID int64, lines []models.OrderLine) error {
	r.s.lines[orderID] = slices.Clone(lines)
	return nil
}

func (r *memRepo) getOrder(orderID int64) (*models.Order, error) {
	order, ok := r.s.orders[orderID]
	if !ok {
		return nil, models.ErrDataNotFound
	}
	order.Lines = slices.Clone(r.s.lines[orderID])
	return &order, nil
}

func (r *memRepo) GetOrderByID(_ context.Context, orderID int64) (*models.Order, error) {
	return r.getOrder(orderID)
}

func (r *memRepo) GetOrderForUpdate(_ context.Context, orderID int64) (*models.Order, error) {
	return r.getOrder(orderID)
}

func (r *memRepo) SetOrderCheckout(_ context.Context, orderID int64, total decimal.Decimal, status models.OrderStatus) error {
	order, ok := r.s.orders[orderID]
	if !ok {
		return models.ErrDataNotFound
	}
	order.Total = total
	order.Status = status
	r.s.orders[orderID] = order
	return nil
}

func (r *memRepo) UpdateOrderStatus(_ context.Context, orderID int64, from, to models.OrderStatus) error {
	order, ok := r.s.orders[orderID]
	if !ok || order.Status != from {
		return models.ErrInvalidTransition
	}
	order.Status = to
	r.s.orders[orderID] = order
	return nil
}

func (r *memRepo) SetOrderAddress(_ context.Context, orderID int64, address string, from, to models.OrderStatus) error {
	order, ok := r.s.orders[orderID]
	if !ok || order.Status != from {
		return models.ErrInvalidTransition
	}
	order.Address = address
	order.Status = to
	r.s.orders[orderID] = order
	return nil
}

func (r *memRepo) SetWalletPortion(_ context.Context, orderID int64, portion decimal.Decimal) error {
	order, ok := r.s.orders[orderID]
	if !ok {
		return models.ErrDataNotFound
	}
	order.WalletPortion = portion
	r.s.orders[orderID] = order
	return nil
}

func (r *memRepo) ExtendOrderExpiry(_ context.Context, orderID int64, until time.Time) error {
	order, ok := r.s.orders[orderID]
	if !ok || order.ExpiryExtended {
		return models.ErrConflictData
	}
	order.ExpiresAt = until
	order.ExpiryExtended = true
	r.s.orders[orderID] = order
	return nil
}

func (r *memRepo) CloseOrder(_ context.Context, orderID int64, from, to models.OrderStatus, reason string, refund models.Refund) error {
	order, ok := r.s.orders[orderID]
	if !ok || order.Status != from {
		return models.ErrInvalidTransition
	}
	order.Status = to
	order.CancelReason = reason
	order.Refund = &models.Refund{
		Wallet:  refund.Wallet,
		Gateway: refund.Gateway,
		Penalty: refund.Penalty,
	}
	r.s.orders[orderID] = order
	return nil
}

func (r *memRepo) ListExpiredOrderIDs(_ context.Context, now time.Time) ([]int64, error) {
	var ids []int64
	for id, order := range r.s.orders {
		if order.Status.PaymentPending() && now.After(order.ExpiresAt) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (r *memRepo) sortedItemIDs() []int64 {
	ids := slices.Collect(maps.Keys(r.s.items))
	slices.Sort(ids)
	return ids
}

func (r *memRepo) ReserveUnits(_ context.Context, orderID int64, name string, qty int) ([]models.Item, error) {
	var claimed []models.Item
	for _, id := range r.sortedItemIDs() {
		if len(claimed) == qty {
			break
		}
		item := r.s.items[id]
		if item.Name != name || item.IsReserved || item.IsSold {
			continue
		}
		item.IsReserved = true
		item.OrderID = orderID
		r.s.items[id] = item
		claimed = append(claimed, item)
	}
	return claimed, nil
}

func (r *memRepo) ReleaseUnits(_ context.Context, orderID int64) (int64, error) {
	var released int64
	for _, id := range r.sortedItemIDs() {
		item := r.s.items[id]
		if item.OrderID != orderID || item.IsSold {
			continue
		}
		item.IsReserved = false
		item.OrderID = 0
		r.s.items[id] = item
		released++
	}
	return released, nil
}

func (r *memRepo) MarkUnitsSold(_ context.Context, orderID int64) ([]int64, error) {
	var sold []int64
	for _, id := range r.sortedItemIDs() {
		item := r.s.items[id]
		if item.OrderID != orderID || !item.IsReserved || item.IsSold {
			continue
		}
		item.IsSold = true
		r.s.items[id] = item
		sold = append(sold, id)
	}
	return sold, nil
}

func (r *memRepo) GetOrderItems(_ context.Context, orderID int64) ([]models.Item, error) {
	var items []models.Item
	for _, id := range r.sortedItemIDs() {
		if item := r.s.items[id]; item.OrderID == orderID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (r *memRepo) CreateItem(_ context.Context, item *models.Item) (*models.Item, error) {
	item.ID = r.s.id()
	item.CreatedAt = time.Now()
	r.s.items[item.ID] = *item
	return item, nil
}

func (r *memRepo) CountAvailableUnits(_ context.Context, name string) (int, error) {
	count := 0
	for _, item := range r.s.items {
		if item.Name == name && !item.IsReserved && !item.IsSold {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) CreateDeliveries(_ context.Context, orderID int64, itemIDs []int64) error {
	r.s.deliveries[orderID] = append(r.s.deliveries[orderID], itemIDs...)
	return nil
}

func (r *memRepo) EnsureUser(_ context.Context, userID int64) (*models.User, error) {
	user, ok := r.s.users[userID]
	if !ok {
		user = models.User{ID: userID, Balance: decimal.Zero, CreatedAt: time.Now()}
		r.s.users[userID] = user
	}
	return &user, nil
}

func (r *memRepo) GetUserByID(_ context.Context, userID int64) (*models.User, error) {
	user, ok := r.s.users[userID]
	if !ok {
		return nil, models.ErrDataNotFound
	}
	return &user, nil
}

func (r *memRepo) DebitBalance(_ context.Context, userID int64, amount decimal.Decimal) error {
	user, ok := r.s.users[userID]
	if !ok || user.Balance.LessThan(amount) {
		return models.ErrInsufficientBalance
	}
	user.Balance = user.Balance.Sub(amount)
	r.s.users[userID] = user
	return nil
}

func (r *memRepo) CreditBalance(_ context.Context, userID int64, amount decimal.Decimal) (*models.User, error) {
	user, ok := r.s.users[userID]
	if !ok {
		return nil, models.ErrDataNotFound
	}
	user.Balance = user.Balance.Add(amount)
	r.s.users[userID] = user
	return &user, nil
}

func (r *memRepo) AddStrike(_ context.Context, userID int64) (*models.User, error) {
	user, ok := r.s.users[userID]
	if !ok {
		return nil, models.ErrDataNotFound
	}
	user.Strikes++
	r.s.users[userID] = user
	return &user, nil
}

func (r *memRepo) BanUser(_ context.Context, userID int64) (bool, error) {
	user, ok := r.s.users[userID]
	if !ok || user.IsExempt {
		return false, nil
	}
	user.IsBanned = true
	r.s.users[userID] = user
	return true, nil
}

func (r *memRepo) UnbanUser(_ context.Context, userID int64) error {
	user, ok := r.s.users[userID]
	if !ok {
		return models.ErrDataNotFound
	}
	user.IsBanned = false
	user.Strikes = 0
	r.s.users[userID] = user
	return nil
}

func (r *memRepo) CreateInvoice(_ context.Context, inv *models.Invoice) (*models.Invoice, error) {
	for _, existing := range r.s.invoices {
		if existing.OrderID == inv.OrderID && existing.IsActive {
			return nil, models.ErrActiveInvoiceExists
		}
	}
	inv.ID = r.s.id()
	inv.CreatedAt = time.Now()
	r.s.invoices[inv.ID] = *inv
	return inv, nil
}

func (r *memRepo) GetActiveInvoice(_ context.Context, orderID int64) (*models.Invoice, error) {
	for _, inv := range r.s.invoices {
		if inv.OrderID == orderID && inv.IsActive {
			return &inv, nil
		}
	}
	return nil, models.ErrDataNotFound
}

func (r *memRepo) GetInvoiceByPaymentID(_ context.Context, paymentID string) (*models.Invoice, error) {
	for _, inv := range r.s.invoices {
		if inv.PaymentID == paymentID {
			return &inv, nil
		}
	}
	return nil, models.ErrDataNotFound
}

func (r *memRepo) DeactivateOrderInvoices(_ context.Context, orderID int64) error {
	for id, inv := range r.s.invoices {
		if inv.OrderID == orderID && inv.IsActive {
			inv.IsActive = false
			r.s.invoices[id] = inv
		}
	}
	return nil
}

func (r *memRepo) CountOrderInvoices(_ context.Context, orderID int64) (int, error) {
	count := 0
	for _, inv := range r.s.invoices {
		if inv.OrderID == orderID {
			count++
		}
	}
	return count, nil
}

func (r *memRepo) CreateTransaction(_ context.Context, txn *models.PaymentTransaction) (*models.PaymentTransaction, error) {
	txn.ID = r.s.id()
	txn.CreatedAt = time.Now()
	r.s.txns = append(r.s.txns, *txn)
	return txn, nil
}

func (r *memRepo) SumFundedFiat(_ context.Context, orderID int64) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, txn := range r.s.txns {
		if txn.OrderID != orderID || !txn.Result.Funded() {
			continue
		}
		counted := txn.FiatAmount
		if inv, ok := r.s.invoices[txn.InvoiceID]; ok && counted.GreaterThan(inv.FiatAmount) {
			counted = inv.FiatAmount
		}
		sum = sum.Add(counted)
	}
	return sum, nil
}

func (r *memRepo) MarkPenaltyApplied(_ context.Context, orderID int64) error {
	for i, txn := range r.s.txns {
		if txn.OrderID == orderID && txn.Result.Funded() {
			r.s.txns[i].PenaltyApplied = true
		}
	}
	return nil
}

// capturePublisher collects notification intents.
type capturePublisher struct {
	published []events.Event
	err       error
}

func (p *capturePublisher) Publish(_ context.Context, event events.Event) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, event)
	return nil
}

func (p *capturePublisher) types() []string {
	var out []string
	for _, ev := range p.published {
		out = append(out, ev.Type)
	}
	return out
}

// fakeGateway converts fiat to crypto at a fixed rate and accepts any
// webhook whose signature is not the literal "invalid".
type fakeGateway struct {
	rate      decimal.Decimal
	nextID    int
	createErr error
	requests  []gateway.InvoiceRequest
}

func (g *fakeGateway) CreateInvoice(_ context.Context, req gateway.InvoiceRequest) (*gateway.Invoice, error) {
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.nextID++
	g.requests = append(g.requests, req)
	paymentID := fmt.Sprintf("pay-%d", g.nextID)
	return &gateway.Invoice{
		PaymentID:  paymentID,
		Amount:     models.RoundCrypto(req.FiatAmount.Mul(g.rate)),
		Currency:   req.PayCurrency,
		FiatAmount: req.FiatAmount,
		PayURL:     "https://gw.test/pay/" + paymentID,
	}, nil
}

func (g *fakeGateway) VerifyWebhook(hook gateway.Webhook) error {
	if hook.Signature == "invalid" {
		return models.ErrInvalidSignature
	}
	return nil
}

type env struct {
	store    *memStore
	repo     *memRepo
	pub      *capturePublisher
	gw       *fakeGateway
	orders   *OrderService
	payments *PaymentService
}

func newTestEnv(t *testing.T) *env {
	t.Helper()

	store := newMemStore()
	repo := &memRepo{s: store}
	pub := &capturePublisher{}
	gw := &fakeGateway{rate: decimal.RequireFromString("0.00001")}

	orderSvc := NewOrderService(repo, repo, repo, repo, repo, repo, pub, OrderPolicy{
		FiatCurrency:   "EUR",
		OrderTTL:       time.Hour,
		RetryTTL:       30 * time.Minute,
		GracePeriod:    5 * time.Minute,
		PenaltyPercent: 10,
		StrikeLimit:    3,
	})
	paymentSvc := NewPaymentService(repo, repo, repo, repo, gw, orderSvc, repo, PaymentPolicy{
		FiatCurrency:     "EUR",
		ExactTolerance:   decimal.RequireFromString("0.00000100"),
		OverpayTolerance: decimal.RequireFromString("0.00010000"),
	})

	return &env{
		store:    store,
		repo:     repo,
		pub:      pub,
		gw:       gw,
		orders:   orderSvc,
		payments: paymentSvc,
	}
}

func (e *env) seedUnits(name, category, price string, physical bool, n int) {
	for i := 0; i < n; i++ {
		id := e.store.id()
		e.store.items[id] = models.Item{
			ID:         id,
			Name:       name,
			Category:   category,
			Price:      decimal.RequireFromString(price),
			IsPhysical: physical,
			Payload:    fmt.Sprintf("%s-%d", name, i),
			CreatedAt:  time.Now(),
		}
	}
}

func (e *env) seedUser(id int64, balance string) {
	e.store.users[id] = models.User{
		ID:        id,
		Balance:   decimal.RequireFromString(balance),
		CreatedAt: time.Now(),
	}
}

// advance shifts the order service clock forward from real time.
func (e *env) advance(d time.Duration) {
	e.orders.now = func() time.Time { return time.Now().Add(d) }
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}

func hookFor(inv *models.Invoice, paid, fiat decimal.Decimal) gateway.Webhook {
	return gateway.Webhook{
		PaymentID:      inv.PaymentID,
		Status:         "paid",
		AmountPaid:     paid.String(),
		AmountRequired: inv.Amount.String(),
		FiatAmount:     fiat.String(),
		Currency:       inv.Currency,
		Signature:      "ok",
	}
}
