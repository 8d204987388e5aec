package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/papertrade/internal/domain"
)

// activeKey orders resting orders by creation time, then by ID.
type activeKey struct {
	CreatedAt time.Time
	OrderID   string
}

func activeLess(a, b activeKey) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

// MemoryStore is a thread-safe in-memory Store. A single mutex makes every
// multi-record mutation atomic. Active orders are indexed per side in a
// B-tree so the matcher can scan them oldest first.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]*domain.Account
	holdings     map[string]map[string]decimal.Decimal // owner → symbol → quantity
	orders       map[string]*domain.Order
	ownerOrders  map[string][]*domain.Order // owner → orders (append-only)
	active       map[domain.OrderSide]*btree.BTreeG[activeKey]
	transactions map[string][]*domain.Transaction // owner → fills (append-only)

	now func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	const degree = 32
	return &MemoryStore{
		accounts:    make(map[string]*domain.Account),
		holdings:    make(map[string]map[string]decimal.Decimal),
		orders:      make(map[string]*domain.Order),
		ownerOrders: make(map[string][]*domain.Order),
		active: map[domain.OrderSide]*btree.BTreeG[activeKey]{
			domain.OrderSideBuy:  btree.NewG[activeKey](degree, activeLess),
			domain.OrderSideSell: btree.NewG[activeKey](degree, activeLess),
		},
		transactions: make(map[string][]*domain.Transaction),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, a *domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.OwnerID]; ok {
		return domain.ErrAccountExists
	}
	cp := *a
	s.accounts[a.OwnerID] = &cp
	return nil
}

func (s *MemoryStore) Balance(_ context.Context, ownerID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[ownerID]
	if !ok {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	return a.Balance, nil
}

func (s *MemoryStore) AdjustBalance(_ context.Context, ownerID string, delta decimal.Decimal) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[ownerID]
	if !ok {
		return decimal.Zero, domain.ErrAccountNotFound
	}
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return a.Balance, domain.ErrInsufficientBalance
	}
	a.Balance = next
	return next, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[o.OwnerID]; !ok {
		return domain.ErrAccountNotFound
	}
	s.insertLocked(o)
	return nil
}

func (s *MemoryStore) insertLocked(o *domain.Order) *domain.Order {
	cp := o.Clone()
	if cp.Type == "" {
		cp.Type = domain.OrderTypeLimit
	}
	s.orders[cp.OrderID] = cp
	s.ownerOrders[cp.OwnerID] = append(s.ownerOrders[cp.OwnerID], cp)
	if cp.Status == domain.OrderStatusActive {
		s.active[cp.Side].ReplaceOrInsert(activeKey{CreatedAt: cp.CreatedAt, OrderID: cp.OrderID})
	}
	return cp
}

func (s *MemoryStore) GetOrder(_ context.Context, orderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, ownerID string, status *domain.OrderStatus) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.ownerOrders[ownerID]
	out := make([]*domain.Order, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if status != nil && all[i].Status != *status {
			continue
		}
		out = append(out, all[i].Clone())
	}
	return out, nil
}

func (s *MemoryStore) ActiveOrders(_ context.Context, side domain.OrderSide) ([]*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tree, ok := s.active[side]
	if !ok {
		return nil, &domain.ValidationError{Message: "side must be buy or sell"}
	}
	out := make([]*domain.Order, 0, tree.Len())
	tree.Ascend(func(k activeKey) bool {
		out = append(out, s.orders[k.OrderID].Clone())
		return true
	})
	return out, nil
}

func (s *MemoryStore) SetOrderStatus(_ context.Context, orderID string, from, to domain.OrderStatus) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if o.Status != from {
		return nil, domain.ErrOrderSettled
	}
	s.transitionLocked(o, to)
	return o.Clone(), nil
}

// transitionLocked sets the status and keeps the active index in sync.
func (s *MemoryStore) transitionLocked(o *domain.Order, to domain.OrderStatus) {
	if o.Status == domain.OrderStatusActive && to != domain.OrderStatusActive {
		s.active[o.Side].Delete(activeKey{CreatedAt: o.CreatedAt, OrderID: o.OrderID})
	}
	o.Status = to
	o.UpdatedAt = s.now()
}

func (s *MemoryStore) HoldingQuantity(_ context.Context, ownerID, symbol string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdings[ownerID][symbol], nil
}

func (s *MemoryStore) Holdings(_ context.Context, ownerID string) ([]*domain.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Holding, 0, len(s.holdings[ownerID]))
	for sym, q := range s.holdings[ownerID] {
		out = append(out, &domain.Holding{OwnerID: ownerID, Symbol: sym, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) ApplyFill(_ context.Context, order *domain.Order, price decimal.Decimal) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[order.OrderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	if o.Status != domain.OrderStatusActive {
		return nil, domain.ErrOrderSettled
	}
	return s.fillLocked(o, price)
}

func (s *MemoryStore) ExecuteOrder(_ context.Context, order *domain.Order, price decimal.Decimal) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[order.OwnerID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	// Refuse before inserting so a failed execution leaves no order behind.
	if _, _, err := fillDelta(order, price, acct.Balance, s.holdings[order.OwnerID][order.Symbol]); err != nil {
		return nil, err
	}
	o := s.insertLocked(order)
	return s.fillLocked(o, price)
}

// fillLocked fills an active order held in s.orders.
func (s *MemoryStore) fillLocked(o *domain.Order, price decimal.Decimal) (*domain.Transaction, error) {
	acct, ok := s.accounts[o.OwnerID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}

	held := s.holdings[o.OwnerID][o.Symbol]
	balance, newHeld, err := fillDelta(o, price, acct.Balance, held)
	if err != nil {
		return nil, err
	}

	// All checks passed; nothing below can fail.
	now := s.now()
	acct.Balance = balance
	s.setHoldingLocked(o.OwnerID, o.Symbol, newHeld)

	tx := &domain.Transaction{
		TransactionID: uuid.New().String(),
		OwnerID:       o.OwnerID,
		OrderID:       o.OrderID,
		Symbol:        o.Symbol,
		Quantity:      signedQuantity(o),
		Price:         price,
		ExecutedAt:    now,
	}
	s.transactions[o.OwnerID] = append(s.transactions[o.OwnerID], tx)
	s.transitionLocked(o, domain.OrderStatusFilled)

	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) setHoldingLocked(ownerID, symbol string, q decimal.Decimal) {
	if q.IsZero() {
		delete(s.holdings[ownerID], symbol)
		if len(s.holdings[ownerID]) == 0 {
			delete(s.holdings, ownerID)
		}
		return
	}
	if s.holdings[ownerID] == nil {
		s.holdings[ownerID] = make(map[string]decimal.Decimal)
	}
	s.holdings[ownerID][symbol] = q
}

func (s *MemoryStore) Transactions(_ context.Context, ownerID string, f TransactionFilter, page, limit int) ([]*domain.Transaction, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.transactions[ownerID]
	newest := make([]*domain.Transaction, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if !f.matches(all[i]) {
			continue
		}
		cp := *all[i]
		newest = append(newest, &cp)
	}
	return paginate(newest, page, limit), len(newest), nil
}
