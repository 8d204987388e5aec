package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/efreitasn/papertrade/internal/domain"
)

// exactDecimal is a decimal column. SQLite gives numeric columns REAL
// affinity and would round through float64, so there it is stored as text.
type exactDecimal struct {
	decimal.Decimal
}

func (exactDecimal) GormDataType() string {
	return "decimal"
}

func (exactDecimal) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	if db.Dialector.Name() == "sqlite" {
		return "text"
	}
	if field.Precision > 0 {
		return fmt.Sprintf("numeric(%d,%d)", field.Precision, field.Scale)
	}
	return "numeric"
}

func exact(d decimal.Decimal) exactDecimal {
	return exactDecimal{Decimal: d}
}

type accountRow struct {
	OwnerID   string       `gorm:"primaryKey;type:varchar(64)"`
	Balance   exactDecimal `gorm:"precision:38;scale:10;not null"`
	CreatedAt time.Time    `gorm:"not null"`
}

func (accountRow) TableName() string { return "accounts" }

type holdingRow struct {
	OwnerID  string       `gorm:"primaryKey;type:varchar(64)"`
	Symbol   string       `gorm:"primaryKey;type:varchar(10)"`
	Quantity exactDecimal `gorm:"precision:28;scale:8;not null"`
}

func (holdingRow) TableName() string { return "holdings" }

type orderRow struct {
	ID         string       `gorm:"primaryKey;type:varchar(36)"`
	OwnerID    string       `gorm:"type:varchar(64);not null;index"`
	Symbol     string       `gorm:"type:varchar(10);not null"`
	Side       string       `gorm:"type:varchar(4);not null;index:idx_orders_side_status"`
	Type       string       `gorm:"type:varchar(6);not null;default:limit"`
	Quantity   exactDecimal `gorm:"precision:28;scale:8;not null"`
	LimitPrice exactDecimal `gorm:"precision:20;scale:2;not null"`
	Status     string       `gorm:"type:varchar(10);not null;index:idx_orders_side_status"`
	CreatedAt  time.Time    `gorm:"not null"`
	UpdatedAt  time.Time    `gorm:"not null"`
}

func (orderRow) TableName() string { return "orders" }

func (r *orderRow) toDomain() *domain.Order {
	return &domain.Order{
		OrderID:    r.ID,
		OwnerID:    r.OwnerID,
		Symbol:     r.Symbol,
		Side:       domain.OrderSide(r.Side),
		Type:       domain.OrderType(r.Type),
		Quantity:   r.Quantity.Decimal,
		LimitPrice: r.LimitPrice.Decimal,
		Status:     domain.OrderStatus(r.Status),
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

type transactionRow struct {
	ID         string       `gorm:"primaryKey;type:varchar(36)"`
	OwnerID    string       `gorm:"type:varchar(64);not null;index"`
	OrderID    string       `gorm:"type:varchar(36);not null"`
	Symbol     string       `gorm:"type:varchar(10);not null"`
	Side       string       `gorm:"type:varchar(4);not null"`
	Quantity   exactDecimal `gorm:"precision:28;scale:8;not null"`
	Price      exactDecimal `gorm:"precision:20;scale:2;not null"`
	ExecutedAt time.Time    `gorm:"not null;index"`
}

func (transactionRow) TableName() string { return "transactions" }

func (r *transactionRow) toDomain() *domain.Transaction {
	return &domain.Transaction{
		TransactionID: r.ID,
		OwnerID:       r.OwnerID,
		OrderID:       r.OrderID,
		Symbol:        r.Symbol,
		Quantity:      r.Quantity.Decimal,
		Price:         r.Price.Decimal,
		ExecutedAt:    r.ExecutedAt.UTC(),
	}
}

// SQLStore is a Store backed by gorm. Multi-row mutations run inside a
// database transaction with row locks where the dialect supports them.
type SQLStore struct {
	db  *gorm.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenSQL connects with the named driver ("sqlite" or "postgres") and
// migrates the schema.
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// SQLite allows one writer; serialise through a single connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&accountRow{}, &holdingRow{}, &orderRow{}, &transactionRow{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &SQLStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var forUpdate = clause.Locking{Strength: "UPDATE"}

func (s *SQLStore) CreateAccount(ctx context.Context, a *domain.Account) error {
	row := accountRow{OwnerID: a.OwnerID, Balance: exact(a.Balance), CreatedAt: a.CreatedAt}
	err := s.db.WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return domain.ErrAccountExists
	}
	return err
}

func (s *SQLStore) Balance(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	var row accountRow
	if err := s.db.WithContext(ctx).Take(&row, "owner_id = ?", ownerID).Error; err != nil {
		return decimal.Zero, notFound(err, domain.ErrAccountNotFound)
	}
	return row.Balance.Decimal, nil
}

func (s *SQLStore) AdjustBalance(ctx context.Context, ownerID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var next decimal.Decimal
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row accountRow
		if err := tx.Clauses(forUpdate).Take(&row, "owner_id = ?", ownerID).Error; err != nil {
			return notFound(err, domain.ErrAccountNotFound)
		}
		next = row.Balance.Add(delta)
		if next.IsNegative() {
			return domain.ErrInsufficientBalance
		}
		return tx.Model(&accountRow{}).Where("owner_id = ?", ownerID).Update("balance", exact(next)).Error
	})
	if err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

func (s *SQLStore) CreateOrder(ctx context.Context, o *domain.Order) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Take(&accountRow{}, "owner_id = ?", o.OwnerID).Error; err != nil {
			return notFound(err, domain.ErrAccountNotFound)
		}
		return insertOrder(tx, o)
	})
}

func insertOrder(tx *gorm.DB, o *domain.Order) error {
	typ := o.Type
	if typ == "" {
		typ = domain.OrderTypeLimit
	}
	row := orderRow{
		ID:         o.OrderID,
		OwnerID:    o.OwnerID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Type:       string(typ),
		Quantity:   exact(o.Quantity),
		LimitPrice: exact(o.LimitPrice),
		Status:     string(o.Status),
		CreatedAt:  o.CreatedAt,
		UpdatedAt:  o.UpdatedAt,
	}
	return tx.Create(&row).Error
}

func (s *SQLStore) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var row orderRow
	if err := s.db.WithContext(ctx).Take(&row, "id = ?", orderID).Error; err != nil {
		return nil, notFound(err, domain.ErrOrderNotFound)
	}
	return row.toDomain(), nil
}

func (s *SQLStore) ListOrders(ctx context.Context, ownerID string, status *domain.OrderStatus) ([]*domain.Order, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if status != nil {
		q = q.Where("status = ?", string(*status))
	}
	var rows []orderRow
	if err := q.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return ordersToDomain(rows), nil
}

func (s *SQLStore) ActiveOrders(ctx context.Context, side domain.OrderSide) ([]*domain.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Where("side = ? AND status = ?", string(side), string(domain.OrderStatusActive)).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return ordersToDomain(rows), nil
}

func ordersToDomain(rows []orderRow) []*domain.Order {
	out := make([]*domain.Order, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out
}

func (s *SQLStore) SetOrderStatus(ctx context.Context, orderID string, from, to domain.OrderStatus) (*domain.Order, error) {
	var out *domain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := transitionOrder(tx, orderID, from, to, s.now()); err != nil {
			return err
		}
		var row orderRow
		if err := tx.Take(&row, "id = ?", orderID).Error; err != nil {
			return err
		}
		out = row.toDomain()
		return nil
	})
	return out, err
}

// transitionOrder is the conditional status update. Zero affected rows
// means the order is either gone or no longer in from.
func transitionOrder(tx *gorm.DB, orderID string, from, to domain.OrderStatus, now time.Time) error {
	res := tx.Model(&orderRow{}).
		Where("id = ? AND status = ?", orderID, string(from)).
		Updates(map[string]any{"status": string(to), "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	if err := tx.Take(&orderRow{}, "id = ?", orderID).Error; err != nil {
		return notFound(err, domain.ErrOrderNotFound)
	}
	return domain.ErrOrderSettled
}

func (s *SQLStore) HoldingQuantity(ctx context.Context, ownerID, symbol string) (decimal.Decimal, error) {
	var row holdingRow
	err := s.db.WithContext(ctx).Take(&row, "owner_id = ? AND symbol = ?", ownerID, symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return row.Quantity.Decimal, nil
}

func (s *SQLStore) Holdings(ctx context.Context, ownerID string) ([]*domain.Holding, error) {
	var rows []holdingRow
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("symbol ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*domain.Holding, len(rows))
	for i, r := range rows {
		out[i] = &domain.Holding{OwnerID: r.OwnerID, Symbol: r.Symbol, Quantity: r.Quantity.Decimal}
	}
	return out, nil
}

func (s *SQLStore) ApplyFill(ctx context.Context, order *domain.Order, price decimal.Decimal) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		out, err = s.fill(tx, order.OrderID, price)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) ExecuteOrder(ctx context.Context, order *domain.Order, price decimal.Decimal) (*domain.Transaction, error) {
	var out *domain.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(forUpdate).Take(&accountRow{}, "owner_id = ?", order.OwnerID).Error; err != nil {
			return notFound(err, domain.ErrAccountNotFound)
		}
		if err := insertOrder(tx, order); err != nil {
			return err
		}
		var err error
		out, err = s.fill(tx, order.OrderID, price)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// fill executes an active order inside tx: status guard, funds or holdings
// guard, cash and holding writes, transaction row, status update.
func (s *SQLStore) fill(tx *gorm.DB, orderID string, price decimal.Decimal) (*domain.Transaction, error) {
	var row orderRow
	if err := tx.Clauses(forUpdate).Take(&row, "id = ?", orderID).Error; err != nil {
		return nil, notFound(err, domain.ErrOrderNotFound)
	}
	if row.Status != string(domain.OrderStatusActive) {
		return nil, domain.ErrOrderSettled
	}
	o := row.toDomain()

	var acct accountRow
	if err := tx.Clauses(forUpdate).Take(&acct, "owner_id = ?", o.OwnerID).Error; err != nil {
		return nil, notFound(err, domain.ErrAccountNotFound)
	}

	var h holdingRow
	held := decimal.Zero
	err := tx.Clauses(forUpdate).Take(&h, "owner_id = ? AND symbol = ?", o.OwnerID, o.Symbol).Error
	switch {
	case err == nil:
		held = h.Quantity.Decimal
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	hadHolding := err == nil

	balance, newHeld, err := fillDelta(o, price, acct.Balance.Decimal, held)
	if err != nil {
		return nil, err
	}

	if err := tx.Model(&accountRow{}).Where("owner_id = ?", o.OwnerID).Update("balance", exact(balance)).Error; err != nil {
		return nil, err
	}
	if err := writeHolding(tx, o.OwnerID, o.Symbol, newHeld, hadHolding); err != nil {
		return nil, err
	}

	now := s.now()
	t := transactionRow{
		ID:         uuid.New().String(),
		OwnerID:    o.OwnerID,
		OrderID:    o.OrderID,
		Symbol:     o.Symbol,
		Side:       string(o.Side),
		Quantity:   exact(signedQuantity(o)),
		Price:      exact(price),
		ExecutedAt: now,
	}
	if err := tx.Create(&t).Error; err != nil {
		return nil, err
	}
	if err := transitionOrder(tx, o.OrderID, domain.OrderStatusActive, domain.OrderStatusFilled, now); err != nil {
		return nil, err
	}
	return t.toDomain(), nil
}

// writeHolding creates, updates or deletes the holding row so that no row
// is ever kept at zero quantity.
func writeHolding(tx *gorm.DB, ownerID, symbol string, q decimal.Decimal, exists bool) error {
	where := tx.Where("owner_id = ? AND symbol = ?", ownerID, symbol)
	switch {
	case q.IsZero() && exists:
		return where.Delete(&holdingRow{}).Error
	case q.IsZero():
		return nil
	case exists:
		return tx.Model(&holdingRow{}).Where("owner_id = ? AND symbol = ?", ownerID, symbol).Update("quantity", exact(q)).Error
	default:
		return tx.Create(&holdingRow{OwnerID: ownerID, Symbol: symbol, Quantity: exact(q)}).Error
	}
}

func (s *SQLStore) Transactions(ctx context.Context, ownerID string, f TransactionFilter, page, limit int) ([]*domain.Transaction, int, error) {
	scope := func(db *gorm.DB) *gorm.DB {
		db = db.Where("owner_id = ?", ownerID)
		if f.Symbol != "" {
			db = db.Where("symbol = ?", f.Symbol)
		}
		if f.Side != "" {
			db = db.Where("side = ?", string(f.Side))
		}
		if !f.From.IsZero() {
			db = db.Where("executed_at >= ?", f.From)
		}
		if !f.To.IsZero() {
			db = db.Where("executed_at <= ?", f.To)
		}
		return db
	}
	db := s.db.WithContext(ctx)

	var total int64
	if err := db.Model(&transactionRow{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := db.Scopes(scope).Order("executed_at DESC, id DESC")
	if limit > 0 {
		if page < 1 {
			page = 1
		}
		q = q.Offset((page - 1) * limit).Limit(limit)
	}
	var rows []transactionRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*domain.Transaction, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, int(total), nil
}

// notFound maps gorm's missing-record error to the given domain error.
func notFound(err, domainErr error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domainErr
	}
	return err
}
