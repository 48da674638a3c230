package store

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"storefront/model"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type cartRow struct {
	OwnerID   string          `db:"owner_id"`
	Subtotal  decimal.Decimal `db:"subtotal"`
	Tax       decimal.Decimal `db:"tax"`
	Total     decimal.Decimal `db:"total"`
	UpdatedAt time.Time       `db:"updated_at"`
}

type orderRow struct {
	ID              string          `db:"id"`
	OwnerID         string          `db:"owner_id"`
	Subtotal        decimal.Decimal `db:"subtotal"`
	Tax             decimal.Decimal `db:"tax"`
	ShippingCost    decimal.Decimal `db:"shipping_cost"`
	Total           decimal.Decimal `db:"total"`
	Status          string          `db:"status"`
	PaymentMethod   string          `db:"payment_method"`
	PaymentStatus   string          `db:"payment_status"`
	PaymentIntentID string          `db:"payment_intent_id"`
	TrackingNumber  string          `db:"tracking_number"`
	ShipStreet      string          `db:"ship_street"`
	ShipCity        string          `db:"ship_city"`
	ShipState       string          `db:"ship_state"`
	ShipZip         string          `db:"ship_zip"`
	ShipCountry     string          `db:"ship_country"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

type orderItemRow struct {
	OrderID string `db:"order_id"`
	models.LineItem
}

func (r orderRow) toModel(items []models.LineItem) models.Order {
	return models.Order{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		Items:        items,
		Subtotal:     r.Subtotal,
		Tax:          r.Tax,
		ShippingCost: r.ShippingCost,
		Total:        r.Total,
		Status:       models.OrderStatus(r.Status),
		ShippingAddress: models.Address{
			Street:  r.ShipStreet,
			City:    r.ShipCity,
			State:   r.ShipState,
			Zip:     r.ShipZip,
			Country: r.ShipCountry,
		},
		PaymentMethod:   models.PaymentMethod(r.PaymentMethod),
		PaymentStatus:   models.PaymentStatus(r.PaymentStatus),
		PaymentIntentID: r.PaymentIntentID,
		TrackingNumber:  r.TrackingNumber,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

const (
	ensureCartSQL  = `INSERT INTO carts (owner_id) VALUES ($1) ON CONFLICT (owner_id) DO NOTHING`
	selectCartSQL  = `SELECT owner_id, subtotal, tax, total, updated_at FROM carts WHERE owner_id = $1`
	lockCartSQL    = selectCartSQL + ` FOR UPDATE`
	selectLinesSQL = `SELECT product_id, unit_price, quantity FROM cart_items WHERE owner_id = $1 ORDER BY position`
	deleteLinesSQL = `DELETE FROM cart_items WHERE owner_id = $1`
	insertLineSQL  = `INSERT INTO cart_items (owner_id, product_id, unit_price, quantity, position) VALUES ($1, $2, $3, $4, $5)`
	updateCartSQL  = `UPDATE carts SET subtotal = $2, tax = $3, total = $4, updated_at = $5 WHERE owner_id = $1`
	deleteCartSQL  = `DELETE FROM carts WHERE owner_id = $1`

	insertOrderSQL = `INSERT INTO orders (id, owner_id, subtotal, tax, shipping_cost, total, status, payment_method,
		payment_status, payment_intent_id, tracking_number, ship_street, ship_city, ship_state, ship_zip, ship_country,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`
	insertOrderItemSQL = `INSERT INTO order_items (order_id, product_id, unit_price, quantity, position) VALUES ($1, $2, $3, $4, $5)`
	orderColumns       = `id, owner_id, subtotal, tax, shipping_cost, total, status, payment_method, payment_status,
		payment_intent_id, tracking_number, ship_street, ship_city, ship_state, ship_zip, ship_country, created_at, updated_at`
	selectOrderSQL      = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	lockOrderSQL        = selectOrderSQL + ` FOR UPDATE`
	selectOwnerOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE owner_id = $1 ORDER BY created_at DESC`
	selectOrderItemsSQL = `SELECT order_id, product_id, unit_price, quantity FROM order_items
		WHERE order_id = ANY($1) ORDER BY order_id, position`
	updateOrderSQL = `UPDATE orders SET status = $2, payment_status = $3, payment_intent_id = $4, tracking_number = $5,
		updated_at = $6 WHERE id = $1`
)

// PostgresStore is a Store backed by Postgres. Cart mutations additionally
// take an in-process per-owner lock so goroutines of this process queue up
// instead of contending on row locks.
type PostgresStore struct {
	DB *sqlx.DB

	locks sync.Map // owner_id -> *sync.Mutex
	now   func() time.Time
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{DB: db, now: time.Now}
}

// OpenPostgres connects with lib/pq and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to postgres")
	}
	return NewPostgresStore(db), nil
}

func (s *PostgresStore) Close() error { return s.DB.Close() }

// lockForUser acquires the per-owner lock and returns its unlock func.
func (s *PostgresStore) lockForUser(ownerID string) func() {
	return lockFor(&s.locks, ownerID)
}

func lockFor(locks *sync.Map, key string) func() {
	if v, ok := locks.Load(key); ok {
		m := v.(*sync.Mutex)
		m.Lock()
		return m.Unlock
	}
	actual, _ := locks.LoadOrStore(key, &sync.Mutex{})
	m := actual.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// withTx runs fn in a transaction; it is rolled back unless fn and the
// commit both succeed.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.DB.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	committed = true
	return nil
}

func (s *PostgresStore) GetCart(ctx context.Context, ownerID string) (models.Cart, error) {
	return loadCart(ctx, s.DB, ownerID, selectCartSQL)
}

func (s *PostgresStore) UpdateCart(ctx context.Context, ownerID string, mutate func(*models.Cart) error) (models.Cart, error) {
	unlock := s.lockForUser(ownerID)
	defer unlock()

	var cart models.Cart
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, ensureCartSQL, ownerID); err != nil {
			return errors.Wrap(err, "failed to ensure cart")
		}
		c, err := loadCart(ctx, tx, ownerID, lockCartSQL)
		if err != nil {
			return err
		}
		if err := mutate(&c); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		if err := saveCart(ctx, tx, c); err != nil {
			return err
		}
		cart = c
		return nil
	})
	return cart, err
}

func (s *PostgresStore) ClearCart(ctx context.Context, ownerID string) error {
	unlock := s.lockForUser(ownerID)
	defer unlock()

	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		return clearCart(ctx, tx, ownerID)
	})
}

// CheckoutCart reads the cart, builds the order, inserts it and clears the
// cart inside one transaction.
func (s *PostgresStore) CheckoutCart(ctx context.Context, ownerID string, build func(models.Cart) (models.Order, error)) (models.Order, error) {
	unlock := s.lockForUser(ownerID)
	defer unlock()

	var order models.Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		cart, err := loadCart(ctx, tx, ownerID, lockCartSQL)
		if err != nil {
			return err
		}
		o, err := build(cart.Snapshot())
		if err != nil {
			return err
		}
		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
		if err := clearCart(ctx, tx, ownerID); err != nil {
			return err
		}
		order = o
		return nil
	})
	return order, err
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (models.Order, error) {
	return loadOrder(ctx, s.DB, id, selectOrderSQL)
}

func (s *PostgresStore) ListOrders(ctx context.Context, ownerID string) ([]models.Order, error) {
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, s.DB, &rows, selectOwnerOrderSQL, ownerID); err != nil {
		return nil, errors.Wrapf(err, "failed to list orders of %s", ownerID)
	}
	if len(rows) == 0 {
		return []models.Order{}, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	items, err := loadOrderItems(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.Order, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel(items[r.ID]))
	}
	return out, nil
}

func (s *PostgresStore) UpdateOrder(ctx context.Context, id string, mutate func(*models.Order) error) (models.Order, error) {
	var order models.Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		o, err := loadOrder(ctx, tx, id, lockOrderSQL)
		if err != nil {
			return err
		}
		if err := mutate(&o); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, updateOrderSQL,
			o.ID, string(o.Status), string(o.PaymentStatus), o.PaymentIntentID, o.TrackingNumber, o.UpdatedAt,
		); err != nil {
			return errors.Wrapf(err, "failed to update order %s", id)
		}
		order = o
		return nil
	})
	return order, err
}

// --- helpers shared by the methods above ---

func loadCart(ctx context.Context, q sqlx.QueryerContext, ownerID, query string) (models.Cart, error) {
	var row cartRow
	err := sqlx.GetContext(ctx, q, &row, query, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Cart{OwnerID: ownerID, Items: []models.LineItem{}}, nil
	}
	if err != nil {
		return models.Cart{}, errors.Wrapf(err, "failed to load cart of %s", ownerID)
	}

	items := []models.LineItem{}
	if err := sqlx.SelectContext(ctx, q, &items, selectLinesSQL, ownerID); err != nil {
		return models.Cart{}, errors.Wrapf(err, "failed to load cart items of %s", ownerID)
	}
	return models.Cart{
		OwnerID:   row.OwnerID,
		Items:     items,
		Subtotal:  row.Subtotal,
		Tax:       row.Tax,
		Total:     row.Total,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

func saveCart(ctx context.Context, tx *sqlx.Tx, c models.Cart) error {
	if _, err := tx.ExecContext(ctx, deleteLinesSQL, c.OwnerID); err != nil {
		return errors.Wrap(err, "failed to reset cart items")
	}
	if len(c.Items) > 0 {
		stmt, err := tx.PreparexContext(ctx, insertLineSQL)
		if err != nil {
			return errors.Wrap(err, "failed to prepare cart item insert")
		}
		defer stmt.Close()

		for i, it := range c.Items {
			if _, err := stmt.ExecContext(ctx, c.OwnerID, it.ProductID, it.UnitPrice, it.Quantity, i); err != nil {
				return errors.Wrapf(err, "failed to insert cart item %s", it.ProductID)
			}
		}
	}
	if _, err := tx.ExecContext(ctx, updateCartSQL, c.OwnerID, c.Subtotal, c.Tax, c.Total, c.UpdatedAt); err != nil {
		return errors.Wrap(err, "failed to update cart totals")
	}
	return nil
}

// clearCart is a no-op for an owner without a cart.
func clearCart(ctx context.Context, tx *sqlx.Tx, ownerID string) error {
	if _, err := tx.ExecContext(ctx, deleteLinesSQL, ownerID); err != nil {
		return errors.Wrap(err, "failed to clear cart items")
	}
	if _, err := tx.ExecContext(ctx, deleteCartSQL, ownerID); err != nil {
		return errors.Wrap(err, "failed to delete cart")
	}
	return nil
}

func insertOrder(ctx context.Context, tx *sqlx.Tx, o models.Order) error {
	a := o.ShippingAddress
	if _, err := tx.ExecContext(ctx, insertOrderSQL,
		o.ID, o.OwnerID, o.Subtotal, o.Tax, o.ShippingCost, o.Total, string(o.Status), string(o.PaymentMethod),
		string(o.PaymentStatus), o.PaymentIntentID, o.TrackingNumber, a.Street, a.City, a.State, a.Zip, a.Country,
		o.CreatedAt, o.UpdatedAt,
	); err != nil {
		return errors.Wrap(err, "failed to insert order")
	}

	stmt, err := tx.PreparexContext(ctx, insertOrderItemSQL)
	if err != nil {
		return errors.Wrap(err, "failed to prepare order item insert")
	}
	defer stmt.Close()

	for i, it := range o.Items {
		if _, err := stmt.ExecContext(ctx, o.ID, it.ProductID, it.UnitPrice, it.Quantity, i); err != nil {
			return errors.Wrapf(err, "failed to insert order item %s", it.ProductID)
		}
	}
	return nil
}

func loadOrder(ctx context.Context, q sqlx.QueryerContext, id, query string) (models.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q, &row, query, id)
	if isMissing(err) {
		return models.Order{}, errors.Wrapf(models.ErrOrderNotFound, "order %s", id)
	}
	if err != nil {
		return models.Order{}, errors.Wrapf(err, "failed to load order %s", id)
	}
	items, err := loadOrderItems(ctx, q, []string{id})
	if err != nil {
		return models.Order{}, err
	}
	return row.toModel(items[id]), nil
}

func loadOrderItems(ctx context.Context, q sqlx.QueryerContext, orderIDs []string) (map[string][]models.LineItem, error) {
	var rows []orderItemRow
	if err := sqlx.SelectContext(ctx, q, &rows, selectOrderItemsSQL, pq.Array(orderIDs)); err != nil {
		return nil, errors.Wrap(err, "failed to load order items")
	}
	out := make(map[string][]models.LineItem, len(orderIDs))
	for _, r := range rows {
		out[r.OrderID] = append(out[r.OrderID], r.LineItem)
	}
	return out, nil
}
