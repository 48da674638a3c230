package store

import (
	"context"
	"database/sql/driver"
	"regexp"
	"testing"
	"time"

	"storefront/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s := NewPostgresStore(sqlx.NewDb(db, "postgres"))
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func q(query string) string { return regexp.QuoteMeta(query) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var cartCols = []string{"owner_id", "subtotal", "tax", "total", "updated_at"}
var lineCols = []string{"product_id", "unit_price", "quantity"}

func TestUpdateCart_PersistsLinesAndTotals(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(ensureCartSQL)).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(q(lockCartSQL)).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cartCols).AddRow("u1", "0", "0", "0", fixedNow))
	mock.ExpectQuery(q(selectLinesSQL)).WithArgs("u1").WillReturnRows(sqlmock.NewRows(lineCols))

	mock.ExpectExec(q(deleteLinesSQL)).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectPrepare(q(insertLineSQL))
	mock.ExpectExec(q(insertLineSQL)).
		WithArgs("u1", "A", dec("19.99"), 2, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q(updateCartSQL)).
		WithArgs("u1", dec("39.98"), dec("4.00"), dec("43.98"), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.UpdateCart(context.Background(), "u1", func(c *models.Cart) error {
		c.Items = append(c.Items, models.LineItem{ProductID: "A", UnitPrice: dec("19.99"), Quantity: 2})
		c.Subtotal, c.Tax, c.Total = dec("39.98"), dec("4.00"), dec("43.98")
		return nil
	})
	if err != nil {
		t.Fatalf("UpdateCart failed: %v", err)
	}
	if len(got.Items) != 1 || !got.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected cart: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateCart_MutateErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(q(ensureCartSQL)).WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(lockCartSQL)).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cartCols).AddRow("u1", "10", "1", "11", fixedNow))
	mock.ExpectQuery(q(selectLinesSQL)).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(lineCols).AddRow("A", "10.00", 1))
	mock.ExpectRollback()

	_, err := s.UpdateCart(context.Background(), "u1", func(c *models.Cart) error {
		return models.ErrInvalidQuantity
	})
	if !errors.Is(err, models.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetCart_MissingIsEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q(selectCartSQL)).WithArgs("nobody").WillReturnRows(sqlmock.NewRows(cartCols))

	got, err := s.GetCart(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if got.OwnerID != "nobody" || len(got.Items) != 0 || !got.Total.IsZero() {
		t.Fatalf("expected zero-value cart, got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetCart_Success(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q(selectCartSQL)).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(cartCols).AddRow("u1", "59.97", "6.00", "65.97", fixedNow))
	mock.ExpectQuery(q(selectLinesSQL)).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(lineCols).AddRow("A", "19.99", 3))

	got, err := s.GetCart(context.Background(), "u1")
	if err != nil {
		t.Fatalf("GetCart failed: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 3 || !got.Items[0].UnitPrice.Equal(dec("19.99")) {
		t.Fatalf("unexpected items: %+v", got.Items)
	}
	if !got.Total.Equal(dec("65.97")) {
		t.Fatalf("unexpected total %s", got.Total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func emptyCartGuard(c models.Cart) (models.Order, error) {
	if c.IsEmpty() {
		return models.Order{}, models.ErrEmptyCart
	}
	return models.Order{
		ID:              "3f0c8f5e-0000-4000-8000-000000000001",
		OwnerID:         c.OwnerID,
		Items:           c.Items,
		Subtotal:        c.Subtotal,
		Tax:             c.Tax,
		ShippingCost:    dec("10"),
		Total:           c.Total.Add(dec("10")),
		Status:          models.OrderPending,
		PaymentMethod:   models.PaymentCard,
		PaymentStatus:   models.PaymentPending,
		ShippingAddress: models.Address{Street: "1 Main", City: "Town", Zip: "1", Country: "US"},
		CreatedAt:       fixedNow,
		UpdatedAt:       fixedNow,
	}, nil
}

func TestCheckoutCart_EmptyCartWritesNothing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockCartSQL)).WithArgs("u1").WillReturnRows(sqlmock.NewRows(cartCols))
	mock.ExpectRollback()

	_, err := s.CheckoutCart(context.Background(), "u1", emptyCartGuard)
	if !errors.Is(err, models.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCheckoutCart_InsertsOrderThenClearsCart(t *testing.T) {
	s, mock := newMockStore(t)
	orderID := "3f0c8f5e-0000-4000-8000-000000000001"

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockCartSQL)).WithArgs("userA").
		WillReturnRows(sqlmock.NewRows(cartCols).AddRow("userA", "59.97", "6.00", "65.97", fixedNow))
	mock.ExpectQuery(q(selectLinesSQL)).WithArgs("userA").
		WillReturnRows(sqlmock.NewRows(lineCols).AddRow("A", "19.99", 3))

	mock.ExpectExec(q(insertOrderSQL)).
		WithArgs(orderID, "userA", dec("59.97"), dec("6.00"), dec("10"), dec("75.97"), "pending", "card",
			"pending", "", "", "1 Main", "Town", "", "1", "US", fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectPrepare(q(insertOrderItemSQL))
	mock.ExpectExec(q(insertOrderItemSQL)).
		WithArgs(orderID, "A", dec("19.99"), 3, 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	mock.ExpectExec(q(deleteLinesSQL)).WithArgs("userA").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q(deleteCartSQL)).WithArgs("userA").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := s.CheckoutCart(context.Background(), "userA", emptyCartGuard)
	if err != nil {
		t.Fatalf("CheckoutCart failed: %v", err)
	}
	if order.ID != orderID || !order.Total.Equal(dec("75.97")) || len(order.Items) != 1 {
		t.Fatalf("unexpected order: %+v", order)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCheckoutCart_ClearFailureRollsBackOrder(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockCartSQL)).WithArgs("userA").
		WillReturnRows(sqlmock.NewRows(cartCols).AddRow("userA", "10", "1", "11", fixedNow))
	mock.ExpectQuery(q(selectLinesSQL)).WithArgs("userA").
		WillReturnRows(sqlmock.NewRows(lineCols).AddRow("A", "10", 1))
	mock.ExpectExec(q(insertOrderSQL)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectPrepare(q(insertOrderItemSQL))
	mock.ExpectExec(q(insertOrderItemSQL)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(q(deleteLinesSQL)).WithArgs("userA").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if _, err := s.CheckoutCart(context.Background(), "userA", emptyCartGuard); err == nil {
		t.Fatalf("expected error when the cart cannot be cleared")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

var orderCols = []string{"id", "owner_id", "subtotal", "tax", "shipping_cost", "total", "status", "payment_method",
	"payment_status", "payment_intent_id", "tracking_number", "ship_street", "ship_city", "ship_state", "ship_zip",
	"ship_country", "created_at", "updated_at"}

func orderRowValues(id, owner, status, payment string, created time.Time) []driver.Value {
	return []driver.Value{id, owner, "59.97", "6.00", "10.00", "75.97", status, "card", payment, "", "",
		"1 Main", "Town", "", "1", "US", created, created}
}

func TestGetOrder_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q(selectOrderSQL)).WithArgs("missing").WillReturnRows(sqlmock.NewRows(orderCols))

	_, err := s.GetOrder(context.Background(), "missing")
	if !errors.Is(err, models.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListOrders_AttachesItems(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q(selectOwnerOrderSQL)).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(orderCols).
			AddRow(orderRowValues("o2", "u1", "pending", "pending", fixedNow)...).
			AddRow(orderRowValues("o1", "u1", "processing", "completed", fixedNow.Add(-time.Hour))...))
	mock.ExpectQuery(q(selectOrderItemsSQL)).WithArgs(pq.Array([]string{"o2", "o1"})).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "product_id", "unit_price", "quantity"}).
			AddRow("o1", "B", "5.00", 1).
			AddRow("o2", "A", "19.99", 3))

	got, err := s.ListOrders(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "o2" || got[1].Status != models.OrderProcessing {
		t.Fatalf("unexpected orders: %+v", got)
	}
	if len(got[0].Items) != 1 || got[0].Items[0].ProductID != "A" {
		t.Fatalf("items not attached: %+v", got[0].Items)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateOrder_WritesMutableFieldsOnly(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockOrderSQL)).WithArgs("o1").
		WillReturnRows(sqlmock.NewRows(orderCols).AddRow(orderRowValues("o1", "u1", "pending", "pending", fixedNow)...))
	mock.ExpectQuery(q(selectOrderItemsSQL)).WithArgs(pq.Array([]string{"o1"})).
		WillReturnRows(sqlmock.NewRows([]string{"order_id", "product_id", "unit_price", "quantity"}).
			AddRow("o1", "A", "19.99", 3))
	mock.ExpectExec(q(updateOrderSQL)).
		WithArgs("o1", "processing", "completed", "pi_1", "", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.UpdateOrder(context.Background(), "o1", func(o *models.Order) error {
		o.PaymentIntentID = "pi_1"
		return o.CompletePayment(fixedNow)
	})
	if err != nil {
		t.Fatalf("UpdateOrder failed: %v", err)
	}
	if got.PaymentStatus != models.PaymentCompleted || got.Status != models.OrderProcessing {
		t.Fatalf("unexpected order: %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateCategory_DuplicateSlug(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(q(insertCategorySQL)).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	err := s.CreateCategory(context.Background(), models.Category{ID: "c1", Name: "Shoes", Slug: "shoes", Active: true})
	if !errors.Is(err, models.ErrDuplicateSlug) {
		t.Fatalf("expected ErrDuplicateSlug, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestListProducts_FiltersAndPaginates(t *testing.T) {
	s, mock := newMockStore(t)

	where := ` WHERE category = $1 AND name ILIKE '%' || $2 || '%' AND price >= $3`
	mock.ExpectQuery(q(`SELECT count(*) FROM products` + where)).
		WithArgs("shoes", "run", dec("10")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(11))
	mock.ExpectQuery(q(`SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY created_at DESC LIMIT $4 OFFSET $5`)).
		WithArgs("shoes", "run", dec("10"), 5, 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "price", "discount_price", "stock",
			"category", "images", "rating", "created_at", "updated_at"}).
			AddRow("p11", "Runner", "", "49.99", nil, 3, "shoes", "{a.png}", "4.5", fixedNow, fixedNow))

	got, total, err := s.ListProducts(context.Background(), ProductFilter{
		Category: "shoes",
		Search:   "run",
		MinPrice: decimal.NewNullDecimal(dec("10")),
		Page:     3,
		Limit:    5,
	})
	if err != nil {
		t.Fatalf("ListProducts failed: %v", err)
	}
	if total != 11 || len(got) != 1 || got[0].DiscountPrice.Valid || got[0].Images[0] != "a.png" {
		t.Fatalf("unexpected page: total=%d %+v", total, got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUpdateStock(t *testing.T) {
	s, mock := newMockStore(t)

	var verr *models.ValidationError
	if err := s.UpdateStock(context.Background(), "p1", -1); !errors.As(err, &verr) {
		t.Fatalf("expected validation error for negative stock, got %v", err)
	}

	mock.ExpectExec(q(updateStockSQL)).WithArgs("missing", 4).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.UpdateStock(context.Background(), "missing", 4); !errors.Is(err, models.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}

	mock.ExpectExec(q(updateStockSQL)).WithArgs("p1", 4).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.UpdateStock(context.Background(), "p1", 4); err != nil {
		t.Fatalf("UpdateStock failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetProduct_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q(selectProductSQL)).WithArgs("nope").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	if _, err := s.GetProduct(context.Background(), "nope"); !errors.Is(err, models.ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestMalformedIDsAreNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	badUUID := &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "abc"`}

	mock.ExpectQuery(q(selectOrderSQL)).WithArgs("abc").WillReturnError(badUUID)
	if _, err := s.GetOrder(ctx, "abc"); !errors.Is(err, models.ErrOrderNotFound) {
		t.Fatalf("GetOrder: expected ErrOrderNotFound, got %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(q(lockOrderSQL)).WithArgs("abc").WillReturnError(badUUID)
	mock.ExpectRollback()
	_, err := s.UpdateOrder(ctx, "abc", func(*models.Order) error { return nil })
	if !errors.Is(err, models.ErrOrderNotFound) {
		t.Fatalf("UpdateOrder: expected ErrOrderNotFound, got %v", err)
	}

	mock.ExpectQuery(q(selectProductSQL)).WithArgs("abc").WillReturnError(badUUID)
	if _, err := s.GetProduct(ctx, "abc"); !errors.Is(err, models.ErrProductNotFound) {
		t.Fatalf("GetProduct: expected ErrProductNotFound, got %v", err)
	}

	mock.ExpectExec(q(deleteProductSQL)).WithArgs("abc").WillReturnError(badUUID)
	if err := s.DeleteProduct(ctx, "abc"); !errors.Is(err, models.ErrProductNotFound) {
		t.Fatalf("DeleteProduct: expected ErrProductNotFound, got %v", err)
	}

	mock.ExpectExec(q(updateStockSQL)).WithArgs("abc", 4).WillReturnError(badUUID)
	if err := s.UpdateStock(ctx, "abc", 4); !errors.Is(err, models.ErrProductNotFound) {
		t.Fatalf("UpdateStock: expected ErrProductNotFound, got %v", err)
	}

	mock.ExpectQuery(q(selectCategorySQL)).WithArgs("abc").WillReturnError(badUUID)
	if _, err := s.GetCategory(ctx, "abc"); !errors.Is(err, models.ErrCategoryNotFound) {
		t.Fatalf("GetCategory: expected ErrCategoryNotFound, got %v", err)
	}

	mock.ExpectExec(q(deleteCategorySQL)).WithArgs("abc").WillReturnError(badUUID)
	if err := s.DeleteCategory(ctx, "abc"); !errors.Is(err, models.ErrCategoryNotFound) {
		t.Fatalf("DeleteCategory: expected ErrCategoryNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetOrder_OtherDriverErrorsStayInternal(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(q(selectOrderSQL)).WithArgs("o1").WillReturnError(&pq.Error{Code: "57P01"})
	_, err := s.GetOrder(context.Background(), "o1")
	if err == nil || errors.Is(err, models.ErrOrderNotFound) {
		t.Fatalf("expected a wrapped driver error, got %v", err)
	}
}
