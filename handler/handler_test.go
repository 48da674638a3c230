package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"storefront/auth"
	"storefront/cache"
	"storefront/model"
	"storefront/payment"
	"storefront/service"
	"storefront/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCards struct {
	CreateIntentFn func(ctx context.Context, orderID string, amountCents int64, currency string) (payment.Intent, error)
	GetIntentFn    func(ctx context.Context, intentID string) (payment.Intent, error)
}

func (f *fakeCards) CreateIntent(ctx context.Context, orderID string, amountCents int64, currency string) (payment.Intent, error) {
	return f.CreateIntentFn(ctx, orderID, amountCents, currency)
}

func (f *fakeCards) GetIntent(ctx context.Context, intentID string) (payment.Intent, error) {
	return f.GetIntentFn(ctx, intentID)
}

const testSecret = "test-secret"

type testServer struct {
	router   *mux.Router
	verifier *auth.Verifier
	intents  int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ms := store.NewMemoryStore()
	require.NoError(t, ms.CreateProduct(context.Background(), models.Product{
		ID: "A", Name: "Mug", Price: decimal.RequireFromString("19.99"), Stock: 10, Category: "kitchen",
	}))

	log := logrus.New()
	log.SetOutput(io.Discard)

	ts := &testServer{verifier: auth.NewVerifier(testSecret)}
	cards := &fakeCards{
		CreateIntentFn: func(_ context.Context, orderID string, _ int64, _ string) (payment.Intent, error) {
			ts.intents++
			return payment.Intent{ID: "pi_1", ClientSecret: "pi_1_secret", OrderID: orderID}, nil
		},
		GetIntentFn: func(_ context.Context, id string) (payment.Intent, error) {
			return payment.Intent{ID: id, Status: payment.StatusRequiresAction}, nil
		},
	}
	svc := service.NewService(ms, cards, service.Options{PaymentTimeout: time.Second}, log)
	h := NewHandler(svc, Options{
		Verifier:       ts.verifier,
		Cache:          cache.NewMemoryCache("storefront-test"),
		IdempotencyTTL: time.Minute,
		Logger:         log,
	})
	ts.router = mux.NewRouter()
	h.RegisterRoutes(ts.router)
	return ts
}

func (ts *testServer) do(method, path, user string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), v), rr.Body.String())
}

var orderBody = map[string]interface{}{
	"shippingAddress": map[string]string{"street": "1 Main St", "city": "Springfield", "zip": "12345", "country": "US"},
	"paymentMethod":   "card",
}

func TestCartFlow(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodPost, "/cart/items", "u1", map[string]interface{}{"productId": "A", "quantity": 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var c service.CartDTO
	decodeBody(t, rr, &c)
	assert.Equal(t, "39.98", c.Subtotal)
	assert.Equal(t, "4.00", c.Tax)
	assert.Equal(t, "43.98", c.Total)

	rr = ts.do(http.MethodPut, "/cart/items/A", "u1", map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &c)
	assert.Equal(t, "59.97", c.Subtotal)

	rr = ts.do(http.MethodDelete, "/cart/items/A", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &c)
	assert.Empty(t, c.Items)

	rr = ts.do(http.MethodGet, "/cart", "u2", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodPost, "/cart/items", "u1", map[string]interface{}{"productId": "A", "quantity": 1})
	require.Equal(t, http.StatusOK, rr.Code)
	rr = ts.do(http.MethodDelete, "/cart", "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	decodeBody(t, rr, &c)
	assert.Empty(t, c.Items)
}

func TestErrorMapping(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   interface{}
		status int
		code   string
	}{
		{"no identity", http.MethodGet, "/cart", "", nil, http.StatusUnauthorized, "unauthorized"},
		{"bad quantity", http.MethodPost, "/cart/items", "u1", map[string]interface{}{"productId": "A", "quantity": 0}, http.StatusBadRequest, "invalid_quantity"},
		{"unknown product", http.MethodPost, "/cart/items", "u1", map[string]interface{}{"productId": "Z", "quantity": 1}, http.StatusNotFound, "product_not_found"},
		{"over stock", http.MethodPost, "/cart/items", "u1", map[string]interface{}{"productId": "A", "quantity": 11}, http.StatusBadRequest, "insufficient_stock"},
		{"empty cart", http.MethodPost, "/orders", "u1", orderBody, http.StatusBadRequest, "empty_cart"},
		{"missing order", http.MethodGet, "/orders/nope", "u1", nil, http.StatusNotFound, "order_not_found"},
		{"not admin", http.MethodPost, "/products", "u1", map[string]interface{}{"name": "x"}, http.StatusForbidden, "forbidden"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.do(tc.method, tc.path, tc.user, tc.body)
			assert.Equal(t, tc.status, rr.Code, rr.Body.String())
			var body errorBody
			decodeBody(t, rr, &body)
			assert.Equal(t, tc.code, body.Error)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/cart/items", bytes.NewBufferString("{"))
	req.Header.Set(headerUserID, "u1")
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestClassifyHidesInternalErrors(t *testing.T) {
	code, body := classify(errors.New("pq: connection refused to host=10.0.0.1"))
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal server error", body.Message)

	code, _ = classify(errors.Wrap(models.ErrPaymentProvider, "timeout"))
	assert.Equal(t, http.StatusBadGateway, code)
}

func TestCheckoutAndPayment(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(http.MethodPost, "/cart/items", "u1", map[string]interface{}{"productId": "A", "quantity": 3})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodPost, "/orders", "u1", orderBody, headerIdempotencyKey, "k1")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created createOrderResp
	decodeBody(t, rr, &created)
	assert.Equal(t, "75.97", created.Order.Total)

	// Replayed, not a second order and not EmptyCart.
	rr = ts.do(http.MethodPost, "/orders", "u1", orderBody, headerIdempotencyKey, "k1")
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "true", rr.Header().Get("Idempotent-Replayed"))
	var replayed createOrderResp
	decodeBody(t, rr, &replayed)
	assert.Equal(t, created.OrderID, replayed.OrderID)

	rr = ts.do(http.MethodPost, "/orders", "u1", orderBody)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// Other owners cannot pay for the order.
	rr = ts.do(http.MethodPost, "/payments/card", "u2", map[string]string{"orderId": created.OrderID})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(http.MethodPost, "/payments/card", "u1", map[string]string{"orderId": created.OrderID, "amount": "75.97"},
		headerIdempotencyKey, "p1")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var intent service.CardIntentDTO
	decodeBody(t, rr, &intent)
	assert.Equal(t, "pi_1_secret", intent.ClientSecret)

	rr = ts.do(http.MethodPost, "/payments/card", "u1", map[string]string{"orderId": created.OrderID, "amount": "75.97"},
		headerIdempotencyKey, "p1")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, ts.intents)

	rr = ts.do(http.MethodPost, "/payments/card/confirm", "u1", map[string]string{"orderId": created.OrderID, "intentId": "pi_1"})
	assert.Equal(t, http.StatusPaymentRequired, rr.Code)

	rr = ts.do(http.MethodGet, "/orders/"+created.OrderID, "u1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var o service.OrderDTO
	decodeBody(t, rr, &o)
	assert.Equal(t, "pending", o.PaymentStatus)

	rr = ts.do(http.MethodPost, "/payments/manual", "u1", map[string]string{"orderId": created.OrderID, "contactAddress": "+1 555 0100"})
	require.Equal(t, http.StatusOK, rr.Code)
	var manual service.ManualPaymentDTO
	decodeBody(t, rr, &manual)
	assert.Contains(t, manual.ContactLink, "https://wa.me/1234567890?text=")
}

func TestBearerTokenAndAdminRoutes(t *testing.T) {
	ts := newTestServer(t)

	token, err := ts.verifier.Issue(auth.Identity{OwnerID: "boss", Role: auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	bearer := "Bearer " + token

	rr := ts.do(http.MethodPost, "/categories", "", map[string]string{"name": "Kitchen Tools"}, "Authorization", bearer)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var cat service.CategoryDTO
	decodeBody(t, rr, &cat)
	assert.Equal(t, "kitchen-tools", cat.Slug)

	rr = ts.do(http.MethodPost, "/categories", "", map[string]string{"name": "Kitchen tools"}, "Authorization", bearer)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = ts.do(http.MethodPut, "/products/A/stock", "", map[string]int{"stock": 0}, "Authorization", bearer)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodGet, "/products?limit=5", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var page service.ProductPage
	decodeBody(t, rr, &page)
	require.Len(t, page.Products, 1)
	assert.Equal(t, 0, page.Products[0].Stock)

	rr = ts.do(http.MethodGet, "/products?minPrice=abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(http.MethodGet, "/cart", "", nil, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.do(http.MethodPut, "/admin/orders/nope/status", "", map[string]string{"status": "shipped"}, "Authorization", bearer)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestMalformedIDsOnPostgresAreNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := logrus.New()
	log.SetOutput(io.Discard)
	svc := service.NewService(store.NewPostgresStore(sqlx.NewDb(db, "postgres")), nil, service.Options{}, log)
	router := mux.NewRouter()
	NewHandler(svc, Options{Logger: log}).RegisterRoutes(router)

	badUUID := &pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`}
	cases := []struct {
		name   string
		method string
		path   string
		body   interface{}
		query  string
		code   string
	}{
		{"order", http.MethodGet, "/orders/not-a-uuid", nil, "FROM orders", "order_not_found"},
		{"manual payment", http.MethodPost, "/payments/manual", map[string]string{"orderId": "not-a-uuid", "contactAddress": "+15550100"}, "FROM orders", "order_not_found"},
		{"product", http.MethodGet, "/products/not-a-uuid", nil, "FROM products", "product_not_found"},
		{"cart item", http.MethodPost, "/cart/items", map[string]interface{}{"productId": "not-a-uuid", "quantity": 1}, "FROM products", "product_not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mock.ExpectQuery(tc.query).WithArgs("not-a-uuid").WillReturnError(badUUID)

			var buf bytes.Buffer
			if tc.body != nil {
				require.NoError(t, json.NewEncoder(&buf).Encode(tc.body))
			}
			req := httptest.NewRequest(tc.method, tc.path, &buf)
			req.Header.Set(headerUserID, "u1")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
			var body errorBody
			decodeBody(t, rr, &body)
			assert.Equal(t, tc.code, body.Error)
		})
	}
	require.NoError(t, mock.ExpectationsWereMet())
}
