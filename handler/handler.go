package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"storefront/auth"
	"storefront/cache"
	"storefront/model"
	"storefront/service"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler is the HTTP layer that talks to service.Service
type Handler struct {
	svc            service.ServiceInterface
	verifier       *auth.Verifier
	cache          cache.Cache
	idempotencyTTL time.Duration
	log            logrus.FieldLogger
}

type Options struct {
	Verifier       *auth.Verifier
	Cache          cache.Cache
	IdempotencyTTL time.Duration
	Logger         logrus.FieldLogger
}

// NewHandler returns a Handler instance
func NewHandler(s service.ServiceInterface, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &Handler{
		svc:            s,
		verifier:       opts.Verifier,
		cache:          opts.Cache,
		idempotencyTTL: opts.IdempotencyTTL,
		log:            opts.Logger,
	}
}

// RegisterRoutes registers all routes on the provided router
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.Use(h.Identify)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	// Cart
	r.HandleFunc("/cart", h.owner(h.GetCart)).Methods(http.MethodGet)
	r.HandleFunc("/cart", h.owner(h.ClearCart)).Methods(http.MethodDelete)
	r.HandleFunc("/cart/items", h.owner(h.AddItem)).Methods(http.MethodPost)
	r.HandleFunc("/cart/items/{productId}", h.owner(h.UpdateItem)).Methods(http.MethodPut)
	r.HandleFunc("/cart/items/{productId}", h.owner(h.RemoveItem)).Methods(http.MethodDelete)

	// Orders
	r.HandleFunc("/orders", h.owner(h.idempotent("create-order", h.CreateOrder))).Methods(http.MethodPost)
	r.HandleFunc("/orders", h.owner(h.ListOrders)).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", h.owner(h.GetOrder)).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}/cancel", h.owner(h.CancelOrder)).Methods(http.MethodPost)

	// Payments
	r.HandleFunc("/payments/card", h.owner(h.idempotent("card-payment", h.InitiateCardPayment))).Methods(http.MethodPost)
	r.HandleFunc("/payments/card/confirm", h.owner(h.ConfirmCardPayment)).Methods(http.MethodPost)
	r.HandleFunc("/payments/manual", h.owner(h.InitiateManualPayment)).Methods(http.MethodPost)

	// Catalog
	r.HandleFunc("/products", h.ListProducts).Methods(http.MethodGet)
	r.HandleFunc("/products", h.admin(h.CreateProduct)).Methods(http.MethodPost)
	r.HandleFunc("/products/{id}", h.GetProduct).Methods(http.MethodGet)
	r.HandleFunc("/products/{id}", h.admin(h.UpdateProduct)).Methods(http.MethodPut)
	r.HandleFunc("/products/{id}", h.admin(h.DeleteProduct)).Methods(http.MethodDelete)
	r.HandleFunc("/products/{id}/stock", h.admin(h.UpdateStock)).Methods(http.MethodPut)

	r.HandleFunc("/categories", h.ListCategories).Methods(http.MethodGet)
	r.HandleFunc("/categories", h.admin(h.CreateCategory)).Methods(http.MethodPost)
	r.HandleFunc("/categories/{id}", h.admin(h.UpdateCategory)).Methods(http.MethodPut)
	r.HandleFunc("/categories/{id}", h.admin(h.DeleteCategory)).Methods(http.MethodDelete)

	// Admin
	r.HandleFunc("/admin/orders/{id}/status", h.admin(h.UpdateOrderStatus)).Methods(http.MethodPut)
}

// --- request / response shapes ---
type cartItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type quantityReq struct {
	Quantity *int `json:"quantity"`
}

type createOrderReq struct {
	ShippingAddress models.Address `json:"shippingAddress"`
	PaymentMethod   string         `json:"paymentMethod"`
}

type createOrderResp struct {
	OrderID string           `json:"orderId"`
	Order   service.OrderDTO `json:"order"`
}

type cardPaymentReq struct {
	OrderID string          `json:"orderId"`
	Amount  decimal.Decimal `json:"amount"`
}

type confirmPaymentReq struct {
	IntentID string `json:"intentId"`
	OrderID  string `json:"orderId"`
}

type manualPaymentReq struct {
	OrderID        string          `json:"orderId"`
	ContactAddress string          `json:"contactAddress"`
	Amount         decimal.Decimal `json:"amount"`
}

type productReq struct {
	Name          string              `json:"name"`
	Description   string              `json:"description"`
	Price         decimal.Decimal     `json:"price"`
	DiscountPrice decimal.NullDecimal `json:"discountPrice"`
	Stock         int                 `json:"stock"`
	Category      string              `json:"category"`
	Images        []string            `json:"images"`
}

func (p productReq) input() service.ProductInput {
	return service.ProductInput{
		Name:          p.Name,
		Description:   p.Description,
		Price:         p.Price,
		DiscountPrice: p.DiscountPrice,
		Stock:         p.Stock,
		Category:      p.Category,
		Images:        p.Images,
	}
}

type updateStockReq struct {
	Stock *int `json:"stock"`
}

type categoryReq struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Active      *bool  `json:"active"`
}

type orderStatusReq struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"trackingNumber"`
}

// --- helpers ---
func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSON(w, code, errorBody{Error: errCode, Message: msg})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, body := classify(err)
	if code == http.StatusInternalServerError {
		h.log.WithError(err).WithField("path", r.URL.Path).Error("request failed")
	}
	writeJSON(w, code, body)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return false
	}
	return true
}

func ownerOf(r *http.Request) string {
	id, _ := auth.FromContext(r.Context())
	return id.OwnerID
}

// --- Handler ---

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetCart handles GET /cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.GetCart(r.Context(), ownerOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ClearCart handles DELETE /cart
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.ClearCart(r.Context(), ownerOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// AddItem handles POST /cart/items
// body: { "productId": "...", "quantity": 2 }
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req cartItemReq
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeErr(w, http.StatusBadRequest, "validation_error", "productId: required")
		return
	}
	c, err := h.svc.AddItem(r.Context(), ownerOf(r), req.ProductID, req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// UpdateItem handles PUT /cart/items/{productId}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req quantityReq
	if !decode(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		writeErr(w, http.StatusBadRequest, "validation_error", "quantity: required")
		return
	}
	c, err := h.svc.UpdateQuantity(r.Context(), ownerOf(r), mux.Vars(r)["productId"], *req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RemoveItem handles DELETE /cart/items/{productId}
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.svc.RemoveItem(r.Context(), ownerOf(r), mux.Vars(r)["productId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// CreateOrder handles POST /orders
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.CreateOrder(r.Context(), ownerOf(r), service.CreateOrderInput{
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createOrderResp{OrderID: o.ID, Order: o})
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.ListOrders(r.Context(), ownerOf(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.GetOrder(r.Context(), ownerOf(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.CancelOrder(r.Context(), ownerOf(r), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// ownsOrder fails the request unless the caller owns orderID.
func (h *Handler) ownsOrder(w http.ResponseWriter, r *http.Request, orderID string) bool {
	if orderID == "" {
		writeErr(w, http.StatusBadRequest, "validation_error", "orderId: required")
		return false
	}
	if _, err := h.svc.GetOrder(r.Context(), ownerOf(r), orderID); err != nil {
		h.fail(w, r, err)
		return false
	}
	return true
}

// InitiateCardPayment handles POST /payments/card
// body: { "orderId": "...", "amount": "75.97" }
func (h *Handler) InitiateCardPayment(w http.ResponseWriter, r *http.Request) {
	var req cardPaymentReq
	if !decode(w, r, &req) || !h.ownsOrder(w, r, req.OrderID) {
		return
	}
	out, err := h.svc.InitiateCardPayment(r.Context(), req.OrderID, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// ConfirmCardPayment handles POST /payments/card/confirm
func (h *Handler) ConfirmCardPayment(w http.ResponseWriter, r *http.Request) {
	var req confirmPaymentReq
	if !decode(w, r, &req) || !h.ownsOrder(w, r, req.OrderID) {
		return
	}
	o, err := h.svc.ConfirmCardPayment(r.Context(), req.IntentID, req.OrderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// InitiateManualPayment handles POST /payments/manual
func (h *Handler) InitiateManualPayment(w http.ResponseWriter, r *http.Request) {
	var req manualPaymentReq
	if !decode(w, r, &req) || !h.ownsOrder(w, r, req.OrderID) {
		return
	}
	out, err := h.svc.InitiateManualPayment(r.Context(), req.OrderID, req.ContactAddress, req.Amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func queryDecimal(r *http.Request, name string) (decimal.NullDecimal, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, models.NewValidationError(name, "must be a number")
	}
	return decimal.NewNullDecimal(v), nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(name, "must be an integer")
	}
	return v, nil
}

// ListProducts handles GET /products?category&search&minPrice&maxPrice&page&limit
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := service.ProductQuery{
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
	}
	var err error
	if q.MinPrice, err = queryDecimal(r, "minPrice"); err != nil {
		h.fail(w, r, err)
		return
	}
	if q.MaxPrice, err = queryDecimal(r, "maxPrice"); err != nil {
		h.fail(w, r, err)
		return
	}
	if q.Page, err = queryInt(r, "page"); err != nil {
		h.fail(w, r, err)
		return
	}
	if q.Limit, err = queryInt(r, "limit"); err != nil {
		h.fail(w, r, err)
		return
	}

	page, err := h.svc.ListProducts(r.Context(), q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// CreateProduct handles POST /products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.CreateProduct(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req productReq
	if !decode(w, r, &req) {
		return
	}
	p, err := h.svc.UpdateProduct(r.Context(), mux.Vars(r)["id"], req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteProduct(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateStock handles PUT /products/{id}/stock
// body: { "stock": 12 }
func (h *Handler) UpdateStock(w http.ResponseWriter, r *http.Request) {
	var req updateStockReq
	if !decode(w, r, &req) {
		return
	}
	if req.Stock == nil {
		writeErr(w, http.StatusBadRequest, "validation_error", "stock: required")
		return
	}
	if err := h.svc.UpdateStock(r.Context(), mux.Vars(r)["id"], *req.Stock); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ListCategories returns active categories. Admins may ask for all of them
// with ?includeInactive=true.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	all := id.IsAdmin() && r.URL.Query().Get("includeInactive") == "true"

	cats, err := h.svc.ListCategories(r.Context(), all)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"categories": cats})
}

func (h *Handler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryReq
	if !decode(w, r, &req) {
		return
	}
	c, err := h.svc.CreateCategory(r.Context(), service.CategoryInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req categoryReq
	if !decode(w, r, &req) {
		return
	}
	c, err := h.svc.UpdateCategory(r.Context(), mux.Vars(r)["id"], service.CategoryInput(req))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteCategory(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateOrderStatus handles PUT /admin/orders/{id}/status
// body: { "status": "shipped", "trackingNumber": "..." }
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req orderStatusReq
	if !decode(w, r, &req) {
		return
	}
	o, err := h.svc.UpdateOrderStatus(r.Context(), mux.Vars(r)["id"], req.Status, req.TrackingNumber)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
