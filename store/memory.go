package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"storefront/model"

	"github.com/pkg/errors"
)

// MemoryStore keeps everything in process memory. It honours the same
// per-owner serialization as PostgresStore and is used for local runs and
// tests.
type MemoryStore struct {
	locks sync.Map // owner_id -> *sync.Mutex

	mu         sync.RWMutex
	products   map[string]models.Product
	categories map[string]models.Category
	carts      map[string]models.Cart
	orders     map[string]models.Order

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:   map[string]models.Product{},
		categories: map[string]models.Category{},
		carts:      map[string]models.Cart{},
		orders:     map[string]models.Order{},
		now:        time.Now,
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateProduct(_ context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
	return nil
}

func (s *MemoryStore) UpdateProduct(_ context.Context, p models.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.products[p.ID]
	if !ok {
		return errors.Wrapf(models.ErrProductNotFound, "id %s", p.ID)
	}
	p.CreatedAt, p.Rating = old.CreatedAt, old.Rating
	s.products[p.ID] = p
	return nil
}

func (s *MemoryStore) DeleteProduct(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return errors.Wrapf(models.ErrProductNotFound, "id %s", id)
	}
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return models.Product{}, errors.Wrapf(models.ErrProductNotFound, "product %s", id)
	}
	return p, nil
}

func (s *MemoryStore) ListProducts(_ context.Context, f ProductFilter) ([]models.Product, int, error) {
	s.mu.RLock()
	matched := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		if matchProduct(p, f) {
			matched = append(matched, p)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })

	total := len(matched)
	start := f.offset()
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func matchProduct(p models.Product, f ProductFilter) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Search)) {
		return false
	}
	if f.MinPrice.Valid && p.Price.LessThan(f.MinPrice.Decimal) {
		return false
	}
	if f.MaxPrice.Valid && p.Price.GreaterThan(f.MaxPrice.Decimal) {
		return false
	}
	return true
}

func (s *MemoryStore) UpdateStock(_ context.Context, productID string, newStock int) error {
	if newStock < 0 {
		return models.NewValidationError("stock", "cannot be negative")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return errors.Wrapf(models.ErrProductNotFound, "id %s", productID)
	}
	p.Stock = newStock
	p.UpdatedAt = s.now()
	s.products[productID] = p
	return nil
}

func (s *MemoryStore) slugTaken(slug, exceptID string) bool {
	for _, c := range s.categories {
		if c.Slug == slug && c.ID != exceptID {
			return true
		}
	}
	return false
}

func (s *MemoryStore) CreateCategory(_ context.Context, c models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slugTaken(c.Slug, "") {
		return errors.Wrapf(models.ErrDuplicateSlug, "slug %q", c.Slug)
	}
	s.categories[c.ID] = c
	return nil
}

func (s *MemoryStore) UpdateCategory(_ context.Context, c models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.categories[c.ID]
	if !ok {
		return errors.Wrapf(models.ErrCategoryNotFound, "id %s", c.ID)
	}
	if s.slugTaken(c.Slug, c.ID) {
		return errors.Wrapf(models.ErrDuplicateSlug, "slug %q", c.Slug)
	}
	c.CreatedAt = old.CreatedAt
	s.categories[c.ID] = c
	return nil
}

func (s *MemoryStore) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return errors.Wrapf(models.ErrCategoryNotFound, "id %s", id)
	}
	delete(s.categories, id)
	return nil
}

func (s *MemoryStore) GetCategory(_ context.Context, id string) (models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return models.Category{}, errors.Wrapf(models.ErrCategoryNotFound, "category %s", id)
	}
	return c, nil
}

func (s *MemoryStore) ListCategories(_ context.Context, activeOnly bool) ([]models.Category, error) {
	s.mu.RLock()
	out := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetCart(_ context.Context, ownerID string) (models.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cartLocked(ownerID), nil
}

// cartLocked returns a private copy of the owner's cart. s.mu must be held.
func (s *MemoryStore) cartLocked(ownerID string) models.Cart {
	c, ok := s.carts[ownerID]
	if !ok {
		return models.Cart{OwnerID: ownerID, Items: []models.LineItem{}}
	}
	return c.Snapshot()
}

func (s *MemoryStore) UpdateCart(_ context.Context, ownerID string, mutate func(*models.Cart) error) (models.Cart, error) {
	unlock := lockFor(&s.locks, ownerID)
	defer unlock()

	s.mu.RLock()
	c := s.cartLocked(ownerID)
	s.mu.RUnlock()

	if err := mutate(&c); err != nil {
		return models.Cart{}, err
	}
	c.UpdatedAt = s.now()

	s.mu.Lock()
	s.carts[ownerID] = c.Snapshot()
	s.mu.Unlock()
	return c, nil
}

func (s *MemoryStore) ClearCart(_ context.Context, ownerID string) error {
	unlock := lockFor(&s.locks, ownerID)
	defer unlock()

	s.mu.Lock()
	delete(s.carts, ownerID)
	s.mu.Unlock()
	return nil
}

// CheckoutCart stores the order and drops the cart in the same critical
// section. An abandoned context is honoured only before anything is written.
func (s *MemoryStore) CheckoutCart(ctx context.Context, ownerID string, build func(models.Cart) (models.Order, error)) (models.Order, error) {
	unlock := lockFor(&s.locks, ownerID)
	defer unlock()

	s.mu.RLock()
	c := s.cartLocked(ownerID)
	s.mu.RUnlock()

	o, err := build(c)
	if err != nil {
		return models.Order{}, err
	}
	if err := ctx.Err(); err != nil {
		return models.Order{}, errors.Wrap(err, "checkout abandoned")
	}

	s.mu.Lock()
	s.orders[o.ID] = copyOrder(o)
	delete(s.carts, ownerID)
	s.mu.Unlock()
	return o, nil
}

func copyOrder(o models.Order) models.Order {
	items := make([]models.LineItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return models.Order{}, errors.Wrapf(models.ErrOrderNotFound, "order %s", id)
	}
	return copyOrder(o), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, ownerID string) ([]models.Order, error) {
	s.mu.RLock()
	out := []models.Order{}
	for _, o := range s.orders {
		if o.OwnerID == ownerID {
			out = append(out, copyOrder(o))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateOrder(_ context.Context, id string, mutate func(*models.Order) error) (models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.orders[id]
	if !ok {
		return models.Order{}, errors.Wrapf(models.ErrOrderNotFound, "order %s", id)
	}
	o := copyOrder(stored)
	if err := mutate(&o); err != nil {
		return models.Order{}, err
	}
	// only the mutable fields are written back
	stored.Status = o.Status
	stored.PaymentStatus = o.PaymentStatus
	stored.PaymentIntentID = o.PaymentIntentID
	stored.TrackingNumber = o.TrackingNumber
	stored.UpdatedAt = o.UpdatedAt
	s.orders[id] = stored
	return copyOrder(stored), nil
}
