package service

import (
	"context"
	"strings"
	"unicode"

	"storefront/model"
	"storefront/store"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultPageLimit = 10
	maxPageLimit     = 100
)

func (in ProductInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return models.NewValidationError("name", "required")
	}
	if !in.Price.IsPositive() {
		return models.NewValidationError("price", "must be greater than 0")
	}
	if in.DiscountPrice.Valid {
		if in.DiscountPrice.Decimal.IsNegative() {
			return models.NewValidationError("discountPrice", "must not be negative")
		}
		if in.DiscountPrice.Decimal.GreaterThanOrEqual(in.Price) {
			return models.NewValidationError("discountPrice", "must be lower than price")
		}
	}
	if in.Stock < 0 {
		return models.NewValidationError("stock", "must not be negative")
	}
	if strings.TrimSpace(in.Category) == "" {
		return models.NewValidationError("category", "required")
	}
	return nil
}

func (in ProductInput) apply(p *models.Product) {
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Price = in.Price.Round(2)
	p.DiscountPrice = in.DiscountPrice
	if p.DiscountPrice.Valid {
		p.DiscountPrice.Decimal = p.DiscountPrice.Decimal.Round(2)
	}
	p.Stock = in.Stock
	p.Category = in.Category
	p.Images = append([]string(nil), in.Images...)
}

func (s *Service) CreateProduct(ctx context.Context, in ProductInput) (out ProductDTO, err error) {
	ctx, span := startSpan(ctx, "CreateProduct")
	defer func() { endSpan(span, err) }()

	if err := in.validate(); err != nil {
		return ProductDTO{}, err
	}
	now := s.now()
	p := models.Product{ID: s.newID(), Rating: decimal.Zero, CreatedAt: now, UpdatedAt: now}
	in.apply(&p)

	if err := s.store.CreateProduct(ctx, p); err != nil {
		return ProductDTO{}, err
	}
	s.log.WithFields(logrus.Fields{"product_id": p.ID, "name": p.Name}).Info("product created")
	return productDTO(p), nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, in ProductInput) (out ProductDTO, err error) {
	ctx, span := startSpan(ctx, "UpdateProduct", attribute.String("product.id", id))
	defer func() { endSpan(span, err) }()

	if err := in.validate(); err != nil {
		return ProductDTO{}, err
	}
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return ProductDTO{}, err
	}
	in.apply(&p)
	p.UpdatedAt = s.now()

	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return ProductDTO{}, err
	}
	return productDTO(p), nil
}

// DeleteProduct leaves existing cart lines alone; their price was locked when
// they were added.
func (s *Service) DeleteProduct(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "DeleteProduct", attribute.String("product.id", id))
	defer func() { endSpan(span, err) }()

	if err := s.store.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.log.WithField("product_id", id).Info("product deleted")
	return nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (out ProductDTO, err error) {
	ctx, span := startSpan(ctx, "GetProduct", attribute.String("product.id", id))
	defer func() { endSpan(span, err) }()

	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return ProductDTO{}, err
	}
	return productDTO(p), nil
}

func (s *Service) ListProducts(ctx context.Context, q ProductQuery) (out ProductPage, err error) {
	ctx, span := startSpan(ctx, "ListProducts")
	defer func() { endSpan(span, err) }()

	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = defaultPageLimit
	}
	if q.Limit > maxPageLimit {
		q.Limit = maxPageLimit
	}
	if q.MinPrice.Valid && q.MaxPrice.Valid && q.MinPrice.Decimal.GreaterThan(q.MaxPrice.Decimal) {
		return ProductPage{}, models.NewValidationError("minPrice", "must not exceed maxPrice")
	}

	products, total, err := s.store.ListProducts(ctx, store.ProductFilter{
		Category: q.Category,
		Search:   strings.TrimSpace(q.Search),
		MinPrice: q.MinPrice,
		MaxPrice: q.MaxPrice,
		Page:     q.Page,
		Limit:    q.Limit,
	})
	if err != nil {
		return ProductPage{}, err
	}

	out.Products = make([]ProductDTO, 0, len(products))
	for _, p := range products {
		out.Products = append(out.Products, productDTO(p))
	}
	out.Pagination = Pagination{
		Total:      total,
		Page:       q.Page,
		Limit:      q.Limit,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}
	return out, nil
}

// UpdateStock sets the available quantity. It does not touch carts.
func (s *Service) UpdateStock(ctx context.Context, productID string, newStock int) (err error) {
	ctx, span := startSpan(ctx, "UpdateStock", attribute.String("product.id", productID), attribute.Int("stock", newStock))
	defer func() { endSpan(span, err) }()

	if newStock < 0 {
		return models.NewValidationError("stock", "must not be negative")
	}
	if err := s.store.UpdateStock(ctx, productID, newStock); err != nil {
		return errors.WithMessagef(err, "update stock of %s", productID)
	}
	return nil
}

// slugify lowercases name and joins its alphanumeric runs with dashes.
func slugify(name string) string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, "-")
}

func (in CategoryInput) normalize() (CategoryInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return in, models.NewValidationError("name", "required")
	}
	if in.Slug == "" {
		in.Slug = in.Name
	}
	in.Slug = slugify(in.Slug)
	if in.Slug == "" {
		return in, models.NewValidationError("slug", "must contain letters or digits")
	}
	return in, nil
}

func (s *Service) CreateCategory(ctx context.Context, in CategoryInput) (out CategoryDTO, err error) {
	ctx, span := startSpan(ctx, "CreateCategory")
	defer func() { endSpan(span, err) }()

	in, err = in.normalize()
	if err != nil {
		return CategoryDTO{}, err
	}
	now := s.now()
	c := models.Category{
		ID:          s.newID(),
		Name:        in.Name,
		Slug:        in.Slug,
		Description: in.Description,
		Active:      in.Active == nil || *in.Active,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return CategoryDTO{}, err
	}
	return categoryDTO(c), nil
}

func (s *Service) UpdateCategory(ctx context.Context, id string, in CategoryInput) (out CategoryDTO, err error) {
	ctx, span := startSpan(ctx, "UpdateCategory", attribute.String("category.id", id))
	defer func() { endSpan(span, err) }()

	in, err = in.normalize()
	if err != nil {
		return CategoryDTO{}, err
	}
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return CategoryDTO{}, err
	}
	c.Name, c.Slug, c.Description = in.Name, in.Slug, in.Description
	if in.Active != nil {
		c.Active = *in.Active
	}
	c.UpdatedAt = s.now()

	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return CategoryDTO{}, err
	}
	return categoryDTO(c), nil
}

func (s *Service) DeleteCategory(ctx context.Context, id string) (err error) {
	ctx, span := startSpan(ctx, "DeleteCategory", attribute.String("category.id", id))
	defer func() { endSpan(span, err) }()

	return s.store.DeleteCategory(ctx, id)
}

func (s *Service) ListCategories(ctx context.Context, includeInactive bool) (out []CategoryDTO, err error) {
	ctx, span := startSpan(ctx, "ListCategories")
	defer func() { endSpan(span, err) }()

	cats, err := s.store.ListCategories(ctx, !includeInactive)
	if err != nil {
		return nil, err
	}
	out = make([]CategoryDTO, 0, len(cats))
	for _, c := range cats {
		out = append(out, categoryDTO(c))
	}
	return out, nil
}
