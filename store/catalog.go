package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"storefront/model"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const (
	uniqueViolation = "23505"
	// invalid_text_representation, raised when an id is not a valid UUID.
	invalidText = "22P02"
)

type productRow struct {
	ID            string              `db:"id"`
	Name          string              `db:"name"`
	Description   string              `db:"description"`
	Price         decimal.Decimal     `db:"price"`
	DiscountPrice decimal.NullDecimal `db:"discount_price"`
	Stock         int                 `db:"stock"`
	Category      string              `db:"category"`
	Images        pq.StringArray      `db:"images"`
	Rating        decimal.Decimal     `db:"rating"`
	CreatedAt     time.Time           `db:"created_at"`
	UpdatedAt     time.Time           `db:"updated_at"`
}

func (r productRow) toModel() models.Product {
	return models.Product{
		ID:            r.ID,
		Name:          r.Name,
		Description:   r.Description,
		Price:         r.Price,
		DiscountPrice: r.DiscountPrice,
		Stock:         r.Stock,
		Category:      r.Category,
		Images:        []string(r.Images),
		Rating:        r.Rating,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

type categoryRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Slug        string    `db:"slug"`
	Description string    `db:"description"`
	Active      bool      `db:"active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r categoryRow) toModel() models.Category {
	return models.Category(r)
}

const (
	productColumns   = `id, name, description, price, discount_price, stock, category, images, rating, created_at, updated_at`
	insertProductSQL = `INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	updateProductSQL = `UPDATE products SET name = $2, description = $3, price = $4, discount_price = $5, stock = $6,
		category = $7, images = $8, updated_at = $9 WHERE id = $1`
	deleteProductSQL = `DELETE FROM products WHERE id = $1`
	selectProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	categoryColumns   = `id, name, slug, description, active, created_at, updated_at`
	insertCategorySQL = `INSERT INTO categories (` + categoryColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	updateCategorySQL = `UPDATE categories SET name = $2, slug = $3, description = $4, active = $5, updated_at = $6
		WHERE id = $1`
	deleteCategorySQL = `DELETE FROM categories WHERE id = $1`
	selectCategorySQL = `SELECT ` + categoryColumns + ` FROM categories WHERE id = $1`
	listCategoriesSQL = `SELECT ` + categoryColumns + ` FROM categories`
)

func (s *PostgresStore) CreateProduct(ctx context.Context, p models.Product) error {
	_, err := s.DB.ExecContext(ctx, insertProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.DiscountPrice, p.Stock, p.Category, pq.StringArray(p.Images),
		p.Rating, p.CreatedAt, p.UpdatedAt,
	)
	return errors.Wrap(err, "failed to insert product")
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p models.Product) error {
	res, err := s.DB.ExecContext(ctx, updateProductSQL,
		p.ID, p.Name, p.Description, p.Price, p.DiscountPrice, p.Stock, p.Category, pq.StringArray(p.Images),
		p.UpdatedAt,
	)
	if isInvalidText(err) {
		return errors.Wrapf(models.ErrProductNotFound, "product %s", p.ID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to update product %s", p.ID)
	}
	return expectOne(res, models.ErrProductNotFound, p.ID)
}

func (s *PostgresStore) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, deleteProductSQL, id)
	if isInvalidText(err) {
		return errors.Wrapf(models.ErrProductNotFound, "product %s", id)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to delete product %s", id)
	}
	return expectOne(res, models.ErrProductNotFound, id)
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (models.Product, error) {
	var row productRow
	err := sqlx.GetContext(ctx, s.DB, &row, selectProductSQL, id)
	if isMissing(err) {
		return models.Product{}, errors.Wrapf(models.ErrProductNotFound, "product %s", id)
	}
	if err != nil {
		return models.Product{}, errors.Wrapf(err, "failed to load product %s", id)
	}
	return row.toModel(), nil
}

// productWhere renders the filter as a WHERE clause with positional args.
func productWhere(f ProductFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.Search != "" {
		add("name ILIKE '%%' || $%d || '%%'", f.Search)
	}
	if f.MinPrice.Valid {
		add("price >= $%d", f.MinPrice.Decimal)
	}
	if f.MaxPrice.Valid {
		add("price <= $%d", f.MaxPrice.Decimal)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *PostgresStore) ListProducts(ctx context.Context, f ProductFilter) ([]models.Product, int, error) {
	where, args := productWhere(f)

	var total int
	if err := sqlx.GetContext(ctx, s.DB, &total, `SELECT count(*) FROM products`+where, args...); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count products")
	}

	query := fmt.Sprintf(`SELECT %s FROM products%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		productColumns, where, len(args)+1, len(args)+2)
	var rows []productRow
	if err := sqlx.SelectContext(ctx, s.DB, &rows, query, append(args, f.Limit, f.offset())...); err != nil {
		return nil, 0, errors.Wrap(err, "failed to list products")
	}

	out := make([]models.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, total, nil
}

func (s *PostgresStore) CreateCategory(ctx context.Context, c models.Category) error {
	_, err := s.DB.ExecContext(ctx, insertCategorySQL,
		c.ID, c.Name, c.Slug, c.Description, c.Active, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Wrapf(models.ErrDuplicateSlug, "slug %q", c.Slug)
	}
	return errors.Wrap(err, "failed to insert category")
}

func (s *PostgresStore) UpdateCategory(ctx context.Context, c models.Category) error {
	res, err := s.DB.ExecContext(ctx, updateCategorySQL,
		c.ID, c.Name, c.Slug, c.Description, c.Active, c.UpdatedAt)
	if isUniqueViolation(err) {
		return errors.Wrapf(models.ErrDuplicateSlug, "slug %q", c.Slug)
	}
	if isInvalidText(err) {
		return errors.Wrapf(models.ErrCategoryNotFound, "category %s", c.ID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to update category %s", c.ID)
	}
	return expectOne(res, models.ErrCategoryNotFound, c.ID)
}

func (s *PostgresStore) DeleteCategory(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, deleteCategorySQL, id)
	if isInvalidText(err) {
		return errors.Wrapf(models.ErrCategoryNotFound, "category %s", id)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to delete category %s", id)
	}
	return expectOne(res, models.ErrCategoryNotFound, id)
}

func (s *PostgresStore) GetCategory(ctx context.Context, id string) (models.Category, error) {
	var row categoryRow
	err := sqlx.GetContext(ctx, s.DB, &row, selectCategorySQL, id)
	if isMissing(err) {
		return models.Category{}, errors.Wrapf(models.ErrCategoryNotFound, "category %s", id)
	}
	if err != nil {
		return models.Category{}, errors.Wrapf(err, "failed to load category %s", id)
	}
	return row.toModel(), nil
}

func (s *PostgresStore) ListCategories(ctx context.Context, activeOnly bool) ([]models.Category, error) {
	query := listCategoriesSQL
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY created_at DESC`

	var rows []categoryRow
	if err := sqlx.SelectContext(ctx, s.DB, &rows, query); err != nil {
		return nil, errors.Wrap(err, "failed to list categories")
	}
	out := make([]models.Category, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

func expectOne(res sql.Result, notFound error, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.Wrapf(notFound, "id %s", id)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isInvalidText(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == invalidText
}

// isMissing reports a lookup that matched no row, including ids the UUID
// columns could never hold.
func isMissing(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || isInvalidText(err)
}
