package store

import (
	"context"

	"storefront/model"

	"github.com/pkg/errors"
)

const updateStockSQL = `UPDATE products SET stock = $2, updated_at = now() WHERE id = $1`

// UpdateStock sets the absolute stock for a product (admin operation).
func (s *PostgresStore) UpdateStock(ctx context.Context, productID string, newStock int) error {
	if newStock < 0 {
		return models.NewValidationError("stock", "cannot be negative")
	}
	res, err := s.DB.ExecContext(ctx, updateStockSQL, productID, newStock)
	if isInvalidText(err) {
		return errors.Wrapf(models.ErrProductNotFound, "product %s", productID)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to update stock of %s", productID)
	}
	return expectOne(res, models.ErrProductNotFound, productID)
}
