package models

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidQuantity     = errors.New("quantity must be a positive integer")
	ErrItemNotFound        = errors.New("item not in cart")
	ErrEmptyCart           = errors.New("cart is empty")
	ErrOrderNotFound       = errors.New("order not found")
	ErrPaymentNotCompleted = errors.New("payment not completed")
	ErrPaymentProvider     = errors.New("payment provider unavailable")
	ErrPaymentNotPending   = errors.New("payment is not pending")
	ErrInvalidTransition   = errors.New("invalid order status transition")
	ErrProductNotFound     = errors.New("product not found")
	ErrCategoryNotFound    = errors.New("category not found")
	ErrDuplicateSlug       = errors.New("category with this slug already exists")
	ErrInsufficientStock   = errors.New("insufficient stock")
)

// ValidationError reports a malformed field of a request.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}
