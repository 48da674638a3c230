package handler

import (
	"net/http"

	"storefront/model"

	"github.com/pkg/errors"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var errorStatus = []struct {
	err    error
	status int
	code   string
}{
	{models.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity"},
	{models.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
	{models.ErrInsufficientStock, http.StatusBadRequest, "insufficient_stock"},
	{models.ErrItemNotFound, http.StatusNotFound, "item_not_found"},
	{models.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{models.ErrProductNotFound, http.StatusNotFound, "product_not_found"},
	{models.ErrCategoryNotFound, http.StatusNotFound, "category_not_found"},
	{models.ErrDuplicateSlug, http.StatusConflict, "duplicate_slug"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrPaymentNotPending, http.StatusConflict, "payment_not_pending"},
	{models.ErrPaymentNotCompleted, http.StatusPaymentRequired, "payment_not_completed"},
	{models.ErrPaymentProvider, http.StatusBadGateway, "payment_provider_error"},
}

// classify maps a service error to its HTTP status and public error code.
// Unknown errors are internal and their text is not exposed.
func classify(err error) (int, errorBody) {
	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest, errorBody{Error: "validation_error", Message: verr.Error()}
	}
	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, errorBody{Error: e.code, Message: err.Error()}
		}
	}
	return http.StatusInternalServerError, errorBody{Error: "internal_error", Message: "internal server error"}
}
