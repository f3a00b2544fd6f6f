package services

import (
	"errors"
	"fmt"
)

// Errors returned by OrderService.PlaceOrder. Every one of them aborts the
// surrounding transaction, so no rejection ever leaves a partial stock
// decrement behind. Only ErrLockTimeout is safe to retry without changing
// the request.
var (
	ErrEmptyOrder  = errors.New("order must contain at least one line item")
	ErrLockTimeout = errors.New("timed out waiting for a product lock, retry the order")
)

// MissingFieldError reports a required line-item field that was absent from
// the request.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: this field is required", e.Field)
}

// InvalidQuantityError reports a line-item quantity that is zero or negative.
type InvalidQuantityError struct {
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be a positive integer, got %d", e.Quantity)
}

// ProductNotFoundError reports a line item referencing a product that does
// not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("invalid product id %s", e.ProductID)
}

// InsufficientStockError reports a stock check that failed under the row
// lock. Available is the stock observed at lock time.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s quantity %d (available: %d)",
		e.Name, e.Requested, e.Available)
}

// IsOrderRejection reports whether err is a business-rule rejection of the
// order, as opposed to a transient or internal failure. Rejections map to
// 400-class responses; the caller must fix and resubmit the request.
func IsOrderRejection(err error) bool {
	var missing *MissingFieldError
	var quantity *InvalidQuantityError
	var notFound *ProductNotFoundError
	var stock *InsufficientStockError
	return errors.Is(err, ErrEmptyOrder) ||
		errors.As(err, &missing) ||
		errors.As(err, &quantity) ||
		errors.As(err, &notFound) ||
		errors.As(err, &stock)
}
