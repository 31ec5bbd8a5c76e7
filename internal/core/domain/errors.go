package domain

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound         = errors.New("product not found")
	ErrInvalidQuantity         = errors.New("invalid quantity")
	ErrQuantityExceedsCap      = fmt.Errorf("%w: exceeds per-line cap", ErrInvalidQuantity)
	ErrEmptyCart               = errors.New("cart is empty")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrTransientStore          = errors.New("transient store error")
	ErrNotFound                = errors.New("not found")
	ErrCartLineNotFound        = fmt.Errorf("cart line %w", ErrNotFound)
	ErrOrderNotFound           = fmt.Errorf("order %w", ErrNotFound)
	ErrInvalidSessionID        = errors.New("invalid session id")
	ErrInvalidProductID        = errors.New("invalid product id")
	ErrInvalidProduct          = errors.New("invalid product")
	ErrInvalidCustomer         = errors.New("invalid customer")
	ErrInvalidShippingAddress  = errors.New("invalid shipping address")
	ErrInvalidStatus           = errors.New("invalid status")
	ErrDuplicateCheckout       = errors.New("checkout already in progress")
)

// IsRetryable reports whether a caller may retry the request unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

// IsValidation reports whether err was raised before the store was touched.
func IsValidation(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity,
		ErrInvalidSessionID,
		ErrInvalidProductID,
		ErrInvalidProduct,
		ErrInvalidCustomer,
		ErrInvalidShippingAddress,
		ErrInvalidStatus,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
