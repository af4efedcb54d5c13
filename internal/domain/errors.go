package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidItem rejects items with an empty ID or a negative price.
	ErrInvalidItem = errors.New("invalid item")
	// ErrInvalidQuantity rejects operations that would set a negative quantity.
	ErrInvalidQuantity = errors.New("invalid quantity")
	// ErrCartCorrupt marks a persisted cart that violates its invariants.
	ErrCartCorrupt = errors.New("cart state corrupt")
	// ErrCartEmpty rejects checkout of an empty cart.
	ErrCartEmpty = errors.New("cart is empty")
	// ErrInvalidPhone rejects phone numbers the payment processor cannot dial.
	ErrInvalidPhone = errors.New("invalid phone number")
)

// VendorConflictError is the expected, recoverable outcome of adding an item
// from a second vendor. It is a decision point for the caller, not a failure:
// the caller either aborts or calls ReplaceCart with the requested vendor.
type VendorConflictError struct {
	Current   Vendor
	Requested Vendor
}

func (e *VendorConflictError) Error() string {
	return fmt.Sprintf("cart belongs to vendor %q, cannot add items from %q",
		e.Current.Name, e.Requested.Name)
}

// IsVendorConflict extracts the conflict detail from an error chain.
func IsVendorConflict(err error) (*VendorConflictError, bool) {
	var vc *VendorConflictError
	if errors.As(err, &vc) {
		return vc, true
	}
	return nil, false
}
