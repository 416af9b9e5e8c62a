package domain

import (
	"errors"
	"fmt"
)

// Domain errors, grouped by kind. Consumers route on the kind:
// validation, not-found and business-rule errors are never retried;
// conflict errors are retried locally; transient errors are retried
// with backoff before dead-lettering.
var (
	// Validation errors
	ErrInvalidID        = errors.New("invalid identifier")
	ErrInvalidMoney     = errors.New("invalid money value")
	ErrNegativeQuantity = errors.New("quantity cannot be negative")
	ErrQuantityOverflow = errors.New("quantity overflow")
	ErrNoItems          = errors.New("order must contain at least one item")
	ErrTooManyItems     = errors.New("order exceeds the maximum item count")
	ErrDuplicateLine    = errors.New("duplicate product line in order")
	ErrCurrencyMismatch = errors.New("currency mismatch")
	ErrNegativePrice    = errors.New("unit price cannot be negative")
	ErrZeroQuantityLine = errors.New("line quantity must be at least one")

	// Not-found errors
	ErrProductNotFound     = errors.New("product not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// Conflict errors
	ErrConcurrencyConflict = errors.New("concurrent modification detected")
	ErrLockTimeout         = errors.New("lock acquisition timed out")
	ErrPotentialDeadlock   = errors.New("potential deadlock detected")
	ErrCacheVersionRace    = errors.New("cache version race")

	// Business-rule errors
	ErrProductInactive     = errors.New("product is inactive")
	ErrReservationInvalid  = errors.New("reservation is not in a valid state for this operation")
	ErrAlreadyConfirmed    = errors.New("reservation already confirmed")
	ErrDuplicateOrder      = errors.New("duplicate order detected")
	ErrCancellationExpired = errors.New("cancellation window has expired")
	ErrStockInvariant      = errors.New("stock invariant violated")
	ErrPaymentDeclined     = errors.New("payment declined")

	// Fatal errors
	ErrUnknownEventType   = errors.New("unknown event type")
	ErrUnknownEventSchema = errors.New("unsupported event schema version")
)

// InsufficientStockError reports a reserve that exceeds availability
type InsufficientStockError struct {
	ProductID ProductID
	Requested Quantity
	Available Quantity
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %s, available %s",
		e.ProductID, e.Requested, e.Available)
}

// ErrInsufficientStock is the sentinel all InsufficientStockError values match
var ErrInsufficientStock = errors.New("insufficient stock")

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidTransitionError reports an illegal order state transition
type InvalidTransitionError struct {
	From   OrderStatus
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s is not allowed from %s", e.Action, e.From)
}

// ErrInvalidTransition is the sentinel all InvalidTransitionError values match
var ErrInvalidTransition = errors.New("invalid transition")

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// IsValidationError reports whether err is a validation failure
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidMoney) ||
		errors.Is(err, ErrNegativeQuantity) ||
		errors.Is(err, ErrQuantityOverflow) ||
		errors.Is(err, ErrNoItems) ||
		errors.Is(err, ErrTooManyItems) ||
		errors.Is(err, ErrDuplicateLine) ||
		errors.Is(err, ErrCurrencyMismatch) ||
		errors.Is(err, ErrNegativePrice) ||
		errors.Is(err, ErrZeroQuantityLine)
}

// IsNotFoundError reports whether err is a missing-aggregate failure
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}

// IsConflictError reports whether err is retryable contention
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrLockTimeout) ||
		errors.Is(err, ErrPotentialDeadlock) ||
		errors.Is(err, ErrCacheVersionRace)
}

// IsBusinessRuleError reports whether err is a business-rule violation.
// Consumers dead-letter these without retrying.
func IsBusinessRuleError(err error) bool {
	return errors.Is(err, ErrProductInactive) ||
		errors.Is(err, ErrReservationInvalid) ||
		errors.Is(err, ErrAlreadyConfirmed) ||
		errors.Is(err, ErrDuplicateOrder) ||
		errors.Is(err, ErrCancellationExpired) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrPaymentDeclined) ||
		errors.Is(err, ErrStockInvariant)
}

// IsFatalError reports whether err indicates corruption or schema drift
func IsFatalError(err error) bool {
	return errors.Is(err, ErrUnknownEventType) ||
		errors.Is(err, ErrUnknownEventSchema)
}

// IsRetryable reports whether a consumer should retry the handler
// before dead-lettering. Anything that is not a validation, not-found,
// business-rule or fatal error is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsValidationError(err) &&
		!IsNotFoundError(err) &&
		!IsBusinessRuleError(err) &&
		!IsFatalError(err)
}
