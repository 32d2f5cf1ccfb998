package checkout

import (
	"errors"
	"fmt"
	"strings"
)

// The two failure kinds the service reports to its callers. Concrete errors
// carry details and match these with errors.Is.
var (
	ErrOutOfStock = errors.New("out of stock")
	ErrNotFound   = errors.New("not found")

	// ErrInvalidCart is an upstream contract violation: non-positive
	// quantities or a sku listed twice.
	ErrInvalidCart = errors.New("invalid cart")
)

// OutOfStockError lists every sku whose demand could not be satisfied.
type OutOfStockError struct {
	SKUs []string
	Err  error
}

func (e *OutOfStockError) Error() string {
	msg := "out of stock: " + strings.Join(e.SKUs, ", ")
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *OutOfStockError) Is(target error) bool { return target == ErrOutOfStock }

func (e *OutOfStockError) Unwrap() error { return e.Err }

// NotFoundError names the missing entity, e.g. What="sku", Key="SKU-1".
type NotFoundError struct {
	What string
	Key  string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.What, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

func (e *NotFoundError) Unwrap() error { return e.Err }
