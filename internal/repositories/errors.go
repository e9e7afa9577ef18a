package repositories

import (
	"fmt"
	"strings"
)

// ReferenceKind names the collection a dangling reference points to.
type ReferenceKind string

const (
	ReferenceActivity ReferenceKind = "activity"
	ReferenceRoom     ReferenceKind = "room"
	ReferenceKiosk    ReferenceKind = "kiosk"
	ReferenceProduct  ReferenceKind = "product"
	ReferenceOption   ReferenceKind = "option"
)

// ReferenceError reports entities that an order refers to but that do not exist at write time.
type ReferenceError struct {
	Op      string
	Missing map[ReferenceKind][]string
}

// Error implements the error interface.
func (e *ReferenceError) Error() string {
	if e == nil {
		return ""
	}
	parts := make([]string, 0, len(e.Missing))
	for _, kind := range []ReferenceKind{ReferenceActivity, ReferenceRoom, ReferenceKiosk, ReferenceProduct, ReferenceOption} {
		ids := e.Missing[kind]
		if len(ids) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s [%s]", kind, strings.Join(ids, ", ")))
	}
	msg := "referenced entities not found: " + strings.Join(parts, "; ")
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Add records a missing id.
func (e *ReferenceError) Add(kind ReferenceKind, id string) {
	if e.Missing == nil {
		e.Missing = make(map[ReferenceKind][]string)
	}
	e.Missing[kind] = append(e.Missing[kind], id)
}

// Empty reports whether no missing reference was recorded.
func (e *ReferenceError) Empty() bool {
	return e == nil || len(e.Missing) == 0
}

// OrderErrorCode enumerates repository error causes for order operations.
type OrderErrorCode string

const (
	// OrderErrorNotFound indicates no order matched.
	OrderErrorNotFound OrderErrorCode = "order_not_found"
	// OrderErrorAlreadyExists indicates an order id collision.
	OrderErrorAlreadyExists OrderErrorCode = "order_already_exists"
	// OrderErrorCorrupt indicates a stored document could not be decoded.
	OrderErrorCorrupt OrderErrorCode = "order_corrupt"
)

// OrderError wraps order persistence failures with machine readable codes.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *OrderError) IsNotFound() bool    { return e != nil && e.Code == OrderErrorNotFound }
func (e *OrderError) IsConflict() bool    { return e != nil && e.Code == OrderErrorAlreadyExists }
func (e *OrderError) IsUnavailable() bool { return false }

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{Code: code, Message: message, Err: err}
}
