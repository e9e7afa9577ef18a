package services

import (
	"errors"
	"fmt"
)

var (
	// ErrOrderInvalidInput signals a malformed request.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderReferenceNotFound indicates a referenced activity, room, kiosk, product or option is missing.
	ErrOrderReferenceNotFound = errors.New("order: referenced entity not found")
	// ErrOrderRuleViolation indicates a well-formed request that breaks an ordering rule.
	ErrOrderRuleViolation = errors.New("order: business rule violation")
	// ErrOrderNotImplemented indicates a checkout method that is not supported yet.
	ErrOrderNotImplemented = errors.New("order: checkout method not implemented")
	// ErrOrderPaymentFailed indicates the payment gateway or reader data could not complete the request.
	ErrOrderPaymentFailed = errors.New("order: payment processing failed")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the caller does not own the order.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidState indicates the order or its payment is not in a state allowing the operation.
	ErrOrderInvalidState = errors.New("order: invalid state")
	// ErrOrderConflict indicates concurrent modification or duplicate ids.
	ErrOrderConflict = errors.New("order: conflict")
)

// Cancellation preconditions, checked in this order.
var (
	ErrCancelKioskWithoutReader = fmt.Errorf("%w: kiosk has no reader assigned", ErrOrderRuleViolation)
	ErrCancelInvalidOrderID     = fmt.Errorf("%w: order id is malformed", ErrOrderInvalidInput)
	ErrCancelMissingPayment     = fmt.Errorf("%w: order has no payment details", ErrOrderRuleViolation)
	ErrCancelNotTerminalPayment = fmt.Errorf("%w: order was not paid on a terminal", ErrOrderRuleViolation)
	ErrCancelNotOwner           = fmt.Errorf("%w: order belongs to another kiosk", ErrOrderForbidden)
	ErrCancelPaymentNotPending  = fmt.Errorf("%w: payment is no longer pending", ErrOrderInvalidState)
)
