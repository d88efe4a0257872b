// Package services holds the gatepass business rules: the device registry state
// machine, QR code issuance, the gate validation engine, entry statistics, and
// account management. Handlers translate RuleError kinds into HTTP statuses.
package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rule violation
type ErrorKind string

const (
	KindNotFound     ErrorKind = "not_found"
	KindForbidden    ErrorKind = "forbidden"
	KindPrecondition ErrorKind = "precondition"
	KindConflict     ErrorKind = "conflict"
	KindValidation   ErrorKind = "validation"
	KindUnauthorized ErrorKind = "unauthorized"
)

// RuleError is returned when a request breaks a business rule. Nothing has been
// mutated when a RuleError is returned.
type RuleError struct {
	Kind    ErrorKind
	Message string
	Field   string // set for field-level validation errors
}

func (e *RuleError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// AsRuleError unwraps err into a RuleError when it is one
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

func notFound(msg string) error     { return &RuleError{Kind: KindNotFound, Message: msg} }
func forbidden(msg string) error    { return &RuleError{Kind: KindForbidden, Message: msg} }
func precondition(msg string) error { return &RuleError{Kind: KindPrecondition, Message: msg} }
func conflict(msg string) error     { return &RuleError{Kind: KindConflict, Message: msg} }

func invalidField(field, msg string) error {
	return &RuleError{Kind: KindValidation, Field: field, Message: msg}
}
