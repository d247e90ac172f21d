package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline
var (
	ErrNotConfigured     = errors.New("no active integration profile")
	ErrBadCredential     = errors.New("credential unavailable")
	ErrRunInProgress     = errors.New("ingestion run already in progress")
	ErrInvoiceNotFound   = errors.New("invoice not found")
	ErrAlreadyProcessed  = errors.New("invoice already processed")
	ErrInvalidTransition = errors.New("invalid invoice status transition")
	ErrIncompleteInvoice = errors.New("invoice is missing data required for a bill")
	ErrNotInvoice        = errors.New("document is not an invoice")
	ErrUnparseable       = errors.New("document is unparseable")
)

// ParseError represents parsing errors with strategy context
type ParseError struct {
	Strategy string
	Field    string
	Message  string
	Cause    error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Strategy, e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Strategy, e.Field, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// NewParseError creates a new parse error
func NewParseError(strategy, field, message string, cause error) *ParseError {
	return &ParseError{
		Strategy: strategy,
		Field:    field,
		Message:  message,
		Cause:    cause,
	}
}

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	}
}

// ConfigError reports a run that could not start because of its profile or credential
type ConfigError struct {
	TaxpayerID string
	Reason     string
	Cause      error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("taxpayer %s: %s (%v)", e.TaxpayerID, e.Reason, e.Cause)
	}
	return fmt.Sprintf("taxpayer %s: %s", e.TaxpayerID, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error
func NewConfigError(taxpayerID, reason string, cause error) *ConfigError {
	return &ConfigError{
		TaxpayerID: taxpayerID,
		Reason:     reason,
		Cause:      cause,
	}
}

// ProcessingError reports a rejected invoice action
type ProcessingError struct {
	InvoiceID int64
	Action    string
	Message   string
	Cause     error
}

func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s invoice %d: %s (%v)", e.Action, e.InvoiceID, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s invoice %d: %s", e.Action, e.InvoiceID, e.Message)
}

func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// NewProcessingError creates a new processing error
func NewProcessingError(invoiceID int64, action, message string, cause error) *ProcessingError {
	return &ProcessingError{
		InvoiceID: invoiceID,
		Action:    action,
		Message:   message,
		Cause:     cause,
	}
}
