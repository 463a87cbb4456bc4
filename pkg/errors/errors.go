// Package errors provides the structured error value returned across the
// wallet boundary. It defines sentinel errors, exit codes, and helpers for
// adding context and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes used by the CLI.
const (
	ExitSuccess    = 0 // Successful execution
	ExitGeneral    = 1 // General/unknown error
	ExitInput      = 2 // Invalid input
	ExitAuth       = 3 // Authentication or cryptographic verification failed
	ExitNotFound   = 4 // Resource not found
	ExitPermission = 5 // Permission denied or insufficient funds
)

// Category groups error codes by how a caller should react to them.
type Category string

// Error categories.
const (
	CategoryValidation Category = "validation"
	CategoryNotFound   Category = "not_found"
	CategoryCrypto     Category = "crypto"
	CategoryResource   Category = "resource"
	CategoryExternal   Category = "external"
	CategoryInternal   Category = "internal"
)

// WalletError is the uniform failure value returned by the wallet.
type WalletError struct {
	Code        string            `json:"code"`                 // Machine-readable error code
	Description string            `json:"description"`          // Human-readable description
	Context     map[string]string `json:"context,omitempty"`    // Additional context
	Suggestion  string            `json:"suggestion,omitempty"` // Actionable suggestion for the caller
	Category    Category          `json:"-"`
	Cause       error             `json:"-"` // Underlying error
	ExitCode    int               `json:"-"` // Exit code for CLI
}

func (e *WalletError) Error() string {
	msg := e.Description

	// Include context in the message (sorted for deterministic output)
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Context[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *WalletError) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for WalletError. Two wallet errors match when
// their codes match.
func (e *WalletError) Is(target error) bool {
	var t *WalletError
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrInternal = &WalletError{
		Code:        "INTERNAL_ERROR",
		Description: "internal wallet error",
		Category:    CategoryInternal,
		ExitCode:    ExitGeneral,
	}

	ErrInvalidInput = &WalletError{
		Code:        "INVALID_INPUT",
		Description: "invalid input",
		Category:    CategoryValidation,
		ExitCode:    ExitInput,
	}

	ErrInvalidBasketName = &WalletError{
		Code:        "INVALID_BASKET_NAME",
		Description: "invalid basket name",
		Category:    CategoryValidation,
		ExitCode:    ExitInput,
	}

	ErrInvalidDescription = &WalletError{
		Code:        "INVALID_DESCRIPTION",
		Description: "description must be between 5 and 2000 bytes",
		Category:    CategoryValidation,
		ExitCode:    ExitInput,
	}

	ErrInvalidProtocol = &WalletError{
		Code:        "INVALID_PROTOCOL",
		Description: "invalid protocol or key ID",
		Category:    CategoryValidation,
		ExitCode:    ExitInput,
	}

	ErrInvalidCounterparty = &WalletError{
		Code:        "INVALID_COUNTERPARTY",
		Description: "invalid counterparty",
		Category:    CategoryValidation,
		ExitCode:    ExitInput,
	}

	ErrInvalidTransaction = &WalletError{
		Code:        "INVALID_TRANSACTION",
		Description: "invalid transaction",
		Category:    CategoryValidation,
		ExitCode:    ExitInput,
	}

	ErrTxNotFound = &WalletError{
		Code:        "TX_NOT_FOUND",
		Description: "transaction reference not found",
		Category:    CategoryNotFound,
		ExitCode:    ExitNotFound,
	}

	ErrOutputNotFound = &WalletError{
		Code:        "OUTPUT_NOT_FOUND",
		Description: "output not found in basket",
		Category:    CategoryNotFound,
		ExitCode:    ExitNotFound,
	}

	ErrCertificateNotFound = &WalletError{
		Code:        "CERTIFICATE_NOT_FOUND",
		Description: "certificate not found",
		Category:    CategoryNotFound,
		ExitCode:    ExitNotFound,
	}

	ErrDecryptFailed = &WalletError{
		Code:        "DECRYPT_FAILED",
		Description: "decryption failed",
		Category:    CategoryCrypto,
		ExitCode:    ExitAuth,
	}

	ErrHMACVerifyFailed = &WalletError{
		Code:        "HMAC_VERIFY_FAILED",
		Description: "HMAC verification failed",
		Category:    CategoryCrypto,
		ExitCode:    ExitAuth,
	}

	ErrSignatureVerificationFailed = &WalletError{
		Code:        "SIGNATURE_VERIFICATION_FAILED",
		Description: "signature verification failed",
		Category:    CategoryCrypto,
		ExitCode:    ExitAuth,
	}

	ErrInsufficientFunds = &WalletError{
		Code:        "INSUFFICIENT_FUNDS",
		Description: "insufficient funds in basket",
		Category:    CategoryResource,
		ExitCode:    ExitPermission,
	}

	ErrDiscoveryUnavailable = &WalletError{
		Code:        "DISCOVERY_UNAVAILABLE",
		Description: "no certificate discovery service is configured",
		Category:    CategoryExternal,
		ExitCode:    ExitGeneral,
	}

	ErrCertifierUnavailable = &WalletError{
		Code:        "CERTIFIER_UNAVAILABLE",
		Description: "certifier could not be reached",
		Category:    CategoryExternal,
		ExitCode:    ExitGeneral,
	}

	ErrNotAuthenticated = &WalletError{
		Code:        "NOT_AUTHENTICATED",
		Description: "wallet is not authenticated",
		Category:    CategoryValidation,
		ExitCode:    ExitAuth,
	}

	ErrTimeout = &WalletError{
		Code:        "TIMEOUT",
		Description: "operation timed out",
		Category:    CategoryExternal,
		ExitCode:    ExitGeneral,
	}

	ErrNetworkError = &WalletError{
		Code:        "NETWORK_ERROR",
		Description: "network communication failed",
		Category:    CategoryExternal,
		ExitCode:    ExitGeneral,
	}

	ErrNotConfigured = &WalletError{
		Code:        "NOT_CONFIGURED",
		Description: "required service is not configured",
		Category:    CategoryExternal,
		ExitCode:    ExitGeneral,
	}

	ErrConfigInvalid = &WalletError{
		Code:        "CONFIG_INVALID",
		Description: "configuration file is invalid",
		Category:    CategoryValidation,
		ExitCode:    ExitInput,
	}
)

// New creates a new WalletError with the given code and description.
func New(code, description string) *WalletError {
	return &WalletError{
		Code:        code,
		Description: description,
		Category:    CategoryInternal,
		ExitCode:    ExitGeneral,
	}
}

// Wrap wraps an error with additional context. Wallet errors keep their
// code; anything else becomes an INTERNAL_ERROR.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var we *WalletError
	if errors.As(err, &we) {
		// A wallet error at the top of the chain already carries its own
		// description, so only its cause is kept.
		cause := err
		if direct, ok := err.(*WalletError); ok { //nolint:errorlint // top of chain only
			cause = direct.Cause
		}
		return &WalletError{
			Code:        we.Code,
			Description: fmt.Sprintf("%s: %s", msg, we.Description),
			Context:     we.Context,
			Suggestion:  we.Suggestion,
			Category:    we.Category,
			Cause:       cause,
			ExitCode:    we.ExitCode,
		}
	}

	return &WalletError{
		Code:        ErrInternal.Code,
		Description: msg,
		Category:    CategoryInternal,
		Cause:       err,
		ExitCode:    ExitGeneral,
	}
}

// WithContext adds context entries to an error, merging with any context
// already present.
func WithContext(err error, context map[string]string) error {
	if err == nil {
		return nil
	}

	var we *WalletError
	if errors.As(err, &we) {
		merged := make(map[string]string, len(we.Context)+len(context))
		for k, v := range we.Context {
			merged[k] = v
		}
		for k, v := range context {
			merged[k] = v
		}
		return &WalletError{
			Code:        we.Code,
			Description: we.Description,
			Context:     merged,
			Suggestion:  we.Suggestion,
			Category:    we.Category,
			Cause:       we.Cause,
			ExitCode:    we.ExitCode,
		}
	}

	return &WalletError{
		Code:        ErrInternal.Code,
		Description: err.Error(),
		Context:     context,
		Category:    CategoryInternal,
		Cause:       err,
		ExitCode:    ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var we *WalletError
	if errors.As(err, &we) {
		return &WalletError{
			Code:        we.Code,
			Description: we.Description,
			Context:     we.Context,
			Suggestion:  suggestion,
			Category:    we.Category,
			Cause:       we.Cause,
			ExitCode:    we.ExitCode,
		}
	}

	return &WalletError{
		Code:        ErrInternal.Code,
		Description: err.Error(),
		Suggestion:  suggestion,
		Category:    CategoryInternal,
		Cause:       err,
		ExitCode:    ExitGeneral,
	}
}

// WithCause returns a copy of a sentinel error carrying the given cause.
func WithCause(sentinel *WalletError, cause error) error {
	return &WalletError{
		Code:        sentinel.Code,
		Description: sentinel.Description,
		Context:     sentinel.Context,
		Suggestion:  sentinel.Suggestion,
		Category:    sentinel.Category,
		Cause:       cause,
		ExitCode:    sentinel.ExitCode,
	}
}

// From converts any error into a *WalletError. Nil stays nil.
func From(err error) *WalletError {
	if err == nil {
		return nil
	}
	var we *WalletError
	if errors.As(err, &we) {
		return we
	}
	return &WalletError{
		Code:        ErrInternal.Code,
		Description: err.Error(),
		Category:    CategoryInternal,
		Cause:       err,
		ExitCode:    ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var we *WalletError
	if errors.As(err, &we) {
		return we.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var we *WalletError
	if errors.As(err, &we) {
		return we.Code
	}
	return ErrInternal.Code
}

// CategoryOf returns the category of an error.
func CategoryOf(err error) Category {
	var we *WalletError
	if errors.As(err, &we) && we.Category != "" {
		return we.Category
	}
	return CategoryInternal
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
