package credential

import "fmt"

// Error codes for credential loading
const (
	ErrCodeUnknownRef  = "UNKNOWN_REF"
	ErrCodeNotFound    = "NOT_FOUND"
	ErrCodeUnreadable  = "UNREADABLE"
	ErrCodeDecode      = "DECODE_FAILED"
	ErrCodeNoKey       = "NO_PRIVATE_KEY"
	ErrCodeCertExpired = "CERT_EXPIRED"
	ErrCodeNotYetValid = "CERT_NOT_YET_VALID"
	ErrCodeLoadTimeout = "LOAD_TIMEOUT"
)

// CredentialError represents a certificate that cannot be used
type CredentialError struct {
	Code    string
	Ref     string
	Message string
	Cause   error
}

func (e *CredentialError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] credential %q: %s (%v)", e.Code, e.Ref, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] credential %q: %s", e.Code, e.Ref, e.Message)
}

func (e *CredentialError) Unwrap() error {
	return e.Cause
}

// NewCredentialError creates a new credential error
func NewCredentialError(code, ref, message string, cause error) *CredentialError {
	return &CredentialError{
		Code:    code,
		Ref:     ref,
		Message: message,
		Cause:   cause,
	}
}

// ErrUnknownRef returns error when no credential is registered under ref
func ErrUnknownRef(ref string) *CredentialError {
	return NewCredentialError(ErrCodeUnknownRef, ref, "no credential registered", nil)
}

// ErrCertExpired returns error when the certificate has expired
func ErrCertExpired(ref, subject string) *CredentialError {
	return NewCredentialError(ErrCodeCertExpired, ref, fmt.Sprintf("certificate expired: %s", subject), nil)
}

// ErrCertNotYetValid returns error when the certificate is not yet valid
func ErrCertNotYetValid(ref, subject string) *CredentialError {
	return NewCredentialError(ErrCodeNotYetValid, ref, fmt.Sprintf("certificate not yet valid: %s", subject), nil)
}
