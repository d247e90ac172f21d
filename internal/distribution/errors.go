package distribution

import (
	"errors"
	"fmt"
)

// Authority status codes
const (
	StatusNoDocuments    = "137"
	StatusDocumentsFound = "138"
)

// ProtocolError is an authority answer other than "documents found" or
// "no new documents"
type ProtocolError struct {
	Code   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("distribution service rejected request: %s %s", e.Code, e.Reason)
}

// TransportError covers everything that prevented a usable answer: network
// failures, TLS rejections, non-SOAP responses and malformed envelopes
type TransportError struct {
	Op         string
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("distribution %s: http %d: %v", e.Op, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("distribution %s: %v", e.Op, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsProtocolError reports whether err carries an authority status code
func IsProtocolError(err error) bool {
	var protoErr *ProtocolError
	return errors.As(err, &protoErr)
}
