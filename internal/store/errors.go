package store

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

var (
	ErrDuplicateInvoice = errors.New("invoice with this access key already exists")
	ErrVendorNotFound   = errors.New("vendor not found")
	ErrBillNotFound     = errors.New("bill not found")
	ErrCursorConflict   = errors.New("cursor changed concurrently")
)

// IsDuplicateKeyErr reports whether err is a unique constraint violation
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	// PostgreSQL (23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// SQLite (2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}
