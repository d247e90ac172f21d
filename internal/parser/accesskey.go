package parser

import (
	"fmt"
	"strings"
	"time"
)

// AccessKeyLength is the number of digits in an access key
const AccessKeyLength = 44

// ValidAccessKey reports whether key has the fixed access key format
func ValidAccessKey(key string) bool {
	if len(key) != AccessKeyLength {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return true
}

// NumberFromAccessKey returns the invoice number embedded in an access key
// (digits 26 to 34), without leading zeros
func NumberFromAccessKey(key string) string {
	if !ValidAccessKey(key) {
		return ""
	}
	n := strings.TrimLeft(key[25:34], "0")
	if n == "" {
		return "0"
	}
	return n
}

// IssuerFromAccessKey returns the issuer tax id embedded in an access key
// (digits 7 to 20)
func IssuerFromAccessKey(key string) string {
	if !ValidAccessKey(key) {
		return ""
	}
	return key[6:20]
}

// ParseIssueDate parses the issue timestamp. The current layout carries an
// explicit offset (dhEmi); older documents only have a date (dEmi).
func ParseIssueDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("cannot parse date: %q", s)
}
