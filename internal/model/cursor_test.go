package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCursor(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "0"},
		{"0", "0"},
		{"000000000000000", "0"},
		{"000000000000120", "120"},
		{" 42 ", "42"},
		{"1000", "1000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCursor(tt.in), tt.in)
	}
}

func TestCompareCursor(t *testing.T) {
	assert.Equal(t, 0, CompareCursor("120", "000000000000120"))
	assert.Equal(t, -1, CompareCursor("99", "100"))
	assert.Equal(t, 1, CompareCursor("100", "99"))
	assert.Equal(t, -1, CompareCursor("0", "1"))
	assert.Equal(t, 1, CompareCursor("99999999999999999999", "9999999999999999999"))
	assert.Equal(t, -1, CompareCursor("121", "130"))
}

func TestValidCursor(t *testing.T) {
	assert.True(t, ValidCursor("0"))
	assert.True(t, ValidCursor("000000000000120"))
	assert.False(t, ValidCursor(""))
	assert.False(t, ValidCursor("12a"))
	assert.False(t, ValidCursor("-1"))
}
