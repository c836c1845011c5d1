package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestValidAmount(t *testing.T) {
	tests := []struct {
		amount string
		valid  bool
	}{
		{"0.01", true},
		{"12.50", true},
		{"12.500", true},
		{"9999999999999.99", true},
		{"0", false},
		{"-1", false},
		{"0.005", false},
		{"0.001", false},
		{"10000000000000", false},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.valid, ValidAmount(decimal.RequireFromString(tt.amount)))
		})
	}
}
