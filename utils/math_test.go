package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdjustPriceToTickSize(t *testing.T) {
	tests := []struct {
		price, tick, want float64
	}{
		{2000.3, 0.01, 2000.3},
		{2000.123, 0.01, 2000.12},
		{2000.126, 0.01, 2000.13},
		{1999.97, 0.1, 2000.0},
		{2000.3, 0, 2000.3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AdjustPriceToTickSize(tt.price, tt.tick), "price %v tick %v", tt.price, tt.tick)
	}
}

func TestFormatPrice(t *testing.T) {
	assert.Equal(t, "2000.30", FormatPrice(2000.3, 0.01))
	assert.Equal(t, "2000.1", FormatPrice(2000.149, 0.1))
	assert.Equal(t, "2001", FormatPrice(2000.6, 1))
	assert.Equal(t, "2000.3", FormatPrice(2000.3, 0))
}

func TestFormatQuantity(t *testing.T) {
	assert.Equal(t, "0.01", FormatQuantity(0.01))
	assert.Equal(t, "1", FormatQuantity(1.0))
}

func TestFloatEquals(t *testing.T) {
	assert.True(t, FloatEquals(0.1+0.2, 0.3))
	assert.False(t, FloatEquals(0.3, 0.31))
}
