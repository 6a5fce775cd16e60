package orders

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestComputeTotals(t *testing.T) {
	lines := []PriceLine{
		{Quantity: 10, UnitPrice: 12.5},
		{Quantity: 4, UnitPrice: 3},
	}

	totals := ComputeTotals(lines, 20)
	require.Equal(t, 137.0, totals.Subtotal)
	require.Equal(t, 20.0, totals.Discount)
	require.Equal(t, 117.0, totals.Final)
}

func TestComputeTotalsClampsDiscountAtSubtotal(t *testing.T) {
	lines := []PriceLine{{Quantity: 2, UnitPrice: 10}}

	totals := ComputeTotals(lines, 50)
	require.Equal(t, 20.0, totals.Discount)
	require.Equal(t, 0.0, totals.Final)
}

func TestComputeTotalsIgnoresNegativeDiscount(t *testing.T) {
	lines := []PriceLine{{Quantity: 1, UnitPrice: 8}}

	totals := ComputeTotals(lines, -5)
	require.Equal(t, 0.0, totals.Discount)
	require.Equal(t, 8.0, totals.Final)
}

func TestComputeTotalsEmptyOrder(t *testing.T) {
	totals := ComputeTotals(nil, 10)
	require.Equal(t, 0.0, totals.Subtotal)
	require.Equal(t, 0.0, totals.Discount)
	require.Equal(t, 0.0, totals.Final)
}
