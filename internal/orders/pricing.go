package orders

// PriceLine pairs a quantity with the snapshotted unit price.
type PriceLine struct {
	Quantity  int64
	UnitPrice float64
}

// Totals is the result of one pricing pass.
type Totals struct {
	Subtotal float64
	Discount float64
	Final    float64
}

// ComputeTotals is the single source of truth for order amounts. The applied
// discount is capped at the subtotal so the final amount can never go
// negative. Every item mutation must run through here before persisting.
func ComputeTotals(lines []PriceLine, discountAmount float64) Totals {
	var subtotal float64
	for _, line := range lines {
		subtotal += float64(line.Quantity) * line.UnitPrice
	}
	discount := discountAmount
	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return Totals{
		Subtotal: subtotal,
		Discount: discount,
		Final:    subtotal - discount,
	}
}

func totalsFromItems(items []OrderItem, discountAmount float64) Totals {
	lines := make([]PriceLine, len(items))
	for i, item := range items {
		lines[i] = PriceLine{Quantity: item.Quantity, UnitPrice: item.UnitPrice}
	}
	return ComputeTotals(lines, discountAmount)
}
