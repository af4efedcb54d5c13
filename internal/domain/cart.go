package domain

// Money is an amount in whole Kenyan shillings. M-Pesa only moves whole
// shillings, so KES 1 is the smallest stable unit the system charges and
// totals never touch floating point.
type Money int64

// Vendor identifies the stall/restaurant a cart belongs to. Name is a
// display snapshot, denormalized so the UI never has to re-resolve it.
type Vendor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MenuItem is one orderable item from a vendor's menu.
type MenuItem struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	UnitPrice Money  `json:"price"`
}

// CartLine is one item with its quantity. Owned exclusively by a Cart.
type CartLine struct {
	ItemID    string `json:"id"`
	Name      string `json:"name"`
	UnitPrice Money  `json:"price"`
	Qty       int    `json:"qty"`
}

// Cart is the single pending order under construction.
//
// Invariants:
//   - items non-empty <=> VendorID present
//   - every line references the owning vendor's menu (no mixing)
//   - Total == sum(UnitPrice*Qty) over Items; Total is a cache, Items are
//     the source of truth
type Cart struct {
	VendorID   string     `json:"vendorId"`
	VendorName string     `json:"vendorName"`
	Items      []CartLine `json:"items"`
	Total      Money      `json:"total"`
}

// EmptyCart returns the zero-value cart in its canonical form.
func EmptyCart() Cart {
	return Cart{Items: []CartLine{}}
}

// IsEmpty reports whether the cart holds no items.
func (c Cart) IsEmpty() bool { return len(c.Items) == 0 }

// ItemCount returns the total unit count across all lines.
func (c Cart) ItemCount() int {
	n := 0
	for _, ln := range c.Items {
		n += ln.Qty
	}
	return n
}

// LineIndex returns the index of the line holding itemID, or -1.
func (c Cart) LineIndex(itemID string) int {
	for i, ln := range c.Items {
		if ln.ItemID == itemID {
			return i
		}
	}
	return -1
}

// ComputeTotal recomputes the monetary total from the lines.
func (c Cart) ComputeTotal() Money {
	var total Money
	for _, ln := range c.Items {
		total += ln.UnitPrice * Money(ln.Qty)
	}
	return total
}

// Clone returns a deep copy so callers can hold a snapshot without
// aliasing the store's line slice.
func (c Cart) Clone() Cart {
	out := c
	out.Items = make([]CartLine, len(c.Items))
	copy(out.Items, c.Items)
	return out
}

// Validate checks the cart invariants. A cart loaded from persistence is
// discarded when this fails.
func (c Cart) Validate() error {
	if c.IsEmpty() != (c.VendorID == "") {
		return ErrCartCorrupt
	}
	for _, ln := range c.Items {
		if ln.ItemID == "" || ln.UnitPrice < 0 || ln.Qty <= 0 {
			return ErrCartCorrupt
		}
	}
	if c.Total != c.ComputeTotal() {
		return ErrCartCorrupt
	}
	return nil
}
