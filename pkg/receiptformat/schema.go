// Package receiptformat defines the receipt descriptor the sale flow hands to
// the printer: store header, cashier, and a snapshot of the transaction.
package receiptformat

import "time"

// Version is the only descriptor version understood.
const Version = "1.0"

// Receipt is one print request. It is consumed once and discarded.
type Receipt struct {
	Version     string      `json:"version,omitempty"`
	Store       Store       `json:"store"`
	Cashier     string      `json:"cashier,omitempty"`
	PrintedAt   time.Time   `json:"printed_at,omitempty"`
	Transaction Transaction `json:"transaction"`
}

// Store is the receipt header.
type Store struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

// Transaction is the recorded sale being printed.
type Transaction struct {
	ID            string     `json:"id"`
	Number        string     `json:"number,omitempty"` // human-facing receipt number
	CreatedAt     time.Time  `json:"created_at,omitempty"`
	Items         []LineItem `json:"items"`
	Subtotal      Money      `json:"subtotal"`
	Discount      Money      `json:"discount,omitempty"`
	Tax           Money      `json:"tax,omitempty"`
	Total         Money      `json:"total"`
	Payment       Money      `json:"payment"`
	Change        Money      `json:"change,omitempty"`
	PaymentMethod string     `json:"payment_method,omitempty"` // cash, card, ...
}

// LineItem is one sold product.
type LineItem struct {
	Name      string `json:"name"`
	SKU       string `json:"sku,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice Money  `json:"unit_price"`
	Total     Money  `json:"total"`
	Discount  Money  `json:"discount,omitempty"`
}

// IsCash reports whether the payment should open the cash drawer.
// An unspecified method counts as cash.
func (t *Transaction) IsCash() bool {
	return t.PaymentMethod == "" || t.PaymentMethod == "cash"
}

// TotalDrift returns subtotal - discount + tax and whether Total is more than
// one cent away from it. The printed TOTAL is always Total as supplied.
func (t *Transaction) TotalDrift() (Money, bool) {
	want := t.Subtotal - t.Discount + t.Tax
	d := t.Total - want
	return want, d > 1 || d < -1
}

// Timestamp returns when the receipt is printed, falling back to the
// transaction time.
func (r *Receipt) Timestamp() time.Time {
	if !r.PrintedAt.IsZero() {
		return r.PrintedAt
	}
	return r.Transaction.CreatedAt
}
