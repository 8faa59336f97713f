package receiptformat

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validReceipt() *Receipt {
	return &Receipt{
		Version: "1.0",
		Store:   Store{Name: "Corner Shop"},
		Transaction: Transaction{
			ID: "tx-1",
			Items: []LineItem{
				{Name: "Coffee", Quantity: 2, UnitPrice: Cents(2, 50), Total: Cents(5, 0)},
			},
			Subtotal: Cents(5, 0),
			Total:    Cents(5, 0),
			Payment:  Cents(5, 0),
		},
	}
}

func TestValidate_ValidReceipt(t *testing.T) {
	assert.NoError(t, Validate(validReceipt()))
}

func TestValidate_InvalidVersion(t *testing.T) {
	r := validReceipt()
	r.Version = "2.0"
	assert.Error(t, Validate(r))
}

func TestValidate_MissingStoreName(t *testing.T) {
	r := validReceipt()
	r.Store.Name = "  "
	assert.Error(t, Validate(r))
}

func TestValidate_NoItems(t *testing.T) {
	r := validReceipt()
	r.Transaction.Items = nil
	assert.Error(t, Validate(r))
}

func TestValidate_BadItemQuantity(t *testing.T) {
	r := validReceipt()
	r.Transaction.Items[0].Quantity = 0
	err := Validate(r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item[0]")
}

func TestValidate_NegativeAmount(t *testing.T) {
	r := validReceipt()
	r.Transaction.Change = -1
	assert.Error(t, Validate(r))
}

func TestValidate_TotalAsSupplied(t *testing.T) {
	r := validReceipt()
	r.Transaction.Subtotal = Cents(100, 0)
	r.Transaction.Discount = Cents(10, 0)
	r.Transaction.Tax = Cents(5, 0)
	r.Transaction.Total = Cents(100, 0)
	assert.NoError(t, Validate(r), "an already recorded sale is printed even when its parts disagree")
}

func TestParse_UnroundedAmounts(t *testing.T) {
	r, err := Parse([]byte(`{
		"store": {"name": "Shop"},
		"transaction": {
			"id": "t1",
			"items": [{"name": "Gum", "quantity": 1, "unit_price": 0.125, "total": 0.125}],
			"subtotal": 0.125, "tax": 0.125, "total": 0.25
		}
	}`))
	require.NoError(t, err)
	assert.Equal(t, Money(25), r.Transaction.Total)

	want, drift := r.Transaction.TotalDrift()
	assert.Equal(t, Money(26), want)
	assert.False(t, drift, "one cent of rounding is tolerated")
}

func TestTotalDrift(t *testing.T) {
	tests := []struct {
		name  string
		total Money
		drift bool
	}{
		{"exact", Cents(95, 0), false},
		{"one cent over", Cents(95, 1), false},
		{"one cent under", Cents(94, 99), false},
		{"two cents", Cents(95, 2), true},
		{"wrong total", Cents(100, 0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := Transaction{Subtotal: Cents(100, 0), Discount: Cents(10, 0), Tax: Cents(5, 0), Total: tt.total}
			want, drift := tx.TotalDrift()
			assert.Equal(t, Cents(95, 0), want)
			assert.Equal(t, tt.drift, drift)
		})
	}
}

func TestMoney_String(t *testing.T) {
	tests := map[Money]string{
		0:            "0.00",
		5:            "0.05",
		Cents(12, 5): "12.05",
		-199:         "-1.99",
		123456:       "1234.56",
	}
	for m, want := range tests {
		assert.Equal(t, want, m.String())
	}
}

func TestMoney_UnmarshalJSON(t *testing.T) {
	var v struct {
		A Money `json:"a"`
		B Money `json:"b"`
		C Money `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a": 12.5, "b": "3.99", "c": null}`), &v))
	assert.Equal(t, Money(1250), v.A)
	assert.Equal(t, Money(399), v.B)
	assert.Equal(t, Money(0), v.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a": "abc"}`), &v))
}

func TestMoney_FloatRounding(t *testing.T) {
	m, err := ParseMoney("0.29")
	require.NoError(t, err)
	assert.Equal(t, Money(29), m)
}

func TestParse(t *testing.T) {
	data := []byte(`{
		"store": {"name": "Corner Shop", "phone": "555-0100"},
		"cashier": "Ana",
		"transaction": {
			"id": "tx-9",
			"items": [{"name": "Tea", "quantity": 1, "unit_price": 3, "total": 3}],
			"subtotal": 3, "tax": 0.3, "total": 3.3, "payment": 5, "change": 1.7
		}
	}`)

	r, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Version, r.Version)
	assert.Equal(t, "Ana", r.Cashier)
	assert.Equal(t, Money(330), r.Transaction.Total)
	assert.Equal(t, Money(170), r.Transaction.Change)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte(`{"store": {}}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestIsCash(t *testing.T) {
	tx := Transaction{}
	assert.True(t, tx.IsCash())
	tx.PaymentMethod = "cash"
	assert.True(t, tx.IsCash())
	tx.PaymentMethod = "card"
	assert.False(t, tx.IsCash())
}
