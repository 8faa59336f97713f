package receiptformat

import (
	"fmt"
	"strings"
)

// Validate checks a receipt descriptor before it is compiled.
func Validate(r *Receipt) error {
	if r == nil {
		return fmt.Errorf("receipt is required")
	}

	if r.Version != "" && r.Version != Version {
		return fmt.Errorf("unsupported version: %s (expected %s)", r.Version, Version)
	}

	if strings.TrimSpace(r.Store.Name) == "" {
		return fmt.Errorf("store.name is required")
	}

	t := &r.Transaction
	if t.ID == "" {
		return fmt.Errorf("transaction.id is required")
	}
	if len(t.Items) == 0 {
		return fmt.Errorf("transaction must have at least one item")
	}

	for i, item := range t.Items {
		if err := validateItem(&item); err != nil {
			return fmt.Errorf("item[%d]: %w", i, err)
		}
	}

	amounts := []struct {
		name  string
		value Money
	}{
		{"subtotal", t.Subtotal},
		{"discount", t.Discount},
		{"tax", t.Tax},
		{"total", t.Total},
		{"payment", t.Payment},
		{"change", t.Change},
	}
	for _, a := range amounts {
		if a.value < 0 {
			return fmt.Errorf("transaction.%s must not be negative: %s", a.name, a.value)
		}
	}

	return nil
}

func validateItem(item *LineItem) error {
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("'name' is required")
	}
	if item.Quantity <= 0 {
		return fmt.Errorf("'%s': quantity must be positive, got %d", item.Name, item.Quantity)
	}
	if item.UnitPrice < 0 || item.Total < 0 || item.Discount < 0 {
		return fmt.Errorf("'%s': amounts must not be negative", item.Name)
	}
	return nil
}
