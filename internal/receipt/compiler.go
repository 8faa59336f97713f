package receipt

import (
	"fmt"
	"time"

	"github.com/thereceipt/bleprint/internal/escpos"
	"github.com/thereceipt/bleprint/pkg/receiptformat"
)

const defaultThankYou = "Thank you for your purchase!"

// Options configures a Compiler. They mirror the persisted printer settings.
type Options struct {
	PaperWidth        int
	TextEncoding      string
	CurrencySymbol    string
	CashDrawerEnabled bool
	ThankYou          string
	// Now supplies the print time when a descriptor carries none.
	Now func() time.Time
}

// Compiler turns receipt descriptors into command sequences.
type Compiler struct {
	opts       Options
	lineLength int
}

// NewCompiler validates opts and derives the line length.
func NewCompiler(opts Options) (*Compiler, error) {
	n, err := LineLength(opts.PaperWidth)
	if err != nil {
		return nil, err
	}
	if opts.ThankYou == "" {
		opts.ThankYou = defaultThankYou
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Compiler{opts: opts, lineLength: n}, nil
}

// LineLength returns the characters per line for the configured paper.
func (c *Compiler) LineLength() int {
	return c.lineLength
}

// program accumulates commands.
type program []escpos.Command

func (p *program) add(cmds ...escpos.Command) {
	*p = append(*p, cmds...)
}

func (p *program) text(s string) {
	p.add(escpos.Text(s))
}

// Compile builds the command sequence for one receipt.
func (c *Compiler) Compile(r *receiptformat.Receipt) ([]escpos.Command, error) {
	if err := receiptformat.Validate(r); err != nil {
		return nil, fmt.Errorf("invalid receipt: %w", err)
	}

	printedAt := r.Timestamp()
	if printedAt.IsZero() {
		printedAt = c.opts.Now()
	}

	var p program
	c.header(&p, &r.Store)
	c.metadata(&p, r, printedAt)
	c.items(&p, r.Transaction.Items)
	c.totals(&p, &r.Transaction)
	c.payment(&p, &r.Transaction)
	c.footer(&p, &r.Transaction, printedAt)

	if c.opts.CashDrawerEnabled && r.Transaction.IsCash() {
		p.add(escpos.DrawerKick())
	}
	return p, nil
}

func (c *Compiler) header(p *program, s *receiptformat.Store) {
	p.add(
		escpos.Align(escpos.AlignCenter),
		escpos.Bold(true),
		escpos.SetSize(escpos.SizeWide),
	)
	p.text(line(s.Name))
	p.add(escpos.SetSize(escpos.SizeNormal), escpos.Bold(false))
	if s.Address != "" {
		p.text(line(s.Address))
	}
	if s.Phone != "" {
		p.text(line(s.Phone))
	}
	p.add(escpos.Align(escpos.AlignLeft))
	p.text(Separator('-', c.lineLength))
}

func (c *Compiler) metadata(p *program, r *receiptformat.Receipt, at time.Time) {
	number := r.Transaction.Number
	if number == "" {
		number = r.Transaction.ID
	}
	p.text(line("Receipt #: " + number))
	p.text(line("Date: " + at.Format("2006-01-02")))
	p.text(line("Time: " + at.Format("15:04:05")))
	if r.Cashier != "" {
		p.text(line("Cashier: " + r.Cashier))
	}
	p.text(Separator('-', c.lineLength))
}

func (c *Compiler) items(p *program, items []receiptformat.LineItem) {
	for _, item := range items {
		p.text(line(truncate(item.Name, c.lineLength)))
		p.text(line(fmt.Sprintf("  %d x %s = %s", item.Quantity, c.money(item.UnitPrice), c.money(item.Total))))
		if item.Discount > 0 {
			p.text(FormatLineWithTotal("  Discount", "-"+c.money(item.Discount), c.lineLength))
		}
	}
	p.text(Separator('-', c.lineLength))
}

func (c *Compiler) totals(p *program, t *receiptformat.Transaction) {
	p.text(FormatLineWithTotal("Subtotal", c.money(t.Subtotal), c.lineLength))
	if t.Discount > 0 {
		p.text(FormatLineWithTotal("Discount", "-"+c.money(t.Discount), c.lineLength))
	}
	if t.Tax > 0 {
		p.text(FormatLineWithTotal("Tax", c.money(t.Tax), c.lineLength))
	}
	p.text(Separator('=', c.lineLength))
	p.add(escpos.Bold(true), escpos.SetSize(escpos.SizeWide))
	p.text(FormatLineWithTotal("TOTAL", c.money(t.Total), c.lineLength))
	p.add(escpos.SetSize(escpos.SizeNormal), escpos.Bold(false))
}

func (c *Compiler) payment(p *program, t *receiptformat.Transaction) {
	label := "Payment"
	if t.PaymentMethod != "" {
		label = fmt.Sprintf("Payment (%s)", t.PaymentMethod)
	}
	p.text(FormatLineWithTotal(label, c.money(t.Payment), c.lineLength))
	if t.Change > 0 {
		p.text(FormatLineWithTotal("Change", c.money(t.Change), c.lineLength))
	}
	p.text(Separator('-', c.lineLength))
}

func (c *Compiler) footer(p *program, t *receiptformat.Transaction, at time.Time) {
	p.add(escpos.Align(escpos.AlignCenter))
	p.text(line(c.opts.ThankYou))
	p.text(line("Transaction: " + t.ID))
	p.text(line(at.Format(time.RFC3339)))
	p.add(escpos.Align(escpos.AlignLeft))
	p.add(escpos.Feed(1), escpos.Feed(1))
}

func (c *Compiler) money(m receiptformat.Money) string {
	return c.opts.CurrencySymbol + m.String()
}
