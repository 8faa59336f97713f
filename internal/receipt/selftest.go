package receipt

import (
	"fmt"
	"strings"
	"time"

	"github.com/thereceipt/bleprint/internal/escpos"
)

const (
	firstPrintable = 0x20
	lastPrintable  = 0x7E
)

// CompileSelfTest builds a descriptor-free test page that exercises every
// alignment, size and bold variant and the printable character range.
func (c *Compiler) CompileSelfTest() []escpos.Command {
	var p program

	p.add(escpos.Align(escpos.AlignCenter), escpos.Bold(true), escpos.SetSize(escpos.SizeDouble))
	p.text(line("SELF TEST"))
	p.add(escpos.SetSize(escpos.SizeNormal), escpos.Bold(false))
	p.text(Separator('=', c.lineLength))

	alignments := []struct {
		name  string
		align escpos.Alignment
	}{
		{"left", escpos.AlignLeft},
		{"center", escpos.AlignCenter},
		{"right", escpos.AlignRight},
	}
	for _, a := range alignments {
		p.add(escpos.Align(a.align))
		p.text(line("Align " + a.name))
	}
	p.add(escpos.Align(escpos.AlignLeft))

	sizes := []struct {
		name string
		size escpos.Size
	}{
		{"normal", escpos.SizeNormal},
		{"wide", escpos.SizeWide},
		{"tall", escpos.SizeTall},
		{"double", escpos.SizeDouble},
	}
	for _, s := range sizes {
		p.add(escpos.SetSize(s.size))
		p.text(line("Size " + s.name))
	}
	p.add(escpos.SetSize(escpos.SizeNormal))

	p.add(escpos.Bold(true))
	p.text(line("Bold on"))
	p.add(escpos.Bold(false))
	p.text(line("Bold off"))
	p.text(Separator('-', c.lineLength))

	for _, row := range wrap(printableASCII(), c.lineLength) {
		p.text(line(row))
	}
	if cs, err := escpos.LookupCharset(c.opts.TextEncoding); err == nil && cs.Name != "utf-8" {
		p.text(line("Code page " + cs.Name + ":"))
		for _, row := range wrap(latin1Upper(), c.lineLength) {
			p.text(line(row))
		}
	}
	p.text(Separator('-', c.lineLength))

	p.text(line(fmt.Sprintf("Paper: %dmm, %d columns", c.opts.PaperWidth, c.lineLength)))
	p.text(line("Printed: " + c.opts.Now().Format(time.RFC3339)))
	p.add(escpos.Feed(1), escpos.Feed(1))
	return p
}

func printableASCII() string {
	var b strings.Builder
	for ch := firstPrintable; ch <= lastPrintable; ch++ {
		b.WriteByte(byte(ch))
	}
	return b.String()
}

func latin1Upper() string {
	var b strings.Builder
	for r := rune(0xA1); r <= 0xFF; r++ {
		b.WriteRune(r)
	}
	return b.String()
}

// wrap splits s into rows of at most n characters.
func wrap(s string, n int) []string {
	runes := []rune(s)
	var rows []string
	for len(runes) > n {
		rows = append(rows, string(runes[:n]))
		runes = runes[n:]
	}
	if len(runes) > 0 {
		rows = append(rows, string(runes))
	}
	return rows
}
