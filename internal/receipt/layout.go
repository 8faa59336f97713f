// Package receipt compiles receipt descriptors into ordered ESC/POS commands.
package receipt

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Supported paper widths in millimetres.
const (
	PaperWidth58 = 58
	PaperWidth80 = 80
)

// LineLength returns the characters per physical line for a paper width:
// 32 for 58mm and 48 for 80mm.
func LineLength(paperWidth int) (int, error) {
	switch paperWidth {
	case PaperWidth58:
		return 32, nil
	case PaperWidth80:
		return 48, nil
	}
	return 0, fmt.Errorf("unsupported paper width %dmm (must be 58 or 80)", paperWidth)
}

// Separator fills a whole line with ch and ends it with a newline.
func Separator(ch rune, lineLength int) string {
	return strings.Repeat(string(ch), lineLength) + "\n"
}

// FormatLineWithTotal puts label on the left and amount flush against the
// right edge. At least one space separates them, so an over-long pair
// overflows rather than touching.
func FormatLineWithTotal(label, amount string, lineLength int) string {
	padding := lineLength - utf8.RuneCountInString(label) - utf8.RuneCountInString(amount)
	if padding < 1 {
		padding = 1
	}
	return label + strings.Repeat(" ", padding) + amount + "\n"
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

func line(s string) string {
	return s + "\n"
}
