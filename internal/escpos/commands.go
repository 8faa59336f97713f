// Package escpos encodes abstract print commands into ESC/POS byte sequences.
package escpos

import (
	"fmt"
	"strings"
)

// Kind tags a Command variant.
type Kind int

const (
	KindText Kind = iota
	KindAlign
	KindSize
	KindBold
	KindFeed
	KindCut
	KindDrawerKick
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindAlign:
		return "align"
	case KindSize:
		return "size"
	case KindBold:
		return "bold"
	case KindFeed:
		return "feed"
	case KindCut:
		return "cut"
	case KindDrawerKick:
		return "drawer-kick"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Alignment is the ESC a parameter.
type Alignment byte

const (
	AlignLeft   Alignment = 0x00
	AlignCenter Alignment = 0x01
	AlignRight  Alignment = 0x02
)

// Size is the GS ! parameter: high nibble width multiplier, low nibble height.
type Size byte

const (
	SizeNormal Size = 0x00
	SizeWide   Size = 0x10
	SizeTall   Size = 0x01
	SizeDouble Size = 0x11
)

// CutType selects the paper cut issued at the end of a job.
type CutType string

const (
	CutFull    CutType = "full"
	CutPartial CutType = "partial"
	CutNone    CutType = "none"
)

// ParseCutType accepts "full", "partial" or "none" in any case.
func ParseCutType(s string) (CutType, error) {
	switch ct := CutType(strings.ToLower(strings.TrimSpace(s))); ct {
	case CutFull, CutPartial, CutNone:
		return ct, nil
	}
	return "", fmt.Errorf("invalid cut type %q (must be full, partial or none)", s)
}

// Command is one abstract print instruction. Build it with the constructors
// below; a compiled Command is never mutated.
type Command struct {
	Kind  Kind      `json:"kind"`
	Text  string    `json:"text,omitempty"`
	Align Alignment `json:"align,omitempty"`
	Size  Size      `json:"size,omitempty"`
	Bold  bool      `json:"bold,omitempty"`
	Lines int       `json:"lines,omitempty"`
	Cut   CutType   `json:"cut,omitempty"`
}

func Text(s string) Command     { return Command{Kind: KindText, Text: s} }
func Align(a Alignment) Command { return Command{Kind: KindAlign, Align: a} }
func SetSize(s Size) Command    { return Command{Kind: KindSize, Size: s} }
func Bold(on bool) Command      { return Command{Kind: KindBold, Bold: on} }
func Cut(t CutType) Command     { return Command{Kind: KindCut, Cut: t} }
func DrawerKick() Command       { return Command{Kind: KindDrawerKick} }

// Feed advances the paper by n lines; n below 1 is treated as 1.
func Feed(n int) Command {
	if n < 1 {
		n = 1
	}
	return Command{Kind: KindFeed, Lines: n}
}

func (c Command) String() string {
	switch c.Kind {
	case KindText:
		return fmt.Sprintf("text(%q)", c.Text)
	case KindAlign:
		return fmt.Sprintf("align(%d)", c.Align)
	case KindSize:
		return fmt.Sprintf("size(%#02x)", byte(c.Size))
	case KindBold:
		return fmt.Sprintf("bold(%t)", c.Bold)
	case KindFeed:
		return fmt.Sprintf("feed(%d)", c.Lines)
	case KindCut:
		return fmt.Sprintf("cut(%s)", c.Cut)
	default:
		return c.Kind.String()
	}
}
