package escpos

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Charset converts strings to the byte encoding a printer expects.
// The printer's active code page must match; nothing here selects it.
type Charset struct {
	Name    string
	charmap *charmap.Charmap // nil means UTF-8 passthrough
}

var charsets = map[string]*charmap.Charmap{
	"cp437":        charmap.CodePage437,
	"cp850":        charmap.CodePage850,
	"cp858":        charmap.CodePage858,
	"cp866":        charmap.CodePage866,
	"windows-1252": charmap.Windows1252,
	"iso-8859-15":  charmap.ISO8859_15,
}

// LookupCharset resolves an encoding name. "", "utf-8" and "utf8" select UTF-8.
func LookupCharset(name string) (*Charset, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "", "utf-8", "utf8":
		return &Charset{Name: "utf-8"}, nil
	}
	cm, ok := charsets[key]
	if !ok {
		return nil, fmt.Errorf("unsupported text encoding %q (supported: utf-8, %s)", name, strings.Join(SupportedCharsets(), ", "))
	}
	return &Charset{Name: key, charmap: cm}, nil
}

// SupportedCharsets lists the single-byte encodings besides UTF-8.
func SupportedCharsets() []string {
	names := make([]string, 0, len(charsets))
	for n := range charsets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Encode converts s. Runes missing from a single-byte code page become the
// code page's replacement byte.
func (c *Charset) Encode(s string) ([]byte, error) {
	if c == nil || c.charmap == nil {
		return []byte(s), nil
	}
	out, err := encoding.ReplaceUnsupported(c.charmap.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode text as %s: %w", c.Name, err)
	}
	return out, nil
}
