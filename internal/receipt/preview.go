package receipt

import (
	"strings"

	"github.com/thereceipt/bleprint/internal/escpos"
)

// PlainText renders cmds roughly as they would print: text and line feeds
// only, with centred and right-aligned lines padded to lineLength. Size,
// emphasis, cuts and the drawer kick are dropped.
func PlainText(cmds []escpos.Command, lineLength int) string {
	var (
		out   strings.Builder
		cur   strings.Builder
		align = escpos.AlignLeft
	)

	flush := func() {
		s := cur.String()
		cur.Reset()
		if pad := lineLength - len([]rune(s)); pad > 0 {
			switch align {
			case escpos.AlignCenter:
				s = strings.Repeat(" ", pad/2) + s
			case escpos.AlignRight:
				s = strings.Repeat(" ", pad) + s
			}
		}
		out.WriteString(strings.TrimRight(s, " "))
		out.WriteByte('\n')
	}

	for _, cmd := range cmds {
		switch cmd.Kind {
		case escpos.KindAlign:
			align = cmd.Align
		case escpos.KindFeed:
			for i := 0; i < cmd.Lines; i++ {
				flush()
			}
		case escpos.KindText:
			parts := strings.Split(cmd.Text, "\n")
			for i, part := range parts {
				cur.WriteString(part)
				if i < len(parts)-1 {
					flush()
				}
			}
		}
	}
	if cur.Len() > 0 {
		flush()
	}
	return out.String()
}
