package escpos

import (
	"bytes"
	"fmt"
)

// ESC/POS control bytes
const (
	ESC byte = 0x1B
	GS  byte = 0x1D
	LF  byte = 0x0A
)

// Fixed command sequences.
var (
	seqInitialize  = []byte{ESC, '@'}
	seqBoldOn      = []byte{ESC, 'E', 0x01}
	seqBoldOff     = []byte{ESC, 'E', 0x00}
	seqFullCut     = []byte{GS, 'V', 0x00}
	seqPartialCut  = []byte{GS, 'V', 0x01}
	seqDrawerKick  = []byte{ESC, 'p', 0x00, 0x19, 0xFA}
	alignPrefix    = []byte{ESC, 'a'}
	sizePrefix     = []byte{GS, '!'}
	maxFeedPerCall = 255
)

// Encoder generates ESC/POS bytes. Text is converted with the configured
// character set; glyphs the printer's code page lacks may print wrong.
type Encoder struct {
	charset *Charset
	buffer  *bytes.Buffer
}

// NewEncoder creates an encoder for the named text encoding ("" means UTF-8).
func NewEncoder(encoding string) (*Encoder, error) {
	cs, err := LookupCharset(encoding)
	if err != nil {
		return nil, err
	}
	return &Encoder{
		charset: cs,
		buffer:  new(bytes.Buffer),
	}, nil
}

// Charset returns the text encoding in use.
func (e *Encoder) Charset() *Charset {
	return e.charset
}

// Initialize resets the printer to power-on defaults
func (e *Encoder) Initialize() {
	e.buffer.Write(seqInitialize)
}

// SetAlignment sets text alignment
func (e *Encoder) SetAlignment(a Alignment) {
	e.buffer.Write(alignPrefix)
	switch a {
	case AlignCenter, AlignRight:
		e.buffer.WriteByte(byte(a))
	default:
		e.buffer.WriteByte(byte(AlignLeft))
	}
}

// SetSize sets the character size
func (e *Encoder) SetSize(s Size) {
	e.buffer.Write(sizePrefix)
	switch s {
	case SizeWide, SizeTall, SizeDouble:
		e.buffer.WriteByte(byte(s))
	default:
		e.buffer.WriteByte(byte(SizeNormal))
	}
}

// SetBold enables or disables emphasized text
func (e *Encoder) SetBold(on bool) {
	if on {
		e.buffer.Write(seqBoldOn)
		return
	}
	e.buffer.Write(seqBoldOff)
}

// LineFeed sends line feed
func (e *Encoder) LineFeed() {
	e.buffer.WriteByte(LF)
}

// Feed sends multiple line feeds
func (e *Encoder) Feed(lines int) {
	if lines > maxFeedPerCall {
		lines = maxFeedPerCall
	}
	for i := 0; i < lines; i++ {
		e.LineFeed()
	}
}

// Cut sends the cut sequence for t; CutNone writes nothing.
func (e *Encoder) Cut(t CutType) {
	switch t {
	case CutFull:
		e.buffer.Write(seqFullCut)
	case CutPartial:
		e.buffer.Write(seqPartialCut)
	}
}

// KickDrawer pulses the cash drawer on pin 2.
func (e *Encoder) KickDrawer() {
	e.buffer.Write(seqDrawerKick)
}

// WriteText writes text in the configured character set
func (e *Encoder) WriteText(text string) error {
	b, err := e.charset.Encode(text)
	if err != nil {
		return err
	}
	e.buffer.Write(b)
	return nil
}

// Apply appends the bytes for one command to the buffer.
func (e *Encoder) Apply(cmd Command) error {
	switch cmd.Kind {
	case KindText:
		return e.WriteText(cmd.Text)
	case KindAlign:
		e.SetAlignment(cmd.Align)
	case KindSize:
		e.SetSize(cmd.Size)
	case KindBold:
		e.SetBold(cmd.Bold)
	case KindFeed:
		e.Feed(cmd.Lines)
	case KindCut:
		e.Cut(cmd.Cut)
	case KindDrawerKick:
		e.KickDrawer()
	default:
		return fmt.Errorf("escpos: unknown command kind %d", int(cmd.Kind))
	}
	return nil
}

// Encode returns the bytes for a single command, leaving the buffer empty.
func (e *Encoder) Encode(cmd Command) ([]byte, error) {
	e.Reset()
	defer e.Reset()

	if err := e.Apply(cmd); err != nil {
		return nil, err
	}
	return e.copyBytes(), nil
}

// EncodeAll returns the bytes for cmds in order, prefixed by the
// initialize sequence.
func (e *Encoder) EncodeAll(cmds []Command) ([]byte, error) {
	e.Reset()
	defer e.Reset()

	e.Initialize()
	for i, cmd := range cmds {
		if err := e.Apply(cmd); err != nil {
			return nil, fmt.Errorf("command %d (%s): %w", i, cmd.Kind, err)
		}
	}
	return e.copyBytes(), nil
}

// GetBytes returns the buffered commands. The slice aliases the buffer.
func (e *Encoder) GetBytes() []byte {
	return e.buffer.Bytes()
}

// Reset clears the buffer
func (e *Encoder) Reset() {
	e.buffer.Reset()
}

func (e *Encoder) copyBytes() []byte {
	out := make([]byte, e.buffer.Len())
	copy(out, e.buffer.Bytes())
	return out
}

// InitializeSequence returns a copy of ESC @.
func InitializeSequence() []byte {
	return append([]byte(nil), seqInitialize...)
}
