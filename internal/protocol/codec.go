package protocol

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"unicode/utf8"
)

// Cursor is a read position over an immutable byte slice.
type Cursor struct {
	buf []byte
	pos int
}

func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Position returns the number of bytes consumed so far.
func (c *Cursor) Position() int {
	return c.pos
}

// Reset rewinds the cursor to the start of the buffer.
func (c *Cursor) Reset() {
	c.pos = 0
}

func (c *Cursor) remaining() int {
	return len(c.buf) - c.pos
}

func (c *Cursor) peekU8() (byte, error) {
	if c.remaining() < 1 {
		return 0, ErrIncomplete
	}
	return c.buf[c.pos], nil
}

func (c *Cursor) getU8() (byte, error) {
	b, err := c.peekU8()
	if err != nil {
		return 0, err
	}
	c.pos++
	return b, nil
}

func (c *Cursor) skip(n int) error {
	if c.remaining() < n {
		return ErrIncomplete
	}
	c.pos += n
	return nil
}

// getLine returns the bytes up to the next CRLF and moves past the terminator.
// The returned slice aliases the buffer.
func (c *Cursor) getLine() ([]byte, error) {
	idx := bytes.Index(c.buf[c.pos:], crlf)
	if idx < 0 {
		return nil, ErrIncomplete
	}
	line := c.buf[c.pos : c.pos+idx]
	c.pos += idx + len(crlf)
	return line, nil
}

func (c *Cursor) getDecimal() (uint64, error) {
	line, err := c.getLine()
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(string(line), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid decimal %q", ErrProtocol, line)
	}
	return n, nil
}

// getLength reads a decimal that must fit a slice length.
func (c *Cursor) getLength() (int, error) {
	n, err := c.getDecimal()
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt32 {
		return 0, fmt.Errorf("%w: length %d out of range", ErrProtocol, n)
	}
	return int(n), nil
}

// getNullBulk consumes the "-1\r\n" remainder of a null bulk.
func (c *Cursor) getNullBulk() error {
	line, err := c.getLine()
	if err != nil {
		return err
	}
	if string(line) != "-1" {
		return fmt.Errorf("%w: invalid bulk length %q", ErrProtocol, line)
	}
	return nil
}

// getBulkPayload returns n payload bytes (aliasing the buffer) and consumes the
// trailing CRLF.
func (c *Cursor) getBulkPayload(n int) ([]byte, error) {
	if c.remaining() < n+len(crlf) {
		return nil, ErrIncomplete
	}
	data := c.buf[c.pos : c.pos+n]
	if !bytes.Equal(c.buf[c.pos+n:c.pos+n+len(crlf)], crlf) {
		return nil, fmt.Errorf("%w: bulk payload does not match declared length %d", ErrProtocol, n)
	}
	c.pos += n + len(crlf)
	return data, nil
}

func (c *Cursor) getText() ([]byte, error) {
	line, err := c.getLine()
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(line) {
		return nil, fmt.Errorf("%w: invalid utf-8 string", ErrProtocol)
	}
	return line, nil
}

// Check reports whether a whole frame starts at the cursor. It returns nil when
// one is present, ErrIncomplete when more bytes are needed and an error wrapping
// ErrProtocol when the bytes can never form a valid frame. The cursor is left
// just past the frame on success.
func Check(c *Cursor) error {
	tag, err := c.getU8()
	if err != nil {
		return err
	}

	switch tag {
	case tagSimple, tagError:
		_, err := c.getText()
		return err
	case tagInteger:
		_, err := c.getDecimal()
		return err
	case tagBulk:
		b, err := c.peekU8()
		if err != nil {
			return err
		}
		if b == '-' {
			return c.getNullBulk()
		}
		n, err := c.getLength()
		if err != nil {
			return err
		}
		_, err = c.getBulkPayload(n)
		return err
	case tagArray:
		n, err := c.getLength()
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			if err := Check(c); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: invalid frame type byte %q", ErrProtocol, tag)
	}
}

// Parse decodes the frame at the cursor. It is meant to run after Check has
// accepted the same bytes; only bulk payloads are copied out of the buffer.
func Parse(c *Cursor) (Frame, error) {
	tag, err := c.getU8()
	if err != nil {
		return Frame{}, err
	}

	switch tag {
	case tagSimple:
		line, err := c.getText()
		if err != nil {
			return Frame{}, err
		}
		return Simple(string(line)), nil
	case tagError:
		line, err := c.getText()
		if err != nil {
			return Frame{}, err
		}
		return Err(string(line)), nil
	case tagInteger:
		n, err := c.getDecimal()
		if err != nil {
			return Frame{}, err
		}
		return Integer(n), nil
	case tagBulk:
		b, err := c.peekU8()
		if err != nil {
			return Frame{}, err
		}
		if b == '-' {
			if err := c.getNullBulk(); err != nil {
				return Frame{}, err
			}
			return Null(), nil
		}
		n, err := c.getLength()
		if err != nil {
			return Frame{}, err
		}
		payload, err := c.getBulkPayload(n)
		if err != nil {
			return Frame{}, err
		}
		data := make([]byte, n)
		copy(data, payload)
		return Bulk(data), nil
	case tagArray:
		n, err := c.getLength()
		if err != nil {
			return Frame{}, err
		}
		items := make([]Frame, 0, n)
		for i := 0; i < n; i++ {
			item, err := Parse(c)
			if err != nil {
				return Frame{}, err
			}
			items = append(items, item)
		}
		return Array(items...), nil
	default:
		return Frame{}, fmt.Errorf("%w: invalid frame type byte %q", ErrProtocol, tag)
	}
}

// Decode checks and parses one frame from the front of buf and returns it with
// the number of bytes it occupied.
func Decode(buf []byte) (Frame, int, error) {
	c := NewCursor(buf)
	if err := Check(c); err != nil {
		return Frame{}, 0, err
	}
	n := c.Position()

	c.Reset()
	f, err := Parse(c)
	if err != nil {
		return Frame{}, 0, err
	}
	return f, n, nil
}
