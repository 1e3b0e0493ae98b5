package protocol

import (
	"fmt"
	"unicode/utf8"
)

// Parser walks the elements of an array frame, one command argument at a time.
type Parser struct {
	parts []Frame
	pos   int
}

func NewParser(f Frame) (*Parser, error) {
	if f.Kind != KindArray {
		return nil, fmt.Errorf("%w; expected array, got %s", ErrProtocol, f.Kind)
	}
	return &Parser{parts: f.Array}, nil
}

func (p *Parser) next() (Frame, error) {
	if p.pos >= len(p.parts) {
		return Frame{}, ErrEndOfStream
	}
	f := p.parts[p.pos]
	p.pos++
	return f, nil
}

// NextString returns the next element as text. Simple frames are used
// verbatim; bulk frames must hold valid UTF-8.
func (p *Parser) NextString() (string, error) {
	f, err := p.next()
	if err != nil {
		return "", err
	}
	switch f.Kind {
	case KindSimple:
		return f.Str, nil
	case KindBulk:
		if !utf8.Valid(f.Bulk) {
			return "", fmt.Errorf("%w; invalid string", ErrProtocol)
		}
		return string(f.Bulk), nil
	default:
		return "", fmt.Errorf("%w; expected simple or bulk frame, got %s", ErrProtocol, f.Kind)
	}
}

// NextBytes returns the next element as raw bytes.
func (p *Parser) NextBytes() ([]byte, error) {
	f, err := p.next()
	if err != nil {
		return nil, err
	}
	switch f.Kind {
	case KindSimple:
		return []byte(f.Str), nil
	case KindBulk:
		return f.Bulk, nil
	default:
		return nil, fmt.Errorf("%w; expected simple or bulk frame, got %s", ErrProtocol, f.Kind)
	}
}

// Remaining returns the number of unread elements.
func (p *Parser) Remaining() int {
	return len(p.parts) - p.pos
}

// Finish fails if any element was left unread.
func (p *Parser) Finish() error {
	if p.Remaining() > 0 {
		return fmt.Errorf("%w; trailing arguments (%d unread)", ErrProtocol, p.Remaining())
	}
	return nil
}
