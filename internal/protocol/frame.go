package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

type Kind int

const (
	KindSimple Kind = iota
	KindError
	KindInteger
	KindBulk
	KindNull
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindError:
		return "error"
	case KindInteger:
		return "integer"
	case KindBulk:
		return "bulk"
	case KindNull:
		return "null"
	case KindArray:
		return "array"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Frame is one decoded wire value. Only the field matching Kind is set.
type Frame struct {
	Kind Kind

	Str   string
	Int   uint64
	Bulk  []byte
	Array []Frame
}

func Simple(s string) Frame { return Frame{Kind: KindSimple, Str: s} }

func Err(msg string) Frame { return Frame{Kind: KindError, Str: msg} }

func Integer(n uint64) Frame { return Frame{Kind: KindInteger, Int: n} }

func Bulk(b []byte) Frame { return Frame{Kind: KindBulk, Bulk: b} }

func Null() Frame { return Frame{Kind: KindNull} }

func Array(items ...Frame) Frame {
	if items == nil {
		items = []Frame{}
	}
	return Frame{Kind: KindArray, Array: items}
}

// NewArray returns an empty array frame ready for PushBulk / PushInt.
func NewArray() *Frame {
	return &Frame{Kind: KindArray, Array: []Frame{}}
}

// PushBulk appends a bulk element. It panics if f is not an array.
func (f *Frame) PushBulk(b []byte) {
	if f.Kind != KindArray {
		panic("protocol: PushBulk on " + f.Kind.String() + " frame")
	}
	f.Array = append(f.Array, Bulk(b))
}

// PushInt appends an integer element. It panics if f is not an array.
func (f *Frame) PushInt(n uint64) {
	if f.Kind != KindArray {
		panic("protocol: PushInt on " + f.Kind.String() + " frame")
	}
	f.Array = append(f.Array, Integer(n))
}

// String renders the frame for logs.
func (f Frame) String() string {
	switch f.Kind {
	case KindSimple:
		return f.Str
	case KindError:
		return "error: " + f.Str
	case KindInteger:
		return strconv.FormatUint(f.Int, 10)
	case KindBulk:
		return strconv.Quote(string(f.Bulk))
	case KindNull:
		return "(nil)"
	case KindArray:
		parts := make([]string, len(f.Array))
		for i, item := range f.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, " ") + "]"
	default:
		return fmt.Sprintf("frame(%d)", int(f.Kind))
	}
}
