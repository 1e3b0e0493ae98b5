package protocol

import "strconv"

// AppendFrame appends the wire encoding of f to dst.
func AppendFrame(dst []byte, f Frame) []byte {
	switch f.Kind {
	case KindSimple:
		dst = append(dst, tagSimple)
		dst = appendLine(dst, f.Str)
	case KindError:
		dst = append(dst, tagError)
		dst = appendLine(dst, f.Str)
	case KindInteger:
		dst = append(dst, tagInteger)
		dst = strconv.AppendUint(dst, f.Int, 10)
	case KindNull:
		dst = append(dst, "$-1"...)
	case KindBulk:
		dst = append(dst, tagBulk)
		dst = strconv.AppendInt(dst, int64(len(f.Bulk)), 10)
		dst = append(dst, crlf...)
		dst = append(dst, f.Bulk...)
	case KindArray:
		dst = append(dst, tagArray)
		dst = strconv.AppendInt(dst, int64(len(f.Array)), 10)
		dst = append(dst, crlf...)
		for _, item := range f.Array {
			dst = AppendFrame(dst, item)
		}
		return dst
	}
	return append(dst, crlf...)
}

// MarshalRESP returns the wire encoding of f.
func (f Frame) MarshalRESP() ([]byte, error) {
	return AppendFrame(nil, f), nil
}

// appendLine appends s with any CR or LF replaced by a space, so a line
// frame can never end early.
func appendLine(dst []byte, s string) []byte {
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\r', '\n':
			dst = append(dst, ' ')
		default:
			dst = append(dst, c)
		}
	}
	return dst
}
