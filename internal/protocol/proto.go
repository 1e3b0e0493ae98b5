package protocol

import "errors"

const (
	CommandPING = "ping"
	CommandGET  = "get"
	CommandSET  = "set"
)

// Wire type tags.
const (
	tagSimple  = '+'
	tagError   = '-'
	tagInteger = ':'
	tagBulk    = '$'
	tagArray   = '*'
)

var crlf = []byte("\r\n")

var (
	// ErrIncomplete means the buffer ends before a whole frame is present.
	// It is not a failure: the caller should read more bytes and retry.
	ErrIncomplete = errors.New("protocol: incomplete frame")

	ErrProtocol    = errors.New("protocol error")
	ErrEndOfStream = errors.New("protocol error; unexpected end of stream")
)
