// Package command turns request frames into typed operations and applies
// them to the store.
package command

import (
	"errors"
	"strings"

	"github.com/vector-ops/minikv/internal/protocol"
)

// Store is the part of the key/value store commands need.
type Store interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
}

// FrameWriter receives response frames.
type FrameWriter interface {
	WriteFrame(protocol.Frame) error
}

// Command is one of Ping, Get, Set or Unknown.
type Command interface {
	Name() string
	Apply(db Store, dst FrameWriter) error

	command()
}

func (Ping) command()    {}
func (Get) command()     {}
func (Set) command()     {}
func (Unknown) command() {}

// FromFrame builds a command from a request array. Unrecognised names yield
// Unknown rather than an error.
func FromFrame(f protocol.Frame) (Command, error) {
	p, err := protocol.NewParser(f)
	if err != nil {
		return nil, err
	}

	name, err := p.NextString()
	if err != nil {
		return nil, err
	}

	var cmd Command
	switch strings.ToLower(name) {
	case protocol.CommandPING:
		cmd, err = parsePing(p)
	case protocol.CommandGET:
		cmd, err = parseGet(p)
	case protocol.CommandSET:
		cmd, err = parseSet(p)
	default:
		return Unknown{name: name}, nil
	}
	if err != nil {
		return nil, err
	}

	if err := p.Finish(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Ping replies PONG, or echoes Msg when one was given.
type Ping struct {
	Msg []byte
}

func NewPing(msg []byte) Ping {
	return Ping{Msg: msg}
}

func parsePing(p *protocol.Parser) (Ping, error) {
	msg, err := p.NextBytes()
	if errors.Is(err, protocol.ErrEndOfStream) {
		return Ping{}, nil
	}
	if err != nil {
		return Ping{}, err
	}
	return Ping{Msg: msg}, nil
}

func (Ping) Name() string { return protocol.CommandPING }

func (c Ping) Apply(_ Store, dst FrameWriter) error {
	if c.Msg == nil {
		return dst.WriteFrame(protocol.Simple("PONG"))
	}
	return dst.WriteFrame(protocol.Bulk(c.Msg))
}

// Frame returns the request frame for c.
func (c Ping) Frame() protocol.Frame {
	f := protocol.NewArray()
	f.PushBulk([]byte(protocol.CommandPING))
	if c.Msg != nil {
		f.PushBulk(c.Msg)
	}
	return *f
}

type Get struct {
	Key string
}

func NewGet(key string) Get {
	return Get{Key: key}
}

func parseGet(p *protocol.Parser) (Get, error) {
	key, err := p.NextString()
	if err != nil {
		return Get{}, err
	}
	return Get{Key: key}, nil
}

func (Get) Name() string { return protocol.CommandGET }

func (c Get) Apply(db Store, dst FrameWriter) error {
	val, ok := db.Get(c.Key)
	if !ok {
		return dst.WriteFrame(protocol.Null())
	}
	return dst.WriteFrame(protocol.Bulk(val))
}

func (c Get) Frame() protocol.Frame {
	f := protocol.NewArray()
	f.PushBulk([]byte(protocol.CommandGET))
	f.PushBulk([]byte(c.Key))
	return *f
}

type Set struct {
	Key   string
	Value []byte
}

func NewSet(key string, value []byte) Set {
	return Set{Key: key, Value: value}
}

func parseSet(p *protocol.Parser) (Set, error) {
	key, err := p.NextString()
	if err != nil {
		return Set{}, err
	}
	value, err := p.NextBytes()
	if err != nil {
		return Set{}, err
	}
	return Set{Key: key, Value: value}, nil
}

func (Set) Name() string { return protocol.CommandSET }

func (c Set) Apply(db Store, dst FrameWriter) error {
	db.Set(c.Key, c.Value)
	return dst.WriteFrame(protocol.Simple("OK"))
}

func (c Set) Frame() protocol.Frame {
	f := protocol.NewArray()
	f.PushBulk([]byte(protocol.CommandSET))
	f.PushBulk([]byte(c.Key))
	f.PushBulk(c.Value)
	return *f
}

// lineEscaper keeps client-supplied text on one reply line.
var lineEscaper = strings.NewReplacer("\r", `\r`, "\n", `\n`)

// Unknown is a command name the server does not implement. Applying it sends
// an error reply and leaves the connection open.
type Unknown struct {
	name string
}

func (c Unknown) Name() string { return c.name }

func (c Unknown) Apply(_ Store, dst FrameWriter) error {
	return dst.WriteFrame(protocol.Err("ERR unknown command '" + lineEscaper.Replace(c.name) + "'"))
}
