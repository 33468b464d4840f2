package socket

import "errors"

// Result classifies the outcome of a non-blocking transport operation.
// The TLS layer and the chunk queue report through the same vocabulary.
type Result uint8

const (
	OK Result = iota
	Again
	EOF
	ConReset
	Error
	Complete
)

func (r Result) String() string {
	switch r {
	case OK:
		return "OK"
	case Again:
		return "AGAIN"
	case EOF:
		return "EOF"
	case ConReset:
		return "CONRESET"
	case Error:
		return "ERROR"
	case Complete:
		return "COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Error definitions
var (
	ErrAgain       = errors.New("socket: operation would block")
	ErrInvalidHost = errors.New("socket: invalid listen host")
	ErrInvalidPort = errors.New("socket: invalid listen port")
)

// IsTLSClientHello reports whether the first byte sent by a client looks like
// the start of a TLS record (handshake content type or an SSLv2 style header).
func IsTLSClientHello(b byte) bool {
	return b == 0x16 || b&0x80 != 0
}
