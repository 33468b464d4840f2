package core

import "errors"

// ConnError is the last connection level failure recorded on a slot.
type ConnError uint8

const (
	ConnErrNone ConnError = iota
	ConnErrDisconnect
	ConnErrTimeout
	ConnErrUndefinedStage
	ConnErrAcceptRequest
	ConnErrAcceptSocket
	ConnErrAcceptTimeout
	ConnErrHandshakeSSLCreate
	ConnErrHandshakeSSLSetFd
	ConnErrHandshakeSocket
	ConnErrHandshakeTimeout
	ConnErrReadSocket
	ConnErrWriteSocket
	ConnErrFdeventSocket
	ConnErrFdeventUndefined
)

var connErrorNames = [...]string{
	ConnErrNone:               "NONE",
	ConnErrDisconnect:         "DISCONNECT",
	ConnErrTimeout:            "TIMEOUT",
	ConnErrUndefinedStage:     "UNDEFINED_STAGE",
	ConnErrAcceptRequest:      "ACCEPT_REQUEST",
	ConnErrAcceptSocket:       "ACCEPT_SOCKET",
	ConnErrAcceptTimeout:      "ACCEPT_TIMEOUT",
	ConnErrHandshakeSSLCreate: "HANDSHAKE_SSL_CREATE",
	ConnErrHandshakeSSLSetFd:  "HANDSHAKE_SSL_SET_FD",
	ConnErrHandshakeSocket:    "HANDSHAKE_SOCKET",
	ConnErrHandshakeTimeout:   "HANDSHAKE_TIMEOUT",
	ConnErrReadSocket:         "READ_SOCKET",
	ConnErrWriteSocket:        "WRITE_SOCKET",
	ConnErrFdeventSocket:      "FDEVENT_SOCKET",
	ConnErrFdeventUndefined:   "FDEVENT_UNDEFINED",
}

func (e ConnError) String() string {
	if int(e) >= len(connErrorNames) {
		return "UNKNOWN"
	}
	return connErrorNames[e]
}

// Error definitions
var (
	ErrAlreadyRunning = errors.New("core: engine already running")
	ErrStopped        = errors.New("core: engine stopped")
	ErrBadOptions     = errors.New("core: invalid options")
)
