package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind is the transport failure taxonomy. The router treats every kind
// as "attempt failed"; the kind only informs backoff severity and logging.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindConnectionRefused
	KindProtocol
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionRefused:
		return "connection-refused"
	case KindProtocol:
		return "protocol-error"
	case KindMalformedResponse:
		return "malformed-response"
	}
	return "unknown"
}

// Error is a typed transport failure from one endpoint attempt.
type Error struct {
	Kind     ErrorKind
	Endpoint string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc %s from %s: %v", e.Kind, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify wraps a raw transport error with its taxonomy kind.
func classify(endpoint string, err error) *Error {
	kind := KindProtocol
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	case errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET):
		kind = KindConnectionRefused
	}
	return &Error{Kind: kind, Endpoint: endpoint, Err: err}
}

// malformed wraps a decode failure.
func malformed(endpoint string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Endpoint: endpoint, Err: err}
}
