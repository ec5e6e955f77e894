// Package rpcerror defines the error taxonomy shared by every layer of mini-jsonrpc
// and the mapping between error kinds and JSON-RPC 2.0 wire codes.
//
// Only five kinds ever cross the wire:
//
//	Kind                 code     message
//	KindParse           -32700    Parse Error
//	KindInvalidRequest  -32600    Invalid Request
//	KindMethodNotFound  -32601    Method not found
//	KindInvalidParams   -32602    Invalid params
//	KindInternal        -32603    Internal error
//
// KindInvalidResponse and KindProtocol are raised on the caller's side only.
// KindUnknown is produced when a remote error carries a code outside the table.
package rpcerror

import (
	"errors"
	"fmt"
)

// Kind classifies an RPC failure.
type Kind int

const (
	KindParse Kind = iota + 1
	KindInvalidRequest
	KindMethodNotFound
	KindInvalidParams
	KindInvalidResponse
	KindProtocol
	KindInternal
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindParse:
		return "ParseError"
	case KindInvalidRequest:
		return "InvalidRequestError"
	case KindMethodNotFound:
		return "MethodNotFoundError"
	case KindInvalidParams:
		return "InvalidParamsError"
	case KindInvalidResponse:
		return "InvalidResponseError"
	case KindProtocol:
		return "ProtocolError"
	case KindInternal:
		return "InternalError"
	case KindUnknown:
		return "UnknownError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

type wireEntry struct {
	code    int
	message string
}

var kindToWire = map[Kind]wireEntry{
	KindParse:          {CodeParseError, "Parse Error"},
	KindInvalidRequest: {CodeInvalidRequest, "Invalid Request"},
	KindMethodNotFound: {CodeMethodNotFound, "Method not found"},
	KindInvalidParams:  {CodeInvalidParams, "Invalid params"},
	KindInternal:       {CodeInternalError, "Internal error"},
}

var codeToKind = map[int]Kind{
	CodeParseError:     KindParse,
	CodeInvalidRequest: KindInvalidRequest,
	CodeMethodNotFound: KindMethodNotFound,
	CodeInvalidParams:  KindInvalidParams,
	CodeInternalError:  KindInternal,
}

// CodeFor returns the wire code and message for kind.
// ok is false for kinds that never travel over the wire.
func CodeFor(kind Kind) (code int, message string, ok bool) {
	e, ok := kindToWire[kind]
	return e.code, e.message, ok
}

// KindForCode returns the kind registered for a wire code.
// ok is false when the code is outside the table.
func KindForCode(code int) (Kind, bool) {
	k, ok := codeToKind[code]
	return k, ok
}

// Error is an RPC failure of a given Kind.
//
// Detail holds the human readable description of the underlying failure.
// Code is the wire code an error was reconstructed from, zero for errors raised
// locally. For KindUnknown it is the only record of what the remote side reported.
type Error struct {
	Kind   Kind
	Detail string
	Code   int
	Data   any
}

// New creates an error of the given kind with a formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind using err's text as the detail.
func Wrap(kind Kind, err error) *Error {
	return &Error{Kind: kind, Detail: err.Error()}
}

func (e *Error) Error() string {
	if e.Kind == KindUnknown {
		return fmt.Sprintf("jsonrpc: %s (code %d): %s", e.Kind, e.Code, e.Detail)
	}
	if e.Detail == "" {
		return fmt.Sprintf("jsonrpc: %s", e.Kind)
	}
	return fmt.Sprintf("jsonrpc: %s: %s", e.Kind, e.Detail)
}

// Is reports whether target is an *Error of the same kind, so that
// errors.Is(err, rpcerror.ErrMethodNotFound) works regardless of the detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is comparisons.
var (
	ErrParse           = &Error{Kind: KindParse}
	ErrInvalidRequest  = &Error{Kind: KindInvalidRequest}
	ErrMethodNotFound  = &Error{Kind: KindMethodNotFound}
	ErrInvalidParams   = &Error{Kind: KindInvalidParams}
	ErrInvalidResponse = &Error{Kind: KindInvalidResponse}
	ErrProtocol        = &Error{Kind: KindProtocol}
	ErrInternal        = &Error{Kind: KindInternal}
	ErrUnknown         = &Error{Kind: KindUnknown}
)

// KindOf returns the Kind of err if it is (or wraps) an *Error, and KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
