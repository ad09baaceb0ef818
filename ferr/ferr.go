// Package ferr implements the Fast error taxonomy: one concrete type per
// category, each wrapping its cause so errors.Is / errors.As can walk the
// request → server → original three-layer chain.
package ferr

import "fmt"

// Category names one of the five Fast error categories, or InvalidArgument
// for programmer errors.
type Category string

const (
	CategoryProtocol        Category = "FastProtocolError"
	CategoryTransport       Category = "FastTransportError"
	CategoryServer          Category = "FastServerError"
	CategoryRequest         Category = "FastRequestError"
	CategoryMisc            Category = "FastError"
	CategoryInvalidArgument Category = "InvalidArgument"
)

// Reason enumerates the fastReason values carried in a protocol error's
// Info bag.
type Reason string

const (
	ReasonUnsupportedVersion Reason = "unsupported_version"
	ReasonUnsupportedType    Reason = "unsupported_type"
	ReasonUnsupportedStatus  Reason = "unsupported_status"
	ReasonInvalidMsgid       Reason = "invalid_msgid"
	ReasonBadCrc             Reason = "bad_crc"
	ReasonInvalidJson        Reason = "invalid_json"
	ReasonBadData            Reason = "bad_data"
	ReasonBadDataD           Reason = "bad_data_d"
	ReasonBadError           Reason = "bad_error"
	ReasonIncompleteMessage  Reason = "incomplete_message"
	ReasonUnknownMsgid       Reason = "unknown_msgid"
	ReasonBadMethod          Reason = "bad_method"
)

// Info is the structured bag attached to an Error: rpcMsgid, rpcMethod,
// fastReason, and any handler-supplied info/context.
type Info map[string]any

// Error is the single concrete error type backing every category.
// Name defaults to the category string but is overridable so a
// server-reported error can round-trip its original name through
// CategoryServer.
type Error struct {
	Category Category
	Name     string
	Message  string
	Info     Info
	cause    error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// Unwrap exposes the wrapped cause so errors.Is/errors.As can walk the
// request → server → original chain.
func (e *Error) Unwrap() error {
	return e.cause
}

func newError(category Category, name, message string, info Info, cause error) *Error {
	if name == "" {
		name = string(category)
	}
	return &Error{Category: category, Name: name, Message: message, Info: info, cause: cause}
}

// NewProtocolError builds a FastProtocolError carrying the given fastReason.
func NewProtocolError(reason Reason, message string, info Info) *Error {
	if info == nil {
		info = Info{}
	}
	info["fastReason"] = reason
	return newError(CategoryProtocol, "", message, info, nil)
}

// NewTransportError builds a FastTransportError wrapping the underlying
// socket failure.
func NewTransportError(message string, cause error) *Error {
	return newError(CategoryTransport, "", message, Info{}, cause)
}

// NewServerError builds the middle layer of the three-layer chain: a
// FastServerError wrapping the original error reconstructed from a
// handler-reported ERROR message, which keeps the handler's own name.
// Only name, message, info, context, and ase_errors survive the wire.
func NewServerError(name, message string, info, context Info, aseErrors any) *Error {
	bag := Info{}
	if info != nil {
		bag["info"] = info
	}
	if context != nil {
		bag["context"] = context
	}
	if aseErrors != nil {
		bag["ase_errors"] = aseErrors
	}
	original := newError(CategoryServer, name, message, bag, nil)
	return newError(CategoryServer, "", message, bag, original)
}

// NewRequestError builds the outer FastRequestError a client-facing caller
// observes, wrapping cause (a protocol, transport, or server error) and
// tagging it with the request's msgid and method.
func NewRequestError(cause error, rpcMsgid int64, rpcMethod string) *Error {
	return newError(CategoryRequest, "", requestErrorMessage(cause), Info{
		"rpcMsgid":  rpcMsgid,
		"rpcMethod": rpcMethod,
	}, cause)
}

func requestErrorMessage(cause error) string {
	if cause == nil {
		return "request failed"
	}
	return cause.Error()
}

// NewFastError builds a miscellaneous FastError, e.g. the bad_method
// response to an unregistered RPC method.
func NewFastError(reason Reason, message string, info Info) *Error {
	if info == nil {
		info = Info{}
	}
	info["fastReason"] = reason
	return newError(CategoryMisc, "", message, info, nil)
}

// NewInvalidArgument builds the synchronous, non-wrapped error returned for
// programmer errors: a malformed encode argument such as an out-of-range
// msgid or a non-object payload.
func NewInvalidArgument(message string) *Error {
	return newError(CategoryInvalidArgument, "", message, nil, nil)
}
