package server

import "fast-rpc/message"

// Writer is the response-writer a handler uses to stream a reply.
// Write/End/Fail map directly onto the wire's DATA/END/ERROR messages.
type Writer interface {
	// Write appends one DATA message carrying a single value.
	Write(value any) error
	// End sends the terminal END message. Any values passed are packed
	// into its "d" array.
	End(values ...any) error
	// Fail sends the terminal ERROR message built from ep. Properties
	// other than Name, Message, Info, Context, and AseErrors never reach
	// the wire.
	Fail(ep message.ErrorPayload) error
	// ConnectionID identifies the connection this request arrived on.
	ConnectionID() int64
	// RequestID is the request's msgid.
	RequestID() int64
	// Method is the rpc method name the request was dispatched under.
	Method() string
}

// Handler is bound to a method name and invoked once per request.
// Methods register as a Handler rather than a bare closure so they can be
// wrapped by middleware without capturing ambient state.
type Handler interface {
	Invoke(w Writer, args []any)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(w Writer, args []any)

func (f HandlerFunc) Invoke(w Writer, args []any) {
	f(w, args)
}
