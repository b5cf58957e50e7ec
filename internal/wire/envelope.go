package wire

// Request is the envelope a client sends for a request/response call.
// Mirrors spec.md §3's `Request = { handler_type, handler_id, message_type,
// payload: bytes }`.
type Request struct {
	HandlerType string
	HandlerID   string
	MessageType string
	Payload     []byte
}

// SubscriptionRequest establishes a publish/subscribe stream for a single
// object, per spec.md §3.
type SubscriptionRequest struct {
	HandlerType string
	HandlerID   string
}

// ErrorKind enumerates the ResponseError variants spec.md §3 requires to be
// distinguishable on the wire.
type ErrorKind uint8

const (
	// ErrNone marks a Response that carries a successful Ok(bytes) body,
	// not an error. Present so the zero value of ResponseError is
	// meaningfully "no error" rather than aliasing a real variant.
	ErrNone ErrorKind = iota

	// ErrRedirect indicates the client contacted the wrong server; Addr
	// carries the address it should retry at.
	ErrRedirect

	// ErrDeallocateServiceObject tells the client its cached placement
	// refers to a dead server and must be refreshed.
	ErrDeallocateServiceObject

	// ErrAllocate indicates activation failed; the client does not
	// auto-retry this one.
	ErrAllocate

	// ErrNotSupported indicates a Request arrived for a kind with no
	// registered type constructor. TypeKind carries the offending type
	// kind.
	ErrNotSupported

	// ErrApplicationError carries the user handler's error as its
	// msgpack-encoded Error() string. The error's Go type is not carried,
	// so the client can decode only the message.
	ErrApplicationError

	// ErrDeserializationError indicates the server (or client, for
	// ApplicationError rehydration) failed to decode a payload.
	ErrDeserializationError

	// ErrSerializationError indicates the server failed to encode a
	// handler's successful reply.
	ErrSerializationError

	// ErrHandlerError indicates the handler invocation itself failed in
	// a way that isn't a typed application error (unregistered object,
	// lookup miss).
	ErrHandlerError

	// ErrUnknown is the catch-all, used in particular for a handler
	// panic (message "panic").
	ErrUnknown
)

// ResponseError is the tagged union spec.md §3 calls out as MUST be
// distinguishable on the wire. Only the fields relevant to Kind are
// populated; see the ErrorKind constants' docs for which field each uses.
type ResponseError struct {
	Kind ErrorKind

	// Addr carries the redirect address for ErrRedirect.
	Addr string

	// TypeKind carries the unregistered type kind for ErrNotSupported.
	TypeKind string

	// Body carries the encoded application error for ErrApplicationError,
	// or a human-readable detail string (as bytes) for ErrUnknown/
	// ErrHandlerError.
	Body []byte
}

// Error implements the error interface so ResponseError can be returned
// and wrapped like any other Go error.
func (e *ResponseError) Error() string {
	switch e.Kind {
	case ErrRedirect:
		return "redirect: " + e.Addr
	case ErrDeallocateServiceObject:
		return "deallocate service object"
	case ErrAllocate:
		return "allocate"
	case ErrNotSupported:
		return "not supported: " + e.TypeKind
	case ErrApplicationError:
		return "application error"
	case ErrDeserializationError:
		return "deserialization error"
	case ErrSerializationError:
		return "serialization error"
	case ErrHandlerError:
		return "handler error: " + string(e.Body)
	case ErrUnknown:
		return "unknown error: " + string(e.Body)
	default:
		return "no error"
	}
}

// Response is the envelope a server sends back for a Request.
type Response struct {
	// Ok carries the handler's successful reply bytes. Populated only
	// when Err is nil.
	Ok []byte

	// Err is non-nil whenever the call did not produce an Ok body.
	Err *ResponseError
}

// SubscriptionResponse is one frame of a subscription stream.
type SubscriptionResponse struct {
	Ok  []byte
	Err *ResponseError
}
