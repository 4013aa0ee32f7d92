// Package atproto implements the subset of the ATProto XRPC surface the
// Datalog cache depends on: authenticated record CRUD, batched writes,
// and blob upload against a personal data server.
package atproto

import "fmt"

// Kind classifies a client error the way the caller needs to react to it,
// independent of the underlying transport or server detail.
type Kind int

const (
	KindNetwork Kind = iota
	KindAuth
	KindXrpc
	KindRateLimited
	KindNotFound
	KindInvalidResponse
	KindInvalidMimeType
	KindBlobTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindXrpc:
		return "xrpc"
	case KindRateLimited:
		return "rate_limited"
	case KindNotFound:
		return "not_found"
	case KindInvalidResponse:
		return "invalid_response"
	case KindInvalidMimeType:
		return "invalid_mime_type"
	case KindBlobTooLarge:
		return "blob_too_large"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by every client operation.
// Callers switch on Kind rather than matching strings.
type Error struct {
	Kind Kind

	// XRPC server error envelope, set when Kind == KindXrpc.
	XrpcError   string
	XrpcMessage string

	// Set when Kind == KindRateLimited and the server sent Retry-After.
	RetryAfterSecs *int

	// Set when Kind == KindNotFound.
	Collection string
	Rkey       string

	Err error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindXrpc:
		return fmt.Sprintf("xrpc error %s: %s", e.XrpcError, e.XrpcMessage)
	case KindRateLimited:
		if e.RetryAfterSecs != nil {
			return fmt.Sprintf("rate limited, retry after %ds", *e.RetryAfterSecs)
		}
		return "rate limited"
	case KindNotFound:
		return fmt.Sprintf("record not found: %s/%s", e.Collection, e.Rkey)
	case KindAuth:
		if e.Err != nil {
			return fmt.Sprintf("auth error: %s", e.Err)
		}
		return "auth error"
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %s", e.Kind, e.Err)
		}
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the client's retry loop should sleep and
// retry this error rather than surfacing it immediately.
func (e *Error) Retryable() bool {
	if e.Kind != KindXrpc {
		return e.Kind == KindNetwork
	}
	switch e.XrpcError {
	case "UpstreamFailure", "UpstreamTimeout", "InternalServerError", "ServiceUnavailable":
		return true
	default:
		return false
	}
}

func networkErr(err error) *Error {
	return &Error{Kind: KindNetwork, Err: err}
}

func authErr(err error) *Error {
	return &Error{Kind: KindAuth, Err: err}
}

func invalidResponseErr(err error) *Error {
	return &Error{Kind: KindInvalidResponse, Err: err}
}

func notFoundErr(collection, rkey string) *Error {
	return &Error{Kind: KindNotFound, Collection: collection, Rkey: rkey}
}

func xrpcErr(code, message string) *Error {
	return &Error{Kind: KindXrpc, XrpcError: code, XrpcMessage: message}
}

func rateLimitedErr(retryAfter *int) *Error {
	return &Error{Kind: KindRateLimited, RetryAfterSecs: retryAfter}
}
