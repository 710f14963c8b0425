package books

import "errors"

// Kind classifies a failure for transport-layer mapping.
type Kind int

const (
	// KindUnknown covers internal failures with no more specific class.
	KindUnknown Kind = iota
	// KindInvalidInput marks user-correctable request problems.
	KindInvalidInput
	// KindUnauthenticated marks missing or invalid credentials.
	KindUnauthenticated
	// KindForbidden marks role or ownership denials.
	KindForbidden
	// KindNotFound marks absent records, including records hidden from the
	// requester so existence is not leaked.
	KindNotFound
	// KindStorageFailure marks an unreachable attachment store on the
	// write path.
	KindStorageFailure
)

// Error is the domain failure type carried across the service boundary.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func invalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

func notFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func storageFailure(message string, err error) *Error {
	return &Error{Kind: KindStorageFailure, Message: message, Err: err}
}

// KindOf extracts the failure class, defaulting to KindUnknown.
func KindOf(err error) Kind {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindUnknown
}
