package policy

import (
	"errors"
	"fmt"
)

// Kind classifies why a provisioning request was rejected.
type Kind string

const (
	KindUnauthenticated  Kind = "UNAUTHENTICATED"
	KindPermissionDenied Kind = "PERMISSION_DENIED"
	KindInvalidArgument  Kind = "INVALID_ARGUMENT"
	// KindUnknown is never produced by the policy. Callers map collaborator
	// failures to it before surfacing them.
	KindUnknown Kind = "UNKNOWN"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrPermissionDenied)
// works regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

var (
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrUnknown          = &Error{Kind: KindUnknown}
)

func unauthenticated(message string) error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

func permissionDenied(message string) error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

func invalidArgument(message string) error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

// Unknown wraps a collaborator failure so it can be surfaced next to policy denials.
func Unknown(err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}
	return &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
}

// KindOf returns the kind carried by err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// MessageOf returns the caller-facing message carried by err.
func MessageOf(err error) string {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
