package posts

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for delivery operations
var (
	// ErrNotFound is returned when no post exists for a local ID
	ErrNotFound = errors.New("post not found")

	// ErrInvalidState is returned when the post's current state forbids the operation
	// (e.g., resend of a post that did not fail, update of a post the server never confirmed)
	ErrInvalidState = errors.New("post is not in a valid state for this operation")

	// ErrConflictingOperation is returned when another send, resend, update or delete
	// is already in flight for the same post
	ErrConflictingOperation = errors.New("another operation is in flight for this post")

	// ErrInvalidParentState is returned when replying to a post the server has not confirmed
	ErrInvalidParentState = errors.New("parent post has not been confirmed by the server")
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error (%s): %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// IsValidationError checks if error is a validation error
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// IsNotFound checks if error means the local record does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// TransportErrorKind classifies remote failures for state transitions and user messaging
type TransportErrorKind string

const (
	TransportServer             TransportErrorKind = "server"
	TransportNetworkUnreachable TransportErrorKind = "network_unreachable"
	TransportNotMember          TransportErrorKind = "not_member"
	TransportNotFound           TransportErrorKind = "not_found"
	TransportCancelled          TransportErrorKind = "cancelled"
)

// TransportError wraps a failure reported by the remote transport
type TransportError struct {
	Err  error
	Kind TransportErrorKind
	Op   string
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport %s failed (%s)", e.Op, e.Kind)
	}
	return fmt.Sprintf("transport %s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error of the given kind
func NewTransportError(kind TransportErrorKind, op string, err error) error {
	return &TransportError{Kind: kind, Op: op, Err: err}
}

// TransportKind returns the kind of the first TransportError in err's chain
func TransportKind(err error) (TransportErrorKind, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind, true
	}
	return "", false
}

// IsTransportError checks if error came from the remote transport
func IsTransportError(err error) bool {
	_, ok := TransportKind(err)
	return ok
}

// IsNetworkUnreachable checks if the remote could not be reached at all
func IsNetworkUnreachable(err error) bool {
	kind, ok := TransportKind(err)
	return ok && kind == TransportNetworkUnreachable
}

// IsNotMember checks if the user is no longer a member of the channel
func IsNotMember(err error) bool {
	kind, ok := TransportKind(err)
	return ok && kind == TransportNotMember
}

// IsRemoteNotFound checks if the server no longer knows the record
func IsRemoteNotFound(err error) bool {
	kind, ok := TransportKind(err)
	return ok && kind == TransportNotFound
}

// IsCancelled checks if the request was cancelled or superseded
func IsCancelled(err error) bool {
	if kind, ok := TransportKind(err); ok && kind == TransportCancelled {
		return true
	}
	return errors.Is(err, context.Canceled)
}

// UserMessage returns the text the composer should show for err.
// An empty string means the failure should be handled with a silent refresh.
func UserMessage(err error, channel Channel) string {
	switch {
	case err == nil:
		return ""
	case IsCancelled(err):
		return ""
	case IsNotMember(err):
		if channel.Type == ChannelPrivate {
			return "You left this group"
		}
		return "You left this channel"
	case IsNetworkUnreachable(err):
		return "No Internet connectivity detected"
	case IsValidationError(err):
		var valErr *ValidationError
		errors.As(err, &valErr)
		return valErr.Message
	case errors.Is(err, ErrInvalidParentState):
		return "The post you are replying to has not been delivered yet"
	case errors.Is(err, ErrConflictingOperation):
		return "This post is busy, try again in a moment"
	case IsRemoteNotFound(err):
		return "This post no longer exists"
	default:
		return "Something went wrong, please try again"
	}
}
