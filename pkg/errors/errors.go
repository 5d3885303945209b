package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents an error code
type ErrorCode string

// Kind groups error codes by how the request boundary handles them
type Kind string

const (
	KindStateError        Kind = "StateError"
	KindNegotiationError  Kind = "NegotiationError"
	KindResourceExhausted Kind = "ResourceExhausted"
	KindEngineFailure     Kind = "EngineFailure"
	KindTimeout           Kind = "Timeout"
	KindInvalidInput      Kind = "InvalidInput"
	KindNotFound          Kind = "NotFound"
	KindInternal          Kind = "Internal"
)

const (
	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"

	// Room errors
	ErrCodeRoomNotFound ErrorCode = "ROOM_NOT_FOUND"
	ErrCodeRoomFull     ErrorCode = "ROOM_FULL"
	ErrCodeRoomClosed   ErrorCode = "ROOM_CLOSED"

	// Peer errors
	ErrCodePeerNotFound  ErrorCode = "PEER_NOT_FOUND"
	ErrCodePeerClosed    ErrorCode = "PEER_CLOSED"
	ErrCodeNotJoined     ErrorCode = "NOT_JOINED"
	ErrCodeAlreadyJoined ErrorCode = "ALREADY_JOINED"
	ErrCodeServerFull    ErrorCode = "SERVER_FULL"

	// Transport errors
	ErrCodeTransportNotFound         ErrorCode = "TRANSPORT_NOT_FOUND"
	ErrCodeTransportExists           ErrorCode = "TRANSPORT_EXISTS"
	ErrCodeTransportNotConnected     ErrorCode = "TRANSPORT_NOT_CONNECTED"
	ErrCodeTransportAlreadyConnected ErrorCode = "TRANSPORT_ALREADY_CONNECTED"
	ErrCodeTransportClosed           ErrorCode = "TRANSPORT_CLOSED"

	// Producer / consumer errors
	ErrCodeProducerNotFound ErrorCode = "PRODUCER_NOT_FOUND"
	ErrCodeProducerClosed   ErrorCode = "PRODUCER_CLOSED"
	ErrCodeConsumerNotFound ErrorCode = "CONSUMER_NOT_FOUND"
	ErrCodeConsumerClosed   ErrorCode = "CONSUMER_CLOSED"
	ErrCodeInvalidState     ErrorCode = "INVALID_STATE"
	ErrCodeCannotConsume    ErrorCode = "CANNOT_CONSUME"

	// Engine errors
	ErrCodeEngineFailure     ErrorCode = "ENGINE_FAILURE"
	ErrCodeWorkerDied        ErrorCode = "WORKER_DIED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"

	// Resource errors
	ErrCodeInsufficientResources ErrorCode = "INSUFFICIENT_RESOURCES"

	// Protocol errors
	ErrCodeInvalidMessage ErrorCode = "INVALID_MESSAGE"
	ErrCodeUnknownMethod  ErrorCode = "UNKNOWN_METHOD"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
)

// AppError represents an application error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches AppErrors by code so package-level templates work with errors.Is
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails returns a copy of the error carrying an extra detail
func (e *AppError) WithDetails(key string, value interface{}) *AppError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

// WithCause returns a copy of the error wrapping cause
func (e *AppError) WithCause(cause error) *AppError {
	cp := *e
	cp.Cause = cause
	return &cp
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Kind:    KindOf(code),
		Message: message,
	}
}

// NewAppErrorf creates a new application error with formatting
func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return NewAppError(code, fmt.Sprintf(format, args...))
}

// KindOf returns the kind for an error code
func KindOf(code ErrorCode) Kind {
	switch code {
	case ErrCodeTransportExists, ErrCodeTransportNotConnected, ErrCodeTransportAlreadyConnected,
		ErrCodeTransportClosed, ErrCodeProducerClosed, ErrCodeConsumerClosed, ErrCodeInvalidState,
		ErrCodePeerClosed, ErrCodeNotJoined, ErrCodeAlreadyJoined, ErrCodeRoomClosed:
		return KindStateError
	case ErrCodeCannotConsume, ErrCodeProducerNotFound:
		return KindNegotiationError
	case ErrCodeInsufficientResources, ErrCodeRoomFull, ErrCodeServerFull:
		return KindResourceExhausted
	case ErrCodeEngineFailure, ErrCodeWorkerDied:
		return KindEngineFailure
	case ErrCodeConnectionTimeout:
		return KindTimeout
	case ErrCodeInvalidInput, ErrCodeInvalidMessage, ErrCodeUnknownMethod, ErrCodeInvalidConfig:
		return KindInvalidInput
	case ErrCodeNotFound, ErrCodeRoomNotFound, ErrCodePeerNotFound, ErrCodeTransportNotFound, ErrCodeConsumerNotFound:
		return KindNotFound
	default:
		return KindInternal
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to AppError, following wrapped errors
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// WrapError wraps a standard error as an AppError
func WrapError(code ErrorCode, err error) *AppError {
	return &AppError{
		Code:    code,
		Kind:    KindOf(code),
		Message: err.Error(),
		Cause:   err,
	}
}
