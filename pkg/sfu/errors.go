package sfu

import (
	"context"
	"errors"
	"fmt"

	errors2 "github.com/LingByte/LingSFU/pkg/errors"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/models"
)

var (
	ErrRoomNotFound              = errors.New("room not found")
	ErrRoomFull                  = errors.New("room is full")
	ErrRoomUnusable              = errors.New("room is hosted on a dead worker")
	ErrPeerNotFound              = errors.New("peer not found")
	ErrPeerClosed                = errors.New("peer is closed")
	ErrServerFull                = errors.New("server is full")
	ErrNoWorkerAvailable         = errors.New("no eligible media worker")
	ErrWorkerDied                = errors.New("media worker died")
	ErrTransportExists           = errors.New("transport of this role already exists")
	ErrTransportNotFound         = errors.New("transport not found")
	ErrTransportNotConnected     = errors.New("transport not connected")
	ErrTransportAlreadyConnected = errors.New("transport already connected")
	ErrProducerNotFound          = errors.New("producer not found")
	ErrConsumerNotFound          = errors.New("consumer not found")
	ErrCannotConsume             = errors.New("rtp capabilities cannot consume producer")
	ErrInvalidParameters         = errors.New("invalid parameters")
	ErrTimeout                   = errors.New("operation timed out")
	ErrEngineFailure             = errors.New("media engine failure")
)

var errorCodes = []struct {
	err  error
	code errors2.ErrorCode
}{
	{ErrRoomNotFound, errors2.ErrCodeRoomNotFound},
	{ErrRoomFull, errors2.ErrCodeRoomFull},
	{ErrRoomUnusable, errors2.ErrCodeWorkerDied},
	{ErrPeerNotFound, errors2.ErrCodeNotJoined},
	{ErrPeerClosed, errors2.ErrCodePeerClosed},
	{ErrServerFull, errors2.ErrCodeServerFull},
	{ErrNoWorkerAvailable, errors2.ErrCodeInsufficientResources},
	{ErrWorkerDied, errors2.ErrCodeWorkerDied},
	{ErrTransportExists, errors2.ErrCodeTransportExists},
	{ErrTransportNotFound, errors2.ErrCodeTransportNotFound},
	{ErrTransportNotConnected, errors2.ErrCodeTransportNotConnected},
	{ErrTransportAlreadyConnected, errors2.ErrCodeTransportAlreadyConnected},
	{ErrProducerNotFound, errors2.ErrCodeProducerNotFound},
	{ErrConsumerNotFound, errors2.ErrCodeConsumerNotFound},
	{ErrCannotConsume, errors2.ErrCodeCannotConsume},
	{ErrInvalidParameters, errors2.ErrCodeInvalidInput},
	{ErrTimeout, errors2.ErrCodeConnectionTimeout},
	{models.ErrInvalidTransition, errors2.ErrCodeInvalidState},
	{ErrEngineFailure, errors2.ErrCodeEngineFailure},
}

// ToAppError converts a session error into the structured form sent to peers
func ToAppError(err error) *errors2.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := errors2.AsAppError(err); ok {
		return appErr
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return errors2.NewAppError(e.code, err.Error()).WithCause(err)
		}
	}
	return errors2.WrapError(errors2.ErrCodeInternal, err)
}

// engineError classifies an error returned by a media engine call
func engineError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, mediaengine.ErrUnknownProducer):
		return fmt.Errorf("%w: %w", ErrProducerNotFound, err)
	case errors.Is(err, mediaengine.ErrCannotConsume):
		return fmt.Errorf("%w: %w", ErrCannotConsume, err)
	case errors.Is(err, mediaengine.ErrAlreadyConnected):
		return fmt.Errorf("%w: %w", ErrTransportAlreadyConnected, err)
	case errors.Is(err, mediaengine.ErrInvalidParameters), errors.Is(err, mediaengine.ErrUnsupportedCodec):
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	case errors.Is(err, mediaengine.ErrWorkerDied):
		return fmt.Errorf("%w: %w", ErrWorkerDied, err)
	default:
		return fmt.Errorf("%w: %w", ErrEngineFailure, err)
	}
}
