package sfu

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	errors2 "github.com/LingByte/LingSFU/pkg/errors"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
	"github.com/LingByte/LingSFU/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToAppError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code errors2.ErrorCode
		kind errors2.Kind
	}{
		{"connect twice", ErrTransportAlreadyConnected, errors2.ErrCodeTransportAlreadyConnected, errors2.KindStateError},
		{"wrapped not connected", fmt.Errorf("produce: %w", ErrTransportNotConnected), errors2.ErrCodeTransportNotConnected, errors2.KindStateError},
		{"resume twice", fmt.Errorf("%w: consumer resumed -> resumed", models.ErrInvalidTransition), errors2.ErrCodeInvalidState, errors2.KindStateError},
		{"incompatible", ErrCannotConsume, errors2.ErrCodeCannotConsume, errors2.KindNegotiationError},
		{"unknown producer", ErrProducerNotFound, errors2.ErrCodeProducerNotFound, errors2.KindNegotiationError},
		{"no worker", ErrNoWorkerAvailable, errors2.ErrCodeInsufficientResources, errors2.KindResourceExhausted},
		{"dead worker room", ErrRoomUnusable, errors2.ErrCodeWorkerDied, errors2.KindEngineFailure},
		{"timeout", ErrTimeout, errors2.ErrCodeConnectionTimeout, errors2.KindTimeout},
		{"bad input", ErrInvalidParameters, errors2.ErrCodeInvalidInput, errors2.KindInvalidInput},
		{"unclassified", errors.New("boom"), errors2.ErrCodeInternal, errors2.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := ToAppError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.kind, appErr.Kind)
		})
	}
	assert.Nil(t, ToAppError(nil))

	app := errors2.NewAppError(errors2.ErrCodeRoomClosed, "closed")
	assert.Same(t, app, ToAppError(fmt.Errorf("wrap: %w", app)))
}

func TestEngineError(t *testing.T) {
	tests := []struct {
		in   error
		want error
	}{
		{mediaengine.ErrUnknownProducer, ErrProducerNotFound},
		{mediaengine.ErrCannotConsume, ErrCannotConsume},
		{mediaengine.ErrAlreadyConnected, ErrTransportAlreadyConnected},
		{mediaengine.ErrUnsupportedCodec, ErrInvalidParameters},
		{mediaengine.ErrWorkerDied, ErrWorkerDied},
		{context.DeadlineExceeded, ErrTimeout},
		{errors.New("socket"), ErrEngineFailure},
	}
	for _, tt := range tests {
		err := engineError(tt.in)
		assert.ErrorIs(t, err, tt.want)
		assert.ErrorIs(t, err, tt.in)
	}
	assert.NoError(t, engineError(nil))
}

type closer struct{ closed atomic.Bool }

func TestCallEngine_DiscardsLateResult(t *testing.T) {
	late := &closer{}
	_, err := callEngine(context.Background(), 10*time.Millisecond, func(ctx context.Context) (*closer, error) {
		time.Sleep(30 * time.Millisecond)
		return late, nil
	}, func(c *closer) { c.closed.Store(true) })
	require.ErrorIs(t, err, ErrTimeout)
	assert.Eventually(t, late.closed.Load, time.Second, 5*time.Millisecond)

	onTime := &closer{}
	got, err := callEngine(context.Background(), time.Second, func(ctx context.Context) (*closer, error) {
		return onTime, nil
	}, func(c *closer) { c.closed.Store(true) })
	require.NoError(t, err)
	assert.Same(t, onTime, got)
	assert.False(t, onTime.closed.Load())
}

func TestCallEngine_DeadlineBoundsCallerWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := callEngineErr(context.Background(), 20*time.Millisecond, func(ctx context.Context) error {
		// ignores ctx like a stuck engine
		<-release
		return nil
	})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestCallEngine_EngineError(t *testing.T) {
	_, err := callEngine(context.Background(), time.Second, func(ctx context.Context) (*closer, error) {
		return nil, errors.New("socket")
	}, nil)
	assert.ErrorIs(t, err, ErrEngineFailure)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestCallEngine_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := callEngineErr(ctx, time.Second, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}
