package protocol

import (
	"encoding/json"
	"testing"

	errors2 "github.com/LingByte/LingSFU/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResponse_JSON(t *testing.T) {
	b, err := json.Marshal(NewResponse(4, IDResponse{ID: "p1"}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":true,"id":4,"ok":true,"data":{"id":"p1"}}`, string(b))

	empty, err := json.Marshal(NewResponse(5, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"response":true,"id":5,"ok":true,"data":{}}`, string(empty))
}

func TestNewErrorResponse_JSON(t *testing.T) {
	appErr := errors2.NewAppError(errors2.ErrCodeCannotConsume, "cannot consume").WithDetails("producerId", "p1")
	m := NewErrorResponse(6, appErr)
	assert.False(t, m.Succeeded())

	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"response": true,
		"id": 6,
		"ok": false,
		"error": {
			"code": "CANNOT_CONSUME",
			"kind": "NegotiationError",
			"message": "cannot consume",
			"details": {"producerId": "p1"}
		}
	}`, string(b))
}

func TestNewNotification_JSON(t *testing.T) {
	b, err := json.Marshal(NewNotification(NotificationConsumerClosed, ConsumerClosedNotification{
		ConsumerID: "c1",
		ProducerID: "p1",
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"notification":true,"method":"consumerClosed","data":{"consumerId":"c1","producerId":"p1"}}`, string(b))
}

func TestSucceeded(t *testing.T) {
	assert.True(t, NewResponse(1, nil).Succeeded())
	assert.False(t, NewNotification(NotificationNewProducer, nil).Succeeded())
}
