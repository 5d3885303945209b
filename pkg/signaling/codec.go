package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/LingByte/LingSFU/pkg/protocol"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrMalformedRequest is returned for frames that are not a request envelope
var ErrMalformedRequest = errors.New("malformed request")

// Codec converts between websocket frames and protocol envelopes. JSON rides
// on text frames and msgpack on binary frames; both use the json field names.
type Codec interface {
	FrameType() int
	Encode(m *protocol.Message) ([]byte, error)
	DecodeRequest(frame []byte) (*protocol.Request, error)
	// DecodeData fills v from a request payload. An empty payload leaves v
	// untouched.
	DecodeData(data []byte, v interface{}) error
}

var (
	JSON    Codec = jsonCodec{}
	MsgPack Codec = msgpackCodec{}
)

// CodecFor returns the codec for a websocket frame type
func CodecFor(frameType int) (Codec, bool) {
	switch frameType {
	case websocket.TextMessage:
		return JSON, true
	case websocket.BinaryMessage:
		return MsgPack, true
	default:
		return nil, false
	}
}

type jsonCodec struct{}

type jsonRequest struct {
	Request bool            `json:"request"`
	ID      uint32          `json:"id"`
	Method  string          `json:"method"`
	Data    json.RawMessage `json:"data"`
}

func (jsonCodec) FrameType() int { return websocket.TextMessage }

func (jsonCodec) Encode(m *protocol.Message) ([]byte, error) {
	return json.Marshal(m)
}

func (jsonCodec) DecodeRequest(frame []byte) (*protocol.Request, error) {
	var env jsonRequest
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return checkRequest(env.Request, env.ID, env.Method, env.Data)
}

func (jsonCodec) DecodeData(data []byte, v interface{}) error {
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(data, v)
}

type msgpackCodec struct{}

type msgpackRequest struct {
	Request bool               `json:"request"`
	ID      uint32             `json:"id"`
	Method  string             `json:"method"`
	Data    msgpack.RawMessage `json:"data"`
}

func (msgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (msgpackCodec) Encode(m *protocol.Message) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (msgpackCodec) DecodeRequest(frame []byte) (*protocol.Request, error) {
	var env msgpackRequest
	if err := msgpackDecode(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	return checkRequest(env.Request, env.ID, env.Method, env.Data)
}

func (msgpackCodec) DecodeData(data []byte, v interface{}) error {
	// 0xc0 is msgpack nil
	if len(data) == 0 || (len(data) == 1 && data[0] == 0xc0) {
		return nil
	}
	return msgpackDecode(data, v)
}

func msgpackDecode(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func checkRequest(isRequest bool, id uint32, method string, data []byte) (*protocol.Request, error) {
	if !isRequest {
		return nil, fmt.Errorf("%w: not a request", ErrMalformedRequest)
	}
	if method == "" {
		return nil, fmt.Errorf("%w: missing method", ErrMalformedRequest)
	}
	return &protocol.Request{ID: id, Method: method, Data: data}, nil
}
