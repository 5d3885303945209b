// Package protocol defines the signaling envelopes and payloads exchanged
// with browsers. Field names are shared by the JSON and msgpack codecs.
package protocol

import (
	errors2 "github.com/LingByte/LingSFU/pkg/errors"
	"github.com/LingByte/LingSFU/pkg/mediaengine"
)

// Request methods
const (
	MethodJoin                  = "join"
	MethodGetRtpCapabilities    = "getRtpCapabilities"
	MethodCreateWebRtcTransport = "createWebRtcTransport"
	MethodTransportConnect      = "transportConnect"
	MethodTransportProduce      = "transportProduce"
	MethodTransportRecvConnect  = "transportRecvConnect"
	MethodConsume               = "consume"
	MethodConsumerResume        = "consumerResume"
	MethodConsumerPause         = "consumerPause"
	MethodConsumerClose         = "consumerClose"
	MethodProducerPause         = "producerPause"
	MethodProducerResume        = "producerResume"
	MethodProducerClose         = "producerClose"
	MethodTransportClose        = "transportClose"
	MethodGetProducers          = "getProducers"
)

// Notification methods
const (
	NotificationNewProducer     = "newProducer"
	NotificationConsumerClosed  = "consumerClosed"
	NotificationTransportClosed = "transportClosed"
)

// Message is the outbound envelope for responses and notifications, and
// the inbound envelope for requests. Exactly one of Request, Response or
// Notification is set.
type Message struct {
	Request      bool        `json:"request,omitempty"`
	Response     bool        `json:"response,omitempty"`
	Notification bool        `json:"notification,omitempty"`
	ID           uint32      `json:"id,omitempty"`
	Method       string      `json:"method,omitempty"`
	OK           *bool       `json:"ok,omitempty"`
	Data         interface{} `json:"data,omitempty"`
	Error        *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody is the error member of a failed response
type ErrorBody struct {
	Code    string                 `json:"code"`
	Kind    string                 `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Request is a decoded request whose payload is still in the wire format
// of the codec that read it.
type Request struct {
	ID     uint32
	Method string
	Data   []byte
}

func NewResponse(id uint32, data interface{}) *Message {
	if data == nil {
		data = Empty{}
	}
	return &Message{Response: true, ID: id, OK: boolPtr(true), Data: data}
}

func NewErrorResponse(id uint32, err *errors2.AppError) *Message {
	return &Message{
		Response: true,
		ID:       id,
		OK:       boolPtr(false),
		Error: &ErrorBody{
			Code:    string(err.Code),
			Kind:    string(err.Kind),
			Message: err.Message,
			Details: err.Details,
		},
	}
}

// Succeeded reports whether a response carries ok=true
func (m *Message) Succeeded() bool {
	return m.OK != nil && *m.OK
}

func boolPtr(b bool) *bool { return &b }

func NewNotification(method string, data interface{}) *Message {
	return &Message{Notification: true, Method: method, Data: data}
}

type JoinRequest struct {
	RoomID string `json:"roomId"`
}

type ProducerInfo struct {
	ProducerID string                `json:"producerId"`
	PeerID     string                `json:"peerId"`
	Kind       mediaengine.MediaKind `json:"kind"`
}

type JoinResponse struct {
	PeerID    string         `json:"peerId"`
	RoomID    string         `json:"roomId"`
	Producers []ProducerInfo `json:"producers"`
}

type RtpCapabilitiesResponse struct {
	RtpCapabilities mediaengine.RtpCapabilities `json:"rtpCapabilities"`
}

type CreateTransportRequest struct {
	Sender bool `json:"sender"`
}

type TransportResponse struct {
	ID             string                     `json:"id"`
	IceParameters  mediaengine.IceParameters  `json:"iceParameters"`
	IceCandidates  []mediaengine.IceCandidate `json:"iceCandidates"`
	DtlsParameters mediaengine.DtlsParameters `json:"dtlsParameters"`
}

type ConnectRequest struct {
	DtlsParameters mediaengine.DtlsParameters `json:"dtlsParameters"`
	IceParameters  *mediaengine.IceParameters `json:"iceParameters,omitempty"`
	IceCandidates  []mediaengine.IceCandidate `json:"iceCandidates,omitempty"`
}

type ProduceRequest struct {
	Kind          mediaengine.MediaKind     `json:"kind"`
	RtpParameters mediaengine.RtpParameters `json:"rtpParameters"`
	AppData       map[string]interface{}    `json:"appData,omitempty"`
}

type IDResponse struct {
	ID string `json:"id"`
}

type ConsumeRequest struct {
	ProducerID      string                      `json:"producerId"`
	RtpCapabilities mediaengine.RtpCapabilities `json:"rtpCapabilities"`
}

type ConsumeResponse struct {
	ID            string                    `json:"id"`
	ProducerID    string                    `json:"producerId"`
	Kind          mediaengine.MediaKind     `json:"kind"`
	RtpParameters mediaengine.RtpParameters `json:"rtpParameters"`
}

type ConsumerRequest struct {
	ConsumerID string `json:"consumerId"`
}

type ProducerRequest struct {
	ProducerID string `json:"producerId"`
}

type TransportCloseRequest struct {
	Sender bool `json:"sender"`
}

type ProducersResponse struct {
	Producers []ProducerInfo `json:"producers"`
}

// NewProducerNotification announces a producer to the other room members
type NewProducerNotification = ProducerInfo

type ConsumerClosedNotification struct {
	ConsumerID string `json:"consumerId"`
	ProducerID string `json:"producerId"`
}

type TransportClosedNotification struct {
	TransportID string `json:"transportId"`
}

// Empty is the payload of acknowledgements
type Empty struct{}
