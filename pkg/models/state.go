package models

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when an object is asked to move to a
// state its current state does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

type TransportRole string

const (
	RoleProducer TransportRole = "producer"
	RoleConsumer TransportRole = "consumer"
)

// RoleFromSender maps the signaling `sender` flag to a transport role
func RoleFromSender(sender bool) TransportRole {
	if sender {
		return RoleProducer
	}
	return RoleConsumer
}

type TransportState string

const (
	TransportStateCreated    TransportState = "created"
	TransportStateConnecting TransportState = "connecting"
	TransportStateConnected  TransportState = "connected"
	TransportStateClosed     TransportState = "closed"
)

type ProducerState string

const (
	ProducerStateActive ProducerState = "active"
	ProducerStatePaused ProducerState = "paused"
	ProducerStateClosed ProducerState = "closed"
)

type ConsumerState string

const (
	ConsumerStatePaused  ConsumerState = "paused"
	ConsumerStateResumed ConsumerState = "resumed"
	ConsumerStateClosed  ConsumerState = "closed"
)

type WorkerState string

const (
	WorkerStateAlive WorkerState = "alive"
	WorkerStateDead  WorkerState = "dead"
)

func transitionError(object string, from, to interface{}) error {
	return fmt.Errorf("%w: %s %v -> %v", ErrInvalidTransition, object, from, to)
}
