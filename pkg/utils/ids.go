package utils

import (
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid"
)

const peerIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ_-"

// NewPeerID returns a short url-safe id for a signaling connection
func NewPeerID() string {
	id, err := gonanoid.Generate(peerIDAlphabet, 20)
	if err != nil {
		return uuid.NewString()
	}
	return id
}

// NewObjectID returns an id for routers, transports, producers and consumers
func NewObjectID() string {
	return uuid.NewString()
}
