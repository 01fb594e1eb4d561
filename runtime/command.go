package runtime

import (
	"webchat/contract"
	"webchat/domain"
	"webchat/services"
)

// command is one unit of work for the hub loop. Every mutation of the
// session registry and every broadcast goes through exactly one of these,
// which is what gives the loop its ordering guarantee.
type command interface {
	connectionID() string
}

type openSession struct {
	id   string
	sink contract.EventSink
}

func (c openSession) connectionID() string { return c.id }

type bindSession struct {
	id       string
	identity services.Identity
}

func (c bindSession) connectionID() string { return c.id }

type postMessage struct {
	id      string
	payload domain.Payload
}

func (c postMessage) connectionID() string { return c.id }

type closeSession struct {
	id string
}

func (c closeSession) connectionID() string { return c.id }
