// Package domain contains core concepts of the chat system.
// This file defines Message values and their kinds.
// Messages are immutable once created by the router.
package domain

import "time"

// MessageKind distinguishes plain text from embedded-image payloads.
type MessageKind string

const (
	KindText  MessageKind = "text"
	KindImage MessageKind = "image"
)

// Valid reports whether the kind is one of the known variants.
func (k MessageKind) Valid() bool {
	return k == KindText || k == KindImage
}

// Message represents an immutable chat event as broadcast to clients.
// Seq is assigned by the history store, Time is the display timestamp
// shown next to the bubble (hour:minute, as the web client renders it).
type Message struct {
	Seq     uint64
	Sender  string
	Content string
	Kind    MessageKind
	Time    string
	At      time.Time
}

// DisplayTime is the wire format for message timestamps.
const DisplayTime = "15:04"

// Payload is the normalized inbound chat payload. The transport boundary
// converts every accepted shape (legacy bare string, {msg,type} object)
// into this single tagged variant so no internal component branches on
// payload shape.
type Payload struct {
	Content string
	Kind    MessageKind
}
