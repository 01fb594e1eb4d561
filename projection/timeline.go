// Package projection builds local timelines from observed events.
// Handles ordering and projections for client-side rendering.
// Does not emit events or interact with UI directly.
package projection

import (
	"webchat/domain"
	"webchat/domain/event"
)

// Timeline holds a simple local timeline
type Timeline struct {
	Owner    string
	Messages []domain.Message
}

func NewTimeline(owner string) *Timeline {
	return &Timeline{
		Owner:    owner,
		Messages: nil,
	}
}

// Consume folds one server event into the timeline. Non-message events are
// ignored; the roster and system notices have their own rendering paths.
func (t *Timeline) Consume(e event.ServerEvent) {
	switch evt := e.(type) {
	case event.ChatMessage:
		t.Messages = append(t.Messages, fromEvent(evt))
	}
}

// Mine reports whether the timeline owner authored the message, so the UI
// can align own messages differently.
func (t *Timeline) Mine(m domain.Message) bool {
	return t.Owner != "" && m.Sender == t.Owner
}

func (t *Timeline) Len() int {
	return len(t.Messages)
}

func fromEvent(event event.ChatMessage) domain.Message {
	return domain.Message{
		Sender:  event.User,
		Content: event.Text,
		Kind:    event.Type,
		Time:    event.Time,
	}
}
