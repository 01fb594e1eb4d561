// Package event defines the server-to-client events of the chat protocol.
// Event names and payload shapes mirror the wire protocol; the transport
// layer owns the actual JSON envelope encoding.
package event

import "webchat/domain"

// Wire names of the server-to-client events.
const (
	NameChatMessage      = "chat message"
	NameSystem           = "system"
	NameUserList         = "update user list"
	NameRegisterResponse = "register_response"
	NameLoginResponse    = "login_response"
)

// ServerEvent is anything the hub can push to a connected client.
type ServerEvent interface {
	EventName() string
}

// ChatMessage is a broadcast chat message, verbatim including sender identity.
type ChatMessage struct {
	User string             `json:"user"`
	Text string             `json:"text"`
	Type domain.MessageKind `json:"type"`
	Time string             `json:"time"`
}

func (ChatMessage) EventName() string { return NameChatMessage }

// SystemNotice carries announcements and command results. On the wire the
// payload is a bare string, matching the protocol clients expect.
type SystemNotice struct {
	Text string
}

func (SystemNotice) EventName() string { return NameSystem }

// RosterUpdate is the full set of online account names, recomputed on every
// join and leave, never patched incrementally.
type RosterUpdate struct {
	Users []string
}

func (RosterUpdate) EventName() string { return NameUserList }

// RegisterResponse answers a register attempt on the issuing connection only.
type RegisterResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
}

func (RegisterResponse) EventName() string { return NameRegisterResponse }

// LoginResponse answers a login attempt on the issuing connection only.
// Token is a signed session token the client may keep for reconnects.
type LoginResponse struct {
	Success  bool   `json:"success"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`
	Msg      string `json:"msg,omitempty"`
}

func (LoginResponse) EventName() string { return NameLoginResponse }
