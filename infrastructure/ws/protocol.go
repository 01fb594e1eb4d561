// Package ws is the websocket transport of the chat engine. It owns the JSON
// envelope of the wire protocol and the per-connection read and write pumps;
// everything behind it only ever sees normalized domain values.
package ws

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"webchat/domain"
	"webchat/domain/event"
	"webchat/errors"
)

// Client-to-server event names. Server-to-client names live in domain/event.
const (
	nameRegister = "register"
	nameLogin    = "login"
)

// Envelope is the outer frame of every message in both directions:
// {"event": "...", "payload": ...}. The payload shape depends on the event.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("envelope without event name")
	}
	return env, nil
}

// EncodeEvent wraps a server event into its wire envelope. System notices
// travel as a bare string payload and roster updates as a bare array, the
// shapes the web client renders directly.
func EncodeEvent(e event.ServerEvent) ([]byte, error) {
	var payload any
	switch v := e.(type) {
	case event.SystemNotice:
		payload = v.Text
	case event.RosterUpdate:
		payload = v.Users
	default:
		payload = e
	}
	return json.Marshal(Envelope{Event: e.EventName(), Payload: mustRaw(payload)})
}

func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable with a broken event type, which is a programming error.
		panic(fmt.Sprintf("unencodable event payload: %v", err))
	}
	return data
}

// credentials is the payload of register and login events.
type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func decodeCredentials(raw json.RawMessage) (credentials, error) {
	var c credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return credentials{}, fmt.Errorf("malformed credentials payload: %w", err)
	}
	return c, nil
}

// chatPayload is the object form of a chat message payload. Legacy clients
// send a bare JSON string instead, which normalization also accepts.
type chatPayload struct {
	Msg  string             `json:"msg"`
	Type domain.MessageKind `json:"type"`
}

// NormalizeChatPayload converts any accepted chat payload shape into the one
// tagged variant the hub consumes. Oversized payloads and image payloads that
// do not sniff as an actual image are rejected here, before any persistence
// or broadcast work happens.
func NormalizeChatPayload(raw json.RawMessage, maxBytes int) (domain.Payload, error) {
	if maxBytes > 0 && len(raw) > maxBytes {
		return domain.Payload{}, errors.ErrPayloadTooLarge
	}

	// Legacy shape: the payload is the message text itself.
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return domain.Payload{Content: text, Kind: domain.KindText}, nil
	}

	var obj chatPayload
	if err := json.Unmarshal(raw, &obj); err != nil {
		return domain.Payload{}, fmt.Errorf("malformed chat payload: %w", err)
	}
	if obj.Type == "" {
		obj.Type = domain.KindText
	}
	if !obj.Type.Valid() {
		return domain.Payload{}, fmt.Errorf("unknown message type %q", obj.Type)
	}
	if obj.Type == domain.KindImage {
		if err := validateImageDataURL(obj.Msg); err != nil {
			return domain.Payload{}, err
		}
	}
	return domain.Payload{Content: obj.Msg, Kind: obj.Type}, nil
}

// validateImageDataURL checks that an image payload is a base64 data URL
// whose decoded bytes sniff as an image MIME type. The declared type in the
// URL is ignored, only the sniffed content counts.
func validateImageDataURL(content string) error {
	const marker = ";base64,"
	if !strings.HasPrefix(content, "data:") {
		return errors.ErrInvalidImage
	}
	idx := strings.Index(content, marker)
	if idx < 0 {
		return errors.ErrInvalidImage
	}
	decoded, err := base64.StdEncoding.DecodeString(content[idx+len(marker):])
	if err != nil {
		return errors.ErrInvalidImage
	}
	if !strings.HasPrefix(mimetype.Detect(decoded).String(), "image/") {
		return errors.ErrInvalidImage
	}
	return nil
}
