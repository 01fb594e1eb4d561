package ws

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"webchat/domain/event"
	"webchat/errors"
	"webchat/runtime"
	"webchat/services"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Envelope overhead on top of the configured payload cap.
	readLimitSlack = 4096
)

// Client owns one websocket connection. The read pump feeds the hub, the
// write pump drains the send buffer; the hub talks back through Consume.
// Register and login are resolved here against the auth service, so only
// verified identities ever reach the hub.
type Client struct {
	id              string
	log             *slog.Logger
	conn            *websocket.Conn
	hub             *runtime.Hub
	auth            services.IAuthService
	send            chan []byte
	done            chan struct{}
	maxPayloadBytes int
}

func NewClient(log *slog.Logger, conn *websocket.Conn, hub *runtime.Hub,
	auth services.IAuthService, sendBuffer, maxPayloadBytes int) *Client {
	id := uuid.NewString()
	return &Client{
		id:              id,
		log:             log.With("connection_id", id),
		conn:            conn,
		hub:             hub,
		auth:            auth,
		send:            make(chan []byte, sendBuffer),
		done:            make(chan struct{}),
		maxPayloadBytes: maxPayloadBytes,
	}
}

func (c *Client) ID() string { return c.id }

// Consume implements contract.EventSink. It never blocks the hub loop: when
// the send buffer of a slow consumer is full the event is dropped and the
// connection stays alive. The send channel is never closed, so a broadcast
// for a close still queued behind this connection's teardown lands in the
// buffer or is dropped, it cannot panic the loop.
func (c *Client) Consume(_ context.Context, e event.ServerEvent) error {
	select {
	case <-c.done:
		// The connection is gone, events for it are discarded.
		return nil
	default:
	}

	data, err := EncodeEvent(e)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
	default:
		c.log.Warn("send buffer full, event dropped", "event", e.EventName())
	}
	return nil
}

// ReadPump pumps inbound frames into the hub until the connection dies.
// Closing done unblocks the write pump and marks the sink as dead.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.CloseSession(ctx, c.id)
		close(c.done)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.maxPayloadBytes + readLimitSlack))
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			c.log.Warn("malformed frame dropped", "error", err)
			continue
		}
		c.handle(ctx, env)
	}
}

// WritePump drains the send buffer to the peer and keeps the connection
// alive with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn("write failed", "error", err)
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handle(ctx context.Context, env Envelope) {
	switch env.Event {
	case nameRegister:
		c.handleRegister(ctx, env.Payload)
	case nameLogin:
		c.handleLogin(ctx, env.Payload)
	case event.NameChatMessage:
		c.handleChatMessage(ctx, env.Payload)
	default:
		c.log.Warn("unknown event dropped", "event", env.Event)
	}
}

func (c *Client) handleRegister(ctx context.Context, raw []byte) {
	creds, err := decodeCredentials(raw)
	if err != nil {
		c.log.Warn("malformed register payload", "error", err)
		return
	}
	if err := c.auth.Register(creds.Username, creds.Password); err != nil {
		c.log.Info("registration refused", "username", creds.Username, "error", err)
		c.reply(ctx, event.RegisterResponse{Success: false, Msg: errors.UserMessage(err)})
		return
	}
	c.log.Info("account registered", "username", creds.Username)
	c.reply(ctx, event.RegisterResponse{Success: true, Msg: "registration successful, you can now log in"})
}

func (c *Client) handleLogin(ctx context.Context, raw []byte) {
	creds, err := decodeCredentials(raw)
	if err != nil {
		c.log.Warn("malformed login payload", "error", err)
		return
	}
	identity, err := c.auth.Login(creds.Username, creds.Password)
	if err != nil {
		c.log.Info("login refused", "username", creds.Username, "error", err)
		c.reply(ctx, event.LoginResponse{Success: false, Msg: errors.UserMessage(err)})
		return
	}
	// The hub owns the rest: binding, the login response, announcements and
	// the history replay all happen on the loop.
	c.hub.BindSession(ctx, c.id, identity)
}

func (c *Client) handleChatMessage(ctx context.Context, raw []byte) {
	payload, err := NormalizeChatPayload(raw, c.maxPayloadBytes)
	if err != nil {
		c.log.Warn("chat payload rejected", "error", err)
		c.reply(ctx, event.SystemNotice{Text: errors.UserMessage(err)})
		return
	}
	c.hub.PostMessage(ctx, c.id, payload)
}

// reply short-circuits the hub for events that only concern this connection.
func (c *Client) reply(ctx context.Context, e event.ServerEvent) {
	if err := c.Consume(ctx, e); err != nil {
		c.log.Warn("reply failed", "event", e.EventName(), "error", err)
	}
}
