// Package runtime hosts the session registry and the hub event loop that
// routes everything between connections, the auth layer, and the stores.
package runtime

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/abadojack/whatlanggo"
	"github.com/samber/lo"

	"webchat/commands"
	"webchat/contract"
	"webchat/domain"
	"webchat/domain/event"
	"webchat/errors"
	"webchat/moderation"
	"webchat/observability"
	"webchat/repositories"
	"webchat/services"
)

// historyEndMarker closes the replay a joining client receives, so the UI
// can separate history from live traffic.
const historyEndMarker = "--- end of history ---"

// Hub is the single dispatch point of the room. One goroutine drains the
// command channel and runs every handler to completion, so the registry and
// the roster need no locks and broadcasts are observed by all clients in
// emission order. Store calls happen inline; sessions are always resolved by
// connection id at the point of use, never cached across a store call, so a
// disconnect racing a slow operation is harmless.
type Hub struct {
	log       *slog.Logger
	registry  *Registry
	messages  repositories.IMessageRepository
	processor *commands.Processor
	moderator *moderation.Moderator
	monitor   *observability.Monitor
	commands  chan command
}

func NewHub(log *slog.Logger, registry *Registry, messages repositories.IMessageRepository,
	processor *commands.Processor, moderator *moderation.Moderator,
	monitor *observability.Monitor, bufferSize int) *Hub {
	return &Hub{
		log:       log,
		registry:  registry,
		messages:  messages,
		processor: processor,
		moderator: moderator,
		monitor:   monitor,
		commands:  make(chan command, bufferSize),
	}
}

// Run drains the command channel until the context is canceled.
// It satisfies contract.Worker and is meant to run under the supervisor.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.log.Debug("stopping hub loop")
			return nil
		case cmd := <-h.commands:
			h.handle(ctx, cmd)
		}
	}
}

// OpenSession registers a fresh, unauthenticated connection.
func (h *Hub) OpenSession(ctx context.Context, connectionID string, sink contract.EventSink) {
	h.dispatch(ctx, openSession{id: connectionID, sink: sink})
}

// BindSession attaches a verified identity to the connection. The caller has
// already authenticated against the credential store; the hub owns the
// binding, the announcements, and the history replay.
func (h *Hub) BindSession(ctx context.Context, connectionID string, identity services.Identity) {
	h.dispatch(ctx, bindSession{id: connectionID, identity: identity})
}

// PostMessage routes one normalized inbound payload.
func (h *Hub) PostMessage(ctx context.Context, connectionID string, payload domain.Payload) {
	h.dispatch(ctx, postMessage{id: connectionID, payload: payload})
}

// CloseSession tears down registry state after a disconnect.
func (h *Hub) CloseSession(ctx context.Context, connectionID string) {
	h.dispatch(ctx, closeSession{id: connectionID})
}

// dispatch blocks until the loop accepts the command or the context dies.
// Lifecycle commands must not be dropped: losing a close would leak a ghost
// roster entry.
func (h *Hub) dispatch(ctx context.Context, cmd command) {
	select {
	case h.commands <- cmd:
	case <-ctx.Done():
		h.log.Warn("command discarded during shutdown", "connection_id", cmd.connectionID())
	}
}

func (h *Hub) handle(ctx context.Context, cmd command) {
	switch c := cmd.(type) {
	case openSession:
		h.handleOpen(c)
	case bindSession:
		h.handleBind(ctx, c)
	case postMessage:
		h.handlePost(ctx, c)
	case closeSession:
		h.handleClose(ctx, c)
	}
}

func (h *Hub) handleOpen(c openSession) {
	if err := h.registry.Open(c.id, c.sink); err != nil {
		h.log.Error("session open rejected", "connection_id", c.id, "error", err)
		return
	}
	h.monitor.ConnectionOpened()
	h.log.Debug("session opened", "connection_id", c.id, "live", h.registry.Len())
}

func (h *Hub) handleBind(ctx context.Context, c bindSession) {
	sink, ok := h.registry.Sink(c.id)
	if !ok {
		// The connection disappeared while login was in flight; nothing to do.
		h.log.Debug("bind for a gone connection discarded", "connection_id", c.id)
		return
	}

	if err := h.registry.Bind(c.id, c.identity.Name); err != nil {
		h.monitor.AuthFailure()
		h.send(ctx, sink, event.LoginResponse{Success: false, Msg: errors.UserMessage(err)})
		return
	}

	h.send(ctx, sink, event.LoginResponse{
		Success:  true,
		Username: c.identity.Name,
		Token:    c.identity.Token,
	})

	// A second login of the same account keeps the roster unchanged and is
	// not re-announced.
	if h.registry.SessionCount(c.identity.Name) == 1 {
		h.broadcast(ctx, event.SystemNotice{Text: c.identity.Name + " joined the room"})
	}
	h.broadcast(ctx, event.RosterUpdate{Users: h.registry.Snapshot()})

	h.replay(ctx, sink)
	h.log.Info("session authenticated", "connection_id", c.id, "account", c.identity.Name)
}

// replay pushes the most recent persisted messages, oldest first, to the
// joining connection only.
func (h *Hub) replay(ctx context.Context, sink contract.EventSink) {
	history, err := h.messages.Recent()
	if err != nil {
		h.log.Error("history replay failed", "error", err)
		return
	}
	for _, e := range toChatEvents(history) {
		h.send(ctx, sink, e)
	}
	h.send(ctx, sink, event.SystemNotice{Text: historyEndMarker})
}

func toChatEvents(history []repositories.DiskMessage) []event.ChatMessage {
	return lo.Map(history, func(dm repositories.DiskMessage, _ int) event.ChatMessage {
		return event.ChatMessage{User: dm.Author, Text: dm.Content, Type: dm.Kind, Time: dm.Time}
	})
}

func (h *Hub) handlePost(ctx context.Context, c postMessage) {
	account, ok := h.registry.Resolve(c.id)
	if !ok {
		// Unauthorized payloads are dropped without a response so nothing
		// about internal state leaks to unauthenticated peers.
		h.monitor.PayloadDropped()
		h.log.Debug("payload from unbound connection dropped", "connection_id", c.id)
		return
	}

	if c.payload.Kind == domain.KindText && strings.HasPrefix(c.payload.Content, commands.Prefix) {
		h.handleCommand(ctx, c.id, account, c.payload.Content)
		return
	}

	content := c.payload.Content
	if c.payload.Kind == domain.KindText {
		censored, found := h.moderator.Censor(content)
		if len(found) > 0 {
			info := whatlanggo.Detect(content)
			h.monitor.CensoredMessage()
			h.log.Warn("message censored",
				"account", account,
				"words", len(found),
				"lang", info.Lang.Iso6391())
			content = censored
		}
	}

	now := time.Now()
	record := repositories.DiskMessage{
		Author:  account,
		Content: content,
		Kind:    c.payload.Kind,
		Time:    now.Format(domain.DisplayTime),
		At:      now.UTC(),
	}

	// Persist before broadcast, fail closed: a message nobody could ever
	// replay must not be seen live either.
	if err := h.messages.StoreMessage(record); err != nil {
		h.log.Error("message persistence failed, broadcast suppressed",
			"account", account, "error", err)
		if sink, ok := h.registry.Sink(c.id); ok {
			h.send(ctx, sink, event.SystemNotice{Text: "your message could not be saved, please retry"})
		}
		return
	}
	h.monitor.MessagePersisted()

	h.broadcast(ctx, event.ChatMessage{
		User: account,
		Text: content,
		Type: c.payload.Kind,
		Time: record.Time,
	})
}

// handleCommand delegates to the command processor. Commands are never
// persisted and never broadcast as chat messages.
func (h *Hub) handleCommand(ctx context.Context, connectionID, account, line string) {
	result := h.processor.Execute(ctx, account, line)
	switch result.Scope {
	case commands.ScopeBroadcast:
		h.broadcast(ctx, event.SystemNotice{Text: result.Text})
	default:
		if sink, ok := h.registry.Sink(connectionID); ok {
			h.send(ctx, sink, event.SystemNotice{Text: result.Text})
		}
	}
}

func (h *Hub) handleClose(ctx context.Context, c closeSession) {
	account, last, ok := h.registry.Close(c.id)
	if !ok {
		return
	}
	h.monitor.ConnectionClosed()
	h.log.Debug("session closed", "connection_id", c.id, "live", h.registry.Len())

	if account == "" {
		return
	}
	if last {
		h.broadcast(ctx, event.SystemNotice{Text: account + " left the room"})
	}
	h.broadcast(ctx, event.RosterUpdate{Users: h.registry.Snapshot()})
}

// broadcast fans one event out to every live connection in loop order.
func (h *Hub) broadcast(ctx context.Context, e event.ServerEvent) {
	h.monitor.EventBroadcast()
	for _, sink := range h.registry.Sinks() {
		h.send(ctx, sink, e)
	}
}

func (h *Hub) send(ctx context.Context, sink contract.EventSink, e event.ServerEvent) {
	if err := sink.Consume(ctx, e); err != nil {
		h.log.Warn("event delivery failed", "event", e.EventName(), "error", err)
	}
}
