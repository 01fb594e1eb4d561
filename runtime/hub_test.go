package runtime

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"webchat/commands"
	"webchat/domain"
	"webchat/domain/event"
	"webchat/errors"
	"webchat/mocks"
	"webchat/moderation"
	"webchat/observability"
	"webchat/repositories"
	"webchat/services"
)

// recordingSink collects everything the hub pushes to one connection so the
// tests can assert on exact event sequences. It is mutex-guarded because the
// dispatch test consumes events from the loop goroutine.
type recordingSink struct {
	mu     sync.Mutex
	events []event.ServerEvent
}

func (s *recordingSink) Consume(_ context.Context, e event.ServerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) all() []event.ServerEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.ServerEvent(nil), s.events...)
}

func (s *recordingSink) chatMessages() []event.ChatMessage {
	var out []event.ChatMessage
	for _, e := range s.all() {
		if cm, ok := e.(event.ChatMessage); ok {
			out = append(out, cm)
		}
	}
	return out
}

func (s *recordingSink) notices() []string {
	var out []string
	for _, e := range s.all() {
		if n, ok := e.(event.SystemNotice); ok {
			out = append(out, n.Text)
		}
	}
	return out
}

func newTestHub(t *testing.T, messages repositories.IMessageRepository) *Hub {
	t.Helper()
	log := slog.Default()

	moderator, err := moderation.NewModerator([]string{"idiot"}, '*')
	require.NoError(t, err)

	processor := commands.NewProcessor(log, messages, 10)
	monitor := observability.NewMonitor(log, time.Minute)
	return NewHub(log, NewRegistry(), messages, processor, &moderator, monitor, 16)
}

func identity(name string) services.Identity {
	return services.Identity{Name: name, Token: "token-" + name}
}

func TestHub_LoginFlow(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockIMessageRepository(ctrl)
	mockRepo.EXPECT().Recent().Return([]repositories.DiskMessage{
		{Author: "bob", Content: "hello", Kind: domain.KindText, Time: "12:00"},
		{Author: "carol", Content: "hi bob", Kind: domain.KindText, Time: "12:01"},
	}, nil).AnyTimes()

	h := newTestHub(t, mockRepo)

	t.Run("successful bind announces, updates the roster and replays history", func(t *testing.T) {
		req := require.New(t)
		sink := &recordingSink{}

		h.handle(ctx, openSession{id: "c1", sink: sink})
		h.handle(ctx, bindSession{id: "c1", identity: identity("alice")})

		req.NotEmpty(sink.all())
		login, ok := sink.all()[0].(event.LoginResponse)
		req.True(ok, "first event must be the login response")
		req.True(login.Success)
		req.Equal("alice", login.Username)
		req.Equal("token-alice", login.Token)

		req.Contains(sink.notices(), "alice joined the room")
		req.Contains(sink.notices(), historyEndMarker)

		history := sink.chatMessages()
		req.Len(history, 2)
		req.Equal("hello", history[0].Text)
		req.Equal("hi bob", history[1].Text, "replay is oldest first")

		// The roster broadcast reached the joiner too.
		var roster event.RosterUpdate
		for _, e := range sink.all() {
			if r, ok := e.(event.RosterUpdate); ok {
				roster = r
			}
		}
		req.Equal([]string{"alice"}, roster.Users)
	})

	t.Run("second session of the same account is not re-announced", func(t *testing.T) {
		req := require.New(t)
		sink := &recordingSink{}

		h.handle(ctx, openSession{id: "c2", sink: sink})
		h.handle(ctx, bindSession{id: "c2", identity: identity("alice")})

		req.NotContains(sink.notices(), "alice joined the room")
		req.Contains(sink.notices(), historyEndMarker)
	})

	t.Run("rebinding an authenticated connection fails", func(t *testing.T) {
		req := require.New(t)

		h.handle(ctx, bindSession{id: "c2", identity: identity("mallory")})

		sink, ok := h.registry.Sink("c2")
		req.True(ok)
		events := sink.(*recordingSink).all()
		login, ok := events[len(events)-1].(event.LoginResponse)
		req.True(ok)
		req.False(login.Success)
		req.Equal(errors.UserMessage(errors.ErrAlreadyAuthenticated), login.Msg)
	})
}

func TestHub_PostMessage(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Hub, *mocks.MockIMessageRepository, *recordingSink, *recordingSink) {
		ctrl := gomock.NewController(t)
		t.Cleanup(ctrl.Finish)

		mockRepo := mocks.NewMockIMessageRepository(ctrl)
		mockRepo.EXPECT().Recent().Return(nil, nil).AnyTimes()

		h := newTestHub(t, mockRepo)
		alice, watcher := &recordingSink{}, &recordingSink{}
		h.handle(ctx, openSession{id: "c1", sink: alice})
		h.handle(ctx, bindSession{id: "c1", identity: identity("alice")})
		// watcher never authenticates but still receives broadcasts.
		h.handle(ctx, openSession{id: "c2", sink: watcher})
		return h, mockRepo, alice, watcher
	}

	t.Run("persists then broadcasts to every connection", func(t *testing.T) {
		req := require.New(t)
		h, mockRepo, alice, watcher := setup(t)

		var stored repositories.DiskMessage
		mockRepo.EXPECT().
			StoreMessage(gomock.Any()).
			DoAndReturn(func(dm repositories.DiskMessage) error {
				stored = dm
				return nil
			}).
			Times(1)

		h.handle(ctx, postMessage{id: "c1", payload: domain.Payload{Content: "lunch?", Kind: domain.KindText}})

		req.Equal("alice", stored.Author)
		req.Equal("lunch?", stored.Content)
		req.False(stored.At.IsZero())

		for _, sink := range []*recordingSink{alice, watcher} {
			msgs := sink.chatMessages()
			req.Len(msgs, 1)
			req.Equal("alice", msgs[0].User)
			req.Equal("lunch?", msgs[0].Text)
		}
	})

	t.Run("censors banned words before persisting", func(t *testing.T) {
		req := require.New(t)
		h, mockRepo, alice, _ := setup(t)

		var stored repositories.DiskMessage
		mockRepo.EXPECT().
			StoreMessage(gomock.Any()).
			DoAndReturn(func(dm repositories.DiskMessage) error {
				stored = dm
				return nil
			}).
			Times(1)

		h.handle(ctx, postMessage{id: "c1", payload: domain.Payload{Content: "what an idiot", Kind: domain.KindText}})

		req.NotContains(stored.Content, "idiot")
		req.Contains(stored.Content, "*****")
		req.Equal(stored.Content, alice.chatMessages()[0].Text, "the broadcast carries the censored text")
	})

	t.Run("suppresses the broadcast when persistence fails", func(t *testing.T) {
		req := require.New(t)
		h, mockRepo, alice, watcher := setup(t)

		mockRepo.EXPECT().StoreMessage(gomock.Any()).Return(errors.ErrStore).Times(1)

		h.handle(ctx, postMessage{id: "c1", payload: domain.Payload{Content: "lost", Kind: domain.KindText}})

		req.Empty(alice.chatMessages())
		req.Empty(watcher.chatMessages())
		req.Contains(alice.notices(), "your message could not be saved, please retry")
		req.NotContains(watcher.notices(), "your message could not be saved, please retry")
	})

	t.Run("drops payloads from unauthenticated connections", func(t *testing.T) {
		req := require.New(t)
		h, _, _, watcher := setup(t)

		// No StoreMessage expectation: a call would fail the test.
		h.handle(ctx, postMessage{id: "c2", payload: domain.Payload{Content: "sneaky", Kind: domain.KindText}})
		h.handle(ctx, postMessage{id: "ghost", payload: domain.Payload{Content: "sneaky", Kind: domain.KindText}})

		req.Empty(watcher.chatMessages())
	})

	t.Run("routes slash commands without persisting them", func(t *testing.T) {
		req := require.New(t)
		h, _, alice, watcher := setup(t)

		h.handle(ctx, postMessage{id: "c1", payload: domain.Payload{Content: "/help", Kind: domain.KindText}})

		req.Empty(alice.chatMessages())
		found := false
		for _, n := range alice.notices() {
			if len(n) > 0 && n != historyEndMarker {
				found = true
			}
		}
		req.True(found, "the command output reaches the sender")
		req.NotContains(watcher.notices(), alice.notices()[len(alice.notices())-1])
	})

	t.Run("broadcasts dice rolls to the room", func(t *testing.T) {
		req := require.New(t)
		h, _, alice, watcher := setup(t)

		h.handle(ctx, postMessage{id: "c1", payload: domain.Payload{Content: "/roll", Kind: domain.KindText}})

		req.Empty(alice.chatMessages())
		req.Regexp(`^🎲 alice rolled \d{1,3}$`, alice.notices()[len(alice.notices())-1])
		req.Regexp(`^🎲 alice rolled \d{1,3}$`, watcher.notices()[len(watcher.notices())-1])
	})
}

func TestHub_CloseSession(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockIMessageRepository(ctrl)
	mockRepo.EXPECT().Recent().Return(nil, nil).AnyTimes()

	h := newTestHub(t, mockRepo)

	alice1, alice2, watcher := &recordingSink{}, &recordingSink{}, &recordingSink{}
	h.handle(ctx, openSession{id: "c1", sink: alice1})
	h.handle(ctx, bindSession{id: "c1", identity: identity("alice")})
	h.handle(ctx, openSession{id: "c2", sink: alice2})
	h.handle(ctx, bindSession{id: "c2", identity: identity("alice")})
	h.handle(ctx, openSession{id: "c3", sink: watcher})

	t.Run("no departure notice while a session remains", func(t *testing.T) {
		req := require.New(t)
		h.handle(ctx, closeSession{id: "c1"})
		req.NotContains(watcher.notices(), "alice left the room")
	})

	t.Run("last session announces the departure and shrinks the roster", func(t *testing.T) {
		req := require.New(t)
		h.handle(ctx, closeSession{id: "c2"})
		req.Contains(watcher.notices(), "alice left the room")

		var roster event.RosterUpdate
		for _, e := range watcher.all() {
			if r, ok := e.(event.RosterUpdate); ok {
				roster = r
			}
		}
		req.Empty(roster.Users)
	})

	t.Run("closing an unknown connection is a no-op", func(t *testing.T) {
		before := len(watcher.all())
		h.handle(ctx, closeSession{id: "ghost"})
		require.Len(t, watcher.all(), before)
	})
}

func TestHub_RunDispatch(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockIMessageRepository(ctrl)
	mockRepo.EXPECT().Recent().Return(nil, nil).AnyTimes()
	mockRepo.EXPECT().StoreMessage(gomock.Any()).Return(nil).AnyTimes()

	h := newTestHub(t, mockRepo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = h.Run(ctx)
		close(done)
	}()

	watcher := &recordingSink{}
	h.OpenSession(ctx, "c0", watcher)
	h.OpenSession(ctx, "c1", &recordingSink{})
	h.BindSession(ctx, "c1", identity("alice"))
	h.PostMessage(ctx, "c1", domain.Payload{Content: "hello", Kind: domain.KindText})
	h.CloseSession(ctx, "c1")

	// The loop owns all state; observe progress through the watcher sink.
	req.Eventually(func() bool {
		for _, n := range watcher.notices() {
			if n == "alice left the room" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
	req.Len(watcher.chatMessages(), 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("hub loop did not stop on context cancellation")
	}
}
