package ws

import (
	"context"
	"encoding/json"
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
	"webchat/runtime"
	"webchat/services"
)

// The handle path never touches the websocket connection directly, replies
// land in the send buffer. That lets these tests drive a Client without a
// network in the middle.

type fixture struct {
	client *Client
	auth   *mocks.MockIAuthService
	repo   *mocks.MockIMessageRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := slog.Default()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	repo := mocks.NewMockIMessageRepository(ctrl)
	repo.EXPECT().Recent().Return(nil, nil).AnyTimes()

	moderator, err := moderation.NewModerator([]string{"idiot"}, '*')
	require.NoError(t, err)

	hub := runtime.NewHub(log, runtime.NewRegistry(), repo,
		commands.NewProcessor(log, repo, 10), &moderator,
		observability.NewMonitor(log, time.Minute), 16)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hub.Run(ctx) }()

	auth := mocks.NewMockIAuthService(ctrl)
	client := NewClient(log, nil, hub, auth, 16, 1024)
	hub.OpenSession(ctx, client.ID(), client)

	return &fixture{client: client, auth: auth, repo: repo}
}

// nextFrame pops one outbound frame from the send buffer.
func (f *fixture) nextFrame(t *testing.T) Envelope {
	t.Helper()
	select {
	case data := <-f.client.send:
		env, err := DecodeEnvelope(data)
		require.NoError(t, err)
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound frame")
		return Envelope{}
	}
}

func (f *fixture) waitFrame(t *testing.T, eventName string) Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-f.client.send:
			env, err := DecodeEnvelope(data)
			require.NoError(t, err)
			if env.Event == eventName {
				return env
			}
		case <-deadline:
			t.Fatalf("no %q frame received", eventName)
			return Envelope{}
		}
	}
}

func (f *fixture) inbound(t *testing.T, eventName string, payload any) Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return Envelope{Event: eventName, Payload: raw}
}

func TestClient_Register(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms a successful registration", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.auth.EXPECT().Register("alice", "pw").Return(nil).Times(1)

		f.client.handle(ctx, f.inbound(t, "register", credentials{Username: "alice", Password: "pw"}))

		env := f.nextFrame(t)
		req.Equal(event.NameRegisterResponse, env.Event)
		var resp event.RegisterResponse
		req.NoError(json.Unmarshal(env.Payload, &resp))
		req.True(resp.Success)
	})

	t.Run("reports a name collision with the user-facing text", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.auth.EXPECT().Register("alice", "pw").Return(errors.ErrUserAlreadyExists).Times(1)

		f.client.handle(ctx, f.inbound(t, "register", credentials{Username: "alice", Password: "pw"}))

		env := f.nextFrame(t)
		var resp event.RegisterResponse
		req.NoError(json.Unmarshal(env.Payload, &resp))
		req.False(resp.Success)
		req.Equal(errors.UserMessage(errors.ErrUserAlreadyExists), resp.Msg)
	})
}

func TestClient_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("binds a verified identity through the hub", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.auth.EXPECT().
			Login("alice", "pw").
			Return(services.Identity{Name: "alice", Token: "jwt"}, nil).
			Times(1)

		f.client.handle(ctx, f.inbound(t, "login", credentials{Username: "alice", Password: "pw"}))

		env := f.waitFrame(t, event.NameLoginResponse)
		var resp event.LoginResponse
		req.NoError(json.Unmarshal(env.Payload, &resp))
		req.True(resp.Success)
		req.Equal("alice", resp.Username)
		req.Equal("jwt", resp.Token)
	})

	t.Run("rejects bad credentials without touching the hub", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.auth.EXPECT().
			Login("alice", "nope").
			Return(services.Identity{}, errors.ErrInvalidCredentials).
			Times(1)

		f.client.handle(ctx, f.inbound(t, "login", credentials{Username: "alice", Password: "nope"}))

		env := f.nextFrame(t)
		var resp event.LoginResponse
		req.NoError(json.Unmarshal(env.Payload, &resp))
		req.False(resp.Success)
		req.Equal("wrong password", resp.Msg)
	})
}

func TestClient_ChatMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("posts a normalized payload and receives the broadcast", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.auth.EXPECT().
			Login("alice", "pw").
			Return(services.Identity{Name: "alice", Token: "jwt"}, nil).
			Times(1)
		f.repo.EXPECT().StoreMessage(gomock.Any()).Return(nil).Times(1)

		f.client.handle(ctx, f.inbound(t, "login", credentials{Username: "alice", Password: "pw"}))
		f.waitFrame(t, event.NameLoginResponse)

		f.client.handle(ctx, f.inbound(t, event.NameChatMessage, map[string]string{"msg": "hello"}))

		env := f.waitFrame(t, event.NameChatMessage)
		var msg event.ChatMessage
		req.NoError(json.Unmarshal(env.Payload, &msg))
		req.Equal("alice", msg.User)
		req.Equal("hello", msg.Text)
		req.Equal(domain.KindText, msg.Type)
	})

	t.Run("rejects oversized payloads before the hub sees them", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)

		// No StoreMessage expectation: the payload must never reach the store.
		big := map[string]string{"msg": string(make([]byte, 4096))}
		f.client.handle(ctx, f.inbound(t, event.NameChatMessage, big))

		env := f.nextFrame(t)
		req.Equal(event.NameSystem, env.Event)
		var text string
		req.NoError(json.Unmarshal(env.Payload, &text))
		req.Equal(errors.UserMessage(errors.ErrPayloadTooLarge), text)
	})

	t.Run("drops unknown events silently", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)

		f.client.handle(ctx, f.inbound(t, "teleport", "nowhere"))

		select {
		case data := <-f.client.send:
			req.Failf("unexpected outbound frame", "%s", data)
		case <-time.After(50 * time.Millisecond):
		}
	})
}

func TestClient_DisconnectRacingQueuedBroadcast(t *testing.T) {
	req := require.New(t)
	log := slog.Default()
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	repo := mocks.NewMockIMessageRepository(ctrl)
	repo.EXPECT().Recent().Return(nil, nil).AnyTimes()
	repo.EXPECT().StoreMessage(gomock.Any()).Return(nil).AnyTimes()

	moderator, err := moderation.NewModerator([]string{"idiot"}, '*')
	req.NoError(err)
	hub := runtime.NewHub(log, runtime.NewRegistry(), repo,
		commands.NewProcessor(log, repo, 10), &moderator,
		observability.NewMonitor(log, time.Minute), 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	auth := mocks.NewMockIAuthService(ctrl)
	client := NewClient(log, nil, hub, auth, 16, 1024)

	// Queue a full lifecycle before the loop runs, then tear the connection
	// down the way the read pump does on disconnect. When the loop catches
	// up, the bind's login response, announcements and replay all target a
	// sink whose connection is already gone.
	hub.OpenSession(ctx, client.ID(), client)
	hub.BindSession(ctx, client.ID(), services.Identity{Name: "alice", Token: "jwt"})
	hub.CloseSession(ctx, client.ID())
	close(client.done)

	go func() { _ = hub.Run(ctx) }()

	// The loop must survive and keep serving other connections.
	delivered := make(chan struct{})
	var once sync.Once
	witness := mocks.NewMockEventSink(ctrl)
	witness.EXPECT().
		Consume(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, e event.ServerEvent) error {
			if _, ok := e.(event.ChatMessage); ok {
				once.Do(func() { close(delivered) })
			}
			return nil
		}).
		AnyTimes()

	hub.OpenSession(ctx, "witness", witness)
	hub.BindSession(ctx, "witness", services.Identity{Name: "bob", Token: "jwt"})
	hub.PostMessage(ctx, "witness", domain.Payload{Content: "still alive?", Kind: domain.KindText})

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		req.Fail("hub loop stopped broadcasting after a disconnect raced a queued bind")
	}
}
