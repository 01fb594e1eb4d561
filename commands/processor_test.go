package commands

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"webchat/mocks"
	"webchat/repositories"

	"go.uber.org/mock/gomock"
)

var rollPattern = regexp.MustCompile(`^🎲 alice rolled (\d{1,3})$`)

func TestProcessor_Roll(t *testing.T) {
	req := require.New(t)
	p := NewProcessor(slog.Default(), nil, 10)

	// The roll is random, run it enough times to catch range violations.
	for i := 0; i < 200; i++ {
		res := p.Execute(context.Background(), "alice", "/roll")
		req.Equal(ScopeBroadcast, res.Scope)

		m := rollPattern.FindStringSubmatch(res.Text)
		req.NotNil(m, "unexpected roll text %q", res.Text)
		n, err := strconv.Atoi(m[1])
		req.NoError(err)
		req.GreaterOrEqual(n, 1)
		req.LessOrEqual(n, 100)
	}
}

func TestProcessor_Coin(t *testing.T) {
	req := require.New(t)
	p := NewProcessor(slog.Default(), nil, 10)

	sides := make(map[string]bool)
	for i := 0; i < 200; i++ {
		res := p.Execute(context.Background(), "alice", "/coin")
		req.Equal(ScopeBroadcast, res.Scope)
		req.Regexp(`^🪙 alice flipped (heads|tails)$`, res.Text)
		sides[res.Text] = true
	}
	// Both outcomes show up over 200 flips.
	req.Len(sides, 2)
}

func TestProcessor_HelpAndUnknown(t *testing.T) {
	req := require.New(t)
	p := NewProcessor(slog.Default(), nil, 10)

	help := p.Execute(context.Background(), "alice", "/help")
	req.Equal(ScopeSelf, help.Scope)
	req.Contains(help.Text, "/roll")
	req.Contains(help.Text, "/coin")
	req.Contains(help.Text, "/search")

	unknown := p.Execute(context.Background(), "alice", "/teleport")
	req.Equal(ScopeSelf, unknown.Scope)
	req.Contains(unknown.Text, "unknown command")
}

func TestProcessor_Search(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockRepo := mocks.NewMockIMessageRepository(ctrl)
	p := NewProcessor(slog.Default(), mockRepo, 10)

	t.Run("returns matching history lines to the sender only", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().
			Search(gomock.Any(), "deploy", 10).
			Return([]repositories.DiskMessage{
				{Author: "bob", Content: "deploy done", Time: "12:30"},
			}, nil).
			Times(1)

		res := p.Execute(context.Background(), "alice", "/search deploy")
		req.Equal(ScopeSelf, res.Scope)
		req.Contains(res.Text, "bob: deploy done")
	})

	t.Run("reports empty result sets", func(t *testing.T) {
		req := require.New(t)
		mockRepo.EXPECT().
			Search(gomock.Any(), "ghost", 10).
			Return(nil, nil).
			Times(1)

		res := p.Execute(context.Background(), "alice", "/search ghost")
		req.Equal(ScopeSelf, res.Scope)
		req.Contains(res.Text, "no messages matching")
	})

	t.Run("rejects a bare /search", func(t *testing.T) {
		req := require.New(t)
		res := p.Execute(context.Background(), "alice", "/search")
		req.Equal(ScopeSelf, res.Scope)
		req.Contains(res.Text, "usage")
	})
}
