package moderation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestModerator_Censor(t *testing.T) {
	req := require.New(t)

	moderator, err := NewModerator([]string{"idiot", "loser"}, '*')
	req.NoError(err)

	t.Run("replaces a plain match and reports it", func(t *testing.T) {
		censored, found := moderator.Censor("what an idiot move")
		require.Equal(t, "what an ***** move", censored)
		require.Equal(t, []string{"idiot"}, found)
	})

	t.Run("leaves clean text untouched", func(t *testing.T) {
		censored, found := moderator.Censor("hello everyone")
		require.Equal(t, "hello everyone", censored)
		require.Empty(t, found)
	})

	t.Run("defeats leet speak substitutions", func(t *testing.T) {
		censored, _ := moderator.Censor("you 1d10t")
		require.NotContains(t, strings.ToLower(censored), "1d10t")
		require.Contains(t, censored, "*")
	})

	t.Run("matches across punctuation noise", func(t *testing.T) {
		censored, found := moderator.Censor("i.d.i.o.t")
		require.NotEqual(t, "i.d.i.o.t", censored)
		require.Len(t, found, 1)
	})
}

func TestLoadCensoredWords(t *testing.T) {
	req := require.New(t)

	data, err := LoadCensoredWords()
	req.NoError(err)
	req.NotEmpty(data.Words)
	req.Contains(data.Languages, "en")
	req.Contains(data.Languages, "fr")

	// Lists share entries; the loaded set must be unique.
	seen := make(map[string]struct{})
	for _, w := range data.Words {
		_, dup := seen[w]
		req.False(dup, "duplicate word %q", w)
		seen[w] = struct{}{}
	}
}
