// Package commands implements the stateless slash-command handlers invoked
// by the message router. Commands are never persisted and never broadcast as
// chat messages; their results are either echoed to the sender or announced
// to the whole room as system notices.
package commands

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"webchat/repositories"
)

// Prefix marks a text payload as a command.
const Prefix = "/"

// Scope says who receives the command result.
type Scope int

const (
	// ScopeSelf delivers the result to the issuing connection only.
	ScopeSelf Scope = iota
	// ScopeBroadcast announces the result to every connected client.
	ScopeBroadcast
)

// Result is the outcome of one command execution.
type Result struct {
	Scope Scope
	Text  string
}

// Searcher is the slice of the history store /search needs.
type Searcher interface {
	Search(ctx context.Context, term string, limit int) ([]repositories.DiskMessage, error)
}

type Processor struct {
	log         *slog.Logger
	searcher    Searcher
	searchLimit int
}

func NewProcessor(log *slog.Logger, searcher Searcher, searchLimit int) *Processor {
	return &Processor{log: log, searcher: searcher, searchLimit: searchLimit}
}

// Execute runs a single command line for the given sender.
// Randomness is uniform and non-cryptographic; reproducibility is not needed.
func (p *Processor) Execute(ctx context.Context, sender, command string) Result {
	name, args, _ := strings.Cut(strings.TrimSpace(command), " ")

	switch name {
	case "/roll":
		return Result{
			Scope: ScopeBroadcast,
			Text:  fmt.Sprintf("🎲 %s rolled %d", sender, rand.IntN(100)+1),
		}
	case "/coin":
		side := "heads"
		if rand.IntN(2) == 1 {
			side = "tails"
		}
		return Result{
			Scope: ScopeBroadcast,
			Text:  fmt.Sprintf("🪙 %s flipped %s", sender, side),
		}
	case "/help":
		return Result{
			Scope: ScopeSelf,
			Text:  "available commands: /roll (dice), /coin (coin flip), /search <term>, /help",
		}
	case "/search":
		return p.search(ctx, args)
	default:
		return Result{
			Scope: ScopeSelf,
			Text:  "❌ unknown command, type /help",
		}
	}
}

func (p *Processor) search(ctx context.Context, term string) Result {
	term = strings.TrimSpace(term)
	if term == "" {
		return Result{Scope: ScopeSelf, Text: "usage: /search <term>"}
	}

	matches, err := p.searcher.Search(ctx, term, p.searchLimit)
	if err != nil {
		p.log.Error("history search failed", "term", term, "error", err)
		return Result{Scope: ScopeSelf, Text: "search is unavailable right now"}
	}
	if len(matches) == 0 {
		return Result{Scope: ScopeSelf, Text: fmt.Sprintf("no messages matching %q", term)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d result(s) for %q:", len(matches), term)
	for _, dm := range matches {
		fmt.Fprintf(&b, "\n[%s] %s: %s", dm.Time, dm.Author, dm.Content)
	}
	return Result{Scope: ScopeSelf, Text: b.String()}
}
