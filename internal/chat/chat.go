// Package chat runs the memory-augmented conversation loop: each turn
// searches the user's memories, answers with them as context and stores
// the exchange.
package chat

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/ui"
)

// ErrInput is returned by Run when the input stream fails.
var ErrInput = errors.New("failed to read input")

// Apologies stand in for a response the generator could not produce.
const (
	ApologyEmpty = "I'm sorry, I couldn't formulate a response.."
	ApologyError = "I'm sorry, there was an error generating a response."
)

// MemoryStore is the memory service the loop reads from and writes to.
// memory.Service implements it.
type MemoryStore interface {
	Search(ctx context.Context, query, userID string, limit int) ([]memory.Item, error)
	Add(ctx context.Context, messages []memory.Message, userID string) ([]memory.Item, error)
	GetAll(ctx context.Context, userID string) ([]memory.Item, error)
	DeleteAll(ctx context.Context, userID string) (string, error)
}

// Generator produces the assistant's answer.
type Generator interface {
	Generate(ctx context.Context, systemContext, userQuery string) (string, error)
}

// Deps are the collaborators a Loop is built from.
type Deps struct {
	Store     MemoryStore
	Generator Generator
	UI        ui.UI
	Observer  *observe.Observer
	Events    *EventBus

	UserID  string
	Limit   int
	Timeout time.Duration // per external call; zero means none

	// Warmup runs once before the first prompt, typically embedding a
	// throwaway string. Optional.
	Warmup func(ctx context.Context) error
	// WarmupLabel names what is being warmed in diagnostics.
	WarmupLabel string
}

type line struct {
	text string
	err  error
}

// Loop owns one chat session: a fixed user and an input stream.
type Loop struct {
	deps Deps
	in   io.ReadCloser

	lines chan line
	done  chan struct{}

	readerOnce sync.Once
	closeOnce  sync.Once
	closeErr   error
}

func New(deps Deps, in io.ReadCloser) *Loop {
	if deps.UI == nil {
		deps.UI = ui.SilentUI{}
	}
	if deps.Observer == nil {
		deps.Observer = observe.Discard()
	}
	if deps.Limit <= 0 {
		deps.Limit = 3
	}
	return &Loop{
		deps:  deps,
		in:    in,
		lines: make(chan line),
		done:  make(chan struct{}),
	}
}

// Run reads and handles input until quit/exit, end of input or ctx is
// cancelled, which all return nil. A failing input stream returns ErrInput.
// The input is closed on every path.
func (l *Loop) Run(ctx context.Context) error {
	defer l.Close()
	l.readerOnce.Do(func() { go l.read() })

	l.warmup(ctx)

	user := l.deps.UserID
	l.deps.UI.Info(fmt.Sprintf("Chat session started for user: %s. Type 'quit' to exit.", user))
	l.deps.Events.PublishWithData(EventSessionStart, user, nil)

	err := l.loop(ctx)

	l.deps.UI.Info(fmt.Sprintf("Chat session ended for user: %s.", user))
	l.deps.Events.PublishWithData(EventSessionEnd, user, map[string]any{"error": err})

	if err != nil {
		l.deps.Observer.Log().Error().Err(err).Str("user", user).Msg("chat session aborted")
	}
	return err
}

func (l *Loop) loop(ctx context.Context) error {
	for {
		l.deps.UI.Prompt("You: ")
		text, err := l.readLine(ctx)
		if err != nil {
			return graceful(err)
		}

		input := strings.TrimSpace(text)
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "quit", "exit":
			return nil
		case "reset":
			if err := l.reset(ctx); err != nil {
				return graceful(err)
			}
		case "list":
			l.list(ctx)
		case "inspect":
			l.inspect(ctx)
		default:
			l.turn(ctx, input)
		}
	}
}

// graceful maps the ordinary ways a session ends to nil.
func graceful(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the input stream. Safe to call more than once.
func (l *Loop) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		if l.in != nil {
			l.closeErr = l.in.Close()
		}
	})
	return l.closeErr
}

// read feeds lines from the input to the loop so a pending read does not
// block cancellation.
func (l *Loop) read() {
	defer close(l.lines)
	r := bufio.NewReader(l.in)
	for {
		text, err := r.ReadString('\n')
		if text != "" {
			select {
			case l.lines <- line{text: text}:
			case <-l.done:
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			select {
			case l.lines <- line{err: fmt.Errorf("%w: %v", ErrInput, err)}:
			case <-l.done:
			}
			return
		}
	}
}

func (l *Loop) readLine(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case ln, ok := <-l.lines:
		if !ok {
			return "", io.EOF
		}
		return ln.text, ln.err
	}
}
