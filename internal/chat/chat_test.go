package chat

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/ui"
)

type fakeStore struct {
	calls   []string
	items   []memory.Item
	added   [][]memory.Message
	queries []string
	wipes   int

	searchErr error
	addErr    error
	listErr   error
	wipeErr   error
}

func (f *fakeStore) Search(_ context.Context, query, userID string, limit int) ([]memory.Item, error) {
	f.calls = append(f.calls, "search")
	f.queries = append(f.queries, query)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func (f *fakeStore) Add(_ context.Context, messages []memory.Message, userID string) ([]memory.Item, error) {
	f.calls = append(f.calls, "add")
	f.added = append(f.added, messages)
	if f.addErr != nil {
		return nil, f.addErr
	}
	return []memory.Item{{ID: "new", Memory: messages[0].Content, UserID: userID}}, nil
}

func (f *fakeStore) GetAll(context.Context, string) ([]memory.Item, error) {
	f.calls = append(f.calls, "getall")
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.items, nil
}

func (f *fakeStore) DeleteAll(context.Context, string) (string, error) {
	f.calls = append(f.calls, "deleteall")
	if f.wipeErr != nil {
		return "", f.wipeErr
	}
	f.wipes++
	return memory.DeleteAllMessage, nil
}

type fakeGenerator struct {
	store    *fakeStore
	contexts []string
	answer   string
	err      error
	block    bool
}

func (g *fakeGenerator) Generate(ctx context.Context, systemContext, userQuery string) (string, error) {
	if g.store != nil {
		g.store.calls = append(g.store.calls, "generate")
	}
	g.contexts = append(g.contexts, systemContext)
	if g.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if g.err != nil {
		return "", g.err
	}
	if g.answer != "" {
		return g.answer, nil
	}
	return "echo: " + userQuery, nil
}

type closeCounter struct {
	io.Reader
	closes atomic.Int32
}

func (c *closeCounter) Close() error {
	c.closes.Add(1)
	return nil
}

func input(lines ...string) *closeCounter {
	return &closeCounter{Reader: strings.NewReader(strings.Join(lines, "\n") + "\n")}
}

func newLoop(store *fakeStore, gen *fakeGenerator, in io.ReadCloser) (*Loop, *bytes.Buffer) {
	var out bytes.Buffer
	gen.store = store
	l := New(Deps{
		Store:     store,
		Generator: gen,
		UI:        ui.Plain{Out: &out},
		UserID:    "tester",
		Limit:     3,
		Timeout:   time.Second,
	}, in)
	return l, &out
}

func countCalls(calls []string, name string) int {
	n := 0
	for _, c := range calls {
		if c == name {
			n++
		}
	}
	return n
}

func TestLoop_WhitespaceMakesNoCalls(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{}
	in := input("", "   ", "\t", " \t ")
	l, _ := newLoop(store, gen, in)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(store.calls) != 0 {
		t.Errorf("Expected no external calls, got %v", store.calls)
	}
	if in.closes.Load() != 1 {
		t.Errorf("Expected input closed once, got %d", in.closes.Load())
	}
}

func TestLoop_TurnOrderAndPersist(t *testing.T) {
	store := &fakeStore{items: []memory.Item{{Memory: "likes tea"}}}
	gen := &fakeGenerator{}
	l, out := newLoop(store, gen, input("  What do I like?  ", "quit"))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	expected := []string{"search", "generate", "add"}
	if strings.Join(store.calls, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected calls %v, got %v", expected, store.calls)
	}
	if store.queries[0] != "What do I like?" {
		t.Errorf("Expected trimmed original query, got %q", store.queries[0])
	}
	if gen.contexts[0] != "Context from previous interactions:\n- likes tea" {
		t.Errorf("Unexpected context: %q", gen.contexts[0])
	}
	if len(store.added) != 1 {
		t.Fatalf("Expected one add, got %d", len(store.added))
	}
	turn := store.added[0]
	if len(turn) != 2 ||
		turn[0].Role != memory.RoleUser || turn[0].Content != "What do I like?" ||
		turn[1].Role != memory.RoleAssistant || turn[1].Content != "echo: What do I like?" {
		t.Errorf("Unexpected turn payload: %+v", turn)
	}
	if !strings.Contains(out.String(), "AI: echo: What do I like?\n") {
		t.Errorf("Expected AI line in output, got %q", out.String())
	}
}

func TestLoop_OneAddPerTurn(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{}
	l, _ := newLoop(store, gen, input("first", "second", "third"))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(store.added) != 3 {
		t.Fatalf("Expected 3 adds, got %d", len(store.added))
	}
	for i, want := range []string{"first", "second", "third"} {
		if store.added[i][0].Content != want || store.added[i][1].Content != "echo: "+want {
			t.Errorf("Turn %d: unexpected payload %+v", i, store.added[i])
		}
	}
}

func TestLoop_SearchFailureStillGenerates(t *testing.T) {
	store := &fakeStore{searchErr: errors.New("redis down")}
	gen := &fakeGenerator{}
	l, out := newLoop(store, gen, input("hello"))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(gen.contexts) != 1 || gen.contexts[0] != NoContext {
		t.Errorf("Expected generator called with empty-context sentinel, got %v", gen.contexts)
	}
	if len(store.added) != 1 {
		t.Errorf("Expected turn to be persisted, got %d adds", len(store.added))
	}
	if !strings.Contains(out.String(), "AI: echo: hello") {
		t.Errorf("Expected response despite search failure, got %q", out.String())
	}
}

func TestLoop_GeneratorFailures(t *testing.T) {
	tests := []struct {
		name string
		gen  *fakeGenerator
		want string
	}{
		{"error", &fakeGenerator{err: errors.New("rate limited")}, ApologyError},
		{"blank", &fakeGenerator{answer: "   \n"}, ApologyEmpty},
		{"timeout", &fakeGenerator{block: true}, ApologyError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{}
			l, out := newLoop(store, tt.gen, input("hi"))
			l.deps.Timeout = 20 * time.Millisecond

			if err := l.Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if !strings.Contains(out.String(), "AI: "+tt.want+"\n") {
				t.Errorf("Expected apology %q, got %q", tt.want, out.String())
			}
			if len(store.added) != 1 || store.added[0][1].Content != tt.want {
				t.Errorf("Expected apology persisted, got %+v", store.added)
			}
		})
	}
}

func TestLoop_AddFailureContinues(t *testing.T) {
	store := &fakeStore{addErr: errors.New("disk full")}
	gen := &fakeGenerator{}
	l, _ := newLoop(store, gen, input("one", "two"))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if countCalls(store.calls, "generate") != 2 {
		t.Errorf("Expected both turns handled, got %v", store.calls)
	}
}

func TestLoop_CommandsCaseInsensitive(t *testing.T) {
	for _, cmd := range []string{"reset", "RESET", "Reset", "  rEsEt  "} {
		t.Run(cmd, func(t *testing.T) {
			store := &fakeStore{}
			gen := &fakeGenerator{}
			l, out := newLoop(store, gen, input(cmd, "Y"))

			if err := l.Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if store.wipes != 1 {
				t.Errorf("Expected exactly one wipe, got %d", store.wipes)
			}
			if countCalls(store.calls, "generate") != 0 {
				t.Errorf("Command must not be treated as a turn: %v", store.calls)
			}
			if !strings.Contains(out.String(), "Enter y to confirm memory wipe for user: tester: ") {
				t.Errorf("Expected confirmation prompt, got %q", out.String())
			}
			if !strings.Contains(out.String(), "Memories wiped for user tester: "+memory.DeleteAllMessage) {
				t.Errorf("Expected wipe message, got %q", out.String())
			}
		})
	}
}

func TestLoop_CommandsExactMatch(t *testing.T) {
	store := &fakeStore{}
	gen := &fakeGenerator{}
	l, _ := newLoop(store, gen, input("reset please", "quitting", "lists"))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if store.wipes != 0 || countCalls(store.calls, "getall") != 0 {
		t.Errorf("Partial matches must not run commands: %v", store.calls)
	}
	if countCalls(store.calls, "generate") != 3 {
		t.Errorf("Expected three turns, got %v", store.calls)
	}
}

func TestLoop_ResetDeclined(t *testing.T) {
	for _, answer := range []string{"n", "yes", "", "no way"} {
		t.Run(answer, func(t *testing.T) {
			store := &fakeStore{}
			gen := &fakeGenerator{}
			l, out := newLoop(store, gen, input("reset", answer, "quit"))

			if err := l.Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if countCalls(store.calls, "deleteall") != 0 {
				t.Errorf("Wipe must not run on %q", answer)
			}
			if !strings.Contains(out.String(), "Memory wipe cancelled.") {
				t.Errorf("Expected cancellation notice, got %q", out.String())
			}
		})
	}
}

func TestLoop_ResetEOFDuringConfirmation(t *testing.T) {
	store := &fakeStore{}
	in := &closeCounter{Reader: strings.NewReader("reset\n")}
	l, _ := newLoop(store, &fakeGenerator{}, in)

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Expected graceful end, got %v", err)
	}
	if store.wipes != 0 {
		t.Error("Wipe must not run without confirmation")
	}
}

func TestLoop_WipeFailureContinues(t *testing.T) {
	store := &fakeStore{wipeErr: errors.New("permission denied")}
	gen := &fakeGenerator{}
	l, out := newLoop(store, gen, input("reset", "y", "hello"))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Contains(out.String(), "Memories wiped") {
		t.Errorf("Wipe message must not print on failure: %q", out.String())
	}
	if countCalls(store.calls, "generate") != 1 {
		t.Errorf("Loop should continue after wipe failure: %v", store.calls)
	}
}

func TestLoop_ListAndInspect(t *testing.T) {
	at := time.Date(2025, 5, 4, 10, 30, 0, 0, time.UTC)
	store := &fakeStore{items: []memory.Item{
		{ID: "1", Memory: "likes tea", UserID: "tester", CreatedAt: at, UpdatedAt: at},
	}}
	gen := &fakeGenerator{}
	l, out := newLoop(store, gen, input("LIST", "inspect"))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "Memories listed for user tester:\n\nlikes tea\n  Timestamp: 2025-05-04T10:30:00.000Z\n") {
		t.Errorf("Unexpected list output: %q", got)
	}
	if !strings.Contains(got, "Memories listed for user tester: [\n  {\n    \"id\": \"1\",") {
		t.Errorf("Unexpected inspect output: %q", got)
	}
	if countCalls(store.calls, "generate") != 0 {
		t.Errorf("list/inspect must not generate: %v", store.calls)
	}
}

func TestLoop_ListFailureShowsEmpty(t *testing.T) {
	store := &fakeStore{listErr: errors.New("timeout")}
	l, out := newLoop(store, &fakeGenerator{}, input("list", "inspect"))

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), NoMemories) {
		t.Errorf("Expected empty overview, got %q", out.String())
	}
	if !strings.Contains(out.String(), "Memories listed for user tester: []") {
		t.Errorf("Expected empty dump, got %q", out.String())
	}
}

func TestLoop_QuitAndExit(t *testing.T) {
	for _, cmd := range []string{"quit", "exit", "QUIT", "Exit"} {
		t.Run(cmd, func(t *testing.T) {
			store := &fakeStore{}
			in := input(cmd, "this line is never handled")
			l, out := newLoop(store, &fakeGenerator{}, in)

			if err := l.Run(context.Background()); err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if err := l.Close(); err != nil {
				t.Errorf("Second Close failed: %v", err)
			}
			if in.closes.Load() != 1 {
				t.Errorf("Expected input closed exactly once, got %d", in.closes.Load())
			}
			if len(store.calls) != 0 {
				t.Errorf("Expected no calls after %s, got %v", cmd, store.calls)
			}
			if !strings.HasSuffix(out.String(), "Chat session ended for user: tester.\n") {
				t.Errorf("Expected end banner, got %q", out.String())
			}
		})
	}
}

func TestLoop_Banners(t *testing.T) {
	l, out := newLoop(&fakeStore{}, &fakeGenerator{}, input("quit"))
	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Chat session started for user: tester. Type 'quit' to exit.\nYou: ") {
		t.Errorf("Unexpected opening: %q", out.String())
	}
}

func TestLoop_InputError(t *testing.T) {
	boom := errors.New("device gone")
	in := &closeCounter{Reader: io.MultiReader(strings.NewReader("hello\n"), iotest.ErrReader(boom))}
	store := &fakeStore{}
	l, _ := newLoop(store, &fakeGenerator{}, in)

	err := l.Run(context.Background())
	if !errors.Is(err, ErrInput) {
		t.Fatalf("Expected ErrInput, got %v", err)
	}
	if len(store.added) != 1 {
		t.Errorf("Expected the line before the failure to be handled, got %d adds", len(store.added))
	}
	if in.closes.Load() != 1 {
		t.Errorf("Expected input closed once, got %d", in.closes.Load())
	}
}

func TestLoop_CancelWhileReading(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	l, _ := newLoop(&fakeStore{}, &fakeGenerator{}, pr)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected graceful end on cancel, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestLoop_Warmup(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		calls := 0
		l, _ := newLoop(&fakeStore{}, &fakeGenerator{}, input("quit"))
		l.deps.Warmup = func(context.Context) error {
			calls++
			return nil
		}
		if err := l.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if calls != 1 {
			t.Errorf("Expected one warmup, got %d", calls)
		}
	})

	t.Run("FailureIsNotFatal", func(t *testing.T) {
		store := &fakeStore{}
		l, _ := newLoop(store, &fakeGenerator{}, input("hello"))
		l.deps.Warmup = func(context.Context) error {
			return errors.New("model not pulled")
		}
		if err := l.Run(context.Background()); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if len(store.added) != 1 {
			t.Errorf("Expected session to continue after warmup failure")
		}
	})
}

func TestLoop_Events(t *testing.T) {
	bus := NewEventBus()
	var steps []string
	var types []EventType
	bus.Subscribe(EventStepTimed, func(e Event) {
		steps = append(steps, e.Data["step"].(string))
	})
	bus.SubscribeAll(func(e Event) {
		types = append(types, e.Type)
	})

	store := &fakeStore{searchErr: errors.New("down")}
	l, _ := newLoop(store, &fakeGenerator{}, input("hello", "reset", "y"))
	l.deps.Events = bus

	if err := l.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.Join(steps, ",") != "search,generate,add,wipe" {
		t.Errorf("Unexpected timed steps: %v", steps)
	}
	want := []EventType{EventSessionStart, EventStepTimed, EventStepFailed, EventStepTimed, EventStepTimed, EventMemoriesAdded, EventStepTimed, EventMemoriesWiped, EventSessionEnd}
	if len(types) != len(want) {
		t.Fatalf("Expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], types[i])
		}
	}
}
