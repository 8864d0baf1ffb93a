package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/felixgeelhaar/recall/internal/chat"
	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/credential"
	"github.com/felixgeelhaar/recall/internal/memory"
	"github.com/felixgeelhaar/recall/internal/observe"
	"github.com/felixgeelhaar/recall/internal/provider"
	"github.com/felixgeelhaar/recall/internal/store"
)

func testApp(t *testing.T) *app {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.UserID = "tester"
	cfg.DataDir = dir
	cfg.VectorStore.Provider = "sqlite"
	cfg.UseLLM("stub")
	cfg.UseEmbedder("stub")

	local, err := store.NewSQLiteStore(cfg.LocalDBPath())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	stub := provider.NewStubProvider()
	a := &app{
		cfg:        cfg,
		obs:        observe.Discard(),
		local:      local,
		llm:        stub,
		service:    memory.NewService(sharedBackend{local}, stub, memory.WithDimensions(stub.Dims)),
		embedLabel: "stub",
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestRunner(t *testing.T) {
	a := testApp(t)
	in := io.NopCloser(strings.NewReader("I like green tea\nlist\nquit\n"))
	var out, diag bytes.Buffer

	r := NewRunner(a, in, &out, &diag)
	r.perf = true
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Chat session started for user: tester. Type 'quit' to exit.",
		"AI: Noted: I like green tea",
		"Memories listed for user tester:",
		"I like green tea\n  Timestamp: ",
		"Chat session ended for user: tester.",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, got)
		}
	}
	if !strings.Contains(diag.String(), "[perf] search: ") || !strings.Contains(diag.String(), "[perf] add: ") {
		t.Errorf("Expected perf lines, got %q", diag.String())
	}

	sessions, err := a.local.ListSessions("tester")
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(sessions))
	}
	if sessions[0].Status != store.SessionEnded {
		t.Errorf("Expected status '%s', got '%s'", store.SessionEnded, sessions[0].Status)
	}
	if sessions[0].Metadata["store"] != "sqlite" {
		t.Errorf("Expected store metadata, got %v", sessions[0].Metadata)
	}
}

func TestRunner_RemembersAcrossSessions(t *testing.T) {
	a := testApp(t)

	first := NewRunner(a, io.NopCloser(strings.NewReader("My cat is called Miso\n")), io.Discard, io.Discard)
	if err := first.Run(context.Background()); err != nil {
		t.Fatalf("First run failed: %v", err)
	}

	hits, err := a.service.Search(context.Background(), "what is my cat called", "tester", 3)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(hits) == 0 || !strings.Contains(hits[0].Memory, "Miso") {
		t.Errorf("Expected the cat to be remembered, got %+v", hits)
	}
}

func TestCLI_Root(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range RootCmd.Commands() {
		names[cmd.Name()] = true
	}
	for _, want := range []string{"chat", "memories", "config", "sessions"} {
		if !names[want] {
			t.Errorf("Expected %s command to be registered", want)
		}
	}
}

func TestCLI_Subcommands(t *testing.T) {
	counts := map[string]int{"memories": 3, "config": 2, "sessions": 1}
	for _, cmd := range RootCmd.Commands() {
		if want, ok := counts[cmd.Name()]; ok && len(cmd.Commands()) != want {
			t.Errorf("Expected %d subcommands for %s, got %d", want, cmd.Name(), len(cmd.Commands()))
		}
	}
}

func TestBuildLLM(t *testing.T) {
	cfg := config.Default()

	cfg.UseLLM("stub")
	p, err := buildLLM(cfg)
	if err != nil || p.Name() != "stub" {
		t.Errorf("Expected stub provider, got %v (%v)", p, err)
	}

	cfg.UseLLM("openai")
	if _, err := buildLLM(cfg); err == nil {
		t.Error("Expected error for openai without key")
	}

	cfg.LLM.Provider = "watson"
	if _, err := buildLLM(cfg); !errors.Is(err, config.ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}
}

func TestBuildEmbedder(t *testing.T) {
	cfg := config.Default()

	cfg.UseEmbedder("stub")
	cfg.Embedder.Dims = 32
	e, err := buildEmbedder(cfg)
	if err != nil {
		t.Fatalf("buildEmbedder failed: %v", err)
	}
	vec, _ := e.Embed(context.Background(), "hello")
	if len(vec) != 32 {
		t.Errorf("Expected 32 dims, got %d", len(vec))
	}

	cfg.UseEmbedder("ollama")
	if _, err := buildEmbedder(cfg); err != nil {
		t.Errorf("Ollama embedder should build without a server: %v", err)
	}

	cfg.Embedder.Provider = "bert"
	if _, err := buildEmbedder(cfg); !errors.Is(err, config.ErrUnknownProvider) {
		t.Errorf("Expected ErrUnknownProvider, got %v", err)
	}
}

func TestBuildBackend(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	local, err := openLocalStore(cfg)
	if err != nil {
		t.Fatalf("openLocalStore failed: %v", err)
	}
	defer local.Close()

	t.Run("SharedSQLite", func(t *testing.T) {
		cfg.VectorStore.Provider = "sqlite"
		b, err := buildBackend(ctx, cfg, local)
		if err != nil {
			t.Fatalf("buildBackend failed: %v", err)
		}
		if _, ok := b.(sharedBackend); !ok {
			t.Errorf("Expected the local store to be shared, got %T", b)
		}
		// Closing the shared backend must leave the local store usable.
		b.Close()
		if err := local.SetConfig("k", "v"); err != nil {
			t.Errorf("Local store closed by backend: %v", err)
		}
	})

	t.Run("SeparateSQLite", func(t *testing.T) {
		cfg.VectorStore.Provider = "sqlite"
		cfg.VectorStore.SQLite.Path = filepath.Join(t.TempDir(), "memories.db")
		defer func() { cfg.VectorStore.SQLite.Path = "" }()
		b, err := buildBackend(ctx, cfg, local)
		if err != nil {
			t.Fatalf("buildBackend failed: %v", err)
		}
		defer b.Close()
		if _, ok := b.(*store.SQLiteStore); !ok {
			t.Errorf("Expected a separate sqlite store, got %T", b)
		}
	})

	t.Run("Memory", func(t *testing.T) {
		cfg.VectorStore.Provider = "memory"
		b, err := buildBackend(ctx, cfg, local)
		if err != nil {
			t.Fatalf("buildBackend failed: %v", err)
		}
		defer b.Close()
	})

	t.Run("Unknown", func(t *testing.T) {
		cfg.VectorStore.Provider = "mongo"
		if _, err := buildBackend(ctx, cfg, local); !errors.Is(err, config.ErrUnknownProvider) {
			t.Errorf("Expected ErrUnknownProvider, got %v", err)
		}
	})
}

func TestExtractorFor(t *testing.T) {
	llm := provider.NewStubProvider()
	cfg := config.Default()

	if _, ok := extractorFor(cfg, llm).(*memory.LLMExtractor); !ok {
		t.Errorf("Expected LLM extraction by default")
	}
	if extractorFor(cfg, nil) != nil {
		t.Error("Expected raw storage without a chat model")
	}

	cfg.Infer = false
	if extractorFor(cfg, llm) != nil {
		t.Error("Expected raw storage with infer off")
	}

	cfg.Infer = true
	cfg.UseLLM("stub")
	if extractorFor(cfg, llm) != nil {
		t.Error("Expected raw storage for the stub model")
	}
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return runCLIWith(t, strings.NewReader(stdin), args...)
}

func runCLIWith(t *testing.T, in io.Reader, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetIn(in)
	RootCmd.SetArgs(args)
	defer RootCmd.SetArgs(nil)
	err := RootCmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(t.TempDir())
	t.Setenv("OPENAI_API_KEY", "")
	return home
}

func TestCLI_ConfigSetGet(t *testing.T) {
	home := isolate(t)

	out, err := runCLI(t, "", "config", "set", "openai.api_key", "sk-test-1234567890")
	if err != nil {
		t.Fatalf("config set failed: %v", err)
	}
	if !strings.Contains(out, "Configuration saved: openai.api_key") {
		t.Errorf("Unexpected output %q", out)
	}

	s, err := store.NewSQLiteStore(filepath.Join(home, ".recall", "recall.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	raw, _ := s.GetConfig("openai.api_key")
	s.Close()
	if !credential.IsEncrypted(raw) {
		t.Errorf("Expected API key stored encrypted, got %q", raw)
	}

	out, err = runCLI(t, "", "config", "get", "openai.api_key")
	if err != nil {
		t.Fatalf("config get failed: %v", err)
	}
	if strings.TrimSpace(out) != "sk-t...7890" {
		t.Errorf("Expected masked key, got %q", out)
	}

	out, err = runCLI(t, "", "config", "get", "missing.key")
	if err != nil {
		t.Fatalf("config get failed: %v", err)
	}
	if strings.TrimSpace(out) != "(not set)" {
		t.Errorf("Expected (not set), got %q", out)
	}
}

func TestCLI_Memories(t *testing.T) {
	isolate(t)
	flags := []string{"--store", "sqlite", "--embedder", "stub", "--user", "cli-user"}

	out, err := runCLI(t, "", append([]string{"memories", "list"}, flags...)...)
	if err != nil {
		t.Fatalf("memories list failed: %v", err)
	}
	if !strings.Contains(out, "Memories listed for user cli-user:\n\nNo memories found.") {
		t.Errorf("Unexpected list output %q", out)
	}

	out, err = runCLI(t, "", append([]string{"memories", "inspect"}, flags...)...)
	if err != nil {
		t.Fatalf("memories inspect failed: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("Expected empty JSON array, got %q", out)
	}

	out, err = runCLI(t, "n\n", append([]string{"memories", "reset"}, flags...)...)
	if err != nil {
		t.Fatalf("memories reset failed: %v", err)
	}
	if !strings.Contains(out, "Memory wipe cancelled.") {
		t.Errorf("Expected cancellation, got %q", out)
	}

	out, err = runCLI(t, "", append([]string{"memories", "reset", "--yes"}, flags...)...)
	if err != nil {
		t.Fatalf("memories reset failed: %v", err)
	}
	if !strings.Contains(out, "Memories wiped for user cli-user: "+memory.DeleteAllMessage) {
		t.Errorf("Expected wipe message, got %q", out)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("terminal detached")
}

func TestCLI_MemoriesResetInputError(t *testing.T) {
	isolate(t)

	_, err := runCLIWith(t, failingReader{}, "memories", "reset", "--yes=false", "--store", "sqlite", "--embedder", "stub", "--user", "cli-user")
	if !errors.Is(err, chat.ErrInput) {
		t.Errorf("Expected chat.ErrInput, got %v", err)
	}
}

// A key saved with `config set` is enough to start a chat, and the session
// it records shows up under `sessions`.
func TestCLI_StoredKeyAndSessions(t *testing.T) {
	home := isolate(t)

	if _, err := runCLI(t, "", "config", "set", "openai.api_key", "sk-test-1234567890"); err != nil {
		t.Fatalf("config set failed: %v", err)
	}

	out, err := runCLI(t, "quit\n", "chat", "--provider", "openai", "--store", "sqlite", "--embedder", "stub", "--user", "vault-user")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}
	if !strings.Contains(out, "Chat session started for user: vault-user.") {
		t.Errorf("Unexpected chat output %q", out)
	}

	out, err = runCLI(t, "", "sessions", "--user", "vault-user")
	if err != nil {
		t.Fatalf("sessions failed: %v", err)
	}
	if !strings.Contains(out, store.SessionEnded) || !strings.Contains(out, "openai/sqlite") {
		t.Errorf("Unexpected sessions output %q", out)
	}

	s, err := store.NewSQLiteStore(filepath.Join(home, ".recall", "recall.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	list, err := s.ListSessions("vault-user")
	s.Close()
	if err != nil || len(list) != 1 {
		t.Fatalf("Expected 1 session, got %d (%v)", len(list), err)
	}

	out, err = runCLI(t, "", "sessions", "show", list[0].ID)
	if err != nil {
		t.Fatalf("sessions show failed: %v", err)
	}
	for _, want := range []string{"Status:  ended", "  embedder: stub", "  model: gpt-5-mini"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in %q", want, out)
		}
	}

	if _, err := runCLI(t, "", "sessions", "show", "missing"); err == nil {
		t.Error("Expected error for unknown session")
	}
}

func TestCLI_MissingCredential(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "", "chat", "--provider", "openai", "--store", "memory", "--embedder", "stub")
	if !errors.Is(err, config.ErrMissingCredential) {
		t.Errorf("Expected ErrMissingCredential, got %v", err)
	}
}

func TestCLI_InvalidFlag(t *testing.T) {
	isolate(t)

	_, err := runCLI(t, "", "memories", "list", "--store", "mongo", "--embedder", "stub")
	if !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfirmed(t *testing.T) {
	for answer, want := range map[string]bool{"y": true, "Y\n": true, " y ": true, "yes": false, "n": false, "": false} {
		if confirmed(answer) != want {
			t.Errorf("confirmed(%q) = %v, want %v", answer, !want, want)
		}
	}
}
