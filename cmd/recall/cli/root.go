package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	configPath   string
	verbose      bool
	jsonLogs     bool
	perf         bool
	userID       string
	providerType string
	modelName    string
	storeType    string
	embedderType string
	searchLimit  int
	infer        bool
)

// RootCmd represents the base command; without a subcommand it starts a chat.
var RootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Chat with an assistant that remembers you",
	Long: `Recall is an interactive chat that stores facts from every exchange in a
vector store and feeds the most relevant ones back into the next prompt.

Inside a session: 'list' shows stored memories, 'inspect' dumps them as JSON,
'reset' wipes them after confirmation and 'quit' or 'exit' ends the session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session (default)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd)
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.AddCommand(chatCmd)

	pf := RootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default ./recall.yaml if present)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging and progress lines")
	pf.BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON")
	pf.BoolVar(&perf, "perf", false, "Print timing for each memory and model call")
	pf.StringVarP(&userID, "user", "u", "", "User whose memories are used")
	pf.StringVarP(&providerType, "provider", "p", "", "LLM provider (openai, anthropic, gemini, ollama, cli, stub)")
	pf.StringVarP(&modelName, "model", "m", "", "Model name (default depends on provider)")
	pf.StringVar(&storeType, "store", "", "Vector store (redis, pgvector, qdrant, sqlite, memory)")
	pf.StringVar(&embedderType, "embedder", "", "Embedder (ollama, openai, gemini, stub)")
	pf.IntVar(&searchLimit, "limit", 0, "Memories recalled per turn")
	pf.BoolVar(&infer, "infer", true, "Distill each exchange into facts with the LLM before storing")
}

// signalContext is cancelled on Ctrl-C so a pending read ends the session.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runChat(cmd *cobra.Command) error {
	ctx, cancel := signalContext()
	defer cancel()

	app, err := setup(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer app.Close()

	in, ok := cmd.InOrStdin().(io.ReadCloser)
	if !ok {
		in = io.NopCloser(cmd.InOrStdin())
	}
	runner := NewRunner(app, in, cmd.OutOrStdout(), cmd.ErrOrStderr())
	return runner.Run(ctx)
}
