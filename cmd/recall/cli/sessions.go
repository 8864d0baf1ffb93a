package cli

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show past chat sessions for the user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, s, err := openSessions(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		list, err := s.ListSessions(cfg.UserID)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		out := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintf(out, "No sessions recorded for user %s.\n", cfg.UserID)
			return nil
		}
		for _, sess := range list {
			fmt.Fprintf(out, "%s  %-6s  %s  %s/%s\n",
				sess.ID, sess.Status, sess.CreatedAt.Local().Format(time.DateTime),
				sess.Metadata["provider"], sess.Metadata["store"])
		}
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one session in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, s, err := openSessions(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		sess, err := s.GetSession(args[0])
		if err != nil {
			return err
		}
		printSession(cmd.OutOrStdout(), sess)
		return nil
	},
}

func openSessions(cmd *cobra.Command) (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cmd.Flags().Changed("user") {
		cfg.UserID = userID
	}
	s, err := openLocalStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, s, nil
}

func printSession(w io.Writer, sess *store.Session) {
	fmt.Fprintf(w, "ID:      %s\n", sess.ID)
	fmt.Fprintf(w, "User:    %s\n", sess.UserID)
	fmt.Fprintf(w, "Status:  %s\n", sess.Status)
	fmt.Fprintf(w, "Started: %s\n", sess.CreatedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Updated: %s\n", sess.UpdatedAt.Local().Format(time.DateTime))

	keys := make([]string, 0, len(sess.Metadata))
	for k := range sess.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s: %s\n", k, sess.Metadata[k])
	}
}

func init() {
	RootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
}
