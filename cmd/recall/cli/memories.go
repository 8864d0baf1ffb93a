package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/felixgeelhaar/recall/internal/chat"
	"github.com/spf13/cobra"
)

var assumeYes bool

var memoriesCmd = &cobra.Command{
	Use:   "memories",
	Short: "Show or wipe stored memories without starting a chat",
}

var memoriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories for the user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := setup(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.service.GetAll(ctx, a.cfg.UserID)
		if err != nil {
			return fmt.Errorf("failed to list memories: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Memories listed for user %s:\n\n%s\n", a.cfg.UserID, chat.Overview(items))
		return nil
	},
}

var memoriesInspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Dump memories for the user as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := setup(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		items, err := a.service.GetAll(ctx, a.cfg.UserID)
		if err != nil {
			return fmt.Errorf("failed to list memories: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), chat.Inspect(items))
		return nil
	},
}

var memoriesResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Wipe all memories for the user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := setup(ctx, cmd, false)
		if err != nil {
			return err
		}
		defer a.Close()

		user := a.cfg.UserID
		out := cmd.OutOrStdout()
		if !assumeYes {
			fmt.Fprintf(out, "Enter y to confirm memory wipe for user: %s: ", user)
			answer, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("%w: %v", chat.ErrInput, err)
			}
			if !confirmed(answer) {
				fmt.Fprintln(out, "Memory wipe cancelled.")
				return nil
			}
		}

		msg, err := a.service.DeleteAll(ctx, user)
		if err != nil {
			return fmt.Errorf("failed to wipe memories: %w", err)
		}
		fmt.Fprintf(out, "Memories wiped for user %s: %s\n", user, msg)
		return nil
	},
}

func init() {
	RootCmd.AddCommand(memoriesCmd)
	memoriesCmd.AddCommand(memoriesListCmd)
	memoriesCmd.AddCommand(memoriesInspectCmd)
	memoriesCmd.AddCommand(memoriesResetCmd)
	memoriesResetCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Skip the confirmation prompt")
}
