package cli

import (
	"fmt"

	"github.com/felixgeelhaar/recall/internal/config"
	"github.com/felixgeelhaar/recall/internal/credential"
	"github.com/felixgeelhaar/recall/internal/store"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage local settings such as API keys",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value (keys ending in .api_key are encrypted)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		vault, err := newVault(s)
		if err != nil {
			return err
		}
		if err := vault.Set(key, value); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved: %s\n", key)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value (secrets are masked)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}
		defer s.Close()

		vault, err := newVault(s)
		if err != nil {
			return err
		}
		val, err := vault.Display(args[0])
		if err != nil {
			return err
		}
		if val == "" {
			val = "(not set)"
		}
		fmt.Fprintln(cmd.OutOrStdout(), val)
		return nil
	},
}

func newVault(s store.ConfigStore) (*credential.Vault, error) {
	mgr, err := credential.NewManager()
	if err != nil {
		return nil, err
	}
	return credential.NewVault(s, mgr), nil
}

// getStore opens the local database named by the config file.
func getStore() (*store.SQLiteStore, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return openLocalStore(cfg)
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}
