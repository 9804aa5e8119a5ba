package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resolveAddons string

var resolveCmd = &cobra.Command{
	Use:   "resolve <address>",
	Short: "Resolve a single free-text address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := initEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		result, err := e.Resolver.Resolve(cmd.Context(), args[0], splitAddons(resolveAddons))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// splitAddons parses the --addons flag, falling back to the configured
// defaults when the flag is unset.
func splitAddons(s string) []string {
	if strings.TrimSpace(s) == "" {
		s = cfg.Pipeline.DefaultAddons
	}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func init() {
	resolveCmd.Flags().StringVar(&resolveAddons, "addons", "", "comma-separated add-ons (default from config)")
	rootCmd.AddCommand(resolveCmd)
}
