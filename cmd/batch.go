package main

import (
	"bufio"
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var batchAddons string

var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Resolve addresses from a file, one per line",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrap(err, "open batch file")
		}
		defer f.Close() //nolint:errcheck

		var addresses []string
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				addresses = append(addresses, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return eris.Wrap(err, "read batch file")
		}
		if len(addresses) == 0 {
			return eris.New("batch file has no addresses")
		}

		e, err := initEnv()
		if err != nil {
			return err
		}
		defer e.Close()

		items := e.Resolver.ResolveBatch(cmd.Context(), addresses, splitAddons(batchAddons))

		zap.L().Info("batch complete", zap.Int("addresses", len(items)))

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(items)
	},
}

func init() {
	batchCmd.Flags().StringVar(&batchAddons, "addons", "", "comma-separated add-ons applied to every address")
	rootCmd.AddCommand(batchCmd)
}
