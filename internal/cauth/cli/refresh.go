package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh every profile's bound account in one batched cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 {
			return usageErrorf("usage: cauth refresh")
		}
		lines, err := engine.RefreshAll(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, line := range lines {
			fmt.Fprintln(out, line)
		}
		return nil
	},
}
