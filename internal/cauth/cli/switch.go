package cli

import "github.com/spf13/cobra"

var switchCmd = &cobra.Command{
	Use:   "switch <profile-name>",
	Short: "Make a saved profile's credential the active one",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usageErrorf("usage: cauth switch <profile-name>")
		}
		return engine.Switch(cmd.Context(), args[0])
	},
}
