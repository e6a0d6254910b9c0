package cli

import "github.com/spf13/cobra"

var saveCmd = &cobra.Command{
	Use:   "save <profile-name>",
	Short: "Save the active credential into a named profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) != 1 {
			return usageErrorf("usage: cauth save <profile-name>")
		}
		return engine.Save(cmd.Context(), args[0])
	},
}
