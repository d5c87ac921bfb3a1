package cmd

import (
	"github.com/spf13/cobra"

	"github.com/veilsec/azrbac/internal/message"
	"github.com/veilsec/azrbac/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of azrbac",
	Long:  `All software has versions. This is azrbac's`,
	Run: func(cmd *cobra.Command, args []string) {
		message.Info(version.FullVersion())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
