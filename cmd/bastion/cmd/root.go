package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "bastion",
	Short: "Bastion is an account authentication server",
	Long: `An authentication server managing accounts, derived-key tokens and
sessions. Complete documentation is available at https://github.com/jmcleod/bastion`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
