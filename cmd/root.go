package cmd

import "github.com/spf13/cobra"

var rootCmd = &cobra.Command{
	Use:           "meli-manager",
	Short:         "MercadoLibre multi-account seller tools",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}
