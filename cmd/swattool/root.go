package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	debug bool
}

var rootCmd = &cobra.Command{
	Use:   "swattool",
	Short: "Triage assistant for Yocto autobuilder failures",
	Long: "Swattool fetches pending failures from the swatbot server, highlights\n" +
		"their logs, groups duplicate builds by log similarity and publishes\ntriage decisions.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&rootFlags.debug, "debug", false, "Force debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(bugzillaLoginCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(triageCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.Version = version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
