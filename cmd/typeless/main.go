// Command typeless is a push-to-talk dictation daemon: hold the trigger key,
// speak, release, and the recognised text is typed into the focused window.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "typeless: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "typeless",
		Short:         "Push-to-talk dictation with local speech recognition",
		Long:          "typeless records while the trigger key is held, transcribes the clip with a local model and inserts the text into the focused application.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), flags.configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", defaultConfigPath(), "path to the YAML configuration file")

	rootCmd.AddCommand(newRunCmd(flags))
	rootCmd.AddCommand(newModelsCmd(flags))
	return rootCmd
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the dictation daemon (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), flags.configPath)
		},
	}
}
