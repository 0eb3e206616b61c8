// Package main is the entry point for the vigil monitoring daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags.
var (
	configPath string
	verbose    bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vigil",
		Short: "Conversational Kubernetes monitoring daemon",
		Long: `Vigil watches a Kubernetes cluster in an ongoing conversation with a
language model: each cycle it collects cluster state, asks the model to
assess it against what previous cycles showed, and escalates when rules
fire. The conversation is pruned to fit the model's context window and
survives restarts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "/etc/vigil/config.yaml", "Path to configuration file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable debug logging")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newOnceCmd())
	root.AddCommand(newSessionsCmd())

	return root
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
