package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCMD() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "turnkeeper",
		Short:         "Multi-turn conversational orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default searches ./config and .)")

	root.AddCommand(
		serveCMD(&cfgPath),
		askCMD(&cfgPath),
		historyCMD(&cfgPath),
		toolsCMD(&cfgPath),
		insightsCMD(&cfgPath),
	)
	return root
}

func main() {
	if err := newRootCMD().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
