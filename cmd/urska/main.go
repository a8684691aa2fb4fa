package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "urska",
		Short:         "Plan, execute and replan questions against a tool catalogue",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config.*)")

	root.AddCommand(serveCMD(&cfgPath), askCMD(&cfgPath), migrateCMD(&cfgPath), tailCMD(&cfgPath), toolsCMD(&cfgPath))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
