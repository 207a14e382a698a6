package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "carpool",
	Short: "Carpool coordination server and tools",
}

func main() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSearchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
