// Command ofs creates, inspects, clones and mounts copy-on-write *.ofs
// container files.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "ofs",
	Short: "A copy-on-write filesystem backed by a single container file",
}

// newLogger builds a development encoder under --verbose (human-readable,
// debug level) or a production encoder otherwise, mirroring
// tracing_subscriber::fmt::init()'s role in the original CLI.
func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(mountCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(cloneCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
