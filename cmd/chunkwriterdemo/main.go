// Command chunkwriterdemo exercises a ChunkWriter end-to-end against a
// small in-process chunkserver simulation. It exists to give the
// coordinator a runnable harness outside of its unit tests, the way
// cmd/restic gives the backend and archiver packages one.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cmdRoot = &cobra.Command{
	Use:               "chunkwriterdemo",
	Short:             "Drive a ChunkWriter against a simulated chunkserver chain",
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
