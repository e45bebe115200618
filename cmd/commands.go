// Package cmd implements the kernel's command-line surface.
package cmd

import (
	"github.com/spf13/cobra"
)

// Command returns the root command with every subcommand registered. If
// rootCommand is nil a fresh one is created, mirroring the teacher
// runtime's own extensible root-command pattern.
func Command(rootCommand *cobra.Command) *cobra.Command {
	if rootCommand == nil {
		rootCommand = &cobra.Command{
			Use:   "kernel",
			Short: "WebAssembly plugin microkernel",
			Long:  "A microkernel that loads sandboxed WebAssembly plugins and routes messages between them.",
		}
	}

	initRun(rootCommand)
	return rootCommand
}
