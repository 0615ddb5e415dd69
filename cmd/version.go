// File: cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the application version.
// This value is intended to be set at build time using ldflags.
// Example: go build -ldflags "-X github.com/xkilldash9x/streamwatch/cmd.Version=1.0.0"
var Version = "0.1.0"

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the streamwatch version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "streamwatch version %s\n", Version)
			return err
		},
	}
}
