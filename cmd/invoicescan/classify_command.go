package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Ivory-cocoa/invoice-qr-scanner/scan"
)

func newClassifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <message>...",
		Short: "Show the error class assigned to failure messages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows := make([][]string, 0, len(args))
			for _, msg := range args {
				rows = append(rows, []string{msg, scan.ClassifyError(msg)})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Message", "Class"}, rows, nil))
			return nil
		},
	}
}
