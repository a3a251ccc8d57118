package main

import (
	"github.com/spf13/cobra"

	"github.com/Ivory-cocoa/invoice-qr-scanner/config"
	"github.com/Ivory-cocoa/invoice-qr-scanner/logging"
)

func newRootCommand() *cobra.Command {
	cfg := config.Defaults()

	rootCmd := &cobra.Command{
		Use:           "invoicescan",
		Short:         "Turn DGI invoice QR codes into supplier bills",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load()
			if err != nil {
				return err
			}
			*cfg = *loaded
			logging.Init(cfg.Log)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newServeCommand(cfg))
	rootCmd.AddCommand(newInspectCommand(cfg))
	rootCmd.AddCommand(newClassifyCommand())

	return rootCmd
}
