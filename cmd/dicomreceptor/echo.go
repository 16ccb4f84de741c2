package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomreceptor/client"
	dicomerrors "github.com/caio-sobreiro/dicomreceptor/errors"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

func newEchoCmd(root *rootOptions) *cobra.Command {
	opts := &scuOptions{}

	cmd := &cobra.Command{
		Use:   "echo HOST:PORT",
		Short: "Verify connectivity to a DICOM SCP with C-ECHO",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := consoleLogger(cmd, root.logLevel)
			if err != nil {
				return err
			}

			assoc, err := client.Connect(args[0], client.Config{
				CallingAETitle: opts.callingAE,
				CalledAETitle:  opts.calledAE,
				ConnectTimeout: opts.timeout,
				ReadTimeout:    opts.timeout,
				WriteTimeout:   opts.timeout,
				Logger:         logger,
			})
			if err != nil {
				return err
			}
			defer assoc.Close()

			resp, err := assoc.SendCEcho(0)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "C-ECHO %s: status 0x%04X\n", args[0], resp.Status)
			if resp.Status != types.StatusSuccess {
				return dicomerrors.NewDIMSEError("C-ECHO", resp.Status, "verification refused")
			}
			return nil
		},
	}

	opts.bind(cmd)
	return cmd
}
