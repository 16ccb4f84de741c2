package main

import (
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomreceptor/logging"
)

// rootOptions are flags shared by every subcommand.
type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dicomreceptor",
		Short: "DICOM storage receiver",
		Long: `dicomreceptor accepts DICOM associations, answers C-ECHO and writes
every instance received with C-STORE to

  {patient}_{id}/{date}_E{study}/{modality}_S{series}/{modality}_{nnnn}_{sop}.dcm

under the configured output directory.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newEchoCmd(opts))
	cmd.AddCommand(newSendCmd(opts))
	return cmd
}

// scuOptions configure the echo and send subcommands.
type scuOptions struct {
	callingAE string
	calledAE  string
	timeout   time.Duration
}

func (o *scuOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.callingAE, "calling-ae", "DICOMRECEPTOR", "our AE title")
	cmd.Flags().StringVar(&o.calledAE, "called-ae", "ANY-SCP", "AE title of the remote SCP")
	cmd.Flags().DurationVar(&o.timeout, "timeout", 30*time.Second, "network timeout")
}

// consoleLogger builds a console-only logger for the client subcommands.
func consoleLogger(cmd *cobra.Command, level string) (*slog.Logger, error) {
	if level == "" {
		level = "warn"
	}
	logs, err := logging.New(logging.Config{
		Level:   level,
		Format:  "console",
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	return logs.Slog(), nil
}
