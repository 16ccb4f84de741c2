package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomreceptor/client"
	"github.com/caio-sobreiro/dicomreceptor/types"
)

// sendItem is one Part 10 file queued for C-STORE.
type sendItem struct {
	path    string
	request *client.CStoreRequest
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &scuOptions{}

	cmd := &cobra.Command{
		Use:   "send HOST:PORT FILE...",
		Short: "Send DICOM Part 10 files with C-STORE",
		Long: `send reads each file, proposes its SOP class in the file's own transfer
syntax and stores it on the remote SCP. Files are grouped into one
association per transfer syntax.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := consoleLogger(cmd, root.logLevel)
			if err != nil {
				return err
			}

			order, groups, err := loadFiles(args[1:])
			if err != nil {
				return err
			}

			failed := 0
			for _, ts := range order {
				n, err := sendGroup(cmd.OutOrStdout(), args[0], ts, groups[ts], opts, logger)
				if err != nil {
					return err
				}
				failed += n
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files were not stored", failed, len(args)-1)
			}
			return nil
		},
	}

	opts.bind(cmd)
	return cmd
}

// loadFiles reads the files and groups them by transfer syntax, keeping the
// order in which each transfer syntax first appears.
func loadFiles(paths []string) ([]string, map[string][]sendItem, error) {
	var order []string
	groups := make(map[string][]sendItem)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, err
		}
		req, ts, err := client.NewCStoreRequestFromFile(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", path, err)
		}
		if _, seen := groups[ts]; !seen {
			order = append(order, ts)
		}
		groups[ts] = append(groups[ts], sendItem{path: path, request: req})
	}
	return order, groups, nil
}

// sendGroup stores items that share a transfer syntax over one association
// and returns how many were not stored.
func sendGroup(out io.Writer, address, ts string, items []sendItem, opts *scuOptions, logger *slog.Logger) (int, error) {
	var classes []string
	seen := make(map[string]bool)
	for _, item := range items {
		if !seen[item.request.SOPClassUID] {
			seen[item.request.SOPClassUID] = true
			classes = append(classes, item.request.SOPClassUID)
		}
	}

	assoc, err := client.Connect(address, client.Config{
		CallingAETitle:   opts.callingAE,
		CalledAETitle:    opts.calledAE,
		ConnectTimeout:   opts.timeout,
		ReadTimeout:      opts.timeout,
		WriteTimeout:     opts.timeout,
		Logger:           logger,
		AbstractSyntaxes: classes,
		TransferSyntaxes: []string{ts},
	})
	if err != nil {
		return 0, err
	}
	defer assoc.Close()

	failed := 0
	for _, item := range items {
		resp, err := assoc.SendCStore(item.request)
		if err != nil {
			fmt.Fprintf(out, "%s: %v\n", item.path, err)
			failed++
			continue
		}
		if resp.Status != types.StatusSuccess {
			fmt.Fprintf(out, "%s: status 0x%04X %s\n", item.path, resp.Status, resp.ErrorComment)
			failed++
			continue
		}
		fmt.Fprintf(out, "%s: stored %s\n", item.path, resp.SOPInstanceUID)
	}
	return failed, nil
}
