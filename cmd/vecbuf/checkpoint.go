package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbuf"
)

const checkpointLongDesc string = `Show the durable checkpoint of every collection, or of one
collection when given. Write-ahead log entries at or below a collection's
LSN are covered by its segments.

Examples:
  vecbuf checkpoint
  vecbuf checkpoint docs`

const checkpointShortDesc string = "Show per-collection checkpoints"

func newCheckpointCmd(global *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint [collection]",
		Short: checkpointShortDesc,
		Long:  checkpointLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckpoint(cmd, global, args)
		},
	}

	return cmd
}

func runCheckpoint(cmd *cobra.Command, global *globalFlags, args []string) error {
	cfg, logger, err := global.load(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	db, err := openDB(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("opening vecbuf: %w", err)
	}
	defer db.Close()

	var cps []vecbuf.Checkpoint
	if len(args) == 1 {
		cp, err := db.Checkpoint(ctx, args[0])
		if errors.Is(err, vecbuf.ErrNotFound) {
			return fmt.Errorf("no checkpoint for collection %q", args[0])
		}
		if err != nil {
			return err
		}
		cps = append(cps, cp)
	} else {
		cps, err = db.Checkpoints(ctx)
		if err != nil {
			return fmt.Errorf("listing checkpoints: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if len(cps) == 0 {
		fmt.Fprintln(out, "no checkpoints")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tLSN\tSEGMENTS\tUPDATED\tLAST SEGMENT")
	for _, cp := range cps {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%s\n",
			cp.Collection, cp.LSN, cp.Segments, cp.UpdatedAt.Format(time.RFC3339), cp.Segment)
	}
	return w.Flush()
}
