package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbuf/internal/storage"
)

const inspectLongDesc string = `List the segments written for a collection, or for every collection
when none is given. With --decode each segment is read and its header
fields are shown.

Examples:
  vecbuf inspect
  vecbuf inspect docs --decode`

const inspectShortDesc string = "List or decode stored segments"

func newInspectCmd(global *globalFlags) *cobra.Command {
	var decode bool

	cmd := &cobra.Command{
		Use:   "inspect [collection]",
		Short: inspectShortDesc,
		Long:  inspectLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			collection := ""
			if len(args) == 1 {
				collection = args[0]
			}
			return runInspect(cmd, global, collection, decode)
		},
	}

	cmd.Flags().BoolVar(&decode, "decode", false, "Read and decode every segment")

	return cmd
}

func runInspect(cmd *cobra.Command, global *globalFlags, collection string, decode bool) error {
	cfg, logger, err := global.load(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, cps, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []storage.Option{storage.WithLogger(logger.Logger)}
	if cps != nil {
		opts = append(opts, storage.WithCheckpointStore(cps))
	}
	sink := storage.New(store, opts...)

	names, err := sink.ListSegments(ctx, collection)
	if err != nil {
		return fmt.Errorf("listing segments: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "no segments")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	if decode {
		fmt.Fprintln(w, "SEGMENT\tLSN\tKIND\tDIM\tROWS\tDELETES\tSIZE")
	} else {
		fmt.Fprintln(w, "SEGMENT\tCOLLECTION\tLSN")
	}

	for _, name := range names {
		if !decode {
			c, lsn, err := storage.ParseSegmentName(name)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "%s\t%s\t%d\n", name, c, lsn)
			continue
		}

		blob, err := store.Open(ctx, name)
		if err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
		size := blob.Size()
		_ = blob.Close()

		seg, err := sink.ReadSegment(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%d\t%d\t%s\n",
			name, seg.CheckpointLSN, seg.Kind, seg.Dim, seg.RowCount(), len(seg.Deletes), humanize.IBytes(uint64(size)))
	}

	return w.Flush()
}
