package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecbuf"
)

const ingestLongDesc string = `Insert randomly generated float32 vectors into a collection and
flush them into a segment.

Each batch is tagged with the next LSN starting at --lsn; the final flush
records the last one as the collection's checkpoint.

Examples:
  vecbuf ingest --collection docs --vectors 10000 --dim 128
  vecbuf ingest -c vecbuf.yaml --collection docs --batch 500 --delete 10`

const ingestShortDesc string = "Insert generated vectors and flush them"

type ingestFlags struct {
	collection string
	vectors    int
	dim        int
	batch      int
	lsn        uint64
	deletes    int
	seed       uint64
}

func newIngestCmd(global *globalFlags) *cobra.Command {
	flags := &ingestFlags{}

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, global, flags)
		},
	}

	cmd.Flags().StringVar(&flags.collection, "collection", "default", "Target collection")
	cmd.Flags().IntVar(&flags.vectors, "vectors", 1000, "Number of vectors to insert")
	cmd.Flags().IntVar(&flags.dim, "dim", 128, "Vector dimension")
	cmd.Flags().IntVar(&flags.batch, "batch", 100, "Vectors per insert call")
	cmd.Flags().Uint64Var(&flags.lsn, "lsn", 1, "LSN of the first batch")
	cmd.Flags().IntVar(&flags.deletes, "delete", 0, "Delete this many of the inserted ids before flushing")
	cmd.Flags().Uint64Var(&flags.seed, "seed", 1, "Random seed")

	return cmd
}

func (f *ingestFlags) validate() error {
	var errs []error
	if f.collection == "" {
		errs = append(errs, errors.New("--collection must not be empty"))
	}
	if f.vectors <= 0 {
		errs = append(errs, errors.New("--vectors must be positive"))
	}
	if f.dim <= 0 {
		errs = append(errs, errors.New("--dim must be positive"))
	}
	if f.batch <= 0 {
		errs = append(errs, errors.New("--batch must be positive"))
	}
	if f.deletes < 0 || f.deletes > f.vectors {
		errs = append(errs, fmt.Errorf("--delete must be between 0 and %d", f.vectors))
	}
	return errors.Join(errs...)
}

func runIngest(cmd *cobra.Command, global *globalFlags, flags *ingestFlags) error {
	if err := flags.validate(); err != nil {
		return err
	}

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

	rng := rand.New(rand.NewPCG(flags.seed, flags.seed))
	start := time.Now()
	lsn := flags.lsn

	var ids []vecbuf.ID
	for done := 0; done < flags.vectors; done += flags.batch {
		n := min(flags.batch, flags.vectors-done)
		v := &vecbuf.Vectors{Count: n, Float: make([]float32, n*flags.dim)}
		for i := range v.Float {
			v.Float[i] = rng.Float32()
		}

		batchIDs, err := db.Insert(ctx, flags.collection, v)
		if err != nil {
			return fmt.Errorf("insert at lsn %d: %w", lsn, err)
		}
		ids = append(ids, batchIDs...)
		lsn++
	}
	lastLSN := lsn - 1

	if flags.deletes > 0 {
		victims := make([]vecbuf.ID, flags.deletes)
		for i, j := range rng.Perm(len(ids))[:flags.deletes] {
			victims[i] = ids[j]
		}
		if err := db.DeleteMany(ctx, flags.collection, victims); err != nil {
			return fmt.Errorf("delete: %w", err)
		}
	}

	buffered := db.TotalMemory()
	flushed, err := db.FlushAll(ctx, lastLSN)
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "inserted %d vectors (%d deleted) into %q in %s\n",
		len(ids), flags.deletes, flags.collection, time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "flushed %s from %v at lsn %d\n", humanize.IBytes(uint64(buffered)), flushed, lastLSN)
	return nil
}
