// Package loader walks source trees and commits the rows of each file
// through a store transaction.
package loader

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/playlog-cli/internal/model"
	"github.com/sells-group/playlog-cli/internal/store"
)

// ProcessFunc turns one source file into the rows it contributes.
type ProcessFunc func(ctx context.Context, path string) (*model.Batch, error)

// Driver runs a ProcessFunc over every file of a tree and commits the
// results. Each run is recorded in the load log.
type Driver struct {
	store       store.Store
	ext         string
	commitEvery int
	out         io.Writer
}

// NewDriver creates a Driver. commitEvery below 1 commits after every file;
// progress lines are written to out.
func NewDriver(st store.Store, ext string, commitEvery int, out io.Writer) *Driver {
	if commitEvery < 1 {
		commitEvery = 1
	}
	if out == nil {
		out = io.Discard
	}
	return &Driver{store: st, ext: ext, commitEvery: commitEvery, out: out}
}

// Run processes the files under root. A failing file rolls back the open
// transaction and aborts the run; files committed before it stay committed.
func (d *Driver) Run(ctx context.Context, src model.Source, root string, fn ProcessFunc) (model.RunResult, error) {
	log := zap.L().With(zap.String("component", "loader.driver"), zap.String("source", string(src)))

	files, err := Discover(root, d.ext)
	if err != nil {
		return model.RunResult{}, err
	}
	total := len(files)
	fmt.Fprintf(d.out, "%d files found in %s\n", total, root) //nolint:errcheck

	runID, err := d.store.StartRun(ctx, src, root, total)
	if err != nil {
		return model.RunResult{}, eris.Wrapf(err, "loader: start run for %s", root)
	}
	log = log.With(zap.String("run_id", runID))
	log.Info("run started", zap.String("root", root), zap.Int("files", total))

	var (
		result      model.RunResult
		tx          store.Tx
		pending     int
		pendingRows int64
	)

	fail := func(cause error) (model.RunResult, error) {
		// Cleanup must still reach storage after a cancellation.
		cleanupCtx := context.WithoutCancel(ctx)
		if tx != nil {
			if rbErr := tx.Rollback(cleanupCtx); rbErr != nil {
				log.Error("rollback failed", zap.Error(rbErr))
			}
		}
		if logErr := d.store.FailRun(cleanupCtx, runID, result, cause.Error()); logErr != nil {
			log.Error("failed to record run failure", zap.Error(logErr))
		}
		log.Error("run failed",
			zap.Int("files_done", result.FilesDone),
			zap.Int64("rows", result.RowsLoaded),
			zap.Error(cause),
		)
		return result, cause
	}

	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return fail(eris.Wrap(err, "loader: run cancelled"))
		}

		batch, err := fn(ctx, path)
		if err != nil {
			return fail(eris.Wrapf(err, "loader: process %s", path))
		}

		if tx == nil {
			if tx, err = d.store.Begin(ctx); err != nil {
				return fail(eris.Wrapf(err, "loader: begin for %s", path))
			}
		}
		if err := tx.Apply(ctx, batch); err != nil {
			return fail(eris.Wrapf(err, "loader: apply %s", path))
		}
		pending++
		pendingRows += int64(batch.Rows())
		log.Debug("file staged", zap.String("path", path), zap.Int("rows", batch.Rows()))

		if pending < d.commitEvery && i < total-1 {
			continue
		}
		if err := tx.Commit(ctx); err != nil {
			return fail(eris.Wrapf(err, "loader: commit through %s", path))
		}
		tx = nil
		result.FilesDone = i + 1
		result.RowsLoaded += pendingRows
		pending, pendingRows = 0, 0
		fmt.Fprintf(d.out, "%d/%d files processed.\n", i+1, total) //nolint:errcheck
	}

	if err := d.store.CompleteRun(ctx, runID, result); err != nil {
		log.Error("failed to record run completion", zap.Error(err))
	}
	log.Info("run complete",
		zap.Int("files", result.FilesDone),
		zap.Int64("rows", result.RowsLoaded),
	)
	return result, nil
}
