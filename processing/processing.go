// Package processing takes care of the logistics around a tiling run: feeding cells to workers
// and handing their results to the targets. The work per cell itself lives in tile, vector and
// rasterize.
package processing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/go-spatial/geom"
	"gonum.org/v1/gonum/stat"

	"github.com/pdok/utmtiler/crs"
	"github.com/pdok/utmtiler/grid"
	"github.com/pdok/utmtiler/raster"
	"github.com/pdok/utmtiler/rasterize"
	"github.com/pdok/utmtiler/tile"
	"github.com/pdok/utmtiler/vector"
)

// Logf prints progress and failed cells.
var Logf = log.Printf

// SetLogger replaces Logf, nil mutes the package.
func SetLogger(logf func(format string, v ...any)) {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	Logf = logf
}

// Job is everything needed to turn a cell into a Result.
type Job struct {
	Source raster.Source
	// Labels must be in CRS. Without labels every cell gets an empty collection and mask.
	Labels             *vector.Collection
	CRS                crs.CRS
	TileSize           int
	TileOptions        tile.Options
	GeometryKind       vector.GeometryKind
	MinPartialFraction float64
	BurnValue          uint8
	AllTouched         bool
}

// Summary counts what a run did. MeanPartialDec is the mean over all written label features.
type Summary struct {
	Cells          int
	Failed         int
	Empty          int
	Features       int
	Truncated      int
	MeanPartialDec float64
}

// Cells numbers the cells of a partition, quadrant by quadrant.
func Cells(p grid.Partition[geom.Extent]) []Cell {
	cells := make([]Cell, 0, p.Len())
	for _, q := range p.Quadrants() {
		for _, b := range p.Bucket(q) {
			cells = append(cells, Cell{Seq: len(cells), Quadrant: q, Bounds: b})
		}
	}
	return cells
}

type outcome struct {
	cell   Cell
	result Result
	err    error
}

// Process runs job for every cell with the given number of workers and writes the results to all
// targets. A failing cell is logged and counted, the run goes on. The returned error joins the
// target errors and the context error.
func Process(ctx context.Context, job Job, cells []Cell, workers int, targets ...Target) (Summary, error) {
	ds, release, err := job.Source.Open(ctx)
	if err != nil {
		return Summary{}, err
	}
	defer release()
	if job.Labels != nil {
		// shared read-only by the workers from here on
		job.Labels.Measure()
		job.Labels.Index()
	}
	workers = max(1, workers)

	cellsIn := make(chan Cell)
	outcomes := make(chan outcome)

	go feedCells(ctx, cells, cellsIn)

	wg := sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cell := range cellsIn {
				result, err := processCell(job, ds, cell)
				outcomes <- outcome{cell: cell, result: result, err: err}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(outcomes)
	}()

	summary, targetErr := writeToTargets(outcomes, targets)
	Logf("    total cells: %d", summary.Cells)
	Logf("         failed: %d", summary.Failed)
	Logf("    empty cells: %d", summary.Empty)
	Logf("       features: %d", summary.Features)
	Logf("      truncated: %d", summary.Truncated)
	return summary, errors.Join(targetErr, ctx.Err())
}

func feedCells(ctx context.Context, cells []Cell, cellsIn chan<- Cell) {
	defer close(cellsIn)
	for _, cell := range cells {
		select {
		case <-ctx.Done():
			return
		case cellsIn <- cell:
		}
	}
}

func processCell(job Job, ds raster.Dataset, cell Cell) (Result, error) {
	t, err := tile.Extract(ds, cell.Bounds, job.TileSize, job.CRS, job.TileOptions)
	if err != nil {
		return Result{}, err
	}
	labels := vector.NewCollection(t.CRS, nil)
	if job.Labels != nil {
		if labels, err = vector.Clip(job.Labels, cell.Bounds, job.GeometryKind, job.MinPartialFraction); err != nil {
			return Result{}, err
		}
	}
	var opts []rasterize.Option
	if job.AllTouched {
		opts = append(opts, rasterize.AllTouched())
	}
	mask, err := rasterize.Features(labels, job.BurnValue, job.TileSize, job.TileSize, t.Transform, opts...)
	if err != nil {
		return Result{}, err
	}
	return Result{Cell: cell, Tile: t, Labels: labels, Mask: mask}, nil
}

// writeToTargets counts the outcomes and distributes the successful ones over the targets, one
// goroutine per target.
func writeToTargets(outcomes <-chan outcome, targets []Target) (Summary, error) {
	targetChannels := make([]chan Result, len(targets))
	targetErrs := make([]error, len(targets))
	wg := sync.WaitGroup{}
	for i, target := range targets {
		targetChannel := make(chan Result)
		targetChannels[i] = targetChannel
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			targetErrs[i] = target.WriteResults(targetChannel)
			// a failed target still has to let the others go on
			for range targetChannel {
			}
		}(i, target)
	}

	var summary Summary
	var partials []float64
	for o := range outcomes {
		summary.Cells++
		if o.err != nil {
			summary.Failed++
			Logf("cell %d %v failed: %v", o.cell.Seq, o.cell.Bounds, o.err)
			continue
		}
		if o.result.Labels.Len() == 0 {
			summary.Empty++
		}
		for _, f := range o.result.Labels.Features {
			summary.Features++
			if f.Truncated {
				summary.Truncated++
			}
			partials = append(partials, f.PartialDec)
		}
		for _, targetChannel := range targetChannels {
			targetChannel <- o.result
		}
	}
	if len(partials) > 0 {
		summary.MeanPartialDec = stat.Mean(partials, nil)
	}

	for _, targetChannel := range targetChannels {
		close(targetChannel)
	}
	wg.Wait()

	var errs []error
	for i, err := range targetErrs {
		if err != nil {
			errs = append(errs, fmt.Errorf("target %d: %w", i, err))
		}
	}
	return summary, errors.Join(errs...)
}
