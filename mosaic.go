// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package mosaic is the programmatic entry point: DoMosaic assembles
// inputs, an output path, and an Options bag into a driver.Driver run
// and returns the resulting Monitor record, matching spec.md §6's
// "A single entry do_mosaic(inputs, output, options) -> MonitorRecord."
package mosaic

import (
	"context"
	"time"

	"github.com/grailbio/mosaic/internal/config"
	"github.com/grailbio/mosaic/internal/driver"
	"github.com/grailbio/mosaic/internal/monitor"
	"github.com/grailbio/mosaic/internal/rasterio"
)

// Options is re-exported so callers need only import this package.
type Options = config.Options

// DoMosaic probes inputs, resolves the output grid, builds the block
// plan, runs the read/write pipeline, and returns the monitor record.
// inputs is an ordered sequence (spec.md §6): its order is the mosaic
// compositing priority order.
func DoMosaic(ctx context.Context, inputs []string, output string, opts Options) (monitor.Record, error) {
	if err := opts.Validate(); err != nil {
		return monitor.Record{Status: "failed", Error: err.Error()}, err
	}
	d := &driver.Driver{
		Provider: rasterio.GDALProvider{},
		Opts:     opts,
	}
	result, err := d.Run(ctx, inputs, output, time.Now)
	return result.Record, err
}

// ValidatePlan runs Probing and Planning only, returning the plan
// summary without writing any output. This backs the `mosaic validate`
// CLI subcommand (SPEC_FULL.md supplemental feature 1).
func ValidatePlan(ctx context.Context, inputs []string, opts Options) (monitor.Record, error) {
	if err := opts.Validate(); err != nil {
		return monitor.Record{Status: "failed", Error: err.Error()}, err
	}
	d := &driver.Driver{
		Provider: rasterio.GDALProvider{},
		Opts:     opts,
		Monitor:  monitor.New(0),
	}
	return d.PlanOnly(ctx, inputs, time.Now)
}
