// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rasterio

import (
	"context"

	"github.com/grailbio/base/traverse"
	"github.com/grailbio/mosaic/internal/errtax"
	"v.io/x/lib/vlog"
)

// ProbeAll opens every input concurrently and returns its ImageInfo,
// implementing C1 (spec.md §4.1): "probe(input-list) -> map InputId ->
// ImageInfo... may probe in parallel across inputs... the cache is then
// frozen." Probing in parallel hides the latency of opening
// object-storage-backed inputs, mirroring
// encoding/converter.go's traverse.Each(len(shards), ...) fan-out, here
// applied to whole-file opens instead of per-shard reads.
//
// A missing or unreadable input is fatal: the first error aborts the
// whole probe and no scheduling is attempted (spec.md §4.1, §7b).
func ProbeAll(ctx context.Context, p Provider, paths []string) ([]*ImageInfo, error) {
	infos := make([]*ImageInfo, len(paths))
	err := traverse.Each(len(paths), func(i int) error {
		grid, blockSize, size, err := p.Probe(ctx, paths[i])
		if err != nil {
			return errtax.E(errtax.Metadata, err, "probing input", "path", paths[i])
		}
		infos[i] = &ImageInfo{
			ID:              InputID(i),
			Path:            paths[i],
			Grid:            grid,
			NativeBlockSize: blockSize,
			SizeBytes:       size,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	vlog.Infof("probed %d inputs", len(infos))
	return infos, nil
}
