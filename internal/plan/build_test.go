// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/rasterio"
)

type identityRepro struct{}

func (identityRepro) Transform(srcProjection, dstProjection string, x, y float64) (float64, float64, error) {
	return x, y, nil
}

func TestBuildPlanSingleInputCoversGrid(t *testing.T) {
	grid := geo.GridSpec{
		Projection: "EPSG:4326",
		Transform:  geo.GeoTransform{PixelWidth: 1, PixelHeight: -1},
		Width:      20, Height: 20, DataType: geo.Byte,
	}
	infos := []*rasterio.ImageInfo{
		{ID: 0, Path: "a", Grid: grid},
	}
	p, err := BuildPlan(grid, infos, 10, identityRepro{}, geo.Near)
	require.NoError(t, err)
	assert.Equal(t, 4, p.NumBlocks()) // 2x2 blocks of size 10 covering 20x20
	assert.Equal(t, 4, p.NumReadTasks())
	assert.Equal(t, 1, p.MaxContribsPerObid)
}

func TestBuildPlanPriorityOrderPreserved(t *testing.T) {
	grid := geo.GridSpec{
		Transform: geo.GeoTransform{PixelWidth: 1, PixelHeight: -1},
		Width:     10, Height: 10, DataType: geo.Byte,
	}
	// Two inputs, second registered later in the list but overlapping fully:
	// BuildPlan must preserve input-list order in each entry's Tasks.
	infos := []*rasterio.ImageInfo{
		{ID: 0, Path: "first", Grid: grid},
		{ID: 1, Path: "second", Grid: grid},
	}
	p, err := BuildPlan(grid, infos, 10, identityRepro{}, geo.Near)
	require.NoError(t, err)
	require.Len(t, p.Entries, 1)
	require.Len(t, p.Entries[0].Tasks, 2)
	assert.Equal(t, rasterio.InputID(0), p.Entries[0].Tasks[0].IID)
	assert.Equal(t, rasterio.InputID(1), p.Entries[0].Tasks[1].IID)
}

func TestBuildPlanInputOutsideExtentContributesNothing(t *testing.T) {
	grid := geo.GridSpec{
		Transform: geo.GeoTransform{PixelWidth: 1, PixelHeight: -1},
		Width:     10, Height: 10, DataType: geo.Byte,
	}
	farInput := geo.GridSpec{
		Transform: geo.GeoTransform{OriginX: 1000, OriginY: 1000, PixelWidth: 1, PixelHeight: -1},
		Width:     10, Height: 10, DataType: geo.Byte,
	}
	infos := []*rasterio.ImageInfo{
		{ID: 0, Path: "far", Grid: farInput},
	}
	p, err := BuildPlan(grid, infos, 10, identityRepro{}, geo.Near)
	require.NoError(t, err)
	assert.Equal(t, 0, p.NumBlocks())
}

func TestFlattenAndPartitionRoundRobin(t *testing.T) {
	grid := geo.GridSpec{
		Transform: geo.GeoTransform{PixelWidth: 1, PixelHeight: -1},
		Width:     40, Height: 10, DataType: geo.Byte,
	}
	infos := []*rasterio.ImageInfo{{ID: 0, Path: "a", Grid: grid}}
	p, err := BuildPlan(grid, infos, 10, identityRepro{}, geo.Near)
	require.NoError(t, err)

	flat := p.Flatten()
	assert.Equal(t, p.NumReadTasks(), len(flat))

	parts := flat.Partition(2)
	require.Len(t, parts, 2)
	total := 0
	for _, part := range parts {
		total += len(part)
	}
	assert.Equal(t, len(flat), total)
	for i, t2 := range flat {
		assert.Contains(t, parts[i%2], t2)
	}
}

func TestPartitionZeroWorkersFallsBackToOne(t *testing.T) {
	l := FlatReadList{{}, {}}
	parts := l.Partition(0)
	require.Len(t, parts, 1)
	assert.Len(t, parts[0], 2)
}
