// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeoTransformRoundTrip(t *testing.T) {
	g := GeoTransform{OriginX: 100, OriginY: 200, PixelWidth: 2, PixelHeight: -2}
	x, y := g.ToWorld(10, 5)
	col, row, ok := g.ToPixel(x, y)
	require.True(t, ok)
	assert.InDelta(t, 10, col, 1e-9)
	assert.InDelta(t, 5, row, 1e-9)
}

func TestGeoTransformInvertSingular(t *testing.T) {
	g := GeoTransform{}
	_, ok := g.Invert()
	assert.False(t, ok)
}

func TestGridSpecSameGrid(t *testing.T) {
	a := GridSpec{Projection: "EPSG:4326", Transform: GeoTransform{PixelWidth: 1, PixelHeight: -1}}
	b := a
	assert.True(t, a.SameGrid(b))
	b.Transform.PixelWidth = 2
	assert.False(t, a.SameGrid(b))
}

func TestGridSpecBounds(t *testing.T) {
	g := GridSpec{
		Transform: GeoTransform{OriginX: 0, OriginY: 10, PixelWidth: 1, PixelHeight: -1},
		Width:     10, Height: 10,
	}
	minX, minY, maxX, maxY := g.Bounds()
	assert.Equal(t, 0.0, minX)
	assert.Equal(t, 0.0, minY)
	assert.Equal(t, 10.0, maxX)
	assert.Equal(t, 10.0, maxY)
}

func TestDataTypeSize(t *testing.T) {
	cases := map[DataType]int{
		Byte: 1, UInt16: 2, Int16: 2, UInt32: 4, Int32: 4, Float32: 4, Float64: 8, Unknown: 0,
	}
	for dt, want := range cases {
		assert.Equal(t, want, dt.Size(), dt.String())
	}
}

func TestOutputBlockRectClipsAtEdge(t *testing.T) {
	r := OutputBlockRect(OutputBlockId{Row: 1, Col: 1}, 150, 150, 100)
	assert.Equal(t, BlockRect{X: 100, Y: 100, W: 50, H: 50}, r)
}

func TestOutputBlockIdOrdering(t *testing.T) {
	a := OutputBlockId{Row: 0, Col: 1}
	b := OutputBlockId{Row: 1, Col: 0}
	assert.True(t, a.LT(b))
	assert.True(t, b.GT(a))
	assert.True(t, a.EQ(a))
	assert.Equal(t, 3, b.Seq(3))
}

func TestBlockRectIntersection(t *testing.T) {
	a := BlockRect{X: 0, Y: 0, W: 10, H: 10}
	b := BlockRect{X: 5, Y: 5, W: 10, H: 10}
	got, ok := a.Intersection(b)
	require.True(t, ok)
	assert.Equal(t, BlockRect{X: 5, Y: 5, W: 5, H: 5}, got)

	c := BlockRect{X: 20, Y: 20, W: 5, H: 5}
	_, ok = a.Intersection(c)
	assert.False(t, ok)
}
