// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package geo

// This file adds convenience comparison methods to OutputBlockId, the
// mosaic equivalent of biopb.Coord: a totally-ordered position within the
// canonical row-major traversal of the output grid's blocks. The ordering
// and comparison shape (Compare/LT/LE/GE/GT returning a signed rank rather
// than exposing struct fields to callers) follows biopb.Coord's.

// OutputBlockId identifies a tile of the output grid of a fixed working
// block size. Row and Col are block indices, not pixel offsets. The
// canonical ordering is row-major: (0,0) < (0,1) < ... < (0,W-1) < (1,0)...
type OutputBlockId struct {
	Row, Col int
}

// Compare returns (negative, 0, positive) if (id<o, id=o, id>o) in
// row-major order, respectively.
func (id OutputBlockId) Compare(o OutputBlockId) int {
	if id.Row != o.Row {
		return id.Row - o.Row
	}
	return id.Col - o.Col
}

// LT returns true iff id < o in row-major order.
func (id OutputBlockId) LT(o OutputBlockId) bool { return id.Compare(o) < 0 }

// LE returns true iff id <= o in row-major order.
func (id OutputBlockId) LE(o OutputBlockId) bool { return id.Compare(o) <= 0 }

// GE returns true iff id >= o in row-major order.
func (id OutputBlockId) GE(o OutputBlockId) bool { return id.Compare(o) >= 0 }

// GT returns true iff id > o in row-major order.
func (id OutputBlockId) GT(o OutputBlockId) bool { return id.Compare(o) > 0 }

// EQ returns true iff id == o.
func (id OutputBlockId) EQ(o OutputBlockId) bool { return id.Row == o.Row && id.Col == o.Col }

// Seq converts a block id to its rank in the row-major traversal of a grid
// with blocksPerRow block-columns. It is the numeric analog of the
// row-major ordering Compare implements, used when a flat index is more
// convenient than a (row, col) pair (e.g. computing the writer cursor
// distance for the look-ahead bound).
func (id OutputBlockId) Seq(blocksPerRow int) int {
	return id.Row*blocksPerRow + id.Col
}

// BlockRect is a pixel rectangle (x-offset, y-offset, width, height)
// relative to a named grid: either the output grid, or a specific input's
// native or reprojected-view grid. Width/height may be less than the
// working block size at the right/bottom edges of a grid.
type BlockRect struct {
	X, Y, W, H int
}

// Intersects reports whether two rectangles, both given in the same grid's
// pixel space, overlap.
func (r BlockRect) Intersects(o BlockRect) bool {
	return r.X < o.X+o.W && o.X < r.X+r.W && r.Y < o.Y+o.H && o.Y < r.Y+r.H
}

// Intersection returns the overlapping rectangle of r and o (both in the
// same grid's pixel space), and whether they overlap at all.
func (r BlockRect) Intersection(o BlockRect) (BlockRect, bool) {
	x0 := max(r.X, o.X)
	y0 := max(r.Y, o.Y)
	x1 := min(r.X+r.W, o.X+o.W)
	y1 := min(r.Y+r.H, o.Y+o.H)
	if x1 <= x0 || y1 <= y0 {
		return BlockRect{}, false
	}
	return BlockRect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}, true
}

// Empty reports whether r covers zero pixels.
func (r BlockRect) Empty() bool { return r.W <= 0 || r.H <= 0 }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// BlocksPerCol returns the number of block columns (blocks in one block
// row) that tile a grid of the given width, and BlocksPerRowCount the
// number of block rows that tile a grid of the given height, per spec:
// total blocks = ceil(H/B) x ceil(W/B).
func BlocksPerCol(width, blockSize int) int {
	return ceilDiv(width, blockSize)
}

func BlocksPerRowCount(height, blockSize int) int {
	return ceilDiv(height, blockSize)
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return 0
	}
	return (a + b - 1) / b
}

// OutputBlockRect returns the pixel rectangle, in output-grid space, of
// block id for a grid of the given dimensions and working block size.
// Blocks at the right/bottom edge are clipped to the grid.
func OutputBlockRect(id OutputBlockId, width, height, blockSize int) BlockRect {
	x := id.Col * blockSize
	y := id.Row * blockSize
	w := min(blockSize, width-x)
	h := min(blockSize, height-y)
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return BlockRect{X: x, Y: y, W: w, H: h}
}
