// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package rasterio

import (
	"context"
	"sync"

	"github.com/grailbio/mosaic/internal/errtax"
	"github.com/grailbio/mosaic/internal/geo"
)

// FakeImage is one in-memory raster registered with a FakeProvider: a grid
// plus a band-sequential (BSQ) pixel buffer in that grid's datatype, i.e.
// band 0's row-major W*H samples, then band 1's, and so on, matching how
// GDAL lays out most single-file multi-band drivers.
type FakeImage struct {
	Grid geo.GridSpec
	Buf  []byte // len == Grid.NumBands()*Grid.Width*Grid.Height*Grid.DataType.Size()
}

// FakeProvider is an in-memory Provider implementation used by tests that
// cannot exercise the real github.com/airbusgeo/godal backend, grounded on
// encoding/bamprovider's FakeProvider: a map of path to in-memory content,
// standing in for the real, cgo-backed provider so the scheduler, cache,
// and writer logic can be driven deterministically without real files.
// Reprojection is modeled as identity (FakeProvider's Transform passes
// coordinates through unchanged); tests that need non-trivial reprojection
// math exercise internal/geo directly instead.
type FakeProvider struct {
	mu     sync.Mutex
	images map[string]*FakeImage
	// FailOpen, if set, names a path whose OpenNative/OpenReprojected call
	// fails, used to exercise the abort path (spec.md §8 scenario S6).
	FailOpen string
	// FailReadAfter, if > 0, makes the FailOpen path's Reader fail its
	// FailReadAfter'th ReadBlock call instead of failing to open.
	FailReadAfter int

	created map[string]*fakeWriter
}

// NewFakeProvider returns an empty FakeProvider ready for images to be
// registered via Register.
func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		images:  make(map[string]*FakeImage),
		created: make(map[string]*fakeWriter),
	}
}

// Register adds img under path, as if it had already been probed.
func (p *FakeProvider) Register(path string, img *FakeImage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.images[path] = img
}

func (p *FakeProvider) Probe(ctx context.Context, path string) (geo.GridSpec, int, int64, error) {
	p.mu.Lock()
	img, ok := p.images[path]
	p.mu.Unlock()
	if !ok {
		return geo.GridSpec{}, 0, 0, errtax.E(errtax.Metadata, "fake: no such image", "path", path)
	}
	return img.Grid, 0, int64(len(img.Buf)), nil
}

func (p *FakeProvider) OpenNative(ctx context.Context, path string, band int) (Reader, error) {
	p.mu.Lock()
	img, ok := p.images[path]
	p.mu.Unlock()
	if !ok {
		return nil, errtax.E(errtax.Metadata, "fake: no such image", "path", path)
	}
	if band < 0 || band >= img.Grid.NumBands() {
		return nil, errtax.E(errtax.Metadata, "fake: band out of range", "path", path, "band", band)
	}
	if path == p.FailOpen && p.FailReadAfter <= 0 {
		return nil, errtax.E(errtax.Read, "fake: forced open failure", "path", path)
	}
	return &fakeReader{provider: p, path: path, grid: img.Grid, buf: img.Buf, srcGrid: img.Grid, band: band}, nil
}

// OpenReprojected returns a Reader whose ReadBlock addresses rect in
// target's pixel space directly; since FakeProvider models reprojection as
// identity, it simply reslices the same backing buffer, which is correct
// only when target.Width/Height/Transform happen to match the source
// (tests that need this call with a same-shaped target).
func (p *FakeProvider) OpenReprojected(ctx context.Context, path string, target geo.GridSpec, resampling geo.Resampling, band int) (Reader, error) {
	p.mu.Lock()
	img, ok := p.images[path]
	p.mu.Unlock()
	if !ok {
		return nil, errtax.E(errtax.Metadata, "fake: no such image", "path", path)
	}
	if band < 0 || band >= img.Grid.NumBands() {
		return nil, errtax.E(errtax.Metadata, "fake: band out of range", "path", path, "band", band)
	}
	if path == p.FailOpen && p.FailReadAfter <= 0 {
		return nil, errtax.E(errtax.Geometry, "fake: forced warp failure", "path", path)
	}
	return &fakeReader{provider: p, path: path, grid: target, buf: img.Buf, srcGrid: img.Grid, band: band}, nil
}

func (p *FakeProvider) Transform(srcProjection, dstProjection string, x, y float64) (float64, float64, error) {
	return x, y, nil
}

func (p *FakeProvider) CreateOutput(ctx context.Context, path string, grid geo.GridSpec, driver string, creationOptions []string) (Writer, error) {
	w := &fakeWriter{grid: grid, buf: make([]byte, grid.NumBands()*grid.Width*grid.Height*grid.DataType.Size())}
	p.mu.Lock()
	p.created[path] = w
	p.mu.Unlock()
	return w, nil
}

func (p *FakeProvider) RemoveOutput(ctx context.Context, path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.created, path)
	return nil
}

// Output returns the buffer written to path by a prior CreateOutput, for
// test assertions. ok is false if nothing was ever created at path, or it
// was removed by RemoveOutput.
func (p *FakeProvider) Output(path string) (buf []byte, grid geo.GridSpec, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, found := p.created[path]
	if !found {
		return nil, geo.GridSpec{}, false
	}
	return w.buf, w.grid, true
}

// fakeReader reads a single band of a registered FakeImage out of its BSQ
// buf: band selects which Width*Height plane of buf ReadBlock addresses,
// mirroring gdalReader's one-Reader-per-band-per-open model (spec.md §4.7).
type fakeReader struct {
	provider *FakeProvider
	path     string
	grid     geo.GridSpec
	srcGrid  geo.GridSpec
	buf      []byte
	band     int
	reads    int
}

func (r *fakeReader) ReadBlock(ctx context.Context, rect geo.BlockRect) ([]byte, error) {
	r.reads++
	if r.path == r.provider.FailOpen && r.provider.FailReadAfter > 0 && r.reads >= r.provider.FailReadAfter {
		return nil, errtax.E(errtax.Read, "fake: forced read failure", "path", r.path, "rect", rect)
	}
	sampleSize := r.srcGrid.DataType.Size()
	planeOff := r.band * r.srcGrid.Width * r.srcGrid.Height * sampleSize
	out := make([]byte, rect.W*rect.H*sampleSize)
	for y := 0; y < rect.H; y++ {
		srcY := rect.Y + y
		if srcY < 0 || srcY >= r.srcGrid.Height {
			continue
		}
		for x := 0; x < rect.W; x++ {
			srcX := rect.X + x
			if srcX < 0 || srcX >= r.srcGrid.Width {
				continue
			}
			si := planeOff + (srcY*r.srcGrid.Width+srcX)*sampleSize
			di := (y*rect.W + x) * sampleSize
			if si+sampleSize > len(r.buf) {
				continue
			}
			copy(out[di:di+sampleSize], r.buf[si:si+sampleSize])
		}
	}
	return out, nil
}

func (r *fakeReader) Close() error { return nil }

// fakeWriter holds the entire multi-band output in one BSQ buf; WriteBlock's
// band parameter selects which Width*Height plane a call lands in, so the
// same Writer serves every band of a multi-band re-execution (spec.md §4.7).
type fakeWriter struct {
	grid geo.GridSpec
	buf  []byte
}

func (w *fakeWriter) WriteBlock(ctx context.Context, rect geo.BlockRect, band int, buf []byte) error {
	if band < 0 || band >= w.grid.NumBands() {
		return errtax.E(errtax.Write, "fake: band out of range", "band", band, "bands", w.grid.NumBands())
	}
	sampleSize := w.grid.DataType.Size()
	planeOff := band * w.grid.Width * w.grid.Height * sampleSize
	for y := 0; y < rect.H; y++ {
		dstY := rect.Y + y
		if dstY < 0 || dstY >= w.grid.Height {
			continue
		}
		for x := 0; x < rect.W; x++ {
			dstX := rect.X + x
			if dstX < 0 || dstX >= w.grid.Width {
				continue
			}
			si := (y*rect.W + x) * sampleSize
			di := planeOff + (dstY*w.grid.Width+dstX)*sampleSize
			if si+sampleSize > len(buf) || di+sampleSize > len(w.buf) {
				continue
			}
			copy(w.buf[di:di+sampleSize], buf[si:si+sampleSize])
		}
	}
	return nil
}

func (w *fakeWriter) Close() error { return nil }
