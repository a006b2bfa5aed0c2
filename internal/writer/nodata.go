// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package writer

import (
	"encoding/binary"
	"math"

	"github.com/grailbio/mosaic/internal/geo"
)

// encodeNodata renders g's nodata sentinel (or the zero value, if g has
// none) as a little-endian sample of g.DataType's width, used to
// pre-fill a composite buffer before any input is blended in.
func encodeNodata(g geo.GridSpec) []byte {
	buf := make([]byte, g.DataType.Size())
	if !g.HasNodata {
		return buf
	}
	encodeSample(buf, g.DataType, g.Nodata)
	return buf
}

func encodeSample(buf []byte, dt geo.DataType, v float64) {
	switch dt {
	case geo.Byte:
		buf[0] = byte(int64(v))
	case geo.UInt16:
		binary.LittleEndian.PutUint16(buf, uint16(int64(v)))
	case geo.Int16:
		binary.LittleEndian.PutUint16(buf, uint16(int16(v)))
	case geo.UInt32:
		binary.LittleEndian.PutUint32(buf, uint32(int64(v)))
	case geo.Int32:
		binary.LittleEndian.PutUint32(buf, uint32(int32(v)))
	case geo.Float32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v)))
	case geo.Float64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
	}
}

// isNodata reports whether sample, a single pixel of datatype dt, equals
// nodata. For a NaN nodata sentinel any NaN sample matches, whatever its
// bit pattern (NaN != NaN under normal float comparison), matching GDAL's
// own nodata-matching convention for floating point bands.
func isNodata(sample []byte, dt geo.DataType, nodata float64) bool {
	switch dt {
	case geo.Byte:
		return float64(sample[0]) == nodata
	case geo.UInt16:
		return float64(binary.LittleEndian.Uint16(sample)) == nodata
	case geo.Int16:
		return float64(int16(binary.LittleEndian.Uint16(sample))) == nodata
	case geo.UInt32:
		return float64(binary.LittleEndian.Uint32(sample)) == nodata
	case geo.Int32:
		return float64(int32(binary.LittleEndian.Uint32(sample))) == nodata
	case geo.Float32:
		f := math.Float32frombits(binary.LittleEndian.Uint32(sample))
		if math.IsNaN(float64(nodata)) {
			return math.IsNaN(float64(f))
		}
		return float64(f) == nodata
	case geo.Float64:
		f := math.Float64frombits(binary.LittleEndian.Uint64(sample))
		if math.IsNaN(nodata) {
			return math.IsNaN(f)
		}
		return f == nodata
	default:
		return false
	}
}
