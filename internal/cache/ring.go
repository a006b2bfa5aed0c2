// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package cache implements the bounded block cache (C5): the
// mutex-and-condition-variable mapping from (output-block-id, input-id)
// to decoded pixel blocks that sits between the read workers and the
// writer.
package cache

import "math/bits"

// nextExp2 returns the next power of 2 strictly greater than x. Adapted
// from circular.NextExp2 (originally sized sliding-window buffers for
// sorted BAM/PAM/BED iteration); here it sizes the look-ahead window
// reported in diagnostics, kept as a free function since the cache itself
// does not require its bound to be a power of two.
func nextExp2(x int) int {
	if x < 1 {
		return 1
	}
	log2 := 63 - bits.LeadingZeros64(uint64(x))
	return 2 << uint32(log2)
}
