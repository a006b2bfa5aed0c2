// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grailbio/mosaic/internal/geo"
	"github.com/grailbio/mosaic/internal/rasterio"
	"v.io/x/lib/vlog"
)

// key identifies one cache slot.
type key struct {
	Obid geo.OutputBlockId
	IID  rasterio.InputID
}

// DecodedBlock is a published read result: a pixel buffer sized to the
// ReadTask's dst-rect, owned by the cache slot until the writer takes it.
type DecodedBlock struct {
	Obid geo.OutputBlockId
	IID  rasterio.InputID
	Rect geo.BlockRect
	Buf  []byte
}

// BlockCache implements C5 (spec.md §4.5): an in-memory, bounded buffer
// keyed by (obid, iid), written by read workers via Publish and drained
// by the writer via TakeAllFor. It is guarded by a single mutex, with two
// condition variables for the two suspension points spec.md §5 allows:
// a worker waiting for the writer cursor to catch up, and the writer
// waiting for an obid's contributions to complete.
//
// Grounded on bamprovider.BAMProvider's mutex-guarded free-iterator list
// (encoding/bamprovider/bamprovider.go's allocateIterator/freeIterator):
// the same "lock, mutate a small in-memory structure, unlock, never hold
// the lock during I/O" discipline, generalized from a resource pool to a
// bounded producer/consumer map.
type BlockCache struct {
	mu           sync.Mutex
	notFull      *sync.Cond // signaled when writerCursor advances (space freed)
	notEmpty     *sync.Cond // signaled when a publish may complete an obid
	blocks       map[key]*DecodedBlock
	pending      map[geo.OutputBlockId]int // ReadTask count expected per obid, set by the caller via SetExpected
	writerCursor int                       // row-major sequence number of the obid the writer is waiting on
	lookAhead    int                       // W_LA
	aborted      *atomic.Bool
}

// New creates a BlockCache bounded by lookAhead obids of look-ahead,
// floored at 2 per spec.md §4.5's "W_LA defaults to N... with a floor of
// 2." Each obid's ReadTask count, used to know when its contributions are
// complete, is registered separately via SetExpected.
func New(lookAhead int, aborted *atomic.Bool) *BlockCache {
	if lookAhead < 2 {
		lookAhead = 2
	}
	c := &BlockCache{
		blocks:    make(map[key]*DecodedBlock),
		pending:   make(map[geo.OutputBlockId]int),
		lookAhead: lookAhead,
		aborted:   aborted,
	}
	c.notFull = sync.NewCond(&c.mu)
	c.notEmpty = sync.NewCond(&c.mu)
	return c
}

// SetExpected records how many ReadTasks obid has, i.e. how many Publish
// calls TakeAllFor must see before obid is complete. Called once per obid
// during plan setup, before any worker starts.
func (c *BlockCache) SetExpected(obid geo.OutputBlockId, n int) {
	c.mu.Lock()
	c.pending[obid] = n
	c.mu.Unlock()
}

// Publish is called by read workers (spec.md §4.5). It blocks while
// obid is more than the look-ahead window ahead of the writer's current
// position, per the cache-bound invariant (spec.md §8 property 5), and
// returns the wall-clock time spent blocked there ("wait-on-cache", spec.md
// §3/§6), zero if Publish never had to wait.
func (c *BlockCache) Publish(obidSeq int, blk *DecodedBlock) time.Duration {
	start := time.Now()
	c.mu.Lock()
	for obidSeq-c.writerCursor > c.lookAhead && !c.isAborted() {
		c.notFull.Wait()
	}
	waited := time.Since(start)
	if c.isAborted() {
		c.mu.Unlock()
		return waited
	}
	k := key{Obid: blk.Obid, IID: blk.IID}
	if _, dup := c.blocks[k]; dup {
		c.mu.Unlock()
		vlog.Panicf("BlockCache: duplicate publish for %+v", k)
	}
	c.blocks[k] = blk
	c.notEmpty.Broadcast()
	c.mu.Unlock()
	return waited
}

// TakeAllFor is called by the writer (spec.md §4.5). It blocks until
// every ReadTask for obid has published, then atomically removes and
// returns all entries for obid, plus the wall-clock time spent blocked
// waiting for those publishes ("wait-on-queue", spec.md §3/§6). obidSeq is
// obid's row-major rank. After a successful TakeAllFor the caller calls
// Advance once the block is written, to wake workers waiting on the
// look-ahead bound; after an abort, Abort has already woken them.
func (c *BlockCache) TakeAllFor(obid geo.OutputBlockId, obidSeq int) (map[rasterio.InputID]*DecodedBlock, time.Duration, bool) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	expected := c.pending[obid]
	for !c.isAborted() {
		got := c.countFor(obid)
		if got >= expected {
			break
		}
		c.notEmpty.Wait()
	}
	waited := time.Since(start)
	if c.isAborted() && c.countFor(obid) < expected {
		return nil, waited, false
	}
	out := make(map[rasterio.InputID]*DecodedBlock, expected)
	for k, blk := range c.blocks {
		if k.Obid == obid {
			out[k.IID] = blk
			delete(c.blocks, k)
		}
	}
	return out, waited, true
}

// Advance records that the writer has moved past obidSeq, waking any
// worker blocked in Publish on the look-ahead bound (spec.md §4.5's
// "Publish-blocked workers wake on every writer cursor advance").
func (c *BlockCache) Advance(obidSeq int) {
	c.mu.Lock()
	if obidSeq+1 > c.writerCursor {
		c.writerCursor = obidSeq + 1
	}
	c.mu.Unlock()
	c.notFull.Broadcast()
}

// Abort wakes every suspended caller so they can observe the shared abort
// flag and unwind (spec.md §5's cancellation semantics).
func (c *BlockCache) Abort() {
	if c.aborted != nil {
		c.aborted.Store(true)
	}
	c.mu.Lock()
	c.mu.Unlock()
	c.notFull.Broadcast()
	c.notEmpty.Broadcast()
}

func (c *BlockCache) isAborted() bool { return c.aborted != nil && c.aborted.Load() }

func (c *BlockCache) countFor(obid geo.OutputBlockId) int {
	n := 0
	for k := range c.blocks {
		if k.Obid == obid {
			n++
		}
	}
	return n
}

// Len returns the current residency count, for tests verifying spec.md
// §8 property 5 (cache bound).
func (c *BlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blocks)
}

// LookAhead returns the configured W_LA, after New's floor of 2. String
// reports it next to a power-of-two ring capacity hint.
func (c *BlockCache) LookAhead() int { return c.lookAhead }

func (c *BlockCache) String() string {
	return fmt.Sprintf("BlockCache{residency=%d, W_LA=%d, ring_capacity_hint=%d}",
		len(c.blocks), c.lookAhead, nextExp2(c.lookAhead))
}
