// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/mosaic/internal/geo"
)

func TestBlockCacheFloorsLookAhead(t *testing.T) {
	c := New(0, nil)
	assert.Equal(t, 2, c.LookAhead())
}

func TestPublishAndTakeAllFor(t *testing.T) {
	var aborted atomic.Bool
	c := New(4, &aborted)
	obid := geo.OutputBlockId{Row: 0, Col: 0}
	c.SetExpected(obid, 2)

	c.Publish(0, &DecodedBlock{Obid: obid, IID: 0})
	c.Publish(0, &DecodedBlock{Obid: obid, IID: 1})

	got, _, ok := c.TakeAllFor(obid, 0)
	require.True(t, ok)
	assert.Len(t, got, 2)
	assert.Equal(t, 0, c.Len())
}

func TestPublishBlocksOnLookAheadBound(t *testing.T) {
	var aborted atomic.Bool
	c := New(2, &aborted)
	far := geo.OutputBlockId{Row: 5, Col: 0}
	c.SetExpected(far, 1)

	published := make(chan struct{})
	go func() {
		c.Publish(5, &DecodedBlock{Obid: far, IID: 0})
		close(published)
	}()

	select {
	case <-published:
		t.Fatal("Publish should have blocked beyond the look-ahead window")
	case <-time.After(50 * time.Millisecond):
	}

	c.Advance(4) // writerCursor=5, 5-5 <= lookAhead(2): unblocks
	select {
	case <-published:
	case <-time.After(time.Second):
		t.Fatal("Publish did not unblock after Advance")
	}
}

func TestDuplicatePublishPanics(t *testing.T) {
	var aborted atomic.Bool
	c := New(4, &aborted)
	obid := geo.OutputBlockId{Row: 0, Col: 0}
	c.Publish(0, &DecodedBlock{Obid: obid, IID: 0})
	assert.Panics(t, func() {
		c.Publish(0, &DecodedBlock{Obid: obid, IID: 0})
	})
}

func TestAbortWakesBlockedCallers(t *testing.T) {
	var aborted atomic.Bool
	c := New(2, &aborted)
	far := geo.OutputBlockId{Row: 5, Col: 0}
	c.SetExpected(far, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Publish(5, &DecodedBlock{Obid: far, IID: 0})
	}()

	time.Sleep(20 * time.Millisecond)
	aborted.Store(true)
	c.Abort()

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Abort did not wake the blocked Publish")
	}
}

func TestTakeAllForReturnsFalseOnAbortBeforeComplete(t *testing.T) {
	var aborted atomic.Bool
	c := New(4, &aborted)
	obid := geo.OutputBlockId{Row: 0, Col: 0}
	c.SetExpected(obid, 2)
	c.Publish(0, &DecodedBlock{Obid: obid, IID: 0}) // only 1 of 2 arrives

	done := make(chan bool)
	go func() {
		_, _, ok := c.TakeAllFor(obid, 0)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	aborted.Store(true)
	c.Abort()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("TakeAllFor did not return after Abort")
	}
}
