// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sessioncache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// storeSession stores one session with recognizable values for the user: the vector is filled with
// value, and the timestamp is value*3600.
func storeSession(t *testing.T, c *Cache, userID int32, value float32) {
	vector := make([]float32, c.VectorSize())
	for ii := range vector {
		vector[ii] = value
	}
	err := c.Store([]int32{userID}, vector, []int64{int64(value) * 3600}, []int32{int32(value)},
		[]int32{int32(value), int32(value) + 1}, []int32{2})
	require.NoError(t, err)
}

func TestFIFOEviction(t *testing.T) {
	const capacity = 3
	c := New(capacity, 2, 4)
	for value := range capacity + 1 {
		storeSession(t, c, 7, float32(value+1))
	}
	require.Equal(t, capacity, c.Count(7))

	// Session 1 was evicted, the rest are kept oldest first.
	h := c.Get([]int32{7})
	require.Equal(t, []int32{capacity}, h.Counts)
	require.True(t, h.Full(0))
	require.Equal(t, []float32{2, 2, 3, 3, 4, 4}, h.Vectors)
	require.Equal(t, []int64{2 * 3600, 3 * 3600, 4 * 3600}, h.Timestamps)
	require.Equal(t, []float32{2, 3, 4}, h.HoursSinceEpoch())
	require.Equal(t, []int32{2, 3, 4}, h.BucketIDs)
	require.Equal(t, []int32{2, 2, 2}, h.Lengths)
	require.Equal(t, []int32{2, 3, 0, 0, 3, 4, 0, 0, 4, 5, 0, 0}, h.Items)

	// Many more sessions: still only the last 3.
	for value := 10; value < 20; value++ {
		storeSession(t, c, 7, float32(value))
	}
	h = c.Get([]int32{7})
	require.Equal(t, []int32{17, 18, 19}, h.BucketIDs)
	require.Equal(t, []float32{19, 19}, h.Vector(0, 2))
}

func TestGetZeroFill(t *testing.T) {
	c := New(2, 3, 2)
	storeSession(t, c, 1, 5)

	h := c.Get([]int32{9, 1})
	require.Equal(t, 2, h.BatchSize)
	require.Equal(t, []int32{0, 1}, h.Counts)
	require.False(t, h.Full(1))
	require.Equal(t, []float32{0, 0, 0, 0, 0, 0, 5, 5, 5, 0, 0, 0}, h.Vectors)
	require.Equal(t, []int32{0, 0, 5, 0}, h.BucketIDs)
	require.Equal(t, []int32{0, 0, 0, 0, 5, 6, 0, 0}, h.Items)
	require.Equal(t, 0, c.Count(9))
}

func TestStoreBatch(t *testing.T) {
	c := New(4, 2, 3)
	// Sessions longer than the cache's maxLength are truncated.
	err := c.Store([]int32{3, 4},
		[]float32{1, 2, 3, 4},
		[]int64{100, 200},
		[]int32{10, 20},
		[]int32{1, 2, 3, 4, 5, 6, 0, 0, 0, 0},
		[]int32{5, 1})
	require.NoError(t, err)
	require.Equal(t, 2, c.NumUsers())

	entries := c.Entries(3)
	require.Len(t, entries, 1)
	require.Equal(t, []float32{1, 2}, entries[0].Vector)
	require.Equal(t, []int32{1, 2, 3}, entries[0].Items)
	require.Equal(t, int32(3), entries[0].Length)

	entries = c.Entries(4)
	require.Equal(t, int64(200), entries[0].Timestamp)
	require.Equal(t, []int32{6, 0, 0}, entries[0].Items)

	// Entries returns copies.
	entries[0].Vector[0] = 100
	require.Equal(t, float32(3), c.Entries(4)[0].Vector[0])

	// Inconsistent sizes store nothing.
	err = c.Store([]int32{3, 4}, []float32{1, 2, 3}, []int64{1, 2}, []int32{1, 2}, []int32{1, 2}, []int32{1, 1})
	require.Error(t, err)
	err = c.Store([]int32{3, 4}, []float32{1, 2, 3, 4}, []int64{1}, []int32{1, 2}, []int32{1, 2}, []int32{1, 1})
	require.Error(t, err)
	require.Equal(t, 1, c.Count(3))
}

func TestReset(t *testing.T) {
	c := New(2, 1, 2)
	storeSession(t, c, 1, 1)
	storeSession(t, c, 2, 1)
	require.Equal(t, 2, c.NumUsers())
	c.Reset()
	require.Equal(t, 0, c.NumUsers())
	require.Equal(t, 0, c.Count(1))
	require.Nil(t, c.Entries(1))
	require.Equal(t, []int32{0, 0}, c.Get([]int32{1, 2}).Counts)
}

func TestNewPanics(t *testing.T) {
	require.Panics(t, func() { New(0, 1, 1) })
}

func TestCopyFrom(t *testing.T) {
	src := New(2, 2, 4)
	storeSession(t, src, 1, 1)
	storeSession(t, src, 1, 2)
	storeSession(t, src, 1, 3)
	storeSession(t, src, 5, 4)

	dst := New(2, 2, 4)
	storeSession(t, dst, 9, 9)
	require.NoError(t, dst.CopyFrom(src))
	require.Equal(t, 0, dst.Count(9))
	require.Equal(t, 2, dst.NumUsers())
	require.Equal(t, src.Get([]int32{1, 5}), dst.Get([]int32{1, 5}))

	// Copies are independent.
	storeSession(t, src, 5, 6)
	require.Equal(t, 1, dst.Count(5))
	require.Equal(t, 2, src.Count(5))

	require.Error(t, dst.CopyFrom(New(3, 2, 4)))
}
