// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sessioncache keeps, for each user, the representations of their most recent sessions.
//
// Each user has a fixed-capacity FIFO buffer: once full, storing a new session evicts the oldest one.
// Entries are returned oldest first, aligned with the users of a batch, and padded with zeros.
package sessioncache

import (
	"sync"

	"github.com/pkg/errors"
)

// Entry is one stored session.
type Entry struct {
	// Vector is the session representation.
	Vector []float32

	// Timestamp of the session, in seconds since the Unix epoch.
	Timestamp int64

	// BucketID is the hour-of-week of the session.
	BucketID int32

	// Items of the session, padded with 0 to the cache's maxLength, and its Length.
	Items  []int32
	Length int32
}

// ring is a fixed-capacity circular buffer of entries.
type ring struct {
	entries      []Entry
	start, count int
}

func (r *ring) push(e Entry) {
	capacity := len(r.entries)
	if r.count < capacity {
		r.entries[(r.start+r.count)%capacity] = e
		r.count++
		return
	}
	// Full: overwrite the oldest.
	r.entries[r.start] = e
	r.start = (r.start + 1) % capacity
}

// at returns the i-th entry, 0 being the oldest.
func (r *ring) at(i int) *Entry {
	return &r.entries[(r.start+i)%len(r.entries)]
}

// Cache of session representations per user.
//
// It is safe for concurrent use, although the training loop only uses it from one goroutine.
type Cache struct {
	capacity, vectorSize, maxLength int

	mu    sync.Mutex
	users map[int32]*ring
}

// New creates an empty Cache keeping up to capacity sessions per user, each with a representation of
// vectorSize and up to maxLength items.
func New(capacity, vectorSize, maxLength int) *Cache {
	if capacity <= 0 || vectorSize <= 0 || maxLength <= 0 {
		panic(errors.Errorf("sessioncache.New(capacity=%d, vectorSize=%d, maxLength=%d): all values must be > 0",
			capacity, vectorSize, maxLength))
	}
	return &Cache{
		capacity:   capacity,
		vectorSize: vectorSize,
		maxLength:  maxLength,
		users:      make(map[int32]*ring),
	}
}

// Capacity is the maximum number of sessions kept per user.
func (c *Cache) Capacity() int { return c.capacity }

// VectorSize is the size of the stored session representations.
func (c *Cache) VectorSize() int { return c.vectorSize }

// MaxLength is the number of items stored per session.
func (c *Cache) MaxLength() int { return c.maxLength }

// Reset forgets all users.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = make(map[int32]*ring)
}

// CopyFrom replaces the contents of c with a copy of the sessions stored in src.
// Both caches must have the same dimensions.
func (c *Cache) CopyFrom(src *Cache) error {
	if src == c {
		return nil
	}
	if src.capacity != c.capacity || src.vectorSize != c.vectorSize || src.maxLength != c.maxLength {
		return errors.Errorf("sessioncache.CopyFrom: source dimensions (%d, %d, %d) differ from (%d, %d, %d)",
			src.capacity, src.vectorSize, src.maxLength, c.capacity, c.vectorSize, c.maxLength)
	}
	src.mu.Lock()
	users := make(map[int32]*ring, len(src.users))
	for userID, r := range src.users {
		clone := &ring{entries: make([]Entry, len(r.entries)), start: r.start, count: r.count}
		for ii, e := range r.entries {
			clone.entries[ii] = e
			clone.entries[ii].Vector = append([]float32(nil), e.Vector...)
			clone.entries[ii].Items = append([]int32(nil), e.Items...)
		}
		users[userID] = clone
	}
	src.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = users
	return nil
}

// NumUsers returns the number of users with at least one stored session.
func (c *Cache) NumUsers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.users)
}

// Count returns the number of sessions stored for the user, between 0 and Capacity.
func (c *Cache) Count(userID int32) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, found := c.users[userID]
	if !found {
		return 0
	}
	return r.count
}

// Entries returns a copy of the sessions stored for the user, oldest first.
func (c *Cache) Entries(userID int32) []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, found := c.users[userID]
	if !found {
		return nil
	}
	entries := make([]Entry, r.count)
	for ii := range r.count {
		e := r.at(ii)
		entries[ii] = *e
		entries[ii].Vector = append([]float32(nil), e.Vector...)
		entries[ii].Items = append([]int32(nil), e.Items...)
	}
	return entries
}

// Get returns the stored sessions of the given users, aligned with userIDs.
// Users without stored sessions get a count of 0 and zeros everywhere.
func (c *Cache) Get(userIDs []int32) *History {
	h := newHistory(len(userIDs), c.capacity, c.vectorSize, c.maxLength)
	c.mu.Lock()
	defer c.mu.Unlock()
	for b, userID := range userIDs {
		r, found := c.users[userID]
		if !found {
			continue
		}
		h.Counts[b] = int32(r.count)
		for slot := range r.count {
			e := r.at(slot)
			idx := b*h.Capacity + slot
			copy(h.Vectors[idx*h.VectorSize:], e.Vector)
			copy(h.Items[idx*h.MaxLength:], e.Items)
			h.Timestamps[idx] = e.Timestamp
			h.BucketIDs[idx] = e.BucketID
			h.Lengths[idx] = e.Length
		}
	}
	return h
}

// Store appends one session per user, evicting the oldest session of users whose buffer is full.
//
// All arguments are aligned with userIDs (batch order):
//   - vectors: flat [len(userIDs), VectorSize];
//   - timestamps (seconds) and bucketIDs: [len(userIDs)];
//   - sessions: flat [len(userIDs), sessionLength] with any sessionLength, items beyond MaxLength are dropped;
//   - lengths: [len(userIDs)].
//
// The data is copied. It returns an error, without storing anything, if the sizes are inconsistent.
func (c *Cache) Store(userIDs []int32, vectors []float32, timestamps []int64, bucketIDs []int32,
	sessions []int32, lengths []int32) error {
	batchSize := len(userIDs)
	if batchSize == 0 {
		return nil
	}
	if len(vectors) != batchSize*c.vectorSize {
		return errors.Errorf("sessioncache.Store: got %d values for vectors, expected %d users x %d",
			len(vectors), batchSize, c.vectorSize)
	}
	if len(timestamps) != batchSize || len(bucketIDs) != batchSize || len(lengths) != batchSize {
		return errors.Errorf("sessioncache.Store: %d users but %d timestamps, %d buckets and %d lengths",
			batchSize, len(timestamps), len(bucketIDs), len(lengths))
	}
	if len(sessions)%batchSize != 0 {
		return errors.Errorf("sessioncache.Store: %d session items is not a multiple of %d users",
			len(sessions), batchSize)
	}
	sessionLength := len(sessions) / batchSize

	c.mu.Lock()
	defer c.mu.Unlock()
	for b, userID := range userIDs {
		e := Entry{
			Vector:    append([]float32(nil), vectors[b*c.vectorSize:(b+1)*c.vectorSize]...),
			Timestamp: timestamps[b],
			BucketID:  bucketIDs[b],
			Items:     make([]int32, c.maxLength),
			Length:    min(lengths[b], int32(c.maxLength)),
		}
		copy(e.Items, sessions[b*sessionLength:b*sessionLength+min(sessionLength, c.maxLength)])
		r, found := c.users[userID]
		if !found {
			r = &ring{entries: make([]Entry, c.capacity)}
			c.users[userID] = r
		}
		r.push(e)
	}
	return nil
}
