// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sessioncache

// History holds the stored sessions of a batch of users, as flat row-major arrays ready to be converted
// to tensors. B is the batch size, M the Capacity, H the VectorSize and S the MaxLength.
//
// Slot 0 is the oldest session. Slots at or beyond Counts[b] are zero.
type History struct {
	BatchSize, Capacity, VectorSize, MaxLength int

	// Vectors shaped [B, M, H].
	Vectors []float32

	// Timestamps (seconds since the Unix epoch) and BucketIDs shaped [B, M].
	Timestamps []int64
	BucketIDs  []int32

	// Items shaped [B, M, S] and Lengths shaped [B, M].
	Items   []int32
	Lengths []int32

	// Counts shaped [B].
	Counts []int32
}

func newHistory(batchSize, capacity, vectorSize, maxLength int) *History {
	slots := batchSize * capacity
	return &History{
		BatchSize:  batchSize,
		Capacity:   capacity,
		VectorSize: vectorSize,
		MaxLength:  maxLength,
		Vectors:    make([]float32, slots*vectorSize),
		Timestamps: make([]int64, slots),
		BucketIDs:  make([]int32, slots),
		Items:      make([]int32, slots*maxLength),
		Lengths:    make([]int32, slots),
		Counts:     make([]int32, batchSize),
	}
}

// Full returns whether the user at batch position b has a full buffer.
func (h *History) Full(b int) bool {
	return int(h.Counts[b]) == h.Capacity
}

// Vector returns the stored representation of the given batch position and slot.
func (h *History) Vector(b, slot int) []float32 {
	start := (b*h.Capacity + slot) * h.VectorSize
	return h.Vectors[start : start+h.VectorSize]
}

// HoursSinceEpoch converts the timestamps to hours, the time unit of the model graph.
func (h *History) HoursSinceEpoch() []float32 {
	hours := make([]float32, len(h.Timestamps))
	for ii, ts := range h.Timestamps {
		hours[ii] = SecondsToHours(ts)
	}
	return hours
}

// SecondsToHours converts a Unix timestamp in seconds to hours since the epoch.
func SecondsToHours(ts int64) float32 {
	return float32(float64(ts) / 3600)
}
