// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sessions

// Handler serves the training and test batch streams of a Dataset.
type Handler struct {
	ds          *Dataset
	train, test *Stream
}

// NewHandler creates the streams of the dataset, with the given batch size and padded session length.
func NewHandler(ds *Dataset, batchSize, maxLength int) *Handler {
	return &Handler{
		ds:    ds,
		train: NewStream(ds.Train, batchSize, maxLength),
		test:  NewStream(ds.Test, batchSize, maxLength),
	}
}

// Dataset served.
func (h *Handler) Dataset() *Dataset { return h.ds }

// NumItems including the padding item.
func (h *Handler) NumItems() int { return h.ds.NumItems }

// NumUsers in the dataset.
func (h *Handler) NumUsers() int { return h.ds.NumUsers }

// NumTrainingSessions in the dataset.
func (h *Handler) NumTrainingSessions() int { return h.ds.NumTrainingSessions() }

// TrainStream returns the stream of training batches. Callers should Reset it before each pass.
func (h *Handler) TrainStream() *Stream { return h.train }

// TestStream returns the stream of test batches. Callers should Reset it before each pass.
func (h *Handler) TestStream() *Stream { return h.test }
