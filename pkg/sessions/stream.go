// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sessions

// Batch of sessions, at most one per user. Slices are row-major, with Size rows.
type Batch struct {
	// Size is the number of sessions (and users) in the batch.
	Size int

	// MaxLength is the padded length of the sessions.
	MaxLength int

	UserIDs []int32

	// Inputs and Targets shaped [Size, MaxLength]: Targets are the Inputs shifted by one.
	// Both are padded with PaddingItem.
	Inputs, Targets []int32

	// Lengths is the number of inputs of each session, between 1 and MaxLength.
	Lengths []int32

	// Timestamps (seconds since the Unix epoch) and BucketIDs (see HourOfWeek) of each session.
	Timestamps []int64
	BucketIDs  []int32
}

// Session returns the unpadded inputs and targets of the session in the given row.
func (b *Batch) Session(row int) (inputs, targets []int32) {
	start := row * b.MaxLength
	length := int(b.Lengths[row])
	return b.Inputs[start : start+length], b.Targets[start : start+length]
}

// cursor is the position of a batch row in the sessions of a user.
type cursor struct {
	user, session int
}

// Stream yields user-aligned batches: each row of the batch follows one user's sessions in chronological
// order, so that a user's previous sessions are always seen (and cached) before the next one.
//
// When a user has no more sessions, its row is taken by the next user not yet seen. Once all users are
// taken, batches shrink, and finally Next returns an empty batch.
type Stream struct {
	users                []UserSessions
	batchSize, maxLength int
	numSessions          int

	rows     []cursor
	nextUser int
}

// NewStream creates a Stream over the users' sessions. Sessions are truncated to maxLength inputs.
func NewStream(users []UserSessions, batchSize, maxLength int) *Stream {
	s := &Stream{
		users:       users,
		batchSize:   batchSize,
		maxLength:   maxLength,
		numSessions: countSessions(users),
	}
	s.Reset()
	return s
}

// BatchSize is the maximum number of rows of the batches.
func (s *Stream) BatchSize() int { return s.batchSize }

// NumBatches returns an estimate of the number of batches in one pass.
func (s *Stream) NumBatches() int {
	return (s.numSessions + s.batchSize - 1) / s.batchSize
}

// Reset rewinds the stream to the first session of the first users.
func (s *Stream) Reset() {
	s.rows = s.rows[:0]
	s.nextUser = 0
	for len(s.rows) < s.batchSize {
		row, ok := s.takeUser()
		if !ok {
			break
		}
		s.rows = append(s.rows, row)
	}
}

// takeUser returns a cursor to the next user with sessions.
func (s *Stream) takeUser() (cursor, bool) {
	for s.nextUser < len(s.users) {
		user := s.nextUser
		s.nextUser++
		if len(s.users[user].Sessions) > 0 {
			return cursor{user: user}, true
		}
	}
	return cursor{}, false
}

// Next returns the next batch. Its Size is 0 at the end of the stream.
func (s *Stream) Next() *Batch {
	size := len(s.rows)
	b := &Batch{
		Size:       size,
		MaxLength:  s.maxLength,
		UserIDs:    make([]int32, size),
		Inputs:     make([]int32, size*s.maxLength),
		Targets:    make([]int32, size*s.maxLength),
		Lengths:    make([]int32, size),
		Timestamps: make([]int64, size),
		BucketIDs:  make([]int32, size),
	}
	for row, c := range s.rows {
		u := &s.users[c.user]
		session := u.Sessions[c.session]
		length := min(len(session.Items)-1, s.maxLength)
		start := row * s.maxLength
		copy(b.Inputs[start:start+length], session.Items[:length])
		copy(b.Targets[start:start+length], session.Items[1:length+1])
		b.UserIDs[row] = u.UserID
		b.Lengths[row] = int32(length)
		b.Timestamps[row] = session.Timestamp
		b.BucketIDs[row] = HourOfWeek(session.Timestamp)
	}

	// Advance: exhausted users are replaced, or their rows dropped.
	rows := s.rows[:0]
	for _, c := range s.rows {
		c.session++
		if c.session >= len(s.users[c.user].Sessions) {
			var ok bool
			c, ok = s.takeUser()
			if !ok {
				continue
			}
		}
		rows = append(rows, c)
	}
	s.rows = rows
	return b
}
