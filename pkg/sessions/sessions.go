// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package sessions holds the interaction data of the recommender: users, their sessions of items, and the
// user-aligned batches fed to the model.
//
// A Dataset can be imported from a CSV interaction log (LoadCSV), cached in binary form (SaveBinary and
// LoadBinary) or generated (Synthetic).
package sessions

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// PaddingItem is the item id used to pad sessions. Real items are numbered from 1.
const PaddingItem = 0

// NumWeekBuckets is the number of hour-of-week buckets returned by HourOfWeek.
const NumWeekBuckets = 7 * 24

// Session is a sequence of item interactions.
type Session struct {
	// Timestamp of the session start, in seconds since the Unix epoch.
	Timestamp int64

	// Items of the session, all >= 1.
	Items []int32
}

// UserSessions are the sessions of one user, in chronological order.
type UserSessions struct {
	UserID   int32
	Sessions []Session
}

// Dataset of users sessions, split into Train and Test. For each user, the test sessions come after the
// training ones.
type Dataset struct {
	Name string

	// NumItems includes the padding item 0, so item ids are in [1, NumItems).
	NumItems int

	// NumUsers is the number of users, with ids in [0, NumUsers).
	NumUsers int

	Train, Test []UserSessions
}

// NumTrainingSessions returns the total number of sessions in Train.
func (ds *Dataset) NumTrainingSessions() int { return countSessions(ds.Train) }

// NumTestSessions returns the total number of sessions in Test.
func (ds *Dataset) NumTestSessions() int { return countSessions(ds.Test) }

func countSessions(users []UserSessions) int {
	var count int
	for _, u := range users {
		count += len(u.Sessions)
	}
	return count
}

// String implements fmt.Stringer with a one line summary.
func (ds *Dataset) String() string {
	return fmt.Sprintf("dataset %q: %s users, %s items, %s training sessions, %s test sessions",
		ds.Name, humanize.Comma(int64(ds.NumUsers)), humanize.Comma(int64(ds.NumItems-1)),
		humanize.Comma(int64(ds.NumTrainingSessions())), humanize.Comma(int64(ds.NumTestSessions())))
}

// HourOfWeek returns the hour-of-week bucket of a timestamp (seconds since the Unix epoch), in UTC:
// weekday*24 + hour, with Monday as day 0.
func HourOfWeek(ts int64) int32 {
	t := time.Unix(ts, 0).UTC()
	day := (int(t.Weekday()) + 6) % 7
	return int32(day*24 + t.Hour())
}
