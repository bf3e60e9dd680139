// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"cmp"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// CSVOptions configures how an interaction log is turned into a Dataset.
type CSVOptions struct {
	// UserColumn, ItemColumn and TimeColumn are the names of the columns in the CSV header.
	UserColumn, ItemColumn, TimeColumn string

	// TimeLayout is the time.Parse layout of the time column. If empty, the time column holds
	// seconds since the Unix epoch.
	TimeLayout string

	// Delimiter of the CSV fields.
	Delimiter rune

	// SessionGap is the inactivity interval that starts a new session.
	SessionGap time.Duration

	// MaxSessionLength is the maximum number of inputs of a session: longer sessions are split into chunks
	// of up to MaxSessionLength+1 items (the last item is only a target).
	MaxSessionLength int

	// MinSessionLength is the minimum number of items of a session. It must be at least 2.
	MinSessionLength int

	// MinSessionsPerUser drops users with fewer sessions.
	MinSessionsPerUser int

	// TestFraction of each user's sessions, the most recent ones, used for testing.
	TestFraction float64
}

// DefaultCSVOptions returns the options used by LoadCSV if none are given.
func DefaultCSVOptions() CSVOptions {
	return CSVOptions{
		UserColumn:         "user_id",
		ItemColumn:         "item_id",
		TimeColumn:         "timestamp",
		Delimiter:          ',',
		SessionGap:         time.Hour,
		MaxSessionLength:   19,
		MinSessionLength:   2,
		MinSessionsPerUser: 1,
		TestFraction:       0.2,
	}
}

// interaction is one row of the log.
type interaction struct {
	user, item string
	ts         int64
}

// LoadCSV reads an interaction log with one row per (user, item, time) and builds a Dataset.
//
// Interactions are grouped into sessions per user, by the inactivity gap. Item ids are remapped to
// [1, NumItems) and user ids to [0, NumUsers), in order of first appearance.
func LoadCSV(filePath string, opts CSVOptions) (*Dataset, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	name := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	ds, err := ReadCSV(f, name, opts)
	if err != nil {
		return nil, errors.WithMessagef(err, "while loading %q", filePath)
	}
	return ds, nil
}

// ReadCSV is like LoadCSV, but reads from r. The dataset is given the name.
func ReadCSV(r io.Reader, name string, opts CSVOptions) (*Dataset, error) {
	if opts.MinSessionLength < 2 {
		return nil, errors.Errorf("MinSessionLength=%d must be at least 2: one input and one target",
			opts.MinSessionLength)
	}
	if opts.MaxSessionLength < 1 {
		return nil, errors.Errorf("MaxSessionLength=%d must be at least 1", opts.MaxSessionLength)
	}
	if opts.Delimiter == 0 {
		opts.Delimiter = ','
	}
	timeType := series.Int
	if opts.TimeLayout != "" {
		timeType = series.String
	}
	df := dataframe.ReadCSV(r,
		dataframe.HasHeader(true),
		dataframe.WithDelimiter(opts.Delimiter),
		dataframe.WithTypes(map[string]series.Type{
			opts.UserColumn: series.String,
			opts.ItemColumn: series.String,
			opts.TimeColumn: timeType,
		}))
	if df.Err != nil {
		return nil, errors.Wrap(df.Err, "failed to parse CSV")
	}
	for _, col := range []string{opts.UserColumn, opts.ItemColumn, opts.TimeColumn} {
		if !slices.Contains(df.Names(), col) {
			return nil, errors.Errorf("column %q not found in CSV header %q", col, df.Names())
		}
	}

	users := df.Col(opts.UserColumn).Records()
	items := df.Col(opts.ItemColumn).Records()
	timestamps := make([]int64, df.Nrow())
	if opts.TimeLayout == "" {
		values, err := df.Col(opts.TimeColumn).Int()
		if err != nil {
			return nil, errors.Wrapf(err, "column %q", opts.TimeColumn)
		}
		for ii, v := range values {
			timestamps[ii] = int64(v)
		}
	} else {
		for ii, s := range df.Col(opts.TimeColumn).Records() {
			t, err := time.Parse(opts.TimeLayout, s)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d: column %q", ii+1, opts.TimeColumn)
			}
			timestamps[ii] = t.Unix()
		}
	}
	rows := make([]interaction, df.Nrow())
	for ii := range rows {
		rows[ii] = interaction{user: users[ii], item: items[ii], ts: timestamps[ii]}
	}
	klog.V(1).Infof("read %d interactions", len(rows))
	return buildDataset(name, rows, opts), nil
}

// rawSession is a session before the item ids are remapped.
type rawSession struct {
	ts    int64
	items []string
}

// buildDataset groups the rows into sessions, remaps the ids and splits train and test.
func buildDataset(name string, rows []interaction, opts CSVOptions) *Dataset {
	slices.SortStableFunc(rows, func(a, b interaction) int {
		if c := cmp.Compare(a.user, b.user); c != 0 {
			return c
		}
		return cmp.Compare(a.ts, b.ts)
	})

	// Sessionize each user, in order of first appearance of the users in the sorted rows.
	var userNames []string
	perUser := make(map[string][]rawSession)
	gap := int64(opts.SessionGap / time.Second)
	var current *rawSession
	var lastUser string
	var lastTS int64
	flush := func() {
		if current == nil {
			return
		}
		perUser[lastUser] = append(perUser[lastUser], splitSession(*current, opts)...)
		current = nil
	}
	for ii, row := range rows {
		if ii == 0 || row.user != lastUser || row.ts-lastTS > gap {
			flush()
			if ii == 0 || row.user != lastUser {
				userNames = append(userNames, row.user)
			}
			current = &rawSession{ts: row.ts}
		}
		current.items = append(current.items, row.item)
		lastUser, lastTS = row.user, row.ts
	}
	flush()

	ds := &Dataset{Name: name, NumItems: 1}
	itemIDs := make(map[string]int32)
	for _, userName := range userNames {
		raw := perUser[userName]
		if len(raw) == 0 || len(raw) < opts.MinSessionsPerUser {
			continue
		}
		userID := int32(ds.NumUsers)
		ds.NumUsers++
		converted := make([]Session, len(raw))
		for ii, rs := range raw {
			converted[ii] = Session{Timestamp: rs.ts, Items: make([]int32, len(rs.items))}
			for jj, item := range rs.items {
				id, found := itemIDs[item]
				if !found {
					id = int32(ds.NumItems)
					itemIDs[item] = id
					ds.NumItems++
				}
				converted[ii].Items[jj] = id
			}
		}
		numTest := int(math.Round(float64(len(converted)) * opts.TestFraction))
		numTest = min(numTest, len(converted)-1)
		numTrain := len(converted) - numTest
		ds.Train = append(ds.Train, UserSessions{UserID: userID, Sessions: converted[:numTrain]})
		if numTest > 0 {
			ds.Test = append(ds.Test, UserSessions{UserID: userID, Sessions: converted[numTrain:]})
		}
	}
	klog.V(1).Infof("%s", ds)
	return ds
}

// splitSession splits s into chunks of at most MaxSessionLength+1 items, dropping those shorter than
// MinSessionLength.
func splitSession(s rawSession, opts CSVOptions) []rawSession {
	chunkSize := opts.MaxSessionLength + 1
	var chunks []rawSession
	for start := 0; start < len(s.items); start += chunkSize {
		chunk := s.items[start:min(start+chunkSize, len(s.items))]
		if len(chunk) < opts.MinSessionLength {
			continue
		}
		chunks = append(chunks, rawSession{ts: s.ts, items: chunk})
	}
	return chunks
}
