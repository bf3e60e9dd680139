// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package sessions

import (
	"encoding/gob"
	"os"

	"github.com/pkg/errors"
)

// SaveBinary saves the dataset in binary (gob) format, for a faster start up.
func (ds *Dataset) SaveBinary(filePath string) (err error) {
	var f *os.File
	f, err = os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", filePath)
	}
	defer func() {
		cErr := f.Close()
		if err == nil && cErr != nil {
			err = errors.Wrapf(cErr, "failed to close file %q after writing", filePath)
		}
	}()
	enc := gob.NewEncoder(f)
	if err = enc.Encode(ds); err != nil {
		return errors.Wrapf(err, "failed to write dataset to %q", filePath)
	}
	return nil
}

// LoadBinary loads a dataset saved with Dataset.SaveBinary.
func LoadBinary(filePath string) (*Dataset, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %q", filePath)
	}
	defer func() { _ = f.Close() }()
	ds := &Dataset{}
	if err := gob.NewDecoder(f).Decode(ds); err != nil {
		return nil, errors.Wrapf(err, "failed to load dataset from %q", filePath)
	}
	return ds, nil
}
