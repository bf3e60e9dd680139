// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package trainer

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Component is a trainable part of the model, with its variables under one scope of the context.
type Component struct {
	// Scope of the variables, e.g. "/embedding".
	Scope string

	// Suffix of the exported file name, after the run name.
	Suffix string
}

// Components exported by ExportComponents.
var Components = []Component{
	{Scope: "/embedding", Suffix: "-embed_model.bin"},
	{Scope: "/inter_session", Suffix: "-inter_model.bin"},
	{Scope: "/inter_session_user", Suffix: "-inter2_model.bin"},
	{Scope: "/intra_session", Suffix: "-intra_model.bin"},
}

// inScope returns whether the variable scope is the component scope or one of its sub-scopes.
func (c Component) inScope(scope string) bool {
	return scope == c.Scope || strings.HasPrefix(scope, c.Scope+context.ScopeSeparator)
}

// Path of the component file for the run.
func (c Component) Path(dir, runName string) string {
	return filepath.Join(dir, runName+c.Suffix)
}

// snapshotEntry is the gob header of one variable in a component file, followed by the tensor.
type snapshotEntry struct {
	Scope, Name string
}

// ExportComponents writes one file per Component with the current values of its variables.
// Optimizer state is not included: use checkpoints to resume training.
func ExportComponents(ctx *context.Context, dir, runName string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create export directory %q", dir)
	}
	for _, component := range Components {
		if err := exportComponent(ctx, component, component.Path(dir, runName)); err != nil {
			return err
		}
	}
	return nil
}

func exportComponent(ctx *context.Context, component Component, path string) error {
	var vars []*context.Variable
	for v := range ctx.IterVariables() {
		if component.inScope(v.Scope()) {
			vars = append(vars, v)
		}
	}
	slices.SortFunc(vars, func(a, b *context.Variable) int { return strings.Compare(a.ScopeAndName(), b.ScopeAndName()) })

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q", path)
	}
	enc := gob.NewEncoder(f)
	err = enc.Encode(len(vars))
	for _, v := range vars {
		if err != nil {
			break
		}
		var value *tensors.Tensor
		value, err = v.Value()
		if err != nil {
			break
		}
		if err = enc.Encode(snapshotEntry{Scope: v.Scope(), Name: v.Name()}); err == nil {
			err = value.GobSerialize(enc)
		}
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrapf(err, "failed to export %q", path)
	}
	klog.V(1).Infof("exported %d variables of %s to %q", len(vars), component.Scope, path)
	return nil
}

// ImportComponents loads the files written by ExportComponents into ctx. Existing variables are
// overwritten, missing ones are created.
func ImportComponents(ctx *context.Context, dir, runName string) error {
	for _, component := range Components {
		if err := importComponent(ctx, component.Path(dir, runName)); err != nil {
			return err
		}
	}
	return nil
}

func importComponent(ctx *context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "failed to open %q", path)
	}
	defer func() { _ = f.Close() }()
	dec := gob.NewDecoder(f)
	var numVars int
	if err := dec.Decode(&numVars); err != nil {
		return errors.Wrapf(err, "failed to read %q", path)
	}
	for range numVars {
		var entry snapshotEntry
		if err := dec.Decode(&entry); err != nil {
			return errors.Wrapf(err, "failed to read variable header from %q", path)
		}
		value, err := tensors.GobDeserialize(dec)
		if err != nil {
			return errors.WithMessagef(err, "failed to read value of %s/%s from %q", entry.Scope, entry.Name, path)
		}
		if v := ctx.GetVariableByScopeAndName(entry.Scope, entry.Name); v != nil {
			if !v.Shape().Equal(value.Shape()) {
				return errors.Errorf("variable %s in %q has shape %s, model expects %s",
					v.ScopeAndName(), path, value.Shape(), v.Shape())
			}
			if err := v.SetValue(value); err != nil {
				return errors.WithMessagef(err, "failed to set %s", v.ScopeAndName())
			}
			continue
		}
		err = exceptions.TryCatch[error](func() {
			ctx.InAbsPath(entry.Scope).Checked(false).VariableWithValue(entry.Name, value)
		})
		if err != nil {
			return errors.WithMessagef(err, "failed to create %s/%s", entry.Scope, entry.Name)
		}
	}
	return nil
}
