package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/parley/internal/ir"
)

// ParseBatchCUE compiles CUE source and reads its guidelines list.
// filename is used for error positions only.
func ParseBatchCUE(filename string, src []byte) (*Batch, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(filename))
	return CompileBatch(v)
}

// CompileBatch reads a batch from a CUE value with a top-level
// guidelines list. Uses the CUE SDK's Go API directly.
func CompileBatch(v cue.Value) (*Batch, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	list := v.LookupPath(cue.ParsePath("guidelines"))
	if !list.Exists() {
		return nil, &CompileError{
			Field:   "guidelines",
			Message: "guidelines list is required",
			Pos:     v.Pos(),
		}
	}
	iter, err := list.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	b := &Batch{}
	for iter.Next() {
		g, err := compileGuideline(iter.Value())
		if err != nil {
			return nil, err
		}
		b.Guidelines = append(b.Guidelines, g)
	}
	return b, nil
}

func compileGuideline(v cue.Value) (GuidelineSpec, error) {
	g := GuidelineSpec{Line: v.Pos().Line()}

	var err error
	if g.Name, err = requiredString(v, "name"); err != nil {
		return g, err
	}
	if g.Condition, err = requiredString(v, "condition"); err != nil {
		return g, err
	}
	if g.Action, err = requiredString(v, "action"); err != nil {
		return g, err
	}

	if u := v.LookupPath(cue.ParsePath("update")); u.Exists() {
		id, err := u.String()
		if err != nil {
			return g, formatCUEError(err)
		}
		g.Update = ir.GuidelineID(id)
	}

	if rc := v.LookupPath(cue.ParsePath("replace_connections")); rc.Exists() {
		replace, err := rc.Bool()
		if err != nil {
			return g, formatCUEError(err)
		}
		g.ReplaceConnections = &replace
	}

	if g.Entails, err = compileEndpoints(v, "entails"); err != nil {
		return g, err
	}
	if g.EntailedBy, err = compileEndpoints(v, "entailed_by"); err != nil {
		return g, err
	}
	return g, nil
}

// compileEndpoints reads an optional list whose elements are batch names
// (strings) or stored content ({condition, action}).
func compileEndpoints(v cue.Value, field string) ([]Endpoint, error) {
	list := v.LookupPath(cue.ParsePath(field))
	if !list.Exists() {
		return nil, nil
	}
	iter, err := list.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var endpoints []Endpoint
	for iter.Next() {
		elem := iter.Value()
		if ref, err := elem.String(); err == nil {
			endpoints = append(endpoints, Endpoint{Ref: ref})
			continue
		}
		if elem.IncompleteKind() != cue.StructKind {
			return nil, &CompileError{
				Field:   field,
				Message: "entry must be a guideline name or {condition, action}",
				Pos:     elem.Pos(),
			}
		}

		var e Endpoint
		if e.Content.Condition, err = requiredString(elem, "condition"); err != nil {
			return nil, err
		}
		if e.Content.Action, err = requiredString(elem, "action"); err != nil {
			return nil, err
		}
		endpoints = append(endpoints, e)
	}
	return endpoints, nil
}

func requiredString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := f.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
