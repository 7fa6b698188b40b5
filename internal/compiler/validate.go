package compiler

import (
	"fmt"
	"strings"
)

// Validation error codes (E100-E199)
const (
	ErrNameEmpty          = "E101" // name is required
	ErrDuplicateName      = "E102" // name already used in the batch
	ErrConditionEmpty     = "E103" // condition is required
	ErrActionEmpty        = "E104" // action is required
	ErrUnknownRef         = "E105" // entailment names no batch member
	ErrIncompleteEndpoint = "E106" // stored-content endpoint lacks condition or action
	ErrReplaceOnAdd       = "E107" // replace_connections only applies to updates
	ErrDuplicateContent   = "E108" // two entries share condition and action
)

// ValidationError represents a batch validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a batch. Returns all errors found (does not fail-fast).
func Validate(b *Batch) []ValidationError {
	var errs []ValidationError

	names := make(map[string]bool, len(b.Guidelines))
	keys := make(map[string]string, len(b.Guidelines))
	for _, g := range b.Guidelines {
		if g.Name != "" {
			names[g.Name] = true
		}
	}

	seen := make(map[string]bool, len(b.Guidelines))
	for i, g := range b.Guidelines {
		field := fmt.Sprintf("guidelines[%d]", i)
		fail := func(suffix, code, msg string) {
			errs = append(errs, ValidationError{Field: field + suffix, Message: msg, Code: code, Line: g.Line})
		}

		// E101, E102
		switch {
		case strings.TrimSpace(g.Name) == "":
			fail(".name", ErrNameEmpty, "name is required and must be non-empty")
		case seen[g.Name]:
			fail(".name", ErrDuplicateName, fmt.Sprintf("duplicate guideline name: %q", g.Name))
		}
		seen[g.Name] = true

		// E103, E104
		if strings.TrimSpace(g.Condition) == "" {
			fail(".condition", ErrConditionEmpty, "condition is required and must be non-empty")
		}
		if strings.TrimSpace(g.Action) == "" {
			fail(".action", ErrActionEmpty, "action is required and must be non-empty")
		}

		// E108: content keys index the batch, so they must be unique.
		key := g.Content().Key()
		if prev, ok := keys[key]; ok {
			fail("", ErrDuplicateContent, fmt.Sprintf("same condition and action as %q", prev))
		} else {
			keys[key] = g.Name
		}

		// E107
		if g.Update == "" && g.ReplaceConnections != nil {
			fail(".replace_connections", ErrReplaceOnAdd, "replace_connections requires update")
		}

		for j, e := range g.Entails {
			errs = append(errs, validateEndpoint(e, names, fmt.Sprintf("%s.entails[%d]", field, j), g.Line)...)
		}
		for j, e := range g.EntailedBy {
			errs = append(errs, validateEndpoint(e, names, fmt.Sprintf("%s.entailed_by[%d]", field, j), g.Line)...)
		}
	}

	return errs
}

// validateEndpoint checks that e names a batch member or carries full content.
func validateEndpoint(e Endpoint, names map[string]bool, field string, line int) []ValidationError {
	if e.InBatch() {
		if !names[e.Ref] {
			return []ValidationError{{
				Field:   field,
				Message: fmt.Sprintf("no guideline named %q in this batch", e.Ref),
				Code:    ErrUnknownRef,
				Line:    line,
			}}
		}
		return nil
	}

	if strings.TrimSpace(e.Content.Condition) == "" || strings.TrimSpace(e.Content.Action) == "" {
		return []ValidationError{{
			Field:   field,
			Message: "stored guideline needs both condition and action",
			Code:    ErrIncompleteEndpoint,
			Line:    line,
		}}
	}
	return nil
}
