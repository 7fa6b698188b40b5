// Package compiler turns guideline batch files into invoices.
//
// A batch lists guidelines in the order they are applied. Each entry has a
// name that other entries in the same file use to refer to it, and may
// declare entailments to batch members (by name) or to stored guidelines
// (by content):
//
//	guidelines: [
//		{name: "rain", condition: "it rains", action: "bring an umbrella"},
//		{
//			name:        "wind"
//			condition:   "it is windy"
//			action:      "hold the umbrella tight"
//			entailed_by: ["rain"]
//			entails: [{condition: "it storms", action: "stay indoors"}]
//		},
//	]
//
// Batches are written in CUE (.cue) or YAML (.yaml, .yml) with the same
// shape. ResolveInvoices validates a batch and produces the invoices
// app.Application.CreateGuidelines consumes.
package compiler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/parley/internal/ir"
)

// Endpoint is one side of a declared entailment: either a batch member
// named by Ref, or a stored guideline identified by Content.
type Endpoint struct {
	Ref     string
	Content ir.GuidelineContent
}

// InBatch reports whether the endpoint names a batch member.
func (e Endpoint) InBatch() bool {
	return e.Ref != ""
}

// GuidelineSpec is one batch entry.
type GuidelineSpec struct {
	Name      string
	Condition string
	Action    string

	// Update names the stored guideline this entry replaces. Empty adds a
	// new guideline.
	Update ir.GuidelineID

	// ReplaceConnections drops the updated guideline's entailment edges
	// before this batch's edges are created. Nil defaults to true for
	// updates.
	ReplaceConnections *bool

	Entails    []Endpoint
	EntailedBy []Endpoint

	// Line is the entry's line in its source file, 0 if unknown.
	Line int
}

// Content returns the entry's condition and action.
func (g GuidelineSpec) Content() ir.GuidelineContent {
	return ir.GuidelineContent{Condition: g.Condition, Action: g.Action}
}

// Batch is an ordered list of guideline entries from one file.
type Batch struct {
	Source     string
	Guidelines []GuidelineSpec
}

// LoadBatchFile reads and parses a batch file, choosing the format by
// extension.
func LoadBatchFile(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch: %w", err)
	}

	var b *Batch
	switch ext := filepath.Ext(path); ext {
	case ".cue":
		b, err = ParseBatchCUE(path, data)
	case ".yaml", ".yml":
		b, err = ParseBatchYAML(data)
	default:
		return nil, fmt.Errorf("unsupported batch file extension %q", ext)
	}
	if err != nil {
		return nil, err
	}
	b.Source = path
	return b, nil
}

// ResolveInvoices validates b and converts it to invoices in entry order.
//
// Each entailment becomes a proposition on the invoice of the entry that
// declares it. A proposition between two batch members is checked as
// connection_with_another_evaluated_guideline; one naming stored content
// as connection_with_existing_guideline.
func ResolveInvoices(b *Batch) ([]ir.Invoice, error) {
	if errs := Validate(b); len(errs) > 0 {
		joined := make([]error, len(errs))
		for i, e := range errs {
			joined[i] = e
		}
		return nil, errors.Join(joined...)
	}

	byName := make(map[string]ir.GuidelineContent, len(b.Guidelines))
	for _, g := range b.Guidelines {
		byName[g.Name] = g.Content()
	}
	resolve := func(e Endpoint) (ir.GuidelineContent, ir.CheckKind) {
		if e.InBatch() {
			return byName[e.Ref], ir.CheckKindAnotherEvaluatedGuideline
		}
		return e.Content, ir.CheckKindExistingGuideline
	}

	invoices := make([]ir.Invoice, 0, len(b.Guidelines))
	for _, g := range b.Guidelines {
		self := g.Content()
		data := &ir.InvoiceData{}

		for _, target := range g.Entails {
			content, kind := resolve(target)
			data.EntailmentPropositions = append(data.EntailmentPropositions, ir.EntailmentProposition{
				Source:    self,
				Target:    content,
				CheckKind: kind,
			})
		}
		for _, source := range g.EntailedBy {
			content, kind := resolve(source)
			data.EntailmentPropositions = append(data.EntailmentPropositions, ir.EntailmentProposition{
				Source:    content,
				Target:    self,
				CheckKind: kind,
			})
		}

		payload := ir.GuidelinePayload{
			Content:   self,
			Operation: ir.InvoiceOperationAdd,
		}
		if g.Update != "" {
			payload.Operation = ir.InvoiceOperationUpdate
			payload.UpdatedID = g.Update
			payload.ConnectionProposition = g.ReplaceConnections == nil || *g.ReplaceConnections
		}

		checksum, err := ir.InvoiceChecksum(payload)
		if err != nil {
			return nil, fmt.Errorf("guideline %q: %w", g.Name, err)
		}
		invoices = append(invoices, ir.Invoice{
			Payload:  payload,
			Checksum: checksum,
			Approved: true,
			Data:     data,
		})
	}
	return invoices, nil
}
