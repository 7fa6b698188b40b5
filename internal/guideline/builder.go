// Package guideline applies evaluated invoices to the guideline and
// relationship stores.
//
// CreateGuidelines runs in three passes over one invoice batch:
//
//  1. Materialize: add or update each invoice's guideline and index the
//     result by content key.
//  2. Purge: for updates flagged with ConnectionProposition, delete every
//     entailment edge touching the updated guideline, in both directions.
//  3. Reconcile: create one entailment edge per distinct proposition in the
//     batch.
//
// # Consistency
//
// The builder holds no lock across passes. Each store call takes and
// releases its own lock, so a concurrent writer can interleave between
// steps. A failed batch leaves everything applied before the failure in
// place; callers may re-invoke.
package guideline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/parley/internal/ir"
	"github.com/roach88/parley/internal/store"
)

// ErrUnresolvedProposition is returned when a proposition names in-batch
// content that no invoice in the batch produced.
var ErrUnresolvedProposition = errors.New("unresolved entailment proposition")

// GuidelineStore is the guideline API the builder writes through.
type GuidelineStore interface {
	CreateGuideline(ctx context.Context, content ir.GuidelineContent, tags ...ir.TagID) (ir.Guideline, error)
	UpdateGuideline(ctx context.Context, id ir.GuidelineID, params store.GuidelineUpdateParams) (ir.Guideline, error)
	FindGuideline(ctx context.Context, content ir.GuidelineContent) (ir.Guideline, error)
}

// RelationshipStore is the relationship API the builder writes through.
type RelationshipStore interface {
	CreateRelationship(ctx context.Context, source, target ir.EntityRef, kind ir.RelationshipKind) (ir.Relationship, error)
	ListRelationships(ctx context.Context, q store.RelationshipQuery) ([]ir.Relationship, error)
	DeleteRelationship(ctx context.Context, id ir.RelationshipID) error
}

// Builder materializes invoices into guidelines and entailment edges.
type Builder struct {
	guidelines    GuidelineStore
	relationships RelationshipStore
	logger        *slog.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		b.logger = l
	}
}

// NewBuilder creates a Builder over the given stores.
func NewBuilder(guidelines GuidelineStore, relationships RelationshipStore, opts ...Option) *Builder {
	b := &Builder{
		guidelines:    guidelines,
		relationships: relationships,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// CreateGuidelines applies invoices in order and returns the id of each
// invoice's guideline, in invoice order.
//
// Every invoice must carry Data; a nil Data is an evaluator contract
// violation and panics before anything is written. A proposition whose
// stored side does not exist fails with a store.ItemNotFoundError and
// aborts the rest of the batch.
func (b *Builder) CreateGuidelines(ctx context.Context, invoices []ir.Invoice) ([]ir.GuidelineID, error) {
	for i, inv := range invoices {
		if inv.Data == nil {
			panic(fmt.Sprintf("guideline: invoice %d has no data", i))
		}
	}

	ids, byKey, err := b.materialize(ctx, invoices)
	if err != nil {
		return nil, err
	}

	for _, inv := range invoices {
		if inv.Payload.Operation != ir.InvoiceOperationUpdate || !inv.Payload.ConnectionProposition {
			continue
		}
		if err := b.purgeEntailments(ctx, inv.Payload.UpdatedID); err != nil {
			return nil, err
		}
	}

	seen := make(map[ir.EntailmentProposition]bool)
	created := 0
	for _, inv := range invoices {
		for _, p := range inv.Data.EntailmentPropositions {
			k := ir.EntailmentProposition{Source: p.Source.Normalize(), Target: p.Target.Normalize(), CheckKind: p.CheckKind}
			if seen[k] {
				continue
			}
			seen[k] = true

			source, target, err := b.resolve(ctx, p, byKey)
			if err != nil {
				return nil, err
			}
			if _, err := b.relationships.CreateRelationship(ctx,
				ir.GuidelineRef(source), ir.GuidelineRef(target), ir.RelationshipKindEntailment); err != nil {
				return nil, fmt.Errorf("create entailment %s -> %s: %w", source, target, err)
			}
			created++
		}
	}

	b.logger.Debug("guidelines applied",
		"invoices", len(invoices),
		"guidelines", len(ids),
		"entailments", created,
	)
	return ids, nil
}

// materialize adds or updates each invoice's guideline.
func (b *Builder) materialize(ctx context.Context, invoices []ir.Invoice) ([]ir.GuidelineID, map[string]ir.GuidelineID, error) {
	ids := make([]ir.GuidelineID, 0, len(invoices))
	byKey := make(map[string]ir.GuidelineID, len(invoices))

	for _, inv := range invoices {
		var (
			g   ir.Guideline
			err error
		)
		switch inv.Payload.Operation {
		case ir.InvoiceOperationAdd:
			g, err = b.guidelines.CreateGuideline(ctx, inv.Payload.Content)
		case ir.InvoiceOperationUpdate:
			g, err = b.guidelines.UpdateGuideline(ctx, inv.Payload.UpdatedID, store.ContentUpdate(inv.Payload.Content))
		default:
			err = fmt.Errorf("unknown invoice operation %q", inv.Payload.Operation)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("materialize guideline: %w", err)
		}

		ids = append(ids, g.ID)
		byKey[inv.Payload.Content.Key()] = g.ID
	}
	return ids, byKey, nil
}

// purgeEntailments deletes every entailment edge with id as source or target.
func (b *Builder) purgeEntailments(ctx context.Context, id ir.GuidelineID) error {
	outgoing, err := b.relationships.ListRelationships(ctx, store.RelationshipQuery{
		Kind:   ir.RelationshipKindEntailment,
		Source: string(id),
	})
	if err != nil {
		return fmt.Errorf("purge entailments of %s: %w", id, err)
	}
	incoming, err := b.relationships.ListRelationships(ctx, store.RelationshipQuery{
		Kind:   ir.RelationshipKindEntailment,
		Target: string(id),
	})
	if err != nil {
		return fmt.Errorf("purge entailments of %s: %w", id, err)
	}

	// A self-edge shows up in both lists.
	deleted := make(map[ir.RelationshipID]bool)
	for _, r := range append(outgoing, incoming...) {
		if deleted[r.ID] {
			continue
		}
		if err := b.relationships.DeleteRelationship(ctx, r.ID); err != nil {
			return fmt.Errorf("purge entailments of %s: %w", id, err)
		}
		deleted[r.ID] = true
	}

	if len(deleted) > 0 {
		b.logger.Debug("entailments purged", "guideline_id", id, "count", len(deleted))
	}
	return nil
}

// resolve maps a proposition to concrete source and target ids.
//
// For CheckKindExistingGuideline the side whose key is in byKey is taken as
// in-batch and the other side is looked up by content. The check kind is
// trusted: a proposition between two in-batch guidelines that is labelled
// existing fails the store lookup.
func (b *Builder) resolve(ctx context.Context, p ir.EntailmentProposition, byKey map[string]ir.GuidelineID) (ir.GuidelineID, ir.GuidelineID, error) {
	sourceKey, targetKey := p.Source.Key(), p.Target.Key()

	if p.CheckKind == ir.CheckKindAnotherEvaluatedGuideline {
		source, ok := byKey[sourceKey]
		if !ok {
			return "", "", fmt.Errorf("%w: source %q not in batch", ErrUnresolvedProposition, sourceKey)
		}
		target, ok := byKey[targetKey]
		if !ok {
			return "", "", fmt.Errorf("%w: target %q not in batch", ErrUnresolvedProposition, targetKey)
		}
		return source, target, nil
	}

	if source, ok := byKey[sourceKey]; ok {
		existing, err := b.guidelines.FindGuideline(ctx, p.Target)
		if err != nil {
			return "", "", fmt.Errorf("resolve entailment target: %w", err)
		}
		return source, existing.ID, nil
	}

	target, ok := byKey[targetKey]
	if !ok {
		return "", "", fmt.Errorf("%w: neither %q nor %q in batch", ErrUnresolvedProposition, sourceKey, targetKey)
	}
	existing, err := b.guidelines.FindGuideline(ctx, p.Source)
	if err != nil {
		return "", "", fmt.Errorf("resolve entailment source: %w", err)
	}
	return existing.ID, target, nil
}
