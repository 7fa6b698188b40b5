package ir

import "time"

// GuidelineID identifies a stored guideline.
type GuidelineID string

// RelationshipID identifies a stored relationship.
type RelationshipID string

// TagID identifies a stored tag.
type TagID string

// GuidelineContent is the condition/action pair that defines a guideline.
type GuidelineContent struct {
	Condition string `json:"condition" yaml:"condition"`
	Action    string `json:"action" yaml:"action"`
}

// Guideline is a stored condition/action rule.
// The ID never changes; Content may be updated in place.
type Guideline struct {
	ID          GuidelineID      `json:"id"`
	Content     GuidelineContent `json:"content"`
	Enabled     bool             `json:"enabled"`
	Tags        []TagID          `json:"tags"`
	CreationUTC time.Time        `json:"creation_utc"`
}

// EntityType names the kind of document a relationship endpoint refers to.
type EntityType string

const (
	EntityTypeGuideline EntityType = "guideline"
	EntityTypeTag       EntityType = "tag"
	EntityTypeTool      EntityType = "tool"
)

// ValidEntityTypes defines allowed relationship endpoint types.
var ValidEntityTypes = map[EntityType]bool{
	EntityTypeGuideline: true,
	EntityTypeTag:       true,
	EntityTypeTool:      true,
}

// RelationshipKind categorizes a relationship edge.
type RelationshipKind string

const (
	// RelationshipKindEntailment means: when the source guideline's condition
	// matches, the target guideline becomes relevant.
	RelationshipKindEntailment     RelationshipKind = "entailment"
	RelationshipKindPriority       RelationshipKind = "priority"
	RelationshipKindDependency     RelationshipKind = "dependency"
	RelationshipKindDisambiguation RelationshipKind = "disambiguation"
)

// ValidRelationshipKinds defines allowed relationship kinds.
var ValidRelationshipKinds = map[RelationshipKind]bool{
	RelationshipKindEntailment:     true,
	RelationshipKindPriority:       true,
	RelationshipKindDependency:     true,
	RelationshipKindDisambiguation: true,
}

// EntityRef points at one endpoint of a relationship.
type EntityRef struct {
	ID   string     `json:"id"`
	Type EntityType `json:"type"`
}

// GuidelineRef returns an EntityRef for a guideline id.
func GuidelineRef(id GuidelineID) EntityRef {
	return EntityRef{ID: string(id), Type: EntityTypeGuideline}
}

// Relationship is a directed edge between two entities.
//
// The store does not enforce uniqueness of (source, target, kind); callers
// that must avoid duplicates deduplicate before creating.
type Relationship struct {
	ID          RelationshipID   `json:"id"`
	Source      EntityRef        `json:"source"`
	Target      EntityRef        `json:"target"`
	Kind        RelationshipKind `json:"kind"`
	CreationUTC time.Time        `json:"creation_utc"`
}

// Tag is a named label that can be attached to guidelines.
type Tag struct {
	ID          TagID     `json:"id"`
	Name        string    `json:"name"`
	CreationUTC time.Time `json:"creation_utc"`
}

// InvoiceOperation is the change an evaluator proposes for a guideline.
type InvoiceOperation string

const (
	InvoiceOperationAdd    InvoiceOperation = "add"
	InvoiceOperationUpdate InvoiceOperation = "update"
)

// CheckKind tells the relationship builder where the two sides of an
// entailment proposition live.
type CheckKind string

const (
	// CheckKindAnotherEvaluatedGuideline: both sides are in the same batch.
	CheckKindAnotherEvaluatedGuideline CheckKind = "connection_with_another_evaluated_guideline"
	// CheckKindExistingGuideline: one side is in the batch, the other is stored.
	CheckKindExistingGuideline CheckKind = "connection_with_existing_guideline"
)

// ValidCheckKinds defines allowed proposition check kinds.
var ValidCheckKinds = map[CheckKind]bool{
	CheckKindAnotherEvaluatedGuideline: true,
	CheckKindExistingGuideline:         true,
}

// GuidelinePayload is the guideline change carried by an invoice.
type GuidelinePayload struct {
	Content   GuidelineContent `json:"content"`
	Operation InvoiceOperation `json:"operation"`
	// UpdatedID is set when Operation is update.
	UpdatedID GuidelineID `json:"updated_id,omitempty"`
	// ConnectionProposition marks an update whose entailment edges are
	// replaced wholesale by this invoice's propositions.
	ConnectionProposition bool `json:"connection_proposition"`
}

// EntailmentProposition proposes an entailment edge between two guidelines
// identified by content. It is a comparable value: two propositions with
// equal fields are the same proposition.
type EntailmentProposition struct {
	Source    GuidelineContent `json:"source"`
	Target    GuidelineContent `json:"target"`
	CheckKind CheckKind        `json:"check_kind"`
}

// InvoiceData carries the evaluator's findings for an invoice.
type InvoiceData struct {
	EntailmentPropositions []EntailmentProposition `json:"entailment_propositions,omitempty"`
}

// Invoice is one evaluated guideline change ready to be applied.
type Invoice struct {
	Payload  GuidelinePayload `json:"payload"`
	Checksum string           `json:"checksum,omitempty"`
	Approved bool             `json:"approved"`
	Data     *InvoiceData     `json:"data"`
}
