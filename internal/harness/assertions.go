package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/parley/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string        // Assertion type for categorization
	Expected string        // Human-readable expected outcome
	Actual   string        // Human-readable actual outcome
	Events   []EventRecord // Session events for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Events) > 0 {
		fmt.Fprintf(&buf, "\nSession events:\n")
		for _, event := range e.Events {
			fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Offset, event.Source, event.Label())
		}
	}

	return buf.String()
}

func assertGuidelineCount(snap *Snapshot, assertion Assertion) error {
	if len(snap.Guidelines) != assertion.Count {
		return &AssertionError{
			Type:     AssertGuidelineCount,
			Expected: fmt.Sprintf("%d guidelines", assertion.Count),
			Actual:   fmt.Sprintf("%d guidelines", len(snap.Guidelines)),
		}
	}
	return nil
}

func assertGuidelineExists(snap *Snapshot, assertion Assertion) error {
	content := ir.GuidelineContent{Condition: assertion.Condition, Action: assertion.Action}
	_, found := findGuideline(snap, content)

	if found == assertion.Absent {
		return &AssertionError{
			Type:     AssertGuidelineExists,
			Expected: fmt.Sprintf("guideline %s %s", describe(content), presence(!assertion.Absent)),
			Actual:   presence(found),
		}
	}
	return nil
}

func assertRelationshipCount(snap *Snapshot, assertion Assertion) error {
	count := 0
	for _, r := range snap.Relationships {
		if assertion.Kind == "" || r.Kind == assertion.Kind {
			count++
		}
	}

	if count != assertion.Count {
		what := "relationships"
		if assertion.Kind != "" {
			what = string(assertion.Kind) + " relationships"
		}
		return &AssertionError{
			Type:     AssertRelationshipCount,
			Expected: fmt.Sprintf("%d %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d %s", count, what),
		}
	}
	return nil
}

// assertEntailment checks for an entailment edge between the guidelines
// identified by content.
func assertEntailment(snap *Snapshot, assertion Assertion) error {
	expected := fmt.Sprintf("entailment %s -> %s %s",
		describe(*assertion.Source), describe(*assertion.Target), presence(!assertion.Absent))

	source, sourceFound := findGuideline(snap, *assertion.Source)
	target, targetFound := findGuideline(snap, *assertion.Target)
	if !sourceFound || !targetFound {
		if assertion.Absent {
			return nil
		}
		missing := describe(*assertion.Source)
		if sourceFound {
			missing = describe(*assertion.Target)
		}
		return &AssertionError{
			Type:     AssertEntailment,
			Expected: expected,
			Actual:   fmt.Sprintf("no stored guideline %s", missing),
		}
	}

	found := slices.ContainsFunc(snap.Relationships, func(r RelationshipRecord) bool {
		return r.Kind == ir.RelationshipKindEntailment &&
			r.Source == string(source.ID) &&
			r.Target == string(target.ID)
	})
	if found == assertion.Absent {
		return &AssertionError{
			Type:     AssertEntailment,
			Expected: expected,
			Actual:   fmt.Sprintf("%s -> %s %s", source.ID, target.ID, presence(found)),
		}
	}
	return nil
}

func assertAgentMessages(snap *Snapshot, assertion Assertion) error {
	messages := []string{}
	for _, e := range snap.Events {
		if e.Source == ir.EventSourceAIAgent && e.Kind == ir.EventKindMessage {
			text, _ := e.Data["message"].(string)
			messages = append(messages, text)
		}
	}

	expected := assertion.Messages
	if expected == nil {
		expected = []string{}
	}
	if !slices.Equal(messages, expected) {
		return &AssertionError{
			Type:     AssertAgentMessages,
			Expected: fmt.Sprintf("%q", expected),
			Actual:   fmt.Sprintf("%q", messages),
			Events:   snap.Events,
		}
	}
	return nil
}

// assertEventTrail checks that the trail labels appear in order.
// Labels don't need to be consecutive (intervening events are allowed).
func assertEventTrail(snap *Snapshot, assertion Assertion) error {
	next := 0
	for _, e := range snap.Events {
		if next < len(assertion.Trail) && e.Label() == assertion.Trail[next] {
			next++
		}
	}

	if next < len(assertion.Trail) {
		return &AssertionError{
			Type:     AssertEventTrail,
			Expected: fmt.Sprintf("events in order: %v", assertion.Trail),
			Actual:   fmt.Sprintf("%q not found after %v", assertion.Trail[next], assertion.Trail[:next]),
			Events:   snap.Events,
		}
	}
	return nil
}

// findGuideline matches stored guidelines by normalized content.
func findGuideline(snap *Snapshot, content ir.GuidelineContent) (GuidelineRecord, bool) {
	key := content.Key()
	for _, g := range snap.Guidelines {
		if g.Content().Key() == key {
			return g, true
		}
	}
	return GuidelineRecord{}, false
}

func describe(c ir.GuidelineContent) string {
	return fmt.Sprintf("{%q, %q}", c.Condition, c.Action)
}

func presence(present bool) string {
	if present {
		return "present"
	}
	return "absent"
}

// EvaluateAssertions evaluates all assertions against the snapshot.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(snap *Snapshot, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertGuidelineCount:
			err = assertGuidelineCount(snap, assertion)
		case AssertGuidelineExists:
			err = assertGuidelineExists(snap, assertion)
		case AssertRelationshipCount:
			err = assertRelationshipCount(snap, assertion)
		case AssertEntailment:
			err = assertEntailment(snap, assertion)
		case AssertAgentMessages:
			err = assertAgentMessages(snap, assertion)
		case AssertEventTrail:
			err = assertEventTrail(snap, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
