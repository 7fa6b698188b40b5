package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/parley/internal/engine"
	"github.com/roach88/parley/internal/ir"
)

// Scenario defines one replayable guideline scenario.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Existing guidelines are stored before any batch is applied.
	Existing []ir.GuidelineContent `yaml:"existing,omitempty"`

	// Batches are applied in order.
	Batches []BatchStep `yaml:"batches,omitempty"`

	// Conversation runs after every batch has been applied.
	Conversation *Conversation `yaml:"conversation,omitempty"`

	// Assertions validate the final snapshot.
	Assertions []Assertion `yaml:"assertions"`

	// dir resolves relative batch file paths.
	dir string
}

// BatchStep applies one guideline batch, read from File or given inline.
type BatchStep struct {
	// File is a .cue or .yaml batch, relative to the scenario file.
	File string `yaml:"file,omitempty"`

	// Guidelines is an inline batch in the YAML batch file shape.
	Guidelines yaml.Node `yaml:"guidelines"`

	// ExpectError, when set, requires the batch to fail with an error
	// containing it.
	ExpectError string `yaml:"expect_error,omitempty"`
}

func (b BatchStep) inline() bool {
	return b.Guidelines.Kind != 0
}

// Conversation drives one customer session.
type Conversation struct {
	Customer string `yaml:"customer"`

	// Agent defaults to "agent".
	Agent string `yaml:"agent,omitempty"`

	Title string `yaml:"title,omitempty"`

	// Greeting, when set, makes the agent speak first with this text.
	Greeting string `yaml:"greeting,omitempty"`

	// Messages are posted by the customer one at a time. Each waits for
	// the agent's response before the next is posted.
	Messages []string `yaml:"messages,omitempty"`

	// Utter requests proactive agent speech after the messages.
	Utter []engine.UtteranceRequest `yaml:"utter,omitempty"`
}

// Assertion validates the final snapshot.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Count is used by guideline_count and relationship_count.
	Count int `yaml:"count,omitempty"`

	// Kind filters relationship_count. Empty counts every kind.
	Kind ir.RelationshipKind `yaml:"kind,omitempty"`

	// Condition and Action identify a guideline (guideline_exists).
	Condition string `yaml:"condition,omitempty"`
	Action    string `yaml:"action,omitempty"`

	// Source and Target identify an entailment's endpoints.
	Source *ir.GuidelineContent `yaml:"source,omitempty"`
	Target *ir.GuidelineContent `yaml:"target,omitempty"`

	// Absent inverts guideline_exists and entailment.
	Absent bool `yaml:"absent,omitempty"`

	// Messages is the expected agent message sequence (agent_messages).
	Messages []string `yaml:"messages,omitempty"`

	// Trail is the expected event label order (event_trail). See
	// EventRecord.Label.
	Trail []string `yaml:"trail,omitempty"`
}

// Assertion type constants.
const (
	AssertGuidelineCount    = "guideline_count"
	AssertGuidelineExists   = "guideline_exists"
	AssertRelationshipCount = "relationship_count"
	AssertEntailment        = "entailment"
	AssertAgentMessages     = "agent_messages"
	AssertEventTrail        = "event_trail"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// Batch file paths resolve against the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.dir = filepath.Dir(path)

	for i, step := range scenario.Batches {
		if step.File == "" {
			continue
		}
		p := scenario.resolve(step.File)
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("invalid scenario: batches[%d]: %w", i, err)
		}
	}
	return scenario, nil
}

// ParseScenario decodes and validates a scenario. Relative batch paths
// resolve against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func (s *Scenario) resolve(path string) string {
	if filepath.IsAbs(path) || s.dir == "" {
		return path
	}
	return filepath.Join(s.dir, path)
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Batches) == 0 && s.Conversation == nil {
		return fmt.Errorf("at least one batch or a conversation is required")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, g := range s.Existing {
		if strings.TrimSpace(g.Condition) == "" || strings.TrimSpace(g.Action) == "" {
			return fmt.Errorf("existing[%d]: condition and action are required", i)
		}
	}

	for i, step := range s.Batches {
		switch {
		case step.File != "" && step.inline():
			return fmt.Errorf("batches[%d]: file and guidelines are mutually exclusive", i)
		case step.File == "" && !step.inline():
			return fmt.Errorf("batches[%d]: file or guidelines is required", i)
		case step.inline() && step.Guidelines.Kind != yaml.SequenceNode:
			return fmt.Errorf("batches[%d]: guidelines must be a list", i)
		}
	}

	if c := s.Conversation; c != nil {
		if c.Customer == "" {
			return fmt.Errorf("conversation: customer is required")
		}
		for i, u := range c.Utter {
			if u.Action == "" {
				return fmt.Errorf("conversation.utter[%d]: action is required", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertGuidelineCount, AssertRelationshipCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		if a.Kind != "" && !ir.ValidRelationshipKinds[a.Kind] {
			return fmt.Errorf("assertions[%d]: unknown relationship kind %q", index, a.Kind)
		}
	case AssertGuidelineExists:
		if a.Condition == "" || a.Action == "" {
			return fmt.Errorf("assertions[%d]: condition and action are required for guideline_exists", index)
		}
	case AssertEntailment:
		if a.Source == nil || a.Target == nil {
			return fmt.Errorf("assertions[%d]: source and target are required for entailment", index)
		}
	case AssertAgentMessages:
		// An empty list asserts the agent said nothing.
	case AssertEventTrail:
		if len(a.Trail) == 0 {
			return fmt.Errorf("assertions[%d]: trail is required for event_trail", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
