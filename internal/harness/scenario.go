package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted delivery of envelopes and local actions, followed
// by assertions on the resulting store, stats and forwarded envelopes.
type Scenario struct {
	// Name uniquely identifies this scenario. Also the golden file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Config is overlaid on config.Default() using the config file format.
	Config map[string]any `yaml:"config,omitempty"`

	// IDs are handed out to placeholders in order. When empty, placeholders
	// get tmp-1, tmp-2, ...
	IDs []string `yaml:"ids,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions"`
}

// Step is exactly one action. Which field is set decides the kind.
type Step struct {
	Deliver           *DeliverStep           `yaml:"deliver,omitempty"`
	OptimisticMessage *OptimisticMessageStep `yaml:"optimistic_message,omitempty"`
	OptimisticPart    *OptimisticPartStep    `yaml:"optimistic_part,omitempty"`
	AdvanceMS         int64                  `yaml:"advance_ms,omitempty"`
	Resume            *ResumeStep            `yaml:"resume,omitempty"`
	Sweep             bool                   `yaml:"sweep,omitempty"`
	CloseStream       string                 `yaml:"close_stream,omitempty"`
}

// Step kinds, as they appear in traces.
const (
	StepDeliver           = "deliver"
	StepOptimisticMessage = "optimistic_message"
	StepOptimisticPart    = "optimistic_part"
	StepAdvance           = "advance_ms"
	StepResume            = "resume"
	StepSweep             = "sweep"
	StepCloseStream       = "close_stream"

	// TraceEnvelope marks trace events read back from the journal.
	TraceEnvelope = "envelope"
)

// Kind returns the step kind, or "" when no field (or more than one) is set.
func (s Step) Kind() string {
	var kinds []string
	if s.Deliver != nil {
		kinds = append(kinds, StepDeliver)
	}
	if s.OptimisticMessage != nil {
		kinds = append(kinds, StepOptimisticMessage)
	}
	if s.OptimisticPart != nil {
		kinds = append(kinds, StepOptimisticPart)
	}
	if s.AdvanceMS != 0 {
		kinds = append(kinds, StepAdvance)
	}
	if s.Resume != nil {
		kinds = append(kinds, StepResume)
	}
	if s.Sweep {
		kinds = append(kinds, StepSweep)
	}
	if s.CloseStream != "" {
		kinds = append(kinds, StepCloseStream)
	}
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

// DeliverStep is an envelope handed to Dispatcher.Handle.
type DeliverStep struct {
	Type       string         `yaml:"type"`
	EventID    string         `yaml:"event_id,omitempty"`
	Stream     string         `yaml:"stream,omitempty"`
	Seq        *int64         `yaml:"seq,omitempty"`
	Timestamp  *int64         `yaml:"timestamp,omitempty"`
	Directory  string         `yaml:"directory,omitempty"`
	Properties map[string]any `yaml:"properties,omitempty"`
}

// OptimisticMessageStep creates a placeholder message.
type OptimisticMessageStep struct {
	Stream    string `yaml:"stream"`
	Role      string `yaml:"role,omitempty"`
	Parent    string `yaml:"parent,omitempty"`
	Directory string `yaml:"directory,omitempty"`
}

// OptimisticPartStep creates a placeholder part.
type OptimisticPartStep struct {
	Message     string `yaml:"message"`
	Type        string `yaml:"type,omitempty"`
	Text        string `yaml:"text,omitempty"`
	ReasoningID string `yaml:"reasoning_id,omitempty"`
	Tool        string `yaml:"tool,omitempty"`
	CallID      string `yaml:"call_id,omitempty"`
}

// ResumeStep sets a stream's last processed sequence.
type ResumeStep struct {
	Stream  string `yaml:"stream"`
	LastSeq int64  `yaml:"last_seq"`
}

// Assertion validates the final state of a run.
type Assertion struct {
	// Type is one of count, exists, absent, forwarded, stats.
	Type string `yaml:"type"`

	// Collection is sessions, messages or parts (count, exists, absent).
	Collection string `yaml:"collection,omitempty"`

	// ID is the record id (exists, absent).
	ID string `yaml:"id,omitempty"`

	// Stream narrows count to one stream.
	Stream string `yaml:"stream,omitempty"`

	// Message narrows a parts count to one message.
	Message string `yaml:"message,omitempty"`

	// EventType narrows forwarded to one envelope type.
	EventType string `yaml:"event_type,omitempty"`

	// Count is the expected number (count, forwarded).
	Count *int `yaml:"count,omitempty"`

	// Expect holds expected field values, subset match (exists, stats).
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertCount     = "count"
	AssertExists    = "exists"
	AssertAbsent    = "absent"
	AssertForwarded = "forwarded"
	AssertStats     = "stats"
)

// Collections addressable by assertions.
const (
	CollectionSessions = "sessions"
	CollectionMessages = "messages"
	CollectionParts    = "parts"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	switch s.Kind() {
	case "":
		return fmt.Errorf("steps[%d]: exactly one action is required", index)
	case StepOptimisticMessage:
		if s.OptimisticMessage.Stream == "" {
			return fmt.Errorf("steps[%d]: stream is required for optimistic_message", index)
		}
	case StepOptimisticPart:
		if s.OptimisticPart.Message == "" {
			return fmt.Errorf("steps[%d]: message is required for optimistic_part", index)
		}
	case StepAdvance:
		if s.AdvanceMS < 0 {
			return fmt.Errorf("steps[%d]: advance_ms must be positive", index)
		}
	case StepResume:
		if s.Resume.Stream == "" {
			return fmt.Errorf("steps[%d]: stream is required for resume", index)
		}
	}
	// Malformed deliveries are allowed: they exercise validation.
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertCount:
		if err := validateCollection(index, a.Collection); err != nil {
			return err
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for count", index)
		}
	case AssertExists, AssertAbsent:
		if err := validateCollection(index, a.Collection); err != nil {
			return err
		}
		if a.ID == "" {
			return fmt.Errorf("assertions[%d]: id is required for %s", index, a.Type)
		}
	case AssertForwarded:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for forwarded", index)
		}
	case AssertStats:
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for stats", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

func validateCollection(index int, c string) error {
	switch c {
	case CollectionSessions, CollectionMessages, CollectionParts:
		return nil
	case "":
		return fmt.Errorf("assertions[%d]: collection is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown collection %q", index, c)
	}
}
