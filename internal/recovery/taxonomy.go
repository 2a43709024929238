package recovery

import (
	"fmt"
	"strings"
)

// Category groups failures by their origin and selects the recovery strategy.
type Category int

const (
	CategoryDataValidation Category = iota + 1
	CategoryProcessing
	CategoryAgentFailure
	CategoryDatabase
	CategorySystem
	CategoryNetwork
)

var categoryNames = map[Category]string{
	CategoryDataValidation: "data_validation",
	CategoryProcessing:     "processing",
	CategoryAgentFailure:   "agent_failure",
	CategoryDatabase:       "database",
	CategorySystem:         "system",
	CategoryNetwork:        "network",
}

// Categories lists every category in declaration order.
func Categories() []Category {
	return []Category{
		CategoryDataValidation,
		CategoryProcessing,
		CategoryAgentFailure,
		CategoryDatabase,
		CategorySystem,
		CategoryNetwork,
	}
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Valid reports whether c is one of the declared categories.
func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

func (c Category) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory accepts the snake_case names produced by String.
func ParseCategory(value string) (Category, error) {
	needle := strings.ToLower(strings.TrimSpace(value))
	for c, name := range categoryNames {
		if name == needle {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown error category %q", value)
}

// Severity orders failures; High and above fail the workflow.
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityLow:      "low",
	SeverityMedium:   "medium",
	SeverityHigh:     "high",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Terminal reports whether the severity fails the workflow at record time.
func (s Severity) Terminal() bool {
	return s >= SeverityHigh
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseSeverity(value string) (Severity, error) {
	needle := strings.ToLower(strings.TrimSpace(value))
	for s, name := range severityNames {
		if name == needle {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown error severity %q", value)
}
