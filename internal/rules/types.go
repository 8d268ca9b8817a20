package rules

import (
	"fmt"
	"strings"
)

// Action is what a matching rule does to the decision
type Action string

const (
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// Valid reports whether a is one of the supported actions
func (a Action) Valid() bool {
	return a == ActionFlag || a == ActionBlock
}

const (
	DefaultCategory = "general"
	DefaultWeight   = 1.0
)

// File represents a parsed policy gate rule file
type File struct {
	Version        int            `yaml:"version" json:"version"`
	Checks         []Rule         `yaml:"checks,omitempty" json:"checks,omitempty"`
	Rules          []Rule         `yaml:"rules,omitempty" json:"rules,omitempty"`
	DecisionPolicy DecisionPolicy `yaml:"decision_policy,omitempty" json:"decision_policy,omitempty"`
}

// AllRules returns checks followed by the rules alias, in file order
func (f *File) AllRules() []Rule {
	out := make([]Rule, 0, len(f.Checks)+len(f.Rules))
	out = append(out, f.Checks...)
	out = append(out, f.Rules...)
	return out
}

// DecisionPolicy holds file-level overrides applied at compile time
type DecisionPolicy struct {
	BlockIf []string `yaml:"block_if,omitempty" json:"block_if,omitempty"`
}

// Rule is a single named check. Rules are values and never mutated after load.
type Rule struct {
	ID            string  `yaml:"id" json:"id"`
	Name          string  `yaml:"name" json:"name"`
	Action        Action  `yaml:"action" json:"action"`
	Pattern       string  `yaml:"pattern" json:"pattern"`
	Category      string  `yaml:"category,omitempty" json:"category,omitempty"`
	Weight        float64 `yaml:"weight,omitempty" json:"weight,omitempty"`
	CaseSensitive bool    `yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`
}

// FileWithPath pairs a rule file with its source path
type FileWithPath struct {
	File *File
	Path string

	// generic YAML document, nil for rule sets built in memory
	doc any
}

// ValidationError represents a validation error for a specific file
type ValidationError struct {
	File    string
	Path    string
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}

// ConfigError is returned when a rule set cannot be loaded. No partial rule
// set is ever returned alongside it.
type ConfigError struct {
	Errors []ValidationError
}

func (e *ConfigError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "invalid rule set"
	case 1:
		return "invalid rule set: " + e.Errors[0].Error()
	}

	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("invalid rule set (%d errors): %s", len(e.Errors), strings.Join(msgs, "; "))
}
