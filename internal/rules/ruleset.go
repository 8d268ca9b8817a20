package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
)

const inlineSource = "(inline)"

// CompiledRule is a rule with its effective action and compiled pattern.
// The pattern is an RE2 regexp, so matching is linear in the input size.
type CompiledRule struct {
	Rule

	// Escalated is set when decision_policy.block_if turned a flag rule into a block rule
	Escalated bool

	re *regexp.Regexp
}

// FindAll returns up to n non-overlapping matches (n < 0 means all).
// Zero-length matches carry no content and are dropped.
func (c CompiledRule) FindAll(text string, n int) []string {
	if text == "" || c.re == nil {
		return nil
	}

	found := c.re.FindAllString(text, n)
	if len(found) == 0 {
		return nil
	}

	out := found[:0]
	for _, m := range found {
		if m != "" {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// RuleSet is an ordered, immutable collection of compiled rules
type RuleSet struct {
	rules   []CompiledRule
	byID    map[string]int
	digest  string
	sources []string
}

// Empty returns a rule set with no rules; it allows everything
func Empty() *RuleSet {
	rs, _ := compile(nil)
	return rs
}

// New validates and compiles rules built in memory
func New(rules []Rule, policy DecisionPolicy) (*RuleSet, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	files := []FileWithPath{{
		File: &File{Version: 1, Checks: rules, DecisionPolicy: policy},
		Path: inlineSource,
	}}

	if errs := validator.Validate(files); len(errs) > 0 {
		return nil, &ConfigError{Errors: errs}
	}

	return compile(files)
}

// Load reads, validates and compiles the rule set at path. Any problem in
// any file rejects the whole set.
func Load(path string) (*RuleSet, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	files, errs := LoadFromPath(path)
	if len(files) > 0 {
		errs = append(errs, validator.Validate(files)...)
	}
	if len(errs) > 0 {
		return nil, &ConfigError{Errors: errs}
	}

	return compile(files)
}

func compile(files []FileWithPath) (*RuleSet, error) {
	rs := &RuleSet{
		rules: []CompiledRule{},
		byID:  make(map[string]int),
	}

	blockIf := make(map[string]bool)
	for _, fw := range files {
		for _, id := range fw.File.DecisionPolicy.BlockIf {
			blockIf[id] = true
		}
	}

	for _, fw := range files {
		rs.sources = append(rs.sources, fw.Path)

		for i, rule := range fw.File.AllRules() {
			re, err := compilePattern(rule)
			if err != nil {
				return nil, &ConfigError{Errors: []ValidationError{{
					File:    fw.Path,
					Path:    rulePath(fw.File, i) + ".pattern",
					Message: err.Error(),
				}}}
			}

			cr := CompiledRule{Rule: withDefaults(rule), re: re}
			if blockIf[rule.ID] && cr.Action != ActionBlock {
				cr.Action = ActionBlock
				cr.Escalated = true
			}

			rs.byID[cr.ID] = len(rs.rules)
			rs.rules = append(rs.rules, cr)
		}
	}

	digest, err := digestRules(rs.rules)
	if err != nil {
		return nil, err
	}
	rs.digest = digest

	return rs, nil
}

func withDefaults(r Rule) Rule {
	if r.Category == "" {
		r.Category = DefaultCategory
	}
	if r.Weight == 0 {
		r.Weight = DefaultWeight
	}
	return r
}

// compilePattern compiles a rule pattern in multi-line mode, so ^ and $
// anchor at line breaks. Matching is case-insensitive unless the rule opts out.
func compilePattern(r Rule) (*regexp.Regexp, error) {
	flags := "(?im)"
	if r.CaseSensitive {
		flags = "(?m)"
	}
	return regexp.Compile(flags + r.Pattern)
}

func digestRules(rules []CompiledRule) (string, error) {
	effective := make([]Rule, len(rules))
	for i, r := range rules {
		effective[i] = r.Rule
	}

	data, err := json.Marshal(effective)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Len returns the number of rules
func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// At returns the i-th compiled rule in declaration order
func (rs *RuleSet) At(i int) CompiledRule {
	return rs.rules[i]
}

// Rules returns a copy of the effective rule definitions in order
func (rs *RuleSet) Rules() []Rule {
	if rs == nil {
		return []Rule{}
	}
	out := make([]Rule, len(rs.rules))
	for i, r := range rs.rules {
		out[i] = r.Rule
	}
	return out
}

// Get looks up a rule by ID
func (rs *RuleSet) Get(id string) (CompiledRule, bool) {
	if rs == nil {
		return CompiledRule{}, false
	}
	i, ok := rs.byID[id]
	if !ok {
		return CompiledRule{}, false
	}
	return rs.rules[i], true
}

// Digest identifies the effective rule definitions
func (rs *RuleSet) Digest() string {
	if rs == nil {
		return ""
	}
	return rs.digest
}

// Sources lists the files the rule set was loaded from
func (rs *RuleSet) Sources() []string {
	if rs == nil {
		return nil
	}
	out := make([]string, len(rs.sources))
	copy(out, rs.sources)
	return out
}
