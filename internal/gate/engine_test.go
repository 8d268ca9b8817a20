package gate

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samijaber1/inquisitor-gate/internal/rules"
)

func TestEngine_Evaluate_Scenarios(t *testing.T) {
	engine := NewEngine()
	rs := scenarioRules(t)

	tests := []struct {
		name         string
		text         string
		wantAllow    bool
		wantVerdict  Verdict
		wantFlags    []string
		wantRaw      map[string][]string
		wantReasonIn []string
	}{
		{
			name:         "A - nothing matches",
			text:         "Original setting transmission.",
			wantAllow:    true,
			wantVerdict:  VerdictAllow,
			wantFlags:    []string{},
			wantRaw:      map[string][]string{},
			wantReasonIn: []string{"No policy flags matched; allow."},
		},
		{
			name:         "B - flag only",
			text:         "The market closed higher today; a modern politics topic.",
			wantAllow:    true,
			wantVerdict:  VerdictFlag,
			wantFlags:    []string{"OOU1"},
			wantRaw:      map[string][]string{"OOU1": {"modern politics"}},
			wantReasonIn: []string{"Flags present (OOU1); allow with flags."},
		},
		{
			name:         "C - block",
			text:         "Just kill yourself already.",
			wantAllow:    false,
			wantVerdict:  VerdictBlock,
			wantFlags:    []string{},
			wantRaw:      map[string][]string{"SAF1": {"kill yourself"}},
			wantReasonIn: []string{"SAF1", "blocked"},
		},
		{
			name:         "D - flag and block together",
			text:         "Celebrity news: KILL YOURSELF, celebrity.",
			wantAllow:    false,
			wantVerdict:  VerdictBlock,
			wantFlags:    []string{"OOU1"},
			wantRaw:      map[string][]string{"OOU1": {"Celebrity", "celebrity"}, "SAF1": {"KILL YOURSELF"}},
			wantReasonIn: []string{"SAF1", "blocked", "Flags present (OOU1)"},
		},
		{
			name:         "empty text",
			text:         "",
			wantAllow:    true,
			wantVerdict:  VerdictAllow,
			wantFlags:    []string{},
			wantRaw:      map[string][]string{},
			wantReasonIn: []string{"No policy flags matched"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Evaluate(rs, Draft{Scope: "test", Text: tt.text})

			if d.Allow != tt.wantAllow {
				t.Errorf("expected allow=%v, got %v (reasons: %s)", tt.wantAllow, d.Allow, d.Reasons)
			}
			if d.Verdict != tt.wantVerdict {
				t.Errorf("expected verdict %s, got %s", tt.wantVerdict, d.Verdict)
			}
			if !reflect.DeepEqual(d.Flags, tt.wantFlags) {
				t.Errorf("expected flags %v, got %v", tt.wantFlags, d.Flags)
			}
			if !reflect.DeepEqual(d.RawMatch, tt.wantRaw) {
				t.Errorf("expected raw_match %v, got %v", tt.wantRaw, d.RawMatch)
			}
			for _, want := range tt.wantReasonIn {
				if !strings.Contains(d.Reasons, want) {
					t.Errorf("expected reasons to contain %q, got %q", want, d.Reasons)
				}
			}
			if d.RuleSetDigest != rs.Digest() {
				t.Errorf("expected digest %s, got %s", rs.Digest(), d.RuleSetDigest)
			}

			t.Logf("Verdict: %s, Reasons: %s", d.Verdict, d.Reasons)
		})
	}
}

func TestEngine_Evaluate_EmptyRuleSet(t *testing.T) {
	engine := NewEngine()

	for _, rs := range []*rules.RuleSet{nil, rules.Empty()} {
		d := engine.Evaluate(rs, Draft{Text: "kill yourself, celebrity"})

		if !d.Allow {
			t.Error("expected allow for empty rule set")
		}
		if len(d.Flags) != 0 || d.Flags == nil {
			t.Errorf("expected empty non-nil flags, got %#v", d.Flags)
		}
		if len(d.RawMatch) != 0 || d.RawMatch == nil {
			t.Errorf("expected empty non-nil raw_match, got %#v", d.RawMatch)
		}
	}
}

func TestEngine_Evaluate_FlagWeights(t *testing.T) {
	engine := NewEngine()
	rs, err := rules.New([]rules.Rule{
		{ID: "OOU2", Name: "brand", Action: rules.ActionFlag, Pattern: `\breddit\b`, Weight: 0.5},
		{ID: "OOU3", Name: "platform", Action: rules.ActionFlag, Pattern: `\btiktok\b`, Weight: 0.5},
		{ID: "OOU1", Name: "celebrity", Action: rules.ActionFlag, Pattern: "celebrity"},
	}, rules.DecisionPolicy{})
	if err != nil {
		t.Fatalf("failed to build rules: %v", err)
	}

	tests := []struct {
		name        string
		text        string
		wantVerdict Verdict
		wantScore   float64
		wantFlags   []string
	}{
		{name: "light flag stays allow", text: "seen on reddit", wantVerdict: VerdictAllow, wantScore: 0.5, wantFlags: []string{"OOU2"}},
		{name: "light flags add up", text: "reddit or tiktok", wantVerdict: VerdictFlag, wantScore: 1.0, wantFlags: []string{"OOU2", "OOU3"}},
		{name: "default weight flags", text: "celebrity", wantVerdict: VerdictFlag, wantScore: 1.0, wantFlags: []string{"OOU1"}},
		{name: "nothing matches", text: "praise the machine", wantVerdict: VerdictAllow, wantScore: 0, wantFlags: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Evaluate(rs, Draft{Scope: "test", Text: tt.text})

			if !d.Allow {
				t.Error("expected allow=true for flag-only rules")
			}
			if d.Verdict != tt.wantVerdict {
				t.Errorf("expected verdict %s, got %s", tt.wantVerdict, d.Verdict)
			}
			if d.FlagScore != tt.wantScore {
				t.Errorf("expected flag score %v, got %v", tt.wantScore, d.FlagScore)
			}
			if !reflect.DeepEqual(d.Flags, tt.wantFlags) {
				t.Errorf("expected flags %v, got %v", tt.wantFlags, d.Flags)
			}
		})
	}
}

func TestEngine_Evaluate_MultilineAnchors(t *testing.T) {
	rs, err := rules.New([]rules.Rule{
		{ID: "HER1", Name: "heresy line", Action: rules.ActionBlock, Pattern: "^heresy$"},
	}, rules.DecisionPolicy{})
	if err != nil {
		t.Fatalf("failed to build rules: %v", err)
	}

	d := NewEngine().Evaluate(rs, Draft{Scope: "test", Text: "first line\nHeresy\nlast line"})
	if d.Allow {
		t.Error("expected anchored rule to match an inner line")
	}
	if got := d.RawMatch["HER1"]; len(got) != 1 || got[0] != "Heresy" {
		t.Errorf("expected raw match [Heresy], got %v", got)
	}
}

func TestEngine_Evaluate_ReportingFollowsRuleOrder(t *testing.T) {
	rs, err := rules.New([]rules.Rule{
		{ID: "Z9", Name: "z", Action: rules.ActionFlag, Pattern: "zeta"},
		{ID: "A1", Name: "a", Action: rules.ActionFlag, Pattern: "alpha"},
		{ID: "M5", Name: "m", Action: rules.ActionBlock, Pattern: "mu"},
		{ID: "B2", Name: "b", Action: rules.ActionBlock, Pattern: "beta"},
	}, rules.DecisionPolicy{})
	if err != nil {
		t.Fatalf("failed to build rules: %v", err)
	}

	d := NewEngine().Evaluate(rs, Draft{Text: "beta alpha mu zeta"})

	if !reflect.DeepEqual(d.Flags, []string{"Z9", "A1"}) {
		t.Errorf("expected flags in rule order, got %v", d.Flags)
	}
	if !reflect.DeepEqual(d.Blocks, []string{"M5", "B2"}) {
		t.Errorf("expected blocks in rule order, got %v", d.Blocks)
	}

	want := "Blocking checks present (M5, B2); content blocked. Flags present (Z9, A1)."
	if d.Reasons != want {
		t.Errorf("expected reasons %q, got %q", want, d.Reasons)
	}

	var hitIDs []string
	for _, h := range d.Hits {
		hitIDs = append(hitIDs, h.RuleID)
	}
	if !reflect.DeepEqual(hitIDs, []string{"Z9", "A1", "M5", "B2"}) {
		t.Errorf("expected hits in rule order, got %v", hitIDs)
	}
}

func TestEngine_Evaluate_BlockIfEscalation(t *testing.T) {
	rs, err := rules.New([]rules.Rule{
		{ID: "HAR1", Name: "harassment", Action: rules.ActionFlag, Pattern: "vermin"},
	}, rules.DecisionPolicy{BlockIf: []string{"HAR1"}})
	if err != nil {
		t.Fatalf("failed to build rules: %v", err)
	}

	d := NewEngine().Evaluate(rs, Draft{Text: "you people are vermin"})

	if d.Allow {
		t.Error("expected escalated rule to block")
	}
	if len(d.Flags) != 0 {
		t.Errorf("escalated rule should not be reported as a flag, got %v", d.Flags)
	}
	if len(d.Hits) != 1 || !d.Hits[0].Escalated {
		t.Errorf("expected one escalated hit, got %+v", d.Hits)
	}
}

func TestEngine_Evaluate_Clock(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := NewEngine(WithClock(func() time.Time { return fixed }))

	d := engine.Evaluate(scenarioRules(t), Draft{Text: "anything"})
	if !d.CreatedAt.Equal(fixed) {
		t.Errorf("expected CreatedAt %v, got %v", fixed, d.CreatedAt)
	}
}

func TestEngine_Evaluate_MaxMatchesPerRule(t *testing.T) {
	engine := NewEngine(WithMaxMatchesPerRule(2))

	d := engine.Evaluate(scenarioRules(t), Draft{Text: "celebrity celebrity celebrity"})

	if got := len(d.RawMatch["OOU1"]); got != 2 {
		t.Errorf("expected 2 recorded matches, got %d", got)
	}
}

func TestEngine_Evaluate_BudgetExceeded(t *testing.T) {
	engine := NewEngine(WithMatchTimeout(10 * time.Millisecond))

	release := make(chan struct{})
	defer close(release)

	engine.find = func(rule rules.CompiledRule, text string, n int) []string {
		if rule.ID == "SAF1" {
			<-release
		}
		return rule.FindAll(text, n)
	}

	d := engine.Evaluate(scenarioRules(t), Draft{Text: "kill yourself, celebrity"})

	if !d.Allow {
		t.Error("rule over budget must be treated as non-matching")
	}
	if _, ok := d.RawMatch["SAF1"]; ok {
		t.Error("rule over budget must not appear in raw_match")
	}
	if !reflect.DeepEqual(d.Flags, []string{"OOU1"}) {
		t.Errorf("other rules should still be evaluated, got flags %v", d.Flags)
	}
	if len(d.Warnings) != 1 || d.Warnings[0].RuleID != "SAF1" {
		t.Fatalf("expected one warning for SAF1, got %+v", d.Warnings)
	}
	if !strings.Contains(d.Warnings[0].Message, ErrMatchBudgetExceeded.Error()) {
		t.Errorf("unexpected warning message: %s", d.Warnings[0].Message)
	}
}

func TestEngine_Match_BudgetError(t *testing.T) {
	engine := NewEngine(WithMatchTimeout(5 * time.Millisecond))

	release := make(chan struct{})
	defer close(release)
	engine.find = func(rules.CompiledRule, string, int) []string {
		<-release
		return nil
	}

	rule, _ := scenarioRules(t).Get("OOU1")
	_, err := engine.match(rule, "celebrity")
	if !errors.Is(err, ErrMatchBudgetExceeded) {
		t.Errorf("expected ErrMatchBudgetExceeded, got %v", err)
	}
}

func TestEngine_Evaluate_NoBudget(t *testing.T) {
	engine := NewEngine(WithMatchTimeout(0))

	d := engine.Evaluate(scenarioRules(t), Draft{Text: "kill yourself"})
	if d.Allow {
		t.Error("expected block without a match budget")
	}
}

func TestEngine_Evaluate_Concurrent(t *testing.T) {
	engine := NewEngine()
	rs := scenarioRules(t)

	texts := []string{
		"Original setting transmission.",
		"a modern politics topic",
		"Just kill yourself already.",
	}
	want := make([]*Decision, len(texts))
	for i, text := range texts {
		want[i] = engine.Evaluate(rs, Draft{Text: text})
	}

	var wg sync.WaitGroup
	errs := make(chan string, 300)
	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx := i % len(texts)
			d := engine.Evaluate(rs, Draft{Text: texts[idx]})
			if d.Allow != want[idx].Allow || !reflect.DeepEqual(d.RawMatch, want[idx].RawMatch) {
				errs <- texts[idx]
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for text := range errs {
		t.Errorf("concurrent evaluation diverged for %q", text)
	}
}

func TestCategoryExplainer(t *testing.T) {
	x := CategoryExplainer{}

	if got := x.Explain(Draft{}, nil); !strings.Contains(got, "No policy checks triggered") {
		t.Errorf("unexpected explanation for no hits: %q", got)
	}

	got := x.Explain(Draft{}, []Hit{
		{RuleID: "A", Category: "immersion"},
		{RuleID: "B", Category: "safety"},
		{RuleID: "C", Category: "immersion"},
	})
	want := "3 check(s) triggered. Categories: immersion×2, safety×1"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

type staticExplainer string

func (s staticExplainer) Explain(Draft, []Hit) string { return string(s) }

func TestEngine_WithExplainer(t *testing.T) {
	engine := NewEngine(WithExplainer(staticExplainer("reviewed")))

	d := engine.Evaluate(scenarioRules(t), Draft{Text: "celebrity"})
	if d.Explanation != "reviewed" {
		t.Errorf("expected custom explanation, got %q", d.Explanation)
	}
}

func scenarioRules(t *testing.T) *rules.RuleSet {
	t.Helper()
	rs, err := rules.New([]rules.Rule{
		{ID: "OOU1", Name: "Out-of-universe reference", Action: rules.ActionFlag, Pattern: "(?i)modern politics|celebrity", Category: "immersion"},
		{ID: "SAF1", Name: "Self-harm incitement", Action: rules.ActionBlock, Pattern: "(?i)kill yourself", Category: "safety"},
	}, rules.DecisionPolicy{})
	if err != nil {
		t.Fatalf("failed to build scenario rules: %v", err)
	}
	return rs
}
