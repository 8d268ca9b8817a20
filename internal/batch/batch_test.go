package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/samijaber1/inquisitor-gate/internal/gate"
	"github.com/samijaber1/inquisitor-gate/internal/rules"
)

// engineChecker evaluates with a real engine and hands out sequential IDs
type engineChecker struct {
	rs     *rules.RuleSet
	engine *gate.Engine
	nextID atomic.Int64
	failOn string
}

func newEngineChecker(t *testing.T) *engineChecker {
	t.Helper()

	rs, err := rules.Load("../../fixtures/rules/valid")
	if err != nil {
		t.Fatalf("failed to load rules: %v", err)
	}
	return &engineChecker{rs: rs, engine: gate.NewEngine()}
}

func (c *engineChecker) Check(draft gate.Draft) (int64, *gate.Decision, error) {
	if c.failOn != "" && draft.Scope == c.failOn {
		return 0, nil, errors.New("database is locked")
	}
	return c.nextID.Add(1), c.engine.Evaluate(c.rs, draft), nil
}

func TestReadDrafts(t *testing.T) {
	f, err := os.Open("../../fixtures/drafts.jsonl")
	if err != nil {
		t.Fatalf("failed to open fixture: %v", err)
	}
	defer f.Close()

	items, err := ReadDrafts(f, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to read drafts: %v", err)
	}

	wantLines := []int{1, 2, 5, 6}
	if len(items) != len(wantLines) {
		t.Fatalf("expected %d drafts, got %d", len(wantLines), len(items))
	}

	for i, item := range items {
		if item.Line != wantLines[i] {
			t.Errorf("item %d: expected line %d, got %d", i, wantLines[i], item.Line)
		}
	}

	if items[2].Draft.Scope != "phase3_post" {
		t.Errorf("expected scope phase3_post, got %s", items[2].Draft.Scope)
	}
	if items[3].Draft.Scope != gate.DefaultScope {
		t.Errorf("expected default scope, got %s", items[3].Draft.Scope)
	}
}

func TestReadDrafts_Empty(t *testing.T) {
	items, err := ReadDrafts(strings.NewReader("\n\n  \n"), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no drafts, got %d", len(items))
	}
}

func TestReadDrafts_SkipsOversizedLine(t *testing.T) {
	huge := `{"scope":"forum","text":"` + strings.Repeat("a", 2*maxLineBytes) + `"}`
	input := strings.Join([]string{
		`{"scope":"forum","text":"Praise the Omnissiah."}`,
		huge,
		`{"scope":"forum","text":"The Emperor protects."}`,
	}, "\n")

	items, err := ReadDrafts(strings.NewReader(input), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wantLines := []int{1, 3}
	if len(items) != len(wantLines) {
		t.Fatalf("expected %d drafts, got %d", len(wantLines), len(items))
	}
	for i, item := range items {
		if item.Line != wantLines[i] {
			t.Errorf("item %d: expected line %d, got %d", i, wantLines[i], item.Line)
		}
	}
	if items[1].Draft.Text != "The Emperor protects." {
		t.Errorf("unexpected text %q", items[1].Draft.Text)
	}
}

func TestReadDrafts_OversizedLastLine(t *testing.T) {
	input := `{"text":"Praise the Omnissiah."}` + "\n" + strings.Repeat("x", maxLineBytes+1)

	items, err := ReadDrafts(strings.NewReader(input), zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 || items[0].Line != 1 {
		t.Fatalf("expected only line 1, got %+v", items)
	}
}

func TestProcessor_Run(t *testing.T) {
	f, err := os.Open("../../fixtures/drafts.jsonl")
	if err != nil {
		t.Fatalf("failed to open fixture: %v", err)
	}
	defer f.Close()

	p := NewProcessor(newEngineChecker(t), 2, zerolog.Nop())

	var out bytes.Buffer
	processed, err := p.Run(context.Background(), f, &out)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if processed != 4 {
		t.Fatalf("expected 4 processed, got %d", processed)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 output lines, got %d", len(lines))
	}

	want := []struct {
		line    int
		verdict gate.Verdict
		blocks  []string
		flags   []string
	}{
		{line: 1, verdict: gate.VerdictAllow},
		{line: 2, verdict: gate.VerdictFlag, flags: []string{"OOU1"}},
		{line: 5, verdict: gate.VerdictBlock, blocks: []string{"SAF1"}},
		{line: 6, verdict: gate.VerdictBlock, flags: []string{"OOU1"}, blocks: []string{"SAF1"}},
	}

	for i, raw := range lines {
		var got Result
		if err := json.Unmarshal([]byte(raw), &got); err != nil {
			t.Fatalf("line %d: invalid output JSON: %v", i, err)
		}

		if got.Line != want[i].line {
			t.Errorf("output %d: expected line %d, got %d", i, want[i].line, got.Line)
		}
		if got.CheckID == 0 {
			t.Errorf("output %d: expected check ID", i)
		}
		if got.Decision.Verdict != want[i].verdict {
			t.Errorf("output %d: expected verdict %s, got %s", i, want[i].verdict, got.Decision.Verdict)
		}
		if strings.Join(got.Decision.Flags, ",") != strings.Join(want[i].flags, ",") {
			t.Errorf("output %d: expected flags %v, got %v", i, want[i].flags, got.Decision.Flags)
		}
		if strings.Join(got.Decision.Blocks, ",") != strings.Join(want[i].blocks, ",") {
			t.Errorf("output %d: expected blocks %v, got %v", i, want[i].blocks, got.Decision.Blocks)
		}
	}
}

func TestProcessor_PreservesOrder(t *testing.T) {
	var items []Item
	for i := 0; i < 200; i++ {
		text := "quiet words"
		if i%3 == 0 {
			text = "kill yourself"
		}
		items = append(items, Item{Line: i + 1, Draft: gate.Draft{Scope: "s", Text: text}})
	}

	p := NewProcessor(newEngineChecker(t), 8, zerolog.Nop())
	results, err := p.Process(context.Background(), items)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	for i, r := range results {
		if r.Line != i+1 {
			t.Fatalf("result %d: expected line %d, got %d", i, i+1, r.Line)
		}
		if r.Decision.Allow == (i%3 == 0) {
			t.Errorf("result %d: unexpected allow=%v", i, r.Decision.Allow)
		}
	}
}

func TestProcessor_Failures(t *testing.T) {
	checker := newEngineChecker(t)
	checker.failOn = "broken"

	items := []Item{
		{Line: 1, Draft: gate.Draft{Scope: "ok", Text: "hello"}},
		{Line: 2, Draft: gate.Draft{Scope: "broken", Text: "hello"}},
		{Line: 3, Draft: gate.Draft{Scope: "ok", Text: "celebrity"}},
	}

	p := NewProcessor(checker, 1, zerolog.Nop())
	results, err := p.Process(context.Background(), items)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if !strings.Contains(err.Error(), "line 2") {
		t.Errorf("expected error to name line 2, got %v", err)
	}
	if results[1].Err == nil || results[1].Decision != nil {
		t.Errorf("expected failed result for line 2, got %+v", results[1])
	}

	var out bytes.Buffer
	written, err := WriteResults(&out, results)
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if written != 2 {
		t.Errorf("expected 2 written, got %d", written)
	}
}

func TestProcessor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []Item{{Line: 1, Draft: gate.Draft{Scope: "s", Text: "x"}}}
	p := NewProcessor(newEngineChecker(t), 1, zerolog.Nop())

	results, err := p.Process(ctx, items)
	if err == nil {
		t.Fatal("expected context error")
	}
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", results[0].Err)
	}
}
