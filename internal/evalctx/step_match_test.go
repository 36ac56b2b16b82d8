package evalctx

import (
	"testing"

	"github.com/emersion/go-message/textproto"

	"github.com/mailcore/filterd/framework/buffer"
	"github.com/mailcore/filterd/internal/mailobj"
	"github.com/mailcore/filterd/internal/matcher"
	"github.com/mailcore/filterd/internal/ruleset"
)

// constMatcher always returns the same Result, never deferring to the
// parent; enough to drive expression combination/inversion without a real
// header check.
type constMatcher struct{ res matcher.Result }

func (m constMatcher) Match(matcher.Context, matcher.State) (matcher.Result, matcher.State) {
	return m.res, nil
}
func (constMatcher) Describe() string { return "const" }

func newTestMail(t *testing.T) *mailobj.Message {
	t.Helper()
	var hdr textproto.Header
	hdr.Set("Subject", "hi")
	m, err := mailobj.New(hdr, buffer.MemoryBuffer{Slice: []byte("body\n")})
	if err != nil {
		t.Fatalf("mailobj.New: %v", err)
	}
	return m
}

// runToDone drives StepMatch to completion (DONE or ERROR), failing the
// test on BLOCKED/DELIVER since none of these cases exercise IPC.
func runToDone(t *testing.T, m *MatchContext) Code {
	t.Helper()
	for {
		code, err := m.StepMatch(nil)
		if err != nil {
			t.Fatalf("StepMatch: %v", err)
		}
		switch code {
		case Continue:
			continue
		case Done, Error, Match, Blocked, Deliver:
			return code
		}
	}
}

func TestStepMatchInversionFlipsResult(t *testing.T) {
	rs := &ruleset.RuleSet{
		Policy: ruleset.PolicyDrop,
		Rules: []*ruleset.Rule{
			{
				Idx:  0,
				Expr: []ruleset.ExprItem{{Matcher: constMatcher{matcher.False}, Inverted: true}},
				Key:  "hit", Value: "yes",
				Stop: true,
			},
		},
		Actions: map[string]*ruleset.Action{},
	}
	mail := newTestMail(t)
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	code := runToDone(t, m)
	if code != Done {
		t.Fatalf("code = %v, want Done", code)
	}
	if !m.Matched() {
		t.Fatal("expected inverted-false matcher to match")
	}
	if v, ok := mail.Tag("hit"); !ok || v != "yes" {
		t.Fatalf("tag hit = (%q, %v), want (yes, true)", v, ok)
	}
}

func TestStepMatchAndWithFalseItemDoesNotMatch(t *testing.T) {
	rs := &ruleset.RuleSet{
		Policy: ruleset.PolicyKeep,
		Rules: []*ruleset.Rule{
			{
				Idx: 0,
				Expr: []ruleset.ExprItem{
					{Matcher: constMatcher{matcher.True}},
					{Matcher: constMatcher{matcher.False}, Operator: ruleset.OpAnd},
				},
				Key:  "hit", Value: "yes",
				Stop: true,
			},
		},
		Actions: map[string]*ruleset.Action{},
	}
	mail := newTestMail(t)
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	runToDone(t, m)
	if m.Matched() {
		t.Fatal("AND with a false item must not match")
	}
	if _, ok := mail.Tag("hit"); ok {
		t.Fatal("unmatched rule must not apply its tag")
	}
}

func TestStepMatchOrSucceedsOnAnyTrue(t *testing.T) {
	rs := &ruleset.RuleSet{
		Policy: ruleset.PolicyKeep,
		Rules: []*ruleset.Rule{
			{
				Idx: 0,
				Expr: []ruleset.ExprItem{
					{Matcher: constMatcher{matcher.False}},
					{Matcher: constMatcher{matcher.True}, Operator: ruleset.OpOr},
				},
				Key:  "hit", Value: "yes",
				Stop: true,
			},
		},
		Actions: map[string]*ruleset.Action{},
	}
	mail := newTestMail(t)
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	runToDone(t, m)
	if !m.Matched() {
		t.Fatal("OR with a true item must match")
	}
}

// TestStepMatchNestedDescentAndAscent exercises "Nested descent": a parent
// rule matches, descends into its children, and after the last nested
// child is exhausted ascends back to the parent's own sibling rather than
// re-visiting the parent (the "nested-exit law").
func TestStepMatchNestedDescentAndAscent(t *testing.T) {
	rs := &ruleset.RuleSet{
		Policy: ruleset.PolicyKeep,
		Rules: []*ruleset.Rule{
			{
				Idx:  0,
				Expr: []ruleset.ExprItem{{Matcher: constMatcher{matcher.True}}},
				Nested: []*ruleset.Rule{
					{
						Idx:  1,
						Expr: []ruleset.ExprItem{{Matcher: constMatcher{matcher.False}}},
					},
					{
						Idx:  2,
						Expr: []ruleset.ExprItem{{Matcher: constMatcher{matcher.True}}},
						Key:  "nested", Value: "yes",
						Stop: true,
					},
				},
			},
			{
				Idx:  3,
				Expr: []ruleset.ExprItem{{Matcher: constMatcher{matcher.True}}},
				Key:  "sibling", Value: "yes",
				Stop: true,
			},
		},
		Actions: map[string]*ruleset.Action{},
	}
	mail := newTestMail(t)
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	// First pass matches rule 0 and descends into its Nested slice;
	// rule 1 (nested) is visited and fails, rule 2 matches and stops.
	code := runToDone(t, m)
	if code != Done {
		t.Fatalf("code = %v, want Done", code)
	}
	if v, ok := mail.Tag("nested"); !ok || v != "yes" {
		t.Fatalf("tag nested = (%q, %v), want (yes, true)", v, ok)
	}
	if _, ok := mail.Tag("sibling"); ok {
		t.Fatal("Stop on the nested rule must prevent the top-level sibling from running")
	}
}

// TestStepMatchAscendsToSiblingAfterNestedExhaustion covers the case where
// none of a parent's nested children match: evaluation must ascend and
// continue at the parent's own next sibling, not re-run the parent.
func TestStepMatchAscendsToSiblingAfterNestedExhaustion(t *testing.T) {
	rs := &ruleset.RuleSet{
		Policy: ruleset.PolicyKeep,
		Rules: []*ruleset.Rule{
			{
				Idx:  0,
				Expr: []ruleset.ExprItem{{Matcher: constMatcher{matcher.True}}},
				Nested: []*ruleset.Rule{
					{
						Idx:  1,
						Expr: []ruleset.ExprItem{{Matcher: constMatcher{matcher.False}}},
					},
				},
			},
			{
				Idx:  2,
				Expr: []ruleset.ExprItem{{Matcher: constMatcher{matcher.True}}},
				Key:  "sibling", Value: "yes",
				Stop: true,
			},
		},
		Actions: map[string]*ruleset.Action{},
	}
	mail := newTestMail(t)
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	runToDone(t, m)
	if v, ok := mail.Tag("sibling"); !ok || v != "yes" {
		t.Fatalf("tag sibling = (%q, %v), want (yes, true) — ascent must resume at the parent's sibling", v, ok)
	}
}

func TestStepMatchEndOfRulesetDefaultsToKeepWithoutPolicy(t *testing.T) {
	rs := &ruleset.RuleSet{
		Rules:   nil,
		Actions: map[string]*ruleset.Action{},
	}
	mail := newTestMail(t)
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	code := runToDone(t, m)
	if code != Done {
		t.Fatalf("code = %v, want Done", code)
	}
	if mail.Decision != mailobj.DecisionKeep {
		t.Fatalf("Decision = %v, want Keep", mail.Decision)
	}
}

func TestStepMatchAccountGlobExcludesRule(t *testing.T) {
	rs := &ruleset.RuleSet{
		Policy: ruleset.PolicyKeep,
		Rules: []*ruleset.Rule{
			{
				Idx:      0,
				Accounts: []string{"bob"},
				Expr:     []ruleset.ExprItem{{Matcher: constMatcher{matcher.True}}},
				Key:      "hit", Value: "yes",
				Stop: true,
			},
		},
		Actions: map[string]*ruleset.Action{},
	}
	mail := newTestMail(t)
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	runToDone(t, m)
	if m.Matched() {
		t.Fatal("a rule scoped to a different account must not match")
	}
}
