package ruleset

import (
	"reflect"
	"testing"
)

func TestMatchAccountGlobsEmptyMeansAll(t *testing.T) {
	if !MatchAccountGlobs(nil, "alice") {
		t.Fatal("empty pattern list should match any account")
	}
}

func TestMatchAccountGlobs(t *testing.T) {
	cases := []struct {
		patterns []string
		account  string
		want     bool
	}{
		{[]string{"alice"}, "alice", true},
		{[]string{"bob"}, "alice", false},
		{[]string{"a*"}, "alice", true},
		{[]string{"bob", "a*"}, "alice", true},
	}
	for _, c := range cases {
		if got := MatchAccountGlobs(c.patterns, c.account); got != c.want {
			t.Errorf("MatchAccountGlobs(%v, %q) = %v, want %v", c.patterns, c.account, got, c.want)
		}
	}
}

func TestMatchActionGlobs(t *testing.T) {
	actions := map[string]*Action{
		"spam-quarantine": {Name: "spam-quarantine"},
		"spam-delete":     {Name: "spam-delete"},
		"inbox":           {Name: "inbox"},
	}

	got := MatchActionGlobs(actions, "spam-*")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}

	got = MatchActionGlobs(actions, "inbox")
	if len(got) != 1 || got[0].Name != "inbox" {
		t.Fatalf("expected exact match on inbox, got %v", got)
	}

	if got := MatchActionGlobs(actions, "nope*"); got != nil {
		t.Fatalf("expected no matches, got %v", got)
	}
}

func TestDedupUsers(t *testing.T) {
	got := DedupUsers([]string{"alice", "bob", "alice", "carol", "bob"})
	want := []string{"alice", "bob", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("DedupUsers = %v, want %v", got, want)
	}
}

func TestDedupUsersShortCircuitsSmallSlices(t *testing.T) {
	if got := DedupUsers(nil); got != nil {
		t.Fatalf("DedupUsers(nil) = %v, want nil", got)
	}
	single := []string{"alice"}
	if got := DedupUsers(single); len(got) != 1 || got[0] != "alice" {
		t.Fatalf("DedupUsers(single) = %v", got)
	}
}

func TestUserPolicyIsSet(t *testing.T) {
	if (UserPolicy{}).IsSet() {
		t.Fatal("zero-value UserPolicy should report unset")
	}
	if !(UserPolicy{FindUID: true}).IsSet() {
		t.Fatal("FindUID alone should report set")
	}
	if !(UserPolicy{Users: []string{"alice"}}).IsSet() {
		t.Fatal("non-empty Users alone should report set")
	}
}

func TestAccountByName(t *testing.T) {
	rs := &RuleSet{Accounts: map[string]*Account{
		"alice": {Name: "alice"},
	}}
	if a := rs.AccountByName("alice"); a == nil || a.Name != "alice" {
		t.Fatalf("AccountByName(alice) = %v", a)
	}
	if a := rs.AccountByName("bob"); a != nil {
		t.Fatalf("AccountByName(bob) = %v, want nil", a)
	}
}
