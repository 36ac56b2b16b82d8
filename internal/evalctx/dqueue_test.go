package evalctx

import (
	"reflect"
	"testing"

	"github.com/emersion/go-message/textproto"

	"github.com/mailcore/filterd/framework/buffer"
	"github.com/mailcore/filterd/internal/mailobj"
	"github.com/mailcore/filterd/internal/ruleset"
)

func mailWithRecipient(t *testing.T, to string) *mailobj.Message {
	t.Helper()
	var hdr textproto.Header
	hdr.Set("To", to)
	m, err := mailobj.New(hdr, buffer.MemoryBuffer{Slice: []byte("body\n")})
	if err != nil {
		t.Fatalf("mailobj.New: %v", err)
	}
	return m
}

// TestResolveUsersFirstSetLevelWins is the direct regression test for the
// find_uid/users precedence bug: a rule level sets find_uid but its header
// derives no uid, and a lower-precedence level sets users. The rule level
// "expresses an opinion" (UserPolicy.IsSet) and must win outright — the
// resolution stops there (falling through only to the default user), it
// must not fall through to the action level's users list.
func TestResolveUsersFirstSetLevelWins(t *testing.T) {
	rs := &ruleset.RuleSet{DefaultUser: "nobody"}
	mail := mailWithRecipient(t, "")
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	rule := ruleset.UserPolicy{FindUID: true}            // IsSet, but header yields no uid
	action := ruleset.UserPolicy{Users: []string{"bob"}} // must NOT be reached

	got := m.resolveUsers([]ruleset.UserPolicy{rule, action})
	want := []string{"nobody"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resolveUsers = %v, want %v (default user, not the action's users)", got, want)
	}
}

// TestResolveUsersFindUIDSucceedsAtFirstLevel confirms the find_uid path
// itself still works when the header does carry a derivable recipient.
func TestResolveUsersFindUIDSucceedsAtFirstLevel(t *testing.T) {
	rs := &ruleset.RuleSet{DefaultUser: "nobody"}
	mail := mailWithRecipient(t, "carol@example.com")
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	rule := ruleset.UserPolicy{FindUID: true}
	action := ruleset.UserPolicy{Users: []string{"bob"}}

	got := m.resolveUsers([]ruleset.UserPolicy{rule, action})
	want := []string{"carol"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resolveUsers = %v, want %v", got, want)
	}
}

// TestResolveUsersUnsetLevelFallsThrough confirms a level that sets neither
// find_uid nor users (UserPolicy zero value) is skipped in favor of the
// next level that does express an opinion.
func TestResolveUsersUnsetLevelFallsThrough(t *testing.T) {
	rs := &ruleset.RuleSet{DefaultUser: "nobody"}
	mail := mailWithRecipient(t, "")
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	rule := ruleset.UserPolicy{} // not set at all
	action := ruleset.UserPolicy{Users: []string{"bob", "carol"}}

	got := m.resolveUsers([]ruleset.UserPolicy{rule, action})
	want := []string{"bob", "carol"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resolveUsers = %v, want %v", got, want)
	}
}

// TestResolveUsersAccountLevelUsedWhenRuleAndActionUnset exercises the full
// three-level precedence (rule, action, account) enqueueDeliveries drives.
func TestResolveUsersAccountLevelUsedWhenRuleAndActionUnset(t *testing.T) {
	rs := &ruleset.RuleSet{}
	mail := mailWithRecipient(t, "")
	account := &ruleset.Account{Name: "alice", UserPolicy: ruleset.UserPolicy{Users: []string{"dave"}}}
	m := New(mail, account, rs, nil)

	got := m.resolveUsers([]ruleset.UserPolicy{{}, {}, account.UserPolicy})
	want := []string{"dave"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resolveUsers = %v, want %v", got, want)
	}
}

func TestResolveUsersNoLevelSetAndNoDefaultYieldsEmptyDefaultUser(t *testing.T) {
	rs := &ruleset.RuleSet{}
	mail := mailWithRecipient(t, "")
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	got := m.resolveUsers([]ruleset.UserPolicy{{}, {}})
	want := []string{""}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("resolveUsers = %q, want %q", got, want)
	}
}

func TestEnqueueDeliveriesDoesNotDedupUsersAcrossMatchedActions(t *testing.T) {
	rs := &ruleset.RuleSet{
		Actions: map[string]*ruleset.Action{
			"inbox-a": {Name: "inbox-a", UserPolicy: ruleset.UserPolicy{Users: []string{"bob"}}},
			"inbox-b": {Name: "inbox-b", UserPolicy: ruleset.UserPolicy{Users: []string{"bob"}}},
		},
	}
	mail := mailWithRecipient(t, "")
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	rule := &ruleset.Rule{Idx: 0, Actions: []string{"inbox-*"}}
	if err := m.enqueueDeliveries(rule); err != nil {
		t.Fatalf("enqueueDeliveries: %v", err)
	}
	if len(m.dqueue) != 2 {
		t.Fatalf("dqueue len = %d, want 2 (one per matched action, users deduped within each)", len(m.dqueue))
	}
}

func TestEnqueueDeliveriesUnmatchedActionPatternIsFatal(t *testing.T) {
	rs := &ruleset.RuleSet{Actions: map[string]*ruleset.Action{}}
	mail := mailWithRecipient(t, "")
	m := New(mail, &ruleset.Account{Name: "alice"}, rs, nil)

	rule := &ruleset.Rule{Idx: 0, Actions: []string{"nonexistent"}}
	if err := m.enqueueDeliveries(rule); err == nil {
		t.Fatal("expected an error for an action pattern matching nothing")
	}
}
