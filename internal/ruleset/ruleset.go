// Package ruleset holds the in-memory shape of the configuration described
// in spec.md §3: accounts, the (possibly nested) rule tree, and named
// actions. Parsing the on-disk configuration grammar into this shape is
// internal/config's job; the concrete matcher and deliverer grammars stay
// external, as spec.md §1 requires.
package ruleset

import (
	"path"

	"github.com/mailcore/filterd/internal/deliverer"
	"github.com/mailcore/filterd/internal/matcher"
)

// Policy is the implicit-action policy applied when evaluation of a message
// ends, at the end of the ruleset or after a matched stop rule (spec.md §4.1
// "End of ruleset"); an account's Keep flag overrides it with KEEP. NONE is
// the zero value.
type Policy int

const (
	PolicyNone Policy = iota
	PolicyKeep
	PolicyDrop
)

// UserPolicy is the find_uid/users pair every one of rule, action and
// account carries; spec.md §4.3 resolves it with the same precedence
// regardless of which level it came from.
type UserPolicy struct {
	FindUID bool
	Users   []string
}

// IsSet reports whether this level expresses an opinion about the user
// set at all — spec.md §4.3: "the first level that sets either find_uid or
// a non-empty users [wins]".
func (p UserPolicy) IsSet() bool {
	return p.FindUID || len(p.Users) > 0
}

// Account is spec.md §3's Account: named, with an opaque fetcher backend
// reference (the concrete fetcher is an external collaborator), an
// optional user policy, and a keep flag that forces the KEEP decision.
type Account struct {
	Name        string
	FetcherKind string // e.g. "pop3", "imap", "maildir", "nntp" — opaque to the core
	FetcherArgs []string
	UserPolicy
	Keep bool
}

// Operator combines an expression item's boolean result with the
// accumulated result of the expression so far (spec.md §3 "Expression
// item").
type Operator int

const (
	OpNone Operator = iota
	OpAnd
	OpOr
)

// ExprItem is one item of a rule's match expression (spec.md §3).
// Matcher/State are supplied by whatever concrete matcher implementation
// (regexp, header, cache, ...) was configured; the core only drives the
// Matcher interface.
type ExprItem struct {
	Operator Operator
	Inverted bool
	Matcher  matcher.Matcher
	State    matcher.State
}

// Rule is the recursive node of spec.md §3's rule tree.
type Rule struct {
	Idx      int
	Accounts []string // glob patterns against account names; empty = all
	UserPolicy

	Expr []ExprItem // nil/empty ≡ rule-all

	Key, Value string // tag template pair, applied after a match

	Actions []string         // action-name templates (may glob after substitution)
	Lambda  []ActionItemSpec // inline anonymous action, mutually exclusive with Actions

	Nested []*Rule

	Stop bool
}

// ActionItemSpec pairs a deliverer implementation with its opaque
// configuration, used both for named actions and inline `lambda` actions.
type ActionItemSpec struct {
	Deliverer deliverer.Item
}

// Action is spec.md §3's named, ordered list of action items.
type Action struct {
	Name string
	UserPolicy
	Items []ActionItemSpec
}

// RuleSet is the fully parsed, immutable-for-the-process-lifetime
// configuration (spec.md §3 "Lifecycles": "Rules and actions are immutable
// for the process lifetime").
type RuleSet struct {
	Policy      Policy
	DefaultUser string

	Accounts map[string]*Account
	Rules    []*Rule
	Actions  map[string]*Action
}

// AccountByName looks up an account, or nil if unknown.
func (rs *RuleSet) AccountByName(name string) *Account {
	return rs.Accounts[name]
}

// MatchAccountGlobs reports whether any of the glob patterns matches the
// account name. An empty pattern list means "all accounts" per spec.md §3.
func MatchAccountGlobs(patterns []string, account string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if ok, err := path.Match(p, account); err == nil && ok {
			return true
		}
	}
	return false
}

// MatchActionGlobs expands a (substituted) action-name pattern against the
// action table, per spec.md §4.3 step 2.
func MatchActionGlobs(actions map[string]*Action, pattern string) []*Action {
	var out []*Action
	for name, a := range actions {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			out = append(out, a)
		}
	}
	return out
}

// DedupUsers removes duplicate uids while preserving first-seen order.
// spec.md §7: "User sets containing duplicates are not errors but must be
// deduplicated before expansion (the config layer provides weed_users)".
func DedupUsers(users []string) []string {
	if len(users) < 2 {
		return users
	}
	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
