// Package evalctx is the heart of the core: the per-message match context
// (mctx) and its two scheduler entry points, step_match and step_deliver
// (spec.md §4.1, §4.2).
package evalctx

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailcore/filterd/framework/exterrors"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/mailobj"
	"github.com/mailcore/filterd/internal/matcher"
	"github.com/mailcore/filterd/internal/ruleset"
	"github.com/mailcore/filterd/internal/tagstore"
)

// Code is the closed set of return codes the scheduler drives queue
// transitions with (spec.md §6 "Return-code surfaces to the scheduler").
type Code int

const (
	Continue Code = iota
	Blocked
	Deliver
	Done
	Match
	Error
)

func (c Code) String() string {
	switch c {
	case Continue:
		return "CONTINUE"
	case Blocked:
		return "BLOCKED"
	case Deliver:
		return "DELIVER"
	case Done:
		return "DONE"
	case Match:
		return "MATCH"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Substituter applies a template's tag substitution; a stand-in for the
// config layer's real substitution engine, which spec.md §4.1 treats as an
// external collaborator. DefaultSubstituter is a minimal "${key}" expander
// sufficient to exercise the load-bearing empty-key/empty-value rule from
// spec.md §7.
type Substituter func(tmpl string, tags tagstore.Store) string

// frame is one level of rule descent: the sibling slice being walked and
// the index of the rule last visited at that level.
type frame struct {
	siblings []*ruleset.Rule
	idx      int
}

// DeliveryItem is spec.md §3's dctx: one enqueued (action, uid) pair, with
// an internal item cursor tracking progress through the action's ordered
// item list across possibly several suspend/resume round trips.
type DeliveryItem struct {
	Rule    *ruleset.Rule
	Action  *ruleset.Action
	ItemIdx int
	UID     string
	Start   time.Time
}

type exprKey struct {
	rule *ruleset.Rule
	idx  int
}

// MatchContext is spec.md §3's mctx.
type MatchContext struct {
	Mail    *mailobj.Message
	Account *ruleset.Account
	Rules   *ruleset.RuleSet
	Client  *ipc.Client

	// CorrelationID ties every log line this mctx produces, on both sides
	// of the privilege boundary, back to one fetched message (propagated
	// to the privileged side via ipc.Action.CorrelationID). It is never
	// used as a metrics label: Prometheus label values must come from a
	// bounded set, and a fresh id per message would make every vector
	// unbounded-cardinality (internal/metrics keeps labeling by account/
	// type/kind instead).
	CorrelationID string

	subst Substituter

	stack []frame
	rule  *ruleset.Rule

	exprIdx int
	result  bool

	matcherStates map[exprKey]matcher.State

	doneFlag bool
	matched  bool

	dqueue []*DeliveryItem

	msgID uint32

	// onTagsUpdated, if set, runs the "tag update hooks" spec.md §4.4
	// names as an external collaborator refreshing derived tags (e.g.
	// delivery counts) after every finish-action.
	onTagsUpdated func(tagstore.Store)
}

// New builds a fresh mctx positioned at the ruleset's first top-level rule
// (or already at end-of-ruleset if there are none).
func New(mail *mailobj.Message, account *ruleset.Account, rs *ruleset.RuleSet, client *ipc.Client) *MatchContext {
	m := &MatchContext{
		Mail:          mail,
		Account:       account,
		Rules:         rs,
		Client:        client,
		CorrelationID: uuid.NewString(),
		exprIdx:       -1,
		subst:         DefaultSubstituter,
	}
	if len(rs.Rules) > 0 {
		m.stack = []frame{{siblings: rs.Rules, idx: 0}}
		m.rule = rs.Rules[0]
	}
	return m
}

// SetSubstituter overrides the tag-template substitution engine.
func (m *MatchContext) SetSubstituter(s Substituter) { m.subst = s }

// SetTagUpdateHook installs the "tag update hooks" collaborator run after
// every finish-action.
func (m *MatchContext) SetTagUpdateHook(f func(tagstore.Store)) { m.onTagsUpdated = f }

// Matched reports whether any rule matched during this evaluation
// (spec.md §3 "matched: diagnostics only").
func (m *MatchContext) Matched() bool { return m.matched }

// Blocked reports whether the context is parked on an outstanding IPC
// reply (spec.md §3 invariant 2: msgid ≠ 0 ⇔ blocked).
func (m *MatchContext) Blocked() bool { return m.msgID != 0 }

// PendingID returns the request id this context is blocked on; valid only
// when Blocked() is true. The scheduler uses it to route the matching
// DONE reply back via StepMatch/StepDeliver.
func (m *MatchContext) PendingID() uint32 { return m.msgID }

func (m *MatchContext) curState() matcher.State {
	if m.matcherStates == nil {
		return nil
	}
	return m.matcherStates[exprKey{m.rule, m.exprIdx}]
}

func (m *MatchContext) setState(s matcher.State) {
	if m.matcherStates == nil {
		m.matcherStates = make(map[exprKey]matcher.State)
	}
	m.matcherStates[exprKey{m.rule, m.exprIdx}] = s
}

// advance implements spec.md §4.1 "Next rule": move to the next sibling,
// popping exhausted ancestors from stack until one has a next sibling or
// the stack is empty (end of ruleset). Per the nested-exit law, the rule
// visited after a pop is always the popped ancestor's sibling, never the
// ancestor itself.
func (m *MatchContext) advance() {
	for len(m.stack) > 0 {
		top := &m.stack[len(m.stack)-1]
		top.idx++
		if top.idx < len(top.siblings) {
			m.rule = top.siblings[top.idx]
			return
		}
		m.stack = m.stack[:len(m.stack)-1]
	}
	m.rule = nil
}

// descend implements "Nested descent": push r as an ancestor frame and
// move to its first child.
func (m *MatchContext) descend(r *ruleset.Rule) {
	m.stack = append(m.stack, frame{siblings: r.Nested, idx: 0})
	m.rule = r.Nested[0]
}

func (m *MatchContext) combine(op ruleset.Operator, val bool) {
	switch op {
	case ruleset.OpNone, ruleset.OpOr:
		if val {
			m.result = true
		}
	case ruleset.OpAnd:
		if !val {
			m.result = false
		}
	}
}

// accountName resolves the source account's name for matcher/deliverer
// contexts and IPC requests.
func (m *MatchContext) accountName() string {
	if m.Account == nil {
		return ""
	}
	return m.Account.Name
}

// DefaultSubstituter expands "${key}" references against tags; unknown
// keys expand to "". It is the core's minimal reference substitution
// engine — a real deployment is expected to wire in the config layer's
// richer engine via SetSubstituter.
func DefaultSubstituter(tmpl string, tags tagstore.Store) string {
	var out []byte
	for i := 0; i < len(tmpl); i++ {
		if tmpl[i] == '$' && i+1 < len(tmpl) && tmpl[i+1] == '{' {
			end := i + 2
			for end < len(tmpl) && tmpl[end] != '}' {
				end++
			}
			if end < len(tmpl) {
				key := tmpl[i+2 : end]
				if v, ok := tags.Get(key); ok {
					out = append(out, v...)
				}
				i = end
				continue
			}
		}
		out = append(out, tmpl[i])
	}
	return string(out)
}

// fatalf builds a spec.md §7 kind-4 protocol violation: fatal, never
// retryable. exterrors.WithTemporary(false) makes that classification
// inspectable by callers (exterrors.IsTemporary) rather than implied only
// by "a non-nil StepMatch/StepDeliver error is always fatal."
func fatalf(format string, args ...interface{}) error {
	err := fmt.Errorf("evalctx: protocol violation: "+format, args...)
	return exterrors.WithTemporary(exterrors.WithFields(err, map[string]interface{}{"kind": "protocol_violation"}), false)
}
