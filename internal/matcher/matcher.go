// Package matcher defines the Matcher interface concrete expression-item
// implementations satisfy, and the three-valued (plus deferred) result the
// core's step_match drives rule expressions with (spec.md §3 "Matcher").
//
// Concrete matchers (regexp against a header, size threshold, tag lookup,
// ...) are external collaborators per spec.md §1; this package only fixes
// the contract the core evaluates against.
package matcher

import "github.com/emersion/go-message/textproto"

// Result is a matcher's verdict for one expression item.
type Result int

const (
	// False and True are ordinary boolean outcomes.
	False Result = iota
	True
	// Error means the matcher could not evaluate (spec.md §7 kind 2,
	// "matcher/deliverer runtime error") — the core aborts the mctx with
	// ERROR.
	Error
	// Parent means the matcher cannot decide without privileged
	// information and the evaluation must suspend for an IPC round trip
	// (spec.md §4.1 "matcher defers to the parent").
	Parent
)

func (r Result) String() string {
	switch r {
	case False:
		return "false"
	case True:
		return "true"
	case Error:
		return "error"
	case Parent:
		return "parent"
	default:
		return "unknown"
	}
}

// State is matcher-private per-rule-evaluation state (e.g. compiled regexp
// match cache). The core never inspects it; it only threads it back into
// the same matcher on re-entry after a suspend.
type State interface{}

// Context is the slice of a running mctx a Matcher needs, defined here
// (rather than imported from evalctx) to avoid an import cycle: evalctx
// depends on matcher, not the reverse.
type Context interface {
	// Header returns the message's current (possibly unfolded) header.
	Header() HeaderView
	// Body returns the message's current (possibly unfolded) body bytes.
	Body() []byte
	// Tag looks up a tag set by an earlier rule in this evaluation.
	Tag(key string) (string, bool)
	// AccountName is the account the message was fetched from.
	AccountName() string
	// Suspend sends an IPC parent-call for this matcher (target identifies
	// the matcher to the privileged side; data is matcher-specific opaque
	// args) and records the resulting request id on the owning mctx. A
	// matcher must call Suspend before returning Parent (spec.md §6:
	// "the matcher must have already sent an IPC request and stored
	// mctx.msgid").
	Suspend(target string, data []byte) (id uint32, err error)
}

// HeaderView is the minimal header-reading surface a Matcher needs; it is
// satisfied by *mailobj.Message via a small adapter, again to avoid an
// import cycle. All returns *textproto.Header, for matchers that need to
// walk every occurrence of a repeated field via its Fields() iterator.
type HeaderView interface {
	Get(key string) string
	All() *textproto.Header
}

// Matcher is one concrete expression-item implementation.
type Matcher interface {
	// Match evaluates this matcher against ctx, given matcher-private
	// state from a previous suspended call (nil on first entry).
	Match(ctx Context, state State) (Result, State)
	// Describe returns a short human-readable description for logs
	// (spec.md §3 "Expression item"), e.g. "header(Subject) ~= /foo/".
	Describe() string
}
