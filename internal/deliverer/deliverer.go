// Package deliverer defines the Item interface concrete action-item
// implementations satisfy, and the privilege-tier enum spec.md §3
// ("Deliverer type") fixes: INCHILD, ASUSER, WRBACK.
package deliverer

import (
	"time"

	"github.com/emersion/go-message/textproto"
)

// DefaultTimeout is the command-runner's default timeout, restored from
// amosbird/fdm's DEFTIMEOUT (see SPEC_FULL.md §12). The core has no timeout
// logic itself (spec.md §5); this constant exists only for INCHILD
// deliverers that shell out to use as their own default.
const DefaultTimeout = 10 * time.Second

// Type is the privilege tier an action item runs at.
type Type int

const (
	// InChild runs entirely in the unprivileged evaluator, no IPC needed.
	InChild Type = iota
	// AsUser runs in the privileged executor as a resolved uid.
	AsUser
	// WriteBack runs in the privileged executor as a resolved uid and
	// returns a replacement message body (spec.md §4.4 "write-back").
	WriteBack
)

func (t Type) String() string {
	switch t {
	case InChild:
		return "inchild"
	case AsUser:
		return "asuser"
	case WriteBack:
		return "wrback"
	default:
		return "unknown"
	}
}

// Result is the outcome of running one delivery item.
type Result int

const (
	Success Result = iota
	Failure
)

func (r Result) String() string {
	if r == Success {
		return "success"
	}
	return "failure"
}

// Context is the slice of delivery state an Item needs to run, mirroring
// matcher.Context's import-cycle avoidance.
type Context interface {
	Header() HeaderView
	Body() []byte
	Tag(key string) (string, bool)
	SetTag(key, value string)
	AccountName() string
	ActionName() string
	// UID is the resolved uid of the delivery this item belongs to, for
	// InChild items as for the others.
	UID() string
	// Dispatch sends an ACTION request to the privileged executor and
	// suspends the owning mctx until the matching DONE reply arrives,
	// returning the request id (spec.md §4.4 "start-action"/"finish-action").
	Dispatch(uid string, writeBack bool) (id uint32, err error)
}

// HeaderView mirrors matcher.HeaderView.
type HeaderView interface {
	Get(key string) string
	All() *textproto.Header
}

// Item is one concrete, configured action-item implementation.
type Item interface {
	Type() Type
	// Deliver runs the item once and reports its result. The evaluator
	// calls it directly only for InChild items; AsUser/WriteBack items are
	// sent to the privileged executor as an ACTION request, and the
	// executor calls Deliver there.
	Deliver(ctx Context) (Result, error)
	// Describe returns a short human-readable description for logs.
	Describe() string
}
