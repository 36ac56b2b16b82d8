package executor

import (
	"fmt"

	"github.com/mailcore/filterd/framework/buffer"
	"github.com/mailcore/filterd/internal/deliverer"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/mailobj"
	"github.com/mailcore/filterd/internal/tagstore"
)

// deliverContext adapts one KindDeliver ipc.Action to deliverer.Context.
// Unlike the evaluator's own context (internal/evalctx), it owns its
// *mailobj.Message rather than sharing the one live in the child's mctx:
// the parent only ever sees the serialized snapshot the child dispatched
// (spec.md §6 "the request carries whatever fields the action item needs").
type deliverContext struct {
	a    *ipc.Action
	tags tagstore.Store
	msg  *mailobj.Message
}

// newDeliverContext parses a.Body (a mailobj.Message.Serialize blob) into a
// header and body and wraps both for the deliverer to operate on.
func newDeliverContext(a *ipc.Action, tags tagstore.Store) (*deliverContext, error) {
	hdr, body, err := mailobj.ParseFull(a.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing action body: %w", err)
	}
	msg, err := mailobj.New(hdr, buffer.MemoryBuffer{Slice: body})
	if err != nil {
		return nil, err
	}
	msg.Tags = tags
	return &deliverContext{a: a, tags: tags, msg: msg}, nil
}

func (c *deliverContext) Header() deliverer.HeaderView { return c.msg }
func (c *deliverContext) Body() []byte                 { return c.msg.Bytes() }
func (c *deliverContext) Tag(key string) (string, bool) {
	return c.msg.Tag(key)
}
func (c *deliverContext) SetTag(key, value string) {
	c.msg.SetTag(key, value)
	c.tags = c.msg.Tags
}
func (c *deliverContext) AccountName() string { return c.a.Account }
func (c *deliverContext) ActionName() string  { return c.a.Target }
func (c *deliverContext) UID() string         { return c.a.UID }

// Dispatch is unreachable in practice: by the time an item's Deliver runs
// here it has already been dispatched once by the evaluator's
// start-action, and none of the reference deliverers call it themselves
// (spec.md §4.4 assigns dispatch to the state machine, not the item).
func (c *deliverContext) Dispatch(string, bool) (uint32, error) {
	return 0, fmt.Errorf("executor: nested Dispatch is not supported")
}

// serialize returns the full message (header + body), reflecting any
// header mutation a WRBACK deliverer made via Header().All().Set(...).
func (c *deliverContext) serialize() ([]byte, error) {
	return c.msg.Serialize()
}
