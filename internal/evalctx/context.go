package evalctx

import (
	"github.com/mailcore/filterd/internal/deliverer"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/matcher"
	"github.com/mailcore/filterd/internal/tagstore"
)

// matcherCtx adapts a MatchContext to matcher.Context for the duration of
// one item evaluation.
type matcherCtx struct {
	m *MatchContext
}

func (c matcherCtx) Header() matcher.HeaderView { return c.m.Mail }
func (c matcherCtx) Body() []byte               { return c.m.Mail.Bytes() }
func (c matcherCtx) Tag(key string) (string, bool) {
	return c.m.Mail.Tag(key)
}
func (c matcherCtx) AccountName() string { return c.m.accountName() }

// Suspend dispatches the matcher's parent-call through the same ipc.Client
// every AsUser/WriteBack delivery uses and records the request id on the
// owning mctx, per spec.md §6: "the matcher must have already sent an IPC
// request and stored mctx.msgid."
func (c matcherCtx) Suspend(target string, data []byte) (uint32, error) {
	tagBytes, err := tagstore.Encode(c.m.Mail.Tags)
	if err != nil {
		return 0, err
	}
	id, err := c.m.Client.Dispatch(&ipc.Action{
		Kind:          ipc.KindMatch,
		Account:       c.m.accountName(),
		Target:        target,
		Tags:          tagBytes,
		Data:          data,
		CorrelationID: c.m.CorrelationID,
	})
	if err != nil {
		return 0, err
	}
	c.m.msgID = id
	return id, nil
}

func (m *MatchContext) matcherContext() matcher.Context { return matcherCtx{m} }

// deliverCtx adapts a MatchContext and the DeliveryItem it is currently
// running to deliverer.Context.
type deliverCtx struct {
	m *MatchContext
	d *DeliveryItem
}

func (c deliverCtx) Header() deliverer.HeaderView { return c.m.Mail }
func (c deliverCtx) Body() []byte                 { return c.m.Mail.Bytes() }
func (c deliverCtx) Tag(key string) (string, bool) {
	return c.m.Mail.Tag(key)
}
func (c deliverCtx) SetTag(key, value string) { c.m.Mail.SetTag(key, value) }
func (c deliverCtx) AccountName() string      { return c.m.accountName() }
func (c deliverCtx) ActionName() string       { return c.d.Action.Name }
func (c deliverCtx) UID() string              { return c.d.UID }

func (c deliverCtx) Dispatch(uid string, writeBack bool) (uint32, error) {
	tagBytes, err := tagstore.Encode(c.m.Mail.Tags)
	if err != nil {
		return 0, err
	}
	id, err := c.m.Client.Dispatch(&ipc.Action{
		Kind:          ipc.KindDeliver,
		Account:       c.m.accountName(),
		Target:        c.d.Action.Name,
		UID:           uid,
		WriteBack:     writeBack,
		Tags:          tagBytes,
		CorrelationID: c.m.CorrelationID,
	})
	if err != nil {
		return 0, err
	}
	c.m.msgID = id
	return id, nil
}

func (m *MatchContext) deliverContext(d *DeliveryItem) deliverer.Context { return deliverCtx{m, d} }
