package evalctx

import (
	"time"

	"github.com/mailcore/filterd/framework/buffer"
	"github.com/mailcore/filterd/framework/exterrors"
	"github.com/mailcore/filterd/internal/deliverer"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/mailobj"
	"github.com/mailcore/filterd/internal/metrics"
	"github.com/mailcore/filterd/internal/tagstore"
)

// StepDeliver is spec.md §4.2's step_deliver. reply is non-nil iff the
// caller is delivering an IPC response to a previously-blocked context.
func (m *MatchContext) StepDeliver(reply *ipc.Done) (Code, error) {
	m.Mail.Refold()

	if m.msgID != 0 {
		return m.resumeDeliver(reply)
	}

	if len(m.dqueue) == 0 {
		return Match, nil
	}

	head := m.dqueue[0]
	code, err := m.startAction(head)
	if err != nil {
		return Error, err
	}
	if code == Error || code == Blocked {
		return code, nil
	}
	return m.advanceDelivery(head)
}

// startAction is spec.md §4.4's start-action.
func (m *MatchContext) startAction(d *DeliveryItem) (Code, error) {
	if d.Start.IsZero() {
		d.Start = time.Now()
	}

	if d.ItemIdx >= len(d.Action.Items) {
		return Continue, nil
	}
	spec := d.Action.Items[d.ItemIdx]
	if spec.Deliverer == nil {
		return Continue, nil
	}

	m.Mail.SetTag("action", d.Action.Name)

	switch spec.Deliverer.Type() {
	case deliverer.InChild:
		res, err := spec.Deliverer.Deliver(m.deliverContext(d))
		if err != nil || res != deliverer.Success {
			metrics.ActionsDispatched.WithLabelValues("inchild", "failure").Inc()
			return Error, nil
		}
		metrics.ActionsDispatched.WithLabelValues("inchild", "success").Inc()
		return Continue, nil

	case deliverer.AsUser, deliverer.WriteBack:
		tagBytes, err := tagstore.Encode(m.Mail.Tags)
		if err != nil {
			return Error, fatalf("encoding tag store: %v", err)
		}
		full, err := m.Mail.Serialize()
		if err != nil {
			return Error, fatalf("serializing message: %v", err)
		}
		writeBack := spec.Deliverer.Type() == deliverer.WriteBack
		id, err := m.Client.Dispatch(&ipc.Action{
			Kind:          ipc.KindDeliver,
			Account:       m.accountName(),
			Target:        d.Action.Name,
			ItemIdx:       d.ItemIdx,
			UID:           d.UID,
			WriteBack:     writeBack,
			Tags:          tagBytes,
			Body:          full,
			CorrelationID: m.CorrelationID,
		})
		if err != nil {
			// A dispatch failure here is an IPC transport error, not a
			// protocol violation: the connection write itself failed, so
			// spec.md §7 kind 2 (retryable) applies, not kind 4.
			return Error, exterrors.WithTemporary(exterrors.WithFields(err, map[string]interface{}{"kind": "deliverer_error"}), true)
		}
		m.msgID = id
		metrics.BlockedContexts.Inc()
		return Blocked, nil

	default:
		return Error, fatalf("unknown deliverer type %v", spec.Deliverer.Type())
	}
}

// resumeDeliver implements step_deliver's blocked path.
func (m *MatchContext) resumeDeliver(reply *ipc.Done) (Code, error) {
	if reply == nil || reply.ID != m.msgID {
		return Blocked, nil
	}

	head := m.dqueue[0]
	code, err := m.finishAction(head, reply)
	m.msgID = 0
	metrics.BlockedContexts.Dec()
	if err != nil {
		return Error, err
	}
	if code == Error {
		return Error, nil
	}
	return m.advanceDelivery(head)
}

// finishAction is spec.md §4.4's finish-action.
func (m *MatchContext) finishAction(d *DeliveryItem, reply *ipc.Done) (Code, error) {
	if len(reply.Tags) == 0 {
		return Error, fatalf("empty tag payload in reply %d", reply.ID)
	}
	tags, err := tagstore.Decode(reply.Tags)
	if err != nil {
		return Error, fatalf("%v", err)
	}
	m.Mail.Tags = tags
	if m.onTagsUpdated != nil {
		m.onTagsUpdated(m.Mail.Tags)
	}

	if reply.Outcome == ipc.OutcomeError || reply.Outcome == ipc.OutcomeFailure {
		metrics.ActionsDispatched.WithLabelValues("asuser", "failure").Inc()
		return Error, nil
	}

	spec := d.Action.Items[d.ItemIdx]
	if spec.Deliverer == nil || spec.Deliverer.Type() != deliverer.WriteBack {
		metrics.ActionsDispatched.WithLabelValues("asuser", "success").Inc()
		return Continue, nil
	}

	if len(reply.Body) == 0 {
		return Error, fatalf("write-back reply %d missing replacement body", reply.ID)
	}
	hdr, body, err := mailobj.ParseFull(reply.Body)
	if err != nil {
		return Error, fatalf("parsing write-back reply %d: %v", reply.ID, err)
	}
	if err := m.Mail.ReplaceBody(hdr, buffer.MemoryBuffer{Slice: body}); err != nil {
		return Error, err
	}
	metrics.ActionsDispatched.WithLabelValues("wrback", "success").Inc()
	return Continue, nil
}

// advanceDelivery advances a dctx's item cursor, or dequeues it once its
// action's items are exhausted (spec.md §4.2 "Done label").
func (m *MatchContext) advanceDelivery(d *DeliveryItem) (Code, error) {
	d.ItemIdx++
	if d.ItemIdx < len(d.Action.Items) {
		return Continue, nil
	}
	m.dqueue = m.dqueue[1:]
	return Continue, nil
}
