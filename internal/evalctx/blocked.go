package evalctx

import (
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/metrics"
	"github.com/mailcore/filterd/internal/tagstore"
)

// resumeMatch implements spec.md §4.1's "Blocked path": consume a DONE
// reply answering a matcher's PARENT call, fold its verdict into the
// accumulated expression result, and continue evaluation.
func (m *MatchContext) resumeMatch(reply *ipc.Done) (Code, error) {
	if reply == nil || reply.ID != m.msgID {
		return Blocked, nil
	}

	if len(reply.Tags) == 0 {
		return Error, fatalf("empty tag payload in reply %d", reply.ID)
	}
	tags, err := tagstore.Decode(reply.Tags)
	if err != nil {
		return Error, fatalf("%v", err)
	}
	m.Mail.Tags = tags
	metrics.BlockedContexts.Dec()

	item := m.rule.Expr[m.exprIdx]
	switch reply.Outcome {
	case ipc.OutcomeError:
		m.msgID = 0
		metrics.ErrorsTotal.WithLabelValues("matcher_error").Inc()
		return Error, nil
	case ipc.OutcomeMatchTrue:
		m.combine(item.Operator, true)
	case ipc.OutcomeMatchFalse:
		m.combine(item.Operator, false)
	default:
		m.msgID = 0
		return Error, fatalf("unexpected outcome %d for a matcher reply", reply.Outcome)
	}

	m.msgID = 0
	return m.moreItemsOrContinue()
}
