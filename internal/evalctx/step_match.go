package evalctx

import (
	"github.com/mailcore/filterd/framework/log"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/mailobj"
	"github.com/mailcore/filterd/internal/matcher"
	"github.com/mailcore/filterd/internal/metrics"
	"github.com/mailcore/filterd/internal/ruleset"
)

// StepMatch is spec.md §4.1's step_match. reply is non-nil iff the caller
// is delivering an IPC response to a previously-blocked context. A non-nil
// error return is a fatal protocol violation (spec.md §4.4 "Failure mode
// invariants"); the process should terminate rather than continue
// evaluating this or any other message.
func (m *MatchContext) StepMatch(reply *ipc.Done) (Code, error) {
	m.Mail.Unfold()

	if m.msgID != 0 {
		return m.resumeMatch(reply)
	}

	if m.doneFlag {
		if m.Mail.Decision == mailobj.DecisionPending {
			m.assignImplicitDecision()
		}
		return Done, nil
	}

	if m.rule == nil {
		m.assignImplicitDecision()
		return Done, nil
	}

	if m.exprIdx == -1 {
		if !ruleset.MatchAccountGlobs(m.rule.Accounts, m.accountName()) {
			m.result = false
			return m.afterExpression()
		}
		if len(m.rule.Expr) == 0 {
			m.result = true
			return m.afterExpression()
		}
		m.result = false
		m.exprIdx = 0
	}

	item := m.rule.Expr[m.exprIdx]
	res, newState := item.Matcher.Match(m.matcherContext(), m.curState())
	m.setState(newState)

	switch res {
	case matcher.Error:
		metrics.ErrorsTotal.WithLabelValues("matcher_error").Inc()
		return Error, nil
	case matcher.Parent:
		metrics.BlockedContexts.Inc()
		return Blocked, nil
	default:
		val := res == matcher.True
		if item.Inverted {
			val = !val
		}
		m.combine(item.Operator, val)
	}

	return m.moreItemsOrContinue()
}

func (m *MatchContext) moreItemsOrContinue() (Code, error) {
	m.exprIdx++
	if m.exprIdx < len(m.rule.Expr) {
		return Continue, nil
	}
	return m.afterExpression()
}

// afterExpression implements the "skip" label onward: matched bookkeeping,
// nested descent, tagging, delivery-queue enqueue, and advancing to the
// next rule (spec.md §4.1).
func (m *MatchContext) afterExpression() (Code, error) {
	m.exprIdx = -1
	rule := m.rule

	if !m.result {
		m.advance()
		return Continue, nil
	}

	m.matched = true
	if rule.Stop {
		m.doneFlag = true
	}
	metrics.RulesMatched.WithLabelValues(m.accountName()).Inc()

	if len(rule.Nested) > 0 {
		m.descend(rule)
		return Continue, nil
	}

	if rule.Key != "" {
		key := m.subst(rule.Key, m.Mail.Tags)
		value := m.subst(rule.Value, m.Mail.Tags)
		if key != "" && value != "" {
			m.Mail.Tags.Set(key, value)
		}
	}

	pendingDeliver := false
	if len(rule.Actions) > 0 || len(rule.Lambda) > 0 {
		if err := m.enqueueDeliveries(rule); err != nil {
			return Error, nil
		}
		if len(m.dqueue) > 0 {
			pendingDeliver = true
		}
	}

	m.advance()
	if pendingDeliver {
		return Deliver, nil
	}
	return Continue, nil
}

func (m *MatchContext) assignImplicitDecision() {
	if m.Account != nil && m.Account.Keep {
		m.Mail.Decision = mailobj.DecisionKeep
		return
	}
	switch m.Rules.Policy {
	case ruleset.PolicyKeep:
		m.Mail.Decision = mailobj.DecisionKeep
	case ruleset.PolicyDrop:
		m.Mail.Decision = mailobj.DecisionDrop
	default:
		m.Mail.Decision = mailobj.DecisionKeep
		log.Printf("warning: [%s] evaluation ended with no implicit-action policy set, defaulting to keep", m.CorrelationID)
	}
}
