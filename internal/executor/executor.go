// Package executor implements the privileged side of the IPC protocol
// (spec.md §6): the server loop the parent process runs to answer ACTION
// requests from the unprivileged evaluator, dispatching KindDeliver
// requests to the named action's deliverer.Item and KindMatch requests to
// a registered parent-side match function.
package executor

import (
	"fmt"

	"github.com/mailcore/filterd/framework/log"
	"github.com/mailcore/filterd/internal/deliverer"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/ruleset"
	"github.com/mailcore/filterd/internal/tagstore"
)

// MatchFunc is a privileged-side matcher invoked for a KindMatch request.
// target and data are exactly the values the unprivileged matcher passed
// to matcher.Context.Suspend (spec.md §4.1 "PARENT means the matcher must
// run in the privileged process"); the concrete check (e.g. reading a file
// only root can open) is the caller's business, not the core's.
type MatchFunc func(target string, data []byte) (bool, error)

// Executor answers ACTION requests using the shared ruleset (loaded
// identically by both processes, per spec.md §3's config-layer
// responsibility) and a table of registered parent-side matchers.
type Executor struct {
	Rules    *ruleset.RuleSet
	Matchers map[string]MatchFunc
}

// New builds an Executor for rs with no matchers registered yet.
func New(rs *ruleset.RuleSet) *Executor {
	return &Executor{Rules: rs, Matchers: make(map[string]MatchFunc)}
}

// RegisterMatch adds a named parent-side matcher.
func (e *Executor) RegisterMatch(target string, f MatchFunc) {
	e.Matchers[target] = f
}

// Handle implements ipc.Handler, answering one ACTION request.
func (e *Executor) Handle(a *ipc.Action) *ipc.Done {
	tags, err := tagstore.Decode(a.Tags)
	if err != nil {
		return errDone(a.ID, nil, "decoding tags: %v", err)
	}

	switch a.Kind {
	case ipc.KindMatch:
		return e.handleMatch(a, tags)
	case ipc.KindDeliver:
		return e.handleDeliver(a, tags)
	default:
		return errDone(a.ID, tags, "unknown action kind %d", a.Kind)
	}
}

func (e *Executor) handleMatch(a *ipc.Action, tags tagstore.Store) *ipc.Done {
	f, ok := e.Matchers[a.Target]
	if !ok {
		return errDone(a.ID, tags, "no parent matcher registered for %q", a.Target)
	}

	ok, err := f(a.Target, a.Data)
	if err != nil {
		log.Printf("warning: [%s] parent matcher %q failed: %v", a.CorrelationID, a.Target, err)
		return errDone(a.ID, tags, "matcher %q: %v", a.Target, err)
	}

	outcome := ipc.OutcomeMatchFalse
	if ok {
		outcome = ipc.OutcomeMatchTrue
	}
	return okDone(a.ID, outcome, tags, nil)
}

func (e *Executor) handleDeliver(a *ipc.Action, tags tagstore.Store) *ipc.Done {
	act, ok := e.Rules.Actions[a.Target]
	if !ok {
		return errDone(a.ID, tags, "unknown action %q", a.Target)
	}
	if a.ItemIdx < 0 || a.ItemIdx >= len(act.Items) {
		return errDone(a.ID, tags, "action %q has no item %d", a.Target, a.ItemIdx)
	}
	spec := act.Items[a.ItemIdx]
	if spec.Deliverer == nil {
		return errDone(a.ID, tags, "action %q item %d has no deliverer", a.Target, a.ItemIdx)
	}

	ctx, err := newDeliverContext(a, tags)
	if err != nil {
		return errDone(a.ID, tags, "%v", err)
	}

	res, err := spec.Deliverer.Deliver(ctx)
	if err != nil || res != deliverer.Success {
		if err != nil {
			log.Printf("warning: [%s] deliverer %s failed for uid %s: %v", a.CorrelationID, spec.Deliverer.Describe(), a.UID, err)
		}
		return errDone(a.ID, ctx.tags, "deliverer %s: %v", spec.Deliverer.Describe(), err)
	}

	var body []byte
	if spec.Deliverer.Type() == deliverer.WriteBack {
		body, err = ctx.serialize()
		if err != nil {
			return errDone(a.ID, ctx.tags, "serializing write-back reply: %v", err)
		}
	}
	return okDone(a.ID, ipc.OutcomeSuccess, ctx.tags, body)
}

func okDone(id uint32, outcome ipc.Outcome, tags tagstore.Store, body []byte) *ipc.Done {
	tagBytes, err := tagstore.Encode(tags)
	if err != nil {
		return errDone(id, tags, "encoding tags: %v", err)
	}
	return &ipc.Done{ID: id, Outcome: outcome, Tags: tagBytes, Body: body}
}

func errDone(id uint32, tags tagstore.Store, format string, args ...interface{}) *ipc.Done {
	msg := fmt.Sprintf(format, args...)
	tagBytes, _ := tagstore.Encode(tags) // best-effort; an empty store still encodes
	return &ipc.Done{ID: id, Outcome: ipc.OutcomeError, ErrMsg: msg, Tags: tagBytes}
}
