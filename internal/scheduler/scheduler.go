// Package scheduler drives many per-message match contexts concurrently
// (spec.md §5: "concurrency comes from interleaving multiple messages").
// Each in-flight message gets its own goroutine that alternates between
// the match and deliver phases; a context that would BLOCK in the
// reference single-threaded scheduler instead parks its own goroutine on
// the awaited IPC reply, which is the idiomatic Go rendering of the same
// cooperative-interleaving guarantee — other messages' goroutines keep
// running while one waits.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mailcore/filterd/framework/log"
	"github.com/mailcore/filterd/internal/evalctx"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/mailobj"
	"github.com/mailcore/filterd/internal/metrics"
	"github.com/mailcore/filterd/internal/ruleset"
)

// Scheduler owns the ruleset snapshot and IPC client every mctx it spawns
// evaluates against.
type Scheduler struct {
	Rules  *ruleset.RuleSet
	Client *ipc.Client

	// MaxInFlight bounds concurrently running message goroutines; zero
	// means unbounded (errgroup.SetLimit is not called).
	MaxInFlight int
}

// New builds a Scheduler for the given ruleset snapshot and IPC client.
func New(rs *ruleset.RuleSet, client *ipc.Client) *Scheduler {
	return &Scheduler{Rules: rs, Client: client}
}

// Fetched is one message entering the core along with the account it came
// from (spec.md §2 "the contract by which a fetched message enters the
// core").
type Fetched struct {
	Message *mailobj.Message
	Account *ruleset.Account
}

// Run consumes messages until the channel closes or ctx is cancelled,
// evaluating each one to completion (decision assigned) or to the first
// unrecoverable error. It returns the first error from any message's
// evaluation, cancelling the others, matching errgroup's all-or-nothing
// semantics the teacher's msgpipeline uses for a delivery fan-out.
func (s *Scheduler) Run(ctx context.Context, messages <-chan Fetched) error {
	g, ctx := errgroup.WithContext(ctx)
	if s.MaxInFlight > 0 {
		g.SetLimit(s.MaxInFlight)
	}

	for {
		select {
		case <-ctx.Done():
			return g.Wait()
		case f, ok := <-messages:
			if !ok {
				return g.Wait()
			}
			g.Go(func() error {
				return s.runOne(ctx, f)
			})
		}
	}
}

// runOne drives a single message through match/deliver until it reaches a
// terminal decision or an ERROR.
func (s *Scheduler) runOne(ctx context.Context, f Fetched) error {
	mctx := evalctx.New(f.Message, f.Account, s.Rules, s.Client)

	for {
		code, err := s.driveMatch(ctx, mctx)
		if err != nil {
			log.Error("match evaluation error", err, "correlation_id", mctx.CorrelationID)
			return fmt.Errorf("scheduler: fatal protocol violation: %w", err)
		}

		switch code {
		case evalctx.Deliver:
			code, err := s.driveDeliver(ctx, mctx)
			if err != nil {
				log.Error("delivery error", err, "correlation_id", mctx.CorrelationID)
				return fmt.Errorf("scheduler: fatal protocol violation: %w", err)
			}
			if code == evalctx.Error {
				metrics.ErrorsTotal.WithLabelValues("deliverer_error").Inc()
				return fmt.Errorf("scheduler: delivery failed for account %s", accountName(f.Account))
			}
			// MATCH: deliver queue drained, resume matching.

		case evalctx.Done:
			log.Debugf("[%s] message from %s: decision=%s", mctx.CorrelationID, accountName(f.Account), f.Message.Decision)
			return nil

		case evalctx.Error:
			metrics.ErrorsTotal.WithLabelValues("matcher_error").Inc()
			return fmt.Errorf("scheduler: evaluation failed for account %s", accountName(f.Account))
		}
	}
}

// driveMatch repeatedly calls StepMatch, waiting out any BLOCKED
// suspension itself, until a non-CONTINUE code is produced.
func (s *Scheduler) driveMatch(ctx context.Context, m *evalctx.MatchContext) (evalctx.Code, error) {
	var reply *ipc.Done
	for {
		code, err := m.StepMatch(reply)
		reply = nil
		if err != nil {
			return evalctx.Error, err
		}

		switch code {
		case evalctx.Continue:
			continue
		case evalctx.Blocked:
			d, err := s.wait(ctx, m.PendingID(), "match")
			if err != nil {
				return evalctx.Error, err
			}
			reply = d
			continue
		default:
			return code, nil
		}
	}
}

// driveDeliver is driveMatch's counterpart for the delivery phase.
func (s *Scheduler) driveDeliver(ctx context.Context, m *evalctx.MatchContext) (evalctx.Code, error) {
	var reply *ipc.Done
	for {
		code, err := m.StepDeliver(reply)
		reply = nil
		if err != nil {
			return evalctx.Error, err
		}

		switch code {
		case evalctx.Continue:
			continue
		case evalctx.Blocked:
			d, err := s.wait(ctx, m.PendingID(), "deliver")
			if err != nil {
				return evalctx.Error, err
			}
			reply = d
			continue
		default:
			return code, nil
		}
	}
}

func (s *Scheduler) wait(ctx context.Context, id uint32, kind string) (*ipc.Done, error) {
	start := time.Now()
	d, err := s.Client.Wait(ctx, id)
	metrics.IPCRoundTrip.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	return d, err
}

func accountName(a *ruleset.Account) string {
	if a == nil {
		return ""
	}
	return a.Name
}
