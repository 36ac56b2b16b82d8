package scheduler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/emersion/go-message/textproto"

	"github.com/mailcore/filterd/framework/buffer"
	"github.com/mailcore/filterd/internal/deliverer"
	"github.com/mailcore/filterd/internal/executor"
	"github.com/mailcore/filterd/internal/ipc"
	"github.com/mailcore/filterd/internal/mailobj"
	"github.com/mailcore/filterd/internal/matcher"
	"github.com/mailcore/filterd/internal/ruleset"
)

// alwaysTrueMatcher satisfies matcher.Matcher without ever deferring to
// the parent, enough to drive a rule to a match.
type alwaysTrueMatcher struct{}

func (alwaysTrueMatcher) Match(matcher.Context, matcher.State) (matcher.Result, matcher.State) {
	return matcher.True, nil
}
func (alwaysTrueMatcher) Describe() string { return "always" }

// recordingInChildDeliverer records that it ran; an InChild item never
// needs the IPC client.
type recordingInChildDeliverer struct{ ran *bool }

func (d recordingInChildDeliverer) Type() deliverer.Type { return deliverer.InChild }
func (d recordingInChildDeliverer) Deliver(deliverer.Context) (deliverer.Result, error) {
	*d.ran = true
	return deliverer.Success, nil
}
func (d recordingInChildDeliverer) Describe() string { return "record" }

func newMessage(t *testing.T, subject string) *mailobj.Message {
	t.Helper()
	hdr := textproto.Header{}
	hdr.Set("Subject", subject)
	msg, err := mailobj.New(hdr, buffer.MemoryBuffer{Slice: []byte("body\n")})
	if err != nil {
		t.Fatalf("mailobj.New: %v", err)
	}
	return msg
}

func TestRunInChildDelivery(t *testing.T) {
	ran := false
	rs := &ruleset.RuleSet{
		Policy: ruleset.PolicyKeep,
		Rules: []*ruleset.Rule{
			{
				Idx:     0,
				Expr:    []ruleset.ExprItem{{Matcher: alwaysTrueMatcher{}}},
				Actions: []string{"inbox"},
				Stop:    true,
			},
		},
		Actions: map[string]*ruleset.Action{
			"inbox": {Name: "inbox", Items: []ruleset.ActionItemSpec{
				{Deliverer: recordingInChildDeliverer{ran: &ran}},
			}},
		},
	}

	sched := &Scheduler{Rules: rs}
	messages := make(chan Fetched, 1)
	messages <- Fetched{Message: newMessage(t, "hello"), Account: &ruleset.Account{Name: "alice"}}
	close(messages)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sched.Run(ctx, messages); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !ran {
		t.Fatal("expected InChild deliverer to run")
	}
}

func TestRunAsUserDeliveryRoundTripsThroughExecutor(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	item := recordingAsUserDeliverer{}
	rs := &ruleset.RuleSet{
		Policy: ruleset.PolicyKeep,
		Rules: []*ruleset.Rule{
			{
				Idx:     0,
				Expr:    []ruleset.ExprItem{{Matcher: alwaysTrueMatcher{}}},
				Actions: []string{"quarantine"},
				Stop:    true,
			},
		},
		Actions: map[string]*ruleset.Action{
			"quarantine": {Name: "quarantine", Items: []ruleset.ActionItemSpec{
				{Deliverer: item},
			}},
		},
	}

	ex := executor.New(rs)
	go func() {
		_ = ipc.Serve(ipc.NewConn(serverConn), ex.Handle)
	}()

	client := ipc.NewClient(ipc.NewConn(clientConn))
	sched := &Scheduler{Rules: rs, Client: client}

	messages := make(chan Fetched, 1)
	messages <- Fetched{Message: newMessage(t, "hello"), Account: &ruleset.Account{Name: "alice"}}
	close(messages)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sched.Run(ctx, messages); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

// recordingAsUserDeliverer is a minimal AsUser item whose only job is to
// succeed, proving the dispatch/resume round trip through a real executor.
type recordingAsUserDeliverer struct{}

func (recordingAsUserDeliverer) Type() deliverer.Type { return deliverer.AsUser }
func (recordingAsUserDeliverer) Deliver(ctx deliverer.Context) (deliverer.Result, error) {
	return deliverer.Success, nil
}
func (recordingAsUserDeliverer) Describe() string { return "asuser-record" }
