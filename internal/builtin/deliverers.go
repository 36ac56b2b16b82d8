package builtin

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/emersion/go-message/textproto"
	"github.com/mailcore/filterd/internal/deliverer"
)

// mboxTimestamp formats the current time the way mbox "From " separator
// lines traditionally do (asctime-style, no timezone).
func mboxTimestamp() string {
	return time.Now().Format("Mon Jan _2 15:04:05 2006")
}

func init() {
	deliverer.Default.Register("keep", newKeepDeliverer)
	deliverer.Default.Register("drop", newDropDeliverer)
	deliverer.Default.Register("tag", newTagDeliverer)
	deliverer.Default.Register("append-mbox", newAppendMboxDeliverer)
	deliverer.Default.Register("rewrite-subject", newRewriteSubjectDeliverer)
}

// keepDeliverer and dropDeliverer are INCHILD no-ops that always succeed:
// the message's terminal decision is assigned solely by the implicit-action
// policy (or an account's keep flag) when evaluation ends (spec.md §4.1),
// never by an action item — these
// exist only so a rule can name "keep"/"drop" as its action, matching
// spec.md §8 scenario 2.
type decisionDeliverer struct{ drop bool }

func newKeepDeliverer([]string) (deliverer.Item, error) { return decisionDeliverer{}, nil }
func newDropDeliverer([]string) (deliverer.Item, error) { return decisionDeliverer{drop: true}, nil }

func (d decisionDeliverer) Type() deliverer.Type { return deliverer.InChild }

func (d decisionDeliverer) Deliver(deliverer.Context) (deliverer.Result, error) {
	return deliverer.Success, nil
}

func (d decisionDeliverer) Describe() string {
	if d.drop {
		return "drop"
	}
	return "keep"
}

// tagDeliverer adds or overwrites a tag; INCHILD.
type tagDeliverer struct{ key, value string }

func newTagDeliverer(args []string) (deliverer.Item, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("tag: expected (key, value), got %d args", len(args))
	}
	return tagDeliverer{key: args[0], value: args[1]}, nil
}

func (t tagDeliverer) Type() deliverer.Type { return deliverer.InChild }

func (t tagDeliverer) Deliver(ctx deliverer.Context) (deliverer.Result, error) {
	ctx.SetTag(t.key, t.value)
	return deliverer.Success, nil
}

func (t tagDeliverer) Describe() string { return fmt.Sprintf("tag(%s=%s)", t.key, t.value) }

// appendMboxDeliverer appends the message to the mbox file at its configured
// path, opened exactly as given (the path is not expanded per uid); ASUSER.
// Its Deliver is only ever invoked by the privileged executor, never directly
// by the evaluator.
type appendMboxDeliverer struct{ pathTemplate string }

func newAppendMboxDeliverer(args []string) (deliverer.Item, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("append-mbox: expected (path), got %d args", len(args))
	}
	return appendMboxDeliverer{pathTemplate: args[0]}, nil
}

func (a appendMboxDeliverer) Type() deliverer.Type { return deliverer.AsUser }

func (a appendMboxDeliverer) Deliver(ctx deliverer.Context) (deliverer.Result, error) {
	f, err := os.OpenFile(a.pathTemplate, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return deliverer.Failure, err
	}
	defer f.Close()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From mailcore %s\n", mboxTimestamp())
	if err := textproto.WriteHeader(&buf, *ctx.Header().All()); err != nil {
		return deliverer.Failure, err
	}
	buf.Write(ctx.Body())
	buf.WriteByte('\n')

	if _, err := f.Write(buf.Bytes()); err != nil {
		return deliverer.Failure, err
	}
	return deliverer.Success, nil
}

func (a appendMboxDeliverer) Describe() string {
	return fmt.Sprintf("append-mbox(%s)", a.pathTemplate)
}

// rewriteSubjectDeliverer prepends a fixed string to the Subject header
// and returns the modified body; WRBACK, the reference implementation of
// spec.md §8 scenario 7.
type rewriteSubjectDeliverer struct{ prefix string }

func newRewriteSubjectDeliverer(args []string) (deliverer.Item, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("rewrite-subject: expected (prefix), got %d args", len(args))
	}
	return rewriteSubjectDeliverer{prefix: args[0]}, nil
}

func (r rewriteSubjectDeliverer) Type() deliverer.Type { return deliverer.WriteBack }

func (r rewriteSubjectDeliverer) Deliver(ctx deliverer.Context) (deliverer.Result, error) {
	hdr := ctx.Header().All()
	subject := hdr.Get("Subject")
	hdr.Set("Subject", r.prefix+subject)
	return deliverer.Success, nil
}

func (r rewriteSubjectDeliverer) Describe() string {
	return fmt.Sprintf("rewrite-subject(%s)", r.prefix)
}
