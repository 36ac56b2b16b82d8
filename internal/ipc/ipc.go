// Package ipc implements the privilege-separation control channel between
// the unprivileged evaluator child and the privileged executor parent
// (spec.md §6): a single long-lived connection, two message types (ACTION,
// DONE), a monotonic 32-bit request id, and an opaque tag-store payload.
package ipc

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/mailcore/filterd/framework/log"
)

// Type distinguishes the two wire message kinds spec.md §6 defines.
type Type uint8

const (
	// TypeAction is sent child→parent to request a privileged delivery.
	TypeAction Type = iota + 1
	// TypeDone is sent parent→child once a requested delivery completes.
	TypeDone
)

// Kind distinguishes the two things an ACTION request can ask the parent
// to do: run a delivery, or evaluate a matcher that deferred to the
// privileged side (spec.md §6: "for matcher parent-calls, equivalent
// matcher-specific fields").
type Kind uint8

const (
	KindDeliver Kind = iota + 1
	KindMatch
)

// Action is the child→parent request payload (spec.md §6 "ACTION message").
// Target names the action (KindDeliver) or the matcher (KindMatch) this
// request concerns; Data carries deliverer- or matcher-specific opaque
// arguments alongside the always-present tag-store payload.
type Action struct {
	ID            uint32
	Kind          Kind
	Account       string
	Target        string
	ItemIdx       int // KindDeliver only: index into the named action's Items
	UID           string
	WriteBack     bool
	Tags          []byte // tagstore.Encode output
	Data          []byte // KindMatch only: matcher-specific opaque arguments
	Body          []byte // KindDeliver only: mailobj.Message.Serialize output (header + body)
	CorrelationID string // propagated from the requesting mctx, for log correlation only
}

// Outcome is the DONE reply's "error field" (spec.md §6), unified across
// both request kinds: delivery replies use Success/Failure/Error, matcher
// replies use MatchTrue/MatchFalse/Error.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeFailure
	OutcomeMatchTrue
	OutcomeMatchFalse
	OutcomeError
)

// Done is the parent→child reply payload (spec.md §6 "DONE message").
type Done struct {
	ID      uint32
	Outcome Outcome
	ErrMsg  string
	Tags    []byte // tagstore.Encode output, updated by the action's side effects
	Body    []byte // mailobj.Message.Serialize output, present only for write-back actions
}

// envelope is the single wire frame: a type tag plus exactly one of the two
// payloads, gob-encoded. gob is used rather than protobuf/grpc because this
// is a private control channel between two builds of the same binary that
// always share a Go toolchain — there is no cross-language or
// schema-evolution requirement protobuf exists to serve, and nothing else
// in the example corpus offers a lighter framed codec for this.
type envelope struct {
	Type   Type
	Action *Action
	Done   *Done
}

// Conn wraps a connection (a UNIX socketpair fd or pipe pair in practice)
// with length-prefixed gob framing and a monotonic id counter.
type Conn struct {
	w  *bufio.Writer
	r  *bufio.Reader
	mu sync.Mutex // serializes writes; reads are only ever done by one goroutine

	nextID uint32
}

// NewConn wraps rw. Child and parent each construct their own Conn over
// their end of the same transport.
func NewConn(rw io.ReadWriter) *Conn {
	return &Conn{
		w: bufio.NewWriter(rw),
		r: bufio.NewReader(rw),
	}
}

// NextID returns the next monotonic request id (spec.md §6: "32-bit,
// monotonically increasing, wraps").  Wraparound is intentional: spec.md
// §8 treats id reuse after wraparound as acceptable since no more than
// 2^32 requests are ever concurrently in flight.
func (c *Conn) NextID() uint32 {
	return atomic.AddUint32(&c.nextID, 1)
}

// SendAction writes an ACTION frame.
func (c *Conn) SendAction(a *Action) error {
	return c.send(envelope{Type: TypeAction, Action: a})
}

// SendDone writes a DONE frame.
func (c *Conn) SendDone(d *Done) error {
	return c.send(envelope{Type: TypeDone, Done: d})
}

func (c *Conn) send(e envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return fmt.Errorf("ipc: encode: %w", err)
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := c.w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("ipc: write length: %w", err)
	}
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("ipc: write body: %w", err)
	}
	return c.w.Flush()
}

// Recv reads the next frame and reports its type; exactly one of the
// returned *Action/*Done is non-nil. A protocol violation (truncated
// frame, undecodable gob, neither payload set) is fatal per spec.md §7
// kind 4 — callers should treat a non-nil error here as unrecoverable.
func (c *Conn) Recv() (Type, *Action, *Done, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(c.r, lenPrefix[:]); err != nil {
		return 0, nil, nil, fmt.Errorf("ipc: read length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])

	body := make([]byte, n)
	if _, err := io.ReadFull(c.r, body); err != nil {
		return 0, nil, nil, fmt.Errorf("ipc: read body: %w", err)
	}

	var e envelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&e); err != nil {
		return 0, nil, nil, fmt.Errorf("ipc: decode: %w", err)
	}

	switch {
	case e.Type == TypeAction && e.Action != nil:
		return TypeAction, e.Action, nil, nil
	case e.Type == TypeDone && e.Done != nil:
		return TypeDone, nil, e.Done, nil
	default:
		return 0, nil, nil, fmt.Errorf("ipc: malformed envelope (type=%d)", e.Type)
	}
}

// RecvLoop reads frames until rw is closed or an unrecoverable protocol
// error occurs, dispatching each to onAction/onDone. Run in its own
// goroutine by whichever side owns the Conn's read half.
func (c *Conn) RecvLoop(onAction func(*Action), onDone func(*Done)) error {
	for {
		typ, a, d, err := c.Recv()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		switch typ {
		case TypeAction:
			onAction(a)
		case TypeDone:
			onDone(d)
		default:
			log.Debugf("ipc: dropping frame of unknown type %d", typ)
		}
	}
}
