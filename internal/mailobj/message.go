// Package mailobj implements the per-message object spec.md §3 describes:
// mail content, a wrapped-line table, the tag store, and the terminal
// decision/done bits the state machine sets.
package mailobj

import (
	"bufio"
	"bytes"
	"io"

	"github.com/emersion/go-message/textproto"
	"github.com/mailcore/filterd/framework/buffer"
	"github.com/mailcore/filterd/internal/tagstore"
)

// Decision is the terminal disposition the state machine assigns when a
// message reaches the end of its evaluation (spec.md §4.1 "End of ruleset").
type Decision int

const (
	// DecisionPending means no decision has been assigned yet.
	DecisionPending Decision = iota
	DecisionKeep
	DecisionDrop
)

func (d Decision) String() string {
	switch d {
	case DecisionKeep:
		return "keep"
	case DecisionDrop:
		return "drop"
	default:
		return "pending"
	}
}

// Message is the object a single mctx evaluates. It is not goroutine-safe;
// a given Message is only ever touched by the state machine driving its
// mctx (spec.md §5 "Scheduling model").
type Message struct {
	Header textproto.Header
	Body   buffer.Buffer

	// raw holds a mutable copy of the body bytes used for the fold/unfold
	// transform described in spec.md §4.1/§4.2. It is re-synced from Body
	// whenever a write-back delivery replaces the body (see ReplaceBody).
	raw []byte
	// wrapped records the byte offsets within raw that are fold points:
	// positions holding '\n' in the canonical (wrapped) form and ' ' in
	// the unfolded form matchers operate on.
	wrapped []int
	folded  bool

	Tags     tagstore.Store
	Decision Decision
	Done     bool
}

// New builds a Message from a header and a body buffer, computing the
// wrapped-line table from RFC 5322 header folding (a line break followed by
// leading whitespace) plus any such fold points already present in the body.
func New(hdr textproto.Header, body buffer.Buffer) (*Message, error) {
	r, err := body.Open()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	raw := buf.Bytes()

	m := &Message{
		Header: hdr,
		Body:   body,
		raw:    raw,
		Tags:   tagstore.New(),
		folded: true,
	}
	m.wrapped = findFoldPoints(raw)
	return m, nil
}

// findFoldPoints locates '\n' bytes immediately followed by a space or tab
// (the RFC 5322 folding continuation marker) — these are the positions the
// pre-pass unfolds to spaces so a single regexp can match across a wrapped
// body line.
func findFoldPoints(raw []byte) []int {
	var points []int
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\n' {
			continue
		}
		if i+1 < len(raw) && (raw[i+1] == ' ' || raw[i+1] == '\t') {
			points = append(points, i)
		}
	}
	return points
}

// Unfold replaces every recorded fold point with a space so matchers see
// logically unwrapped text (spec.md §4.1 "Pre-pass: body normalization").
// It is idempotent.
func (m *Message) Unfold() {
	if !m.folded {
		return
	}
	for _, off := range m.wrapped {
		m.raw[off] = ' '
	}
	m.folded = false
}

// Refold restores the recorded fold points to newlines so deliverers see the
// canonical wrapped form (spec.md §4.2 "Pre-pass"). It is idempotent.
func (m *Message) Refold() {
	if m.folded {
		return
	}
	for _, off := range m.wrapped {
		m.raw[off] = '\n'
	}
	m.folded = true
}

// Bytes returns the current (folded or unfolded, whichever Unfold/Refold
// last left it as) body content.
func (m *Message) Bytes() []byte {
	return m.raw
}

// Get returns the first value of a header field, satisfying
// matcher.HeaderView/deliverer.HeaderView structurally.
func (m *Message) Get(key string) string {
	return m.Header.Get(key)
}

// All returns the full header, for matchers/deliverers that need to walk
// every occurrence of a repeated field via its Fields() iterator.
func (m *Message) All() *textproto.Header {
	return &m.Header
}

// Tag looks up a tag set by an earlier rule in this evaluation.
func (m *Message) Tag(key string) (string, bool) {
	return m.Tags.Get(key)
}

// SetTag adds or overwrites a tag.
func (m *Message) SetTag(key, value string) {
	m.Tags.Set(key, value)
}

// ReplaceBody installs a new body, as delivered by a WRBACK action's reply
// (spec.md §4.4 "receive mail"). It strips a leading mbox "From " envelope
// line if present and rebuilds the wrapped-line table, per the same
// section ("rebuild the wrapped-line index").
func (m *Message) ReplaceBody(hdr textproto.Header, body buffer.Buffer) error {
	r, err := body.Open()
	if err != nil {
		return err
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return err
	}
	raw := buf.Bytes()
	raw = stripEnvelopeFrom(raw)

	m.Header = hdr
	m.Body = body
	m.raw = raw
	m.folded = true
	m.wrapped = findFoldPoints(raw)
	return nil
}

// Serialize writes the full message (header followed by the current body)
// as a single RFC 5322 blob, the form sent across the IPC channel to an
// ASUSER/WRBACK deliverer (spec.md §6): the privileged side has no access to
// the child's in-memory Header otherwise.
func (m *Message) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	if err := textproto.WriteHeader(&buf, m.Header); err != nil {
		return nil, err
	}
	buf.Write(m.raw)
	return buf.Bytes(), nil
}

// ParseFull splits a Serialize-shaped blob back into its header and body.
// Used by the executor to reconstruct a deliverer.Context from an IPC
// Action's Body, and by the evaluator to apply a write-back reply.
func ParseFull(data []byte) (textproto.Header, []byte, error) {
	br := bufio.NewReader(bytes.NewReader(data))
	hdr, err := textproto.ReadHeader(br)
	if err != nil {
		return textproto.Header{}, nil, err
	}
	body, err := io.ReadAll(br)
	if err != nil {
		return textproto.Header{}, nil, err
	}
	return hdr, body, nil
}

// stripEnvelopeFrom removes a leading mbox "From " separator line, if any.
func stripEnvelopeFrom(raw []byte) []byte {
	const prefix = "From "
	if !bytes.HasPrefix(raw, []byte(prefix)) {
		return raw
	}
	if nl := bytes.IndexByte(raw, '\n'); nl >= 0 {
		return raw[nl+1:]
	}
	return raw
}
