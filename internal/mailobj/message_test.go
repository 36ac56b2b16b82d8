package mailobj

import (
	"testing"

	"github.com/emersion/go-message/textproto"
	"github.com/mailcore/filterd/framework/buffer"
)

func newTestMessage(t *testing.T, subject, body string) *Message {
	t.Helper()
	var hdr textproto.Header
	hdr.Set("Subject", subject)
	m, err := New(hdr, buffer.MemoryBuffer{Slice: []byte(body)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestMessageUnfoldRefoldIdempotent(t *testing.T) {
	m := newTestMessage(t, "hi", "line one\n continued\nline two")

	before := string(m.Bytes())
	m.Unfold()
	m.Unfold() // idempotent
	unfolded := string(m.Bytes())
	if unfolded == before {
		t.Fatal("Unfold did not change a folded body")
	}

	m.Refold()
	m.Refold() // idempotent
	if string(m.Bytes()) != before {
		t.Fatalf("Refold did not restore original bytes: got %q, want %q", m.Bytes(), before)
	}
}

func TestMessageTags(t *testing.T) {
	m := newTestMessage(t, "hi", "body")

	if _, ok := m.Tag("spam"); ok {
		t.Fatal("expected no tag set yet")
	}
	m.SetTag("spam", "yes")
	v, ok := m.Tag("spam")
	if !ok || v != "yes" {
		t.Fatalf("Tag(spam) = (%q, %v), want (yes, true)", v, ok)
	}
}

func TestMessageSerializeParseFullRoundTrip(t *testing.T) {
	m := newTestMessage(t, "hello world", "the body\n")

	blob, err := m.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	hdr, body, err := ParseFull(blob)
	if err != nil {
		t.Fatalf("ParseFull: %v", err)
	}
	if got := hdr.Get("Subject"); got != "hello world" {
		t.Fatalf("Subject = %q, want %q", got, "hello world")
	}
	if string(body) != "the body\n" {
		t.Fatalf("body = %q", body)
	}
}

func TestMessageReplaceBodyStripsEnvelopeFrom(t *testing.T) {
	m := newTestMessage(t, "hi", "original")

	var newHdr textproto.Header
	newHdr.Set("Subject", "replaced")
	raw := "From someone Mon Jan 1 00:00:00 2024\nnew body"
	if err := m.ReplaceBody(newHdr, buffer.MemoryBuffer{Slice: []byte(raw)}); err != nil {
		t.Fatalf("ReplaceBody: %v", err)
	}

	if string(m.Bytes()) != "new body" {
		t.Fatalf("Bytes() = %q, want %q (envelope line should be stripped)", m.Bytes(), "new body")
	}
	if got := m.Get("Subject"); got != "replaced" {
		t.Fatalf("Subject = %q, want replaced", got)
	}
}
