package ipc

import (
	"context"
	"net"
	"testing"
	"time"
)

func TestConnSendRecvAction(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	cc := NewConn(client)

	done := make(chan error, 1)
	go func() {
		done <- sc.SendAction(&Action{ID: 7, Kind: KindMatch, Target: "spamcheck", Data: []byte("hi")})
	}()

	typ, a, d, err := cc.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendAction: %v", err)
	}
	if typ != TypeAction || d != nil {
		t.Fatalf("got type=%v done=%v, want TypeAction", typ, d)
	}
	if a.ID != 7 || a.Kind != KindMatch || a.Target != "spamcheck" || string(a.Data) != "hi" {
		t.Fatalf("Action round-trip mismatch: %+v", a)
	}
}

func TestConnSendRecvDone(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewConn(server)
	cc := NewConn(client)

	done := make(chan error, 1)
	go func() {
		done <- sc.SendDone(&Done{ID: 3, Outcome: OutcomeMatchTrue, Tags: []byte("tagbytes")})
	}()

	typ, a, d, err := cc.Recv()
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendDone: %v", err)
	}
	if typ != TypeDone || a != nil {
		t.Fatalf("got type=%v action=%v, want TypeDone", typ, a)
	}
	if d.ID != 3 || d.Outcome != OutcomeMatchTrue || string(d.Tags) != "tagbytes" {
		t.Fatalf("Done round-trip mismatch: %+v", d)
	}
}

func TestNextIDMonotonic(t *testing.T) {
	c := NewConn(nil)
	a := c.NextID()
	b := c.NextID()
	if b != a+1 {
		t.Fatalf("NextID not monotonic: %d then %d", a, b)
	}
}

// TestServeAndClientRoundTrip exercises the full Serve/Client pairing: a
// server Handle callback answers one ACTION with a DONE, and the client's
// Dispatch/Wait pair resolves to the matching reply.
func TestServeAndClientRoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	handle := func(a *Action) *Done {
		return &Done{Outcome: OutcomeMatchTrue, Tags: a.Tags}
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- Serve(NewConn(serverConn), handle)
	}()

	client := NewClient(NewConn(clientConn))

	id, err := client.Dispatch(&Action{Kind: KindMatch, Target: "spamcheck", Tags: []byte("abc")})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	d, err := client.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if d.Outcome != OutcomeMatchTrue || string(d.Tags) != "abc" {
		t.Fatalf("unexpected reply: %+v", d)
	}
	if d.ID != id {
		t.Fatalf("reply ID %d != dispatched ID %d", d.ID, id)
	}
}
