package ipc

// Handler runs one ACTION request's side effect on the privileged side and
// produces the DONE reply. Implemented by internal/executor's
// Executor.Handle; kept as a function type here so ipc stays free of a dependency on
// the deliverer/ruleset packages.
type Handler func(a *Action) *Done

// Serve runs conn's receive loop, invoking handle for every ACTION frame
// and writing back its Done result. It blocks until the transport closes
// or a protocol error occurs (spec.md §7 kind 4).
func Serve(conn *Conn, handle Handler) error {
	return conn.RecvLoop(func(a *Action) {
		d := handle(a)
		if d.ID == 0 {
			d.ID = a.ID
		}
		_ = conn.SendDone(d)
	}, nil)
}
