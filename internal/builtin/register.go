package builtin

import (
	"github.com/mailcore/filterd/internal/executor"
)

// RegisterMatchers wires the reference parent-side checks a "parent-call"
// matcher can defer to (spec.md §8 scenario 5) onto ex. Concrete
// deployments needing a real privileged check (reading a file only root
// can open, querying a local database, etc.) register their own
// executor.MatchFunc under their own target name instead of relying on
// these placeholders.
func RegisterMatchers(ex *executor.Executor) {
	ex.RegisterMatch("uid-check", matchUIDKnown)
}

// matchUIDKnown is a minimal stand-in for a privileged check: it treats
// any non-empty account name (passed as data by parentCallMatcher) as
// known. A real deployment would look the account up against something
// the unprivileged evaluator cannot reach directly.
func matchUIDKnown(_ string, data []byte) (bool, error) {
	return len(data) > 0, nil
}
