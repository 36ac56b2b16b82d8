// Package app holds the bits both cmd/filterd-child and cmd/filterd-parent
// need: directory conventions and signal-driven shutdown/reload, split out
// the way the teacher keeps this logic in its root package rather than
// duplicating it per-binary.
package app

// ConfigDirectory is the default location of the ruleset file.
var ConfigDirectory = "/etc/filterd"

// DefaultSocketPath is where the parent listens and the child dials for
// the privilege-separation control channel (spec.md §6) when neither side
// is given an explicit -socket flag.
var DefaultSocketPath = "/run/filterd/control.sock"

// DefaultLibexecDirectory is a default location for a paired helper
// binary; nothing in this module reads it.
var DefaultLibexecDirectory = "/usr/lib/filterd"
