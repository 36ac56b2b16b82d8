// Package config walks the Caddyfile-style config.Node tree produced by
// framework/cfgparser into the in-memory ruleset.RuleSet spec.md §3
// describes: accounts, the (possibly nested) rule tree, and named actions.
// The matcher/deliverer grammars themselves stay external (spec.md §1):
// this package only resolves a directive's name against
// matcher.Default/deliverer.Default and passes the remaining arguments
// through opaquely.
package config

import (
	"fmt"
	"io"
	"os"

	parser "github.com/mailcore/filterd/framework/cfgparser"
	"github.com/mailcore/filterd/internal/deliverer"
	"github.com/mailcore/filterd/internal/matcher"
	"github.com/mailcore/filterd/internal/ruleset"
)

// Builders bundles the registries used to resolve directive names into
// concrete matcher/deliverer instances. Production code passes
// matcher.Default/deliverer.Default; tests can substitute private
// registries to avoid coupling to internal/builtin's global init().
type Builders struct {
	Matchers   *matcher.Registry
	Deliverers *deliverer.Registry
}

// Load reads and parses a ruleset file from disk.
func Load(path string, b Builders) (*ruleset.RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f, path, b)
}

// Read parses a ruleset from r, using location for error messages.
func Read(r io.Reader, location string, b Builders) (*ruleset.RuleSet, error) {
	nodes, err := parser.Read(r, location)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(nodes, b)
}

// Parse builds a RuleSet from already-parsed top-level nodes.
//
// Grammar (spec.md §3, supplemented per SPEC_FULL.md §12):
//
//	policy keep|drop
//	default-user <name>
//	account <name> <fetcher-kind> [fetcher-args...] { find_uid; users u1 u2; keep }
//	action <name> { <deliverer-name> <args...>; ... }
//	rule [account-glob...] { ... }  (repeatable, order preserved)
func Parse(nodes []parser.Node, b Builders) (*ruleset.RuleSet, error) {
	p := &parseState{
		Builders: b,
		rs: &ruleset.RuleSet{
			Accounts: make(map[string]*ruleset.Account),
			Actions:  make(map[string]*ruleset.Action),
		},
	}

	for _, node := range nodes {
		switch node.Name {
		case "policy":
			if err := p.parsePolicy(node); err != nil {
				return nil, err
			}
		case "default-user":
			if len(node.Args) != 1 {
				return nil, parser.NodeErr(node, "default-user: expected exactly one argument")
			}
			p.rs.DefaultUser = node.Args[0]
		case "account":
			acc, err := p.parseAccount(node)
			if err != nil {
				return nil, err
			}
			if _, dup := p.rs.Accounts[acc.Name]; dup {
				return nil, parser.NodeErr(node, "duplicate account %q", acc.Name)
			}
			p.rs.Accounts[acc.Name] = acc
		case "action":
			act, err := p.parseAction(node)
			if err != nil {
				return nil, err
			}
			if _, dup := p.rs.Actions[act.Name]; dup {
				return nil, parser.NodeErr(node, "duplicate action %q", act.Name)
			}
			p.rs.Actions[act.Name] = act
		case "rule":
			rule, err := p.parseRule(node)
			if err != nil {
				return nil, err
			}
			p.rs.Rules = append(p.rs.Rules, rule)
		default:
			return nil, parser.NodeErr(node, "unknown top-level directive: %s", node.Name)
		}
	}

	return p.rs, nil
}

type parseState struct {
	Builders
	rs      *ruleset.RuleSet
	ruleIdx int
}

func (p *parseState) parsePolicy(node parser.Node) error {
	if len(node.Args) != 1 {
		return parser.NodeErr(node, "policy: expected exactly one argument")
	}
	switch node.Args[0] {
	case "keep":
		p.rs.Policy = ruleset.PolicyKeep
	case "drop":
		p.rs.Policy = ruleset.PolicyDrop
	default:
		return parser.NodeErr(node, "policy: expected 'keep' or 'drop', got %q", node.Args[0])
	}
	return nil
}
