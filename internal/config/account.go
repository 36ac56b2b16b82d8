package config

import (
	parser "github.com/mailcore/filterd/framework/cfgparser"
	"github.com/mailcore/filterd/internal/ruleset"
)

// parseAccount handles:
//
//	account <name> <fetcher-kind> [fetcher-args...] {
//	    find_uid
//	    users u1 u2
//	    keep
//	}
//
// The fetcher itself is an external collaborator (spec.md §1); only its
// kind and opaque args are recorded.
func (p *parseState) parseAccount(node parser.Node) (*ruleset.Account, error) {
	if len(node.Args) < 2 {
		return nil, parser.NodeErr(node, "account: expected name and fetcher kind")
	}

	acc := &ruleset.Account{
		Name:        node.Args[0],
		FetcherKind: node.Args[1],
		FetcherArgs: append([]string(nil), node.Args[2:]...),
	}

	for _, child := range node.Children {
		switch child.Name {
		case "find_uid":
			if len(child.Args) != 0 {
				return nil, parser.NodeErr(child, "find_uid takes no arguments")
			}
			acc.FindUID = true
		case "users":
			if len(child.Args) == 0 {
				return nil, parser.NodeErr(child, "users: expected at least one argument")
			}
			acc.Users = append(acc.Users, child.Args...)
		case "keep":
			if len(child.Args) != 0 {
				return nil, parser.NodeErr(child, "keep takes no arguments")
			}
			acc.Keep = true
		default:
			return nil, parser.NodeErr(child, "unknown account directive: %s", child.Name)
		}
	}

	return acc, nil
}
