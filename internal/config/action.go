package config

import (
	parser "github.com/mailcore/filterd/framework/cfgparser"
	"github.com/mailcore/filterd/internal/ruleset"
)

// parseAction handles:
//
//	action <name> {
//	    find_uid
//	    users u1 u2
//	    <deliverer-name> <args...>
//	    ...
//	}
//
// Any child directive not recognized as a user-policy directive is
// resolved against the deliverer registry and appended as an ordered item
// (spec.md §3 "named, ordered list of action items").
func (p *parseState) parseAction(node parser.Node) (*ruleset.Action, error) {
	if len(node.Args) != 1 {
		return nil, parser.NodeErr(node, "action: expected exactly one argument (name)")
	}

	act := &ruleset.Action{Name: node.Args[0]}

	items, err := p.parseItemSpecs(node.Children, &act.UserPolicy)
	if err != nil {
		return nil, err
	}
	act.Items = items

	return act, nil
}

// parseItemSpecs walks a block's children, consuming find_uid/users into
// policy (when non-nil) and resolving every other directive name as a
// deliverer. Shared by named actions and inline rule `lambda` blocks.
func (p *parseState) parseItemSpecs(children []parser.Node, policy *ruleset.UserPolicy) ([]ruleset.ActionItemSpec, error) {
	var items []ruleset.ActionItemSpec

	for _, child := range children {
		switch child.Name {
		case "find_uid":
			if policy == nil {
				return nil, parser.NodeErr(child, "find_uid is not valid here")
			}
			if len(child.Args) != 0 {
				return nil, parser.NodeErr(child, "find_uid takes no arguments")
			}
			policy.FindUID = true
		case "users":
			if policy == nil {
				return nil, parser.NodeErr(child, "users is not valid here")
			}
			if len(child.Args) == 0 {
				return nil, parser.NodeErr(child, "users: expected at least one argument")
			}
			policy.Users = append(policy.Users, child.Args...)
		default:
			d, err := p.Deliverers.Build(child.Name, child.Args)
			if err != nil {
				return nil, parser.NodeErr(child, "%v", err)
			}
			items = append(items, ruleset.ActionItemSpec{Deliverer: d})
		}
	}

	return items, nil
}
