package config

import (
	parser "github.com/mailcore/filterd/framework/cfgparser"
	"github.com/mailcore/filterd/internal/ruleset"
)

// parseRule handles one `rule [account-glob...] { ... }` block, recursing
// into nested `rule { ... }` children. Idx is assigned in pre-order
// traversal order, unique across the whole tree, and used only for
// diagnostics and inline-lambda action naming (internal/evalctx's
// lambdaActionName).
//
// Expression items are written as:
//
//	match <matcher-name> <args...>          (first item, implicit OpNone)
//	and [not] <matcher-name> <args...>
//	or  [not] <matcher-name> <args...>
//
// the rest of the block:
//
//	find_uid
//	users u1 u2
//	tag <key> <value>
//	action "<pattern>" ["<pattern>" ...]    (mutually exclusive with lambda)
//	lambda { <deliverer-name> <args...>; ... }
//	stop
//	rule [account-glob...] { ... }          (nested, repeatable)
func (p *parseState) parseRule(node parser.Node) (*ruleset.Rule, error) {
	rule := &ruleset.Rule{
		Idx:      p.ruleIdx,
		Accounts: append([]string(nil), node.Args...),
	}
	p.ruleIdx++

	for _, child := range node.Children {
		switch child.Name {
		case "match", "and", "or":
			if child.Name == "match" && len(rule.Expr) != 0 {
				return nil, parser.NodeErr(child, "match: only the first expression item may use 'match'; use 'and'/'or' for the rest")
			}
			if child.Name != "match" && len(rule.Expr) == 0 {
				return nil, parser.NodeErr(child, "%s: must follow a 'match' item", child.Name)
			}
			item, err := p.parseExprItem(child)
			if err != nil {
				return nil, err
			}
			rule.Expr = append(rule.Expr, item)
		case "find_uid":
			if len(child.Args) != 0 {
				return nil, parser.NodeErr(child, "find_uid takes no arguments")
			}
			rule.UserPolicy.FindUID = true
		case "users":
			if len(child.Args) == 0 {
				return nil, parser.NodeErr(child, "users: expected at least one argument")
			}
			rule.UserPolicy.Users = append(rule.UserPolicy.Users, child.Args...)
		case "tag":
			if len(child.Args) != 2 {
				return nil, parser.NodeErr(child, "tag: expected exactly (key, value)")
			}
			rule.Key, rule.Value = child.Args[0], child.Args[1]
		case "action":
			if len(child.Args) == 0 {
				return nil, parser.NodeErr(child, "action: expected at least one action-name pattern")
			}
			if len(rule.Lambda) != 0 {
				return nil, parser.NodeErr(child, "action: mutually exclusive with lambda")
			}
			rule.Actions = append(rule.Actions, child.Args...)
		case "lambda":
			if len(rule.Actions) != 0 {
				return nil, parser.NodeErr(child, "lambda: mutually exclusive with action")
			}
			items, err := p.parseItemSpecs(child.Children, nil)
			if err != nil {
				return nil, err
			}
			rule.Lambda = items
		case "stop":
			if len(child.Args) != 0 {
				return nil, parser.NodeErr(child, "stop takes no arguments")
			}
			rule.Stop = true
		case "rule":
			nested, err := p.parseRule(child)
			if err != nil {
				return nil, err
			}
			rule.Nested = append(rule.Nested, nested)
		default:
			return nil, parser.NodeErr(child, "unknown rule directive: %s", child.Name)
		}
	}

	return rule, nil
}

// parseExprItem resolves one match/and/or child into a ruleset.ExprItem,
// building the named matcher via the registry. A leading "not" argument
// inverts the item's result (spec.md §3 "Inverted").
func (p *parseState) parseExprItem(node parser.Node) (ruleset.ExprItem, error) {
	op := ruleset.OpNone
	switch node.Name {
	case "and":
		op = ruleset.OpAnd
	case "or":
		op = ruleset.OpOr
	}

	args := node.Args
	inverted := false
	if len(args) > 0 && args[0] == "not" {
		inverted = true
		args = args[1:]
	}
	if len(args) == 0 {
		return ruleset.ExprItem{}, parser.NodeErr(node, "%s: expected a matcher name", node.Name)
	}

	m, err := p.Matchers.Build(args[0], args[1:])
	if err != nil {
		return ruleset.ExprItem{}, parser.NodeErr(node, "%v", err)
	}

	return ruleset.ExprItem{Operator: op, Inverted: inverted, Matcher: m}, nil
}
