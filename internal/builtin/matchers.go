// Package builtin registers a handful of reference matcher and deliverer
// implementations — enough to exercise the registries and the concrete
// scenarios in spec.md §8. Real deployments are expected to register
// their own matchers/deliverers the same way (spec.md §1: these are
// external collaborators, not part of the core).
package builtin

import (
	"fmt"
	"regexp"

	"github.com/mailcore/filterd/internal/matcher"
)

func init() {
	matcher.Default.Register("regexp", newRegexpMatcher)
	matcher.Default.Register("tagged", newTaggedMatcher)
	matcher.Default.Register("parent-call", newParentCallMatcher)
}

// regexpMatcher matches a header field's value against a compiled regexp,
// the reference implementation of spec.md §2's "concrete matchers
// (regexp, ...)".
type regexpMatcher struct {
	field string
	re    *regexp.Regexp
}

func newRegexpMatcher(args []string) (matcher.Matcher, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("regexp: expected (header, pattern), got %d args", len(args))
	}
	re, err := regexp.Compile(args[1])
	if err != nil {
		return nil, fmt.Errorf("regexp: %w", err)
	}
	return &regexpMatcher{field: args[0], re: re}, nil
}

func (rm *regexpMatcher) Match(ctx matcher.Context, _ matcher.State) (matcher.Result, matcher.State) {
	v := ctx.Header().Get(rm.field)
	if rm.re.MatchString(v) {
		return matcher.True, nil
	}
	return matcher.False, nil
}

func (rm *regexpMatcher) Describe() string {
	return fmt.Sprintf("regexp(%s) ~= /%s/", rm.field, rm.re.String())
}

// taggedMatcher matches whenever a tag is present (optionally with a
// specific value), the reference implementation of the `tagged` primitive
// spec.md §8 scenario 6 relies on.
type taggedMatcher struct {
	key   string
	value string
	any   bool
}

func newTaggedMatcher(args []string) (matcher.Matcher, error) {
	switch len(args) {
	case 1:
		return &taggedMatcher{key: args[0], any: true}, nil
	case 2:
		return &taggedMatcher{key: args[0], value: args[1]}, nil
	default:
		return nil, fmt.Errorf("tagged: expected (key) or (key, value), got %d args", len(args))
	}
}

func (tm *taggedMatcher) Match(ctx matcher.Context, _ matcher.State) (matcher.Result, matcher.State) {
	v, ok := ctx.Tag(tm.key)
	if !ok {
		return matcher.False, nil
	}
	if tm.any || v == tm.value {
		return matcher.True, nil
	}
	return matcher.False, nil
}

func (tm *taggedMatcher) Describe() string {
	if tm.any {
		return fmt.Sprintf("tagged(%s)", tm.key)
	}
	return fmt.Sprintf("tagged(%s=%s)", tm.key, tm.value)
}

// parentCallMatcher always defers to a named privileged check, the
// reference implementation of spec.md §8 scenario 5 ("matcher defers to
// parent"). It never resolves a verdict itself; the core folds whatever
// outcome the executor's registered MatchFunc returns into the expression
// result (internal/evalctx/blocked.go's resumeMatch), so Match is only
// ever entered once per rule evaluation.
type parentCallMatcher struct{ target string }

func newParentCallMatcher(args []string) (matcher.Matcher, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("parent-call: expected (target), got %d args", len(args))
	}
	return &parentCallMatcher{target: args[0]}, nil
}

func (p *parentCallMatcher) Match(ctx matcher.Context, _ matcher.State) (matcher.Result, matcher.State) {
	if _, err := ctx.Suspend(p.target, []byte(ctx.AccountName())); err != nil {
		return matcher.Error, nil
	}
	return matcher.Parent, nil
}

func (p *parentCallMatcher) Describe() string {
	return fmt.Sprintf("parent-call(%s)", p.target)
}
