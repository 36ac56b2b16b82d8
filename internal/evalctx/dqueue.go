package evalctx

import (
	"fmt"
	"strings"

	"github.com/mailcore/filterd/framework/exterrors"
	"github.com/mailcore/filterd/framework/log"
	"github.com/mailcore/filterd/internal/ruleset"
)

// enqueueDeliveries is spec.md §4.3's delivery-queue builder, run for a
// matched rule's actions (or its inline lambda).
func (m *MatchContext) enqueueDeliveries(rule *ruleset.Rule) error {
	if len(rule.Lambda) > 0 {
		return m.enqueueLambda(rule)
	}

	for _, tmpl := range rule.Actions {
		pattern := m.subst(tmpl, m.Mail.Tags)
		matches := ruleset.MatchActionGlobs(m.Rules.Actions, pattern)
		if len(matches) == 0 {
			log.Printf("warning: [%s] action pattern %q matched no configured actions", m.CorrelationID, pattern)
			err := fmt.Errorf("evalctx: action pattern %q matched no configured actions", pattern)
			return exterrors.WithTemporary(exterrors.WithFields(err, map[string]interface{}{"kind": "protocol_violation"}), false)
		}
		for _, act := range matches {
			users := m.resolveUsers([]ruleset.UserPolicy{rule.UserPolicy, act.UserPolicy, m.Account.UserPolicy})
			users = ruleset.DedupUsers(users)
			for _, uid := range users {
				m.dqueue = append(m.dqueue, &DeliveryItem{Rule: rule, Action: act, UID: uid})
			}
		}
	}
	return nil
}

func (m *MatchContext) enqueueLambda(rule *ruleset.Rule) error {
	act := &ruleset.Action{Name: "<lambda:" + lambdaActionName(rule) + ">", Items: rule.Lambda}
	users := m.resolveUsers([]ruleset.UserPolicy{rule.UserPolicy, m.Account.UserPolicy})
	users = ruleset.DedupUsers(users)
	for _, uid := range users {
		m.dqueue = append(m.dqueue, &DeliveryItem{Rule: rule, Action: act, UID: uid})
	}
	return nil
}

// lambdaActionName gives the synthetic lambda action a stable, log-friendly name
// derived from the rule's parse-time index (spec.md §3 "idx: ... used
// only for logs/tests").
func lambdaActionName(rule *ruleset.Rule) string {
	return fmt.Sprintf("rule%d", rule.Idx)
}

// resolveUsers implements spec.md §4.3's user-resolution precedence: the
// first of levels (already ordered rule, action, account by the caller)
// that sets find_uid or a non-empty users list (ruleset.UserPolicy.IsSet)
// wins outright, and a level's find_uid takes priority over its users
// list. Once that level is found its resolution is final — an empty
// derivation (find_uid stamped no header, or an empty users list) does
// not fall through to a lower-precedence level, only to the default user.
// The result is never empty: the fallback is the one-element set holding
// RuleSet.DefaultUser, which is "" when no default user is configured.
func (m *MatchContext) resolveUsers(levels []ruleset.UserPolicy) []string {
	for _, lvl := range levels {
		if !lvl.IsSet() {
			continue
		}
		if lvl.FindUID {
			if uids := deriveUIDsFromHeader(m.Mail); len(uids) > 0 {
				return uids
			}
		}
		if len(lvl.Users) > 0 {
			return lvl.Users
		}
		break
	}
	return []string{m.Rules.DefaultUser}
}

// headerGetter is the minimal surface deriveUIDsFromHeader needs.
type headerGetter interface {
	Get(key string) string
}

// deriveUIDsFromHeader implements the find_uid knob: derive a recipient
// uid from the message's own delivery headers, preferring the most
// specific one a local MTA would have stamped.
func deriveUIDsFromHeader(hdr headerGetter) []string {
	for _, key := range []string{"Delivered-To", "X-Original-To", "To"} {
		if v := hdr.Get(key); v != "" {
			if uid := localPart(v); uid != "" {
				return []string{uid}
			}
		}
	}
	return nil
}

func localPart(addr string) string {
	addr = strings.TrimSpace(addr)
	if i := strings.IndexByte(addr, '@'); i > 0 {
		return addr[:i]
	}
	return addr
}
