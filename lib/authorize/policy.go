/*
 * ESGF Security
 * Copyright (C) 2026  Earth System Grid Federation
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package authorize answers permit/indeterminate questions about
// identities acting on federation resources, by matching policies
// against attributes fetched from the federation's attribute services.
package authorize

import (
	"regexp"
	"strings"

	"github.com/gravitational/trace"
)

// Verdict is the outcome of an authorization question.
type Verdict string

const (
	// VerdictPermit means some policy for the resource and action was
	// satisfied by the identity's attributes.
	VerdictPermit Verdict = "Permit"
	// VerdictIndeterminate means no policy could be confirmed. The
	// federation never emits a hard deny: a missing attribute and an
	// unreachable attribute service look the same.
	VerdictIndeterminate Verdict = "Indeterminate"
)

// Policy names one attribute fact that grants access: holding
// AttributeValue under AttributeType satisfies the policy.
type Policy struct {
	// AttributeType is the attribute type name to look for.
	AttributeType string
	// AttributeValue is the value that must be held under that type.
	// For group/role attributes it names the group.
	AttributeValue string
}

// PolicyLookup maps a resource and action to the policies protecting
// it. Implementations must be safe for concurrent use.
type PolicyLookup interface {
	// PoliciesFor returns every policy whose scope covers the resource
	// and action. An empty result means no policy speaks for the
	// resource, which resolves to indeterminate.
	PoliciesFor(resource, action string) []Policy
}

// PolicyRule scopes a policy to resources matching a regular expression
// and one action.
type PolicyRule struct {
	// ResourcePattern is an anchored regular expression over resource
	// identifiers.
	ResourcePattern string
	// Action is the action the rule speaks for, e.g. "Read". An empty
	// action covers every action.
	Action string
	// AttributeType and AttributeValue form the granting policy.
	AttributeType  string
	AttributeValue string
}

type compiledRule struct {
	pattern *regexp.Regexp
	action  string
	policy  Policy
}

// StaticPolicy is a fixed in-memory rule table.
type StaticPolicy struct {
	rules []compiledRule
}

// NewStaticPolicy compiles a rule table. Resource patterns are anchored
// so a rule for "/data/cmip6/.*" does not leak onto other trees.
func NewStaticPolicy(rules []PolicyRule) (*StaticPolicy, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		if rule.ResourcePattern == "" {
			return nil, trace.BadParameter("policy rule is missing resource pattern")
		}
		if rule.AttributeType == "" || rule.AttributeValue == "" {
			return nil, trace.BadParameter("policy rule for %q is missing attribute type or value", rule.ResourcePattern)
		}
		pattern, err := regexp.Compile(anchor(rule.ResourcePattern))
		if err != nil {
			return nil, trace.BadParameter("invalid resource pattern %q: %v", rule.ResourcePattern, err)
		}
		compiled = append(compiled, compiledRule{
			pattern: pattern,
			action:  rule.Action,
			policy: Policy{
				AttributeType:  rule.AttributeType,
				AttributeValue: rule.AttributeValue,
			},
		})
	}
	return &StaticPolicy{rules: compiled}, nil
}

// PoliciesFor implements PolicyLookup.
func (p *StaticPolicy) PoliciesFor(resource, action string) []Policy {
	var policies []Policy
	for _, rule := range p.rules {
		if rule.action != "" && !strings.EqualFold(rule.action, action) {
			continue
		}
		if !rule.pattern.MatchString(resource) {
			continue
		}
		policies = append(policies, rule.policy)
	}
	return policies
}

func anchor(pattern string) string {
	if !strings.HasPrefix(pattern, "^") {
		pattern = "^" + pattern
	}
	if !strings.HasSuffix(pattern, "$") {
		pattern += "$"
	}
	return pattern
}
