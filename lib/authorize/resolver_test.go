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

package authorize

import (
	"context"
	"sync"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/ESGF/esgf-security-sub000/lib/assertion"
)

const testIdentity = "https://node/openid/alice"

// fakeQuerier answers endpoint queries out of a table and records which
// endpoints were asked.
type fakeQuerier struct {
	mu      sync.Mutex
	answers map[string]*assertion.AttributeSet
	errs    map[string]error
	asked   []string
}

func (f *fakeQuerier) Query(ctx context.Context, endpoint, identity string, requested []string) (*assertion.AttributeSet, error) {
	f.mu.Lock()
	f.asked = append(f.asked, endpoint)
	f.mu.Unlock()
	if err := f.errs[endpoint]; err != nil {
		return nil, err
	}
	if attrs := f.answers[endpoint]; attrs != nil {
		return attrs.Clone(), nil
	}
	return assertion.NewAttributeSet(), nil
}

func (f *fakeQuerier) askedEndpoints() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.asked...)
}

func newTestResolver(t *testing.T, querier AttributeQuerier, rules []PolicyRule, endpoints map[string][]string) *Resolver {
	t.Helper()
	policy, err := NewStaticPolicy(rules)
	require.NoError(t, err)
	resolver, err := NewResolver(ResolverConfig{
		Policy:   policy,
		Registry: NewStaticRegistry(endpoints),
		Querier:  querier,
	})
	require.NoError(t, err)
	return resolver
}

func grantedSet(attributeType, group, role string) *assertion.AttributeSet {
	attrs := assertion.NewAttributeSet()
	attrs.AddGroupRole(attributeType, assertion.GroupRole{Group: group, Role: role})
	return attrs
}

func TestAuthorizePermitViaGroupGrant(t *testing.T) {
	t.Parallel()

	querier := &fakeQuerier{
		answers: map[string]*assertion.AttributeSet{
			"https://peer/attrs": grantedSet(assertion.DefaultGroupRoleAttribute, "cmip6-research", "user"),
		},
	}
	resolver := newTestResolver(t, querier,
		[]PolicyRule{{
			ResourcePattern: "/data/cmip6/.*",
			Action:          "Read",
			AttributeType:   assertion.DefaultGroupRoleAttribute,
			AttributeValue:  "cmip6-research",
		}},
		map[string][]string{
			assertion.DefaultGroupRoleAttribute: {"https://peer/attrs"},
		})

	verdict, err := resolver.Authorize(t.Context(), testIdentity, "/data/cmip6/tas.nc", "Read")
	require.NoError(t, err)
	require.Equal(t, VerdictPermit, verdict)
}

func TestAuthorizePermitViaSimpleValue(t *testing.T) {
	t.Parallel()

	attrs := assertion.NewAttributeSet()
	attrs.AddSimple("urn:esg:organization", "NCAR")
	querier := &fakeQuerier{
		answers: map[string]*assertion.AttributeSet{"https://peer/attrs": attrs},
	}
	resolver := newTestResolver(t, querier,
		[]PolicyRule{{
			ResourcePattern: "/data/internal/.*",
			AttributeType:   "urn:esg:organization",
			AttributeValue:  "NCAR",
		}},
		map[string][]string{"urn:esg:organization": {"https://peer/attrs"}})

	verdict, err := resolver.Authorize(t.Context(), testIdentity, "/data/internal/report.nc", "Write")
	require.NoError(t, err)
	require.Equal(t, VerdictPermit, verdict)
}

func TestAuthorizeIndeterminateWithoutMatchingAttribute(t *testing.T) {
	t.Parallel()

	querier := &fakeQuerier{
		answers: map[string]*assertion.AttributeSet{
			"https://peer/attrs": grantedSet(assertion.DefaultGroupRoleAttribute, "other-group", "user"),
		},
	}
	resolver := newTestResolver(t, querier,
		[]PolicyRule{{
			ResourcePattern: "/data/cmip6/.*",
			Action:          "Read",
			AttributeType:   assertion.DefaultGroupRoleAttribute,
			AttributeValue:  "cmip6-research",
		}},
		map[string][]string{
			assertion.DefaultGroupRoleAttribute: {"https://peer/attrs"},
		})

	verdict, err := resolver.Authorize(t.Context(), testIdentity, "/data/cmip6/tas.nc", "Read")
	require.NoError(t, err)
	require.Equal(t, VerdictIndeterminate, verdict)
}

func TestAuthorizeEndpointFailureSkipped(t *testing.T) {
	t.Parallel()

	// One endpoint is down, the other holds the grant. The failure must
	// be skipped and the healthy endpoint's answer must still permit.
	querier := &fakeQuerier{
		errs: map[string]error{
			"https://dead/attrs": trace.ConnectionProblem(nil, "connection refused"),
		},
		answers: map[string]*assertion.AttributeSet{
			"https://live/attrs": grantedSet(assertion.DefaultGroupRoleAttribute, "cmip6-research", "user"),
		},
	}
	resolver := newTestResolver(t, querier,
		[]PolicyRule{{
			ResourcePattern: "/data/cmip6/.*",
			Action:          "Read",
			AttributeType:   assertion.DefaultGroupRoleAttribute,
			AttributeValue:  "cmip6-research",
		}},
		map[string][]string{
			assertion.DefaultGroupRoleAttribute: {"https://dead/attrs", "https://live/attrs"},
		})

	verdict, err := resolver.Authorize(t.Context(), testIdentity, "/data/cmip6/tas.nc", "Read")
	require.NoError(t, err)
	require.Equal(t, VerdictPermit, verdict)
	require.ElementsMatch(t, []string{"https://dead/attrs", "https://live/attrs"}, querier.askedEndpoints())
}

func TestAuthorizeAllEndpointsFailing(t *testing.T) {
	t.Parallel()

	querier := &fakeQuerier{
		errs: map[string]error{
			"https://dead/attrs": trace.ConnectionProblem(nil, "connection refused"),
		},
	}
	resolver := newTestResolver(t, querier,
		[]PolicyRule{{
			ResourcePattern: "/data/cmip6/.*",
			AttributeType:   assertion.DefaultGroupRoleAttribute,
			AttributeValue:  "cmip6-research",
		}},
		map[string][]string{
			assertion.DefaultGroupRoleAttribute: {"https://dead/attrs"},
		})

	verdict, err := resolver.Authorize(t.Context(), testIdentity, "/data/cmip6/tas.nc", "Read")
	require.NoError(t, err)
	require.Equal(t, VerdictIndeterminate, verdict)
}

func TestAuthorizeWithoutPolicyOrRegistry(t *testing.T) {
	t.Parallel()

	querier := &fakeQuerier{}
	resolver := newTestResolver(t, querier,
		[]PolicyRule{{
			ResourcePattern: "/data/cmip6/.*",
			AttributeType:   assertion.DefaultGroupRoleAttribute,
			AttributeValue:  "cmip6-research",
		}},
		nil)

	// No policy covers the resource at all.
	verdict, err := resolver.Authorize(t.Context(), testIdentity, "/other/tree", "Read")
	require.NoError(t, err)
	require.Equal(t, VerdictIndeterminate, verdict)
	require.Empty(t, querier.askedEndpoints())

	// A policy exists but no endpoint can assert its attribute type.
	verdict, err = resolver.Authorize(t.Context(), testIdentity, "/data/cmip6/tas.nc", "Read")
	require.NoError(t, err)
	require.Equal(t, VerdictIndeterminate, verdict)
	require.Empty(t, querier.askedEndpoints())
}

func TestAuthorizeActionScoping(t *testing.T) {
	t.Parallel()

	querier := &fakeQuerier{
		answers: map[string]*assertion.AttributeSet{
			"https://peer/attrs": grantedSet(assertion.DefaultGroupRoleAttribute, "cmip6-research", "user"),
		},
	}
	resolver := newTestResolver(t, querier,
		[]PolicyRule{{
			ResourcePattern: "/data/cmip6/.*",
			Action:          "Read",
			AttributeType:   assertion.DefaultGroupRoleAttribute,
			AttributeValue:  "cmip6-research",
		}},
		map[string][]string{
			assertion.DefaultGroupRoleAttribute: {"https://peer/attrs"},
		})

	decisions, err := resolver.AuthorizeAll(t.Context(), testIdentity, "/data/cmip6/tas.nc", []string{"Read", "Write"})
	require.NoError(t, err)
	require.Equal(t, []Decision{
		{Resource: "/data/cmip6/tas.nc", Action: "Read", Verdict: VerdictPermit},
		{Resource: "/data/cmip6/tas.nc", Action: "Write", Verdict: VerdictIndeterminate},
	}, decisions)
}

func TestAuthorizeArgumentValidation(t *testing.T) {
	t.Parallel()

	resolver := newTestResolver(t, &fakeQuerier{}, nil, nil)

	_, err := resolver.Authorize(t.Context(), "", "/data/x", "Read")
	require.True(t, trace.IsBadParameter(err))
	_, err = resolver.Authorize(t.Context(), testIdentity, "", "Read")
	require.True(t, trace.IsBadParameter(err))
}

func TestStaticPolicyAnchoring(t *testing.T) {
	t.Parallel()

	policy, err := NewStaticPolicy([]PolicyRule{{
		ResourcePattern: "/data/cmip6/.*",
		AttributeType:   "t",
		AttributeValue:  "v",
	}})
	require.NoError(t, err)

	require.NotEmpty(t, policy.PoliciesFor("/data/cmip6/tas.nc", "Read"))
	require.Empty(t, policy.PoliciesFor("/archive/data/cmip6/tas.nc", "Read"))
}

func TestNewStaticPolicyValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		rule PolicyRule
	}{
		{name: "missing pattern", rule: PolicyRule{AttributeType: "t", AttributeValue: "v"}},
		{name: "missing attribute", rule: PolicyRule{ResourcePattern: "/x"}},
		{name: "bad regexp", rule: PolicyRule{ResourcePattern: "(", AttributeType: "t", AttributeValue: "v"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewStaticPolicy([]PolicyRule{tt.rule})
			require.True(t, trace.IsBadParameter(err))
		})
	}
}
