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
	"log/slog"
	"slices"
	"sync/atomic"

	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	esgfsecurity "github.com/ESGF/esgf-security-sub000"
	"github.com/ESGF/esgf-security-sub000/lib/assertion"
	"github.com/ESGF/esgf-security-sub000/lib/defaults"
	logutils "github.com/ESGF/esgf-security-sub000/lib/utils/log"
)

// AttributeQuerier fetches attributes for an identity from a known
// attribute service endpoint.
type AttributeQuerier interface {
	Query(ctx context.Context, endpoint, identity string, requested []string) (*assertion.AttributeSet, error)
}

// Decision is the answer for one action against a resource.
type Decision struct {
	Resource string
	Action   string
	Verdict  Verdict
}

// ResolverConfig holds the dependencies of an authorization resolver.
type ResolverConfig struct {
	// Policy maps resources and actions to granting policies.
	Policy PolicyLookup
	// Registry maps attribute types to authoritative endpoints.
	Registry RegistryLookup
	// Querier fetches attributes from endpoints.
	Querier AttributeQuerier
	// MaxConcurrency bounds parallel endpoint queries.
	MaxConcurrency int
	// Log is the resolver logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ResolverConfig) CheckAndSetDefaults() error {
	if c.Policy == nil {
		return trace.BadParameter("missing parameter Policy")
	}
	if c.Registry == nil {
		return trace.BadParameter("missing parameter Registry")
	}
	if c.Querier == nil {
		return trace.BadParameter("missing parameter Querier")
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaults.MaxEndpointConcurrency
	}
	if c.Log == nil {
		c.Log = logutils.NewPackageLogger(esgfsecurity.ComponentKey, esgfsecurity.ComponentAuthorize)
	}
	return nil
}

// Resolver answers authorization questions. A question resolves to
// permit as soon as one endpoint asserts an attribute satisfying one of
// the resource's policies; everything else, including endpoint
// failures, resolves to indeterminate.
type Resolver struct {
	cfg ResolverConfig
}

// NewResolver returns an authorization resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Resolver{cfg: cfg}, nil
}

// Authorize answers whether the identity may perform the action on the
// resource. Endpoint failures are logged and skipped, never raised:
// callers always get a verdict. The only errors are invalid arguments.
func (r *Resolver) Authorize(ctx context.Context, identity, resource, action string) (Verdict, error) {
	if identity == "" {
		return VerdictIndeterminate, trace.BadParameter("missing identity")
	}
	if resource == "" {
		return VerdictIndeterminate, trace.BadParameter("missing resource")
	}

	policies := r.cfg.Policy.PoliciesFor(resource, action)
	if len(policies) == 0 {
		r.cfg.Log.DebugContext(ctx, "No policy covers resource.",
			"resource", resource, "action", action)
		return VerdictIndeterminate, nil
	}

	plan := r.plan(policies)
	if len(plan) == 0 {
		r.cfg.Log.WarnContext(ctx, "No registered endpoint can assert any required attribute.",
			"resource", resource, "action", action)
		return VerdictIndeterminate, nil
	}

	queryCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var permitted atomic.Bool
	group, groupCtx := errgroup.WithContext(queryCtx)
	group.SetLimit(r.cfg.MaxConcurrency)
	for endpoint, required := range plan {
		group.Go(func() error {
			attrs, err := r.cfg.Querier.Query(groupCtx, endpoint, identity, required.types)
			if err != nil {
				// A dead or confused endpoint must not fail the whole
				// question; other endpoints may still grant access.
				if groupCtx.Err() == nil {
					r.cfg.Log.WarnContext(groupCtx, "Attribute endpoint query failed.",
						"endpoint", endpoint, "identity", identity, "error", err)
				}
				return nil
			}
			if satisfiesAny(attrs, required.policies) {
				permitted.Store(true)
				// Cancel outstanding queries, first match wins.
				cancel()
			}
			return nil
		})
	}
	// Goroutines always return nil, failures are logged and skipped.
	_ = group.Wait()

	if permitted.Load() {
		return VerdictPermit, nil
	}
	return VerdictIndeterminate, nil
}

// AuthorizeAll answers one question per action.
func (r *Resolver) AuthorizeAll(ctx context.Context, identity, resource string, actions []string) ([]Decision, error) {
	decisions := make([]Decision, 0, len(actions))
	for _, action := range actions {
		verdict, err := r.Authorize(ctx, identity, resource, action)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		decisions = append(decisions, Decision{
			Resource: resource,
			Action:   action,
			Verdict:  verdict,
		})
	}
	return decisions, nil
}

// endpointQuery is the batch of work for one endpoint: every attribute
// type it is authoritative for, and the policies those types back.
type endpointQuery struct {
	types    []string
	policies []Policy
}

// plan groups the policies by endpoint so each endpoint is queried once
// for all the attribute types it can assert.
func (r *Resolver) plan(policies []Policy) map[string]*endpointQuery {
	plan := make(map[string]*endpointQuery)
	for _, policy := range policies {
		for _, endpoint := range r.cfg.Registry.EndpointsFor(policy.AttributeType) {
			query, ok := plan[endpoint]
			if !ok {
				query = &endpointQuery{}
				plan[endpoint] = query
			}
			if !slices.Contains(query.types, policy.AttributeType) {
				query.types = append(query.types, policy.AttributeType)
			}
			query.policies = append(query.policies, policy)
		}
	}
	return plan
}

// satisfiesAny reports whether the attribute set satisfies at least one
// policy. A policy value matches either a simple attribute value or the
// group of a membership grant under the policy's type.
func satisfiesAny(attrs *assertion.AttributeSet, policies []Policy) bool {
	for _, policy := range policies {
		if slices.Contains(attrs.SimpleAttributes[policy.AttributeType], policy.AttributeValue) {
			return true
		}
		for _, grant := range attrs.GroupRoleAttributes[policy.AttributeType] {
			if grant.Group == policy.AttributeValue {
				return true
			}
		}
	}
	return false
}
