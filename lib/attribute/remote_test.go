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

package attribute

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/ESGF/esgf-security-sub000/lib/assertion"
	"github.com/ESGF/esgf-security-sub000/lib/authorize"
	"github.com/ESGF/esgf-security-sub000/lib/defaults"
	"github.com/ESGF/esgf-security-sub000/lib/discovery"
)

// sourceFunc adapts a function to the Source interface.
type sourceFunc func(ctx context.Context, identity string) (*assertion.AttributeSet, error)

func (f sourceFunc) Attributes(ctx context.Context, identity string) (*assertion.AttributeSet, error) {
	return f(ctx, identity)
}

// newAttributeService serves SOAP attribute queries out of a source,
// mirroring what a remote federation member would answer.
func newAttributeService(t *testing.T, codec *assertion.Codec, source Source) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		identity, requested, err := codec.DecodeAttributeQuery(body)
		require.NoError(t, err)

		attrs, err := source.Attributes(r.Context(), identity)
		var doc interface{ WriteToBytes() ([]byte, error) }
		switch {
		case IsUnknownIdentity(err):
			doc = codec.BuildStatusResponse("", assertion.StatusResponder, assertion.StatusUnknownPrincipal, err.Error())
		case err != nil:
			doc = codec.BuildStatusResponse("", assertion.StatusResponder, "", err.Error())
		default:
			doc, err = codec.BuildAttributeResponse("", identity, attrs, requested)
			require.NoError(t, err)
		}
		payload, err := doc.WriteToBytes()
		require.NoError(t, err)
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.Write(payload)
	}))
	t.Cleanup(server.Close)
	return server
}

// newIdentityServer serves an XRDS descriptor advertising the endpoint
// under the attribute service type.
func newIdentityServer(t *testing.T, endpoint string) *httptest.Server {
	t.Helper()
	descriptor := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<xrds:XRDS xmlns:xrds="xri://$xrds" xmlns="xri://$xrd*($v*2.0)">
  <XRD>
    <Service priority="10">
      <Type>%v</Type>
      <URI>%v</URI>
    </Service>
  </XRD>
</xrds:XRDS>`, defaults.AttributeServiceType, endpoint)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xrds+xml")
		io.WriteString(w, descriptor)
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestResolver(t *testing.T, codec *assertion.Codec) *Resolver {
	t.Helper()
	client, err := discovery.NewClient(discovery.ClientConfig{
		HTTPClient: http.DefaultClient,
	})
	require.NoError(t, err)
	resolver, err := NewResolver(ResolverConfig{
		Discovery:  client,
		Codec:      codec,
		HTTPClient: http.DefaultClient,
	})
	require.NoError(t, err)
	return resolver
}

func TestResolveThroughDiscovery(t *testing.T) {
	t.Parallel()

	codec, err := assertion.NewCodec(assertion.Config{Issuer: "https://node.example.org/esgf-idp"})
	require.NoError(t, err)

	attrs := assertion.NewAttributeSet()
	attrs.FirstName = "Ann"
	attrs.AddSimple("urn:esg:organization", "NCAR")
	attrs.AddGroupRole(assertion.DefaultGroupRoleAttribute, assertion.GroupRole{Group: "wg1", Role: "admin"})

	// The identity server URL is only known after it starts, so the
	// service answers for any identity out of a closure.
	service := newAttributeService(t, codec, sourceFunc(func(context.Context, string) (*assertion.AttributeSet, error) {
		return attrs.Clone(), nil
	}))
	identityServer := newIdentityServer(t, service.URL)
	resolver := newTestResolver(t, codec)

	got, err := resolver.Resolve(t.Context(), identityServer.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "Ann", got.FirstName)
	require.Equal(t, []string{"NCAR"}, got.SimpleAttributes["urn:esg:organization"])
	require.Equal(t, []string{"admin"}, got.SimpleAttributes["wg1"])
	require.Equal(t, []assertion.GroupRole{{Group: "wg1", Role: "admin"}},
		got.GroupRoleAttributes[assertion.DefaultGroupRoleAttribute])
}

func TestGroupRolePolicyPermitOverWire(t *testing.T) {
	t.Parallel()

	codec, err := assertion.NewCodec(assertion.Config{Issuer: "https://node.example.org/esgf-idp"})
	require.NoError(t, err)

	// The remote member asserts a group membership, not a simple
	// attribute value. After the wire round-trip the grant's group must
	// still satisfy a policy typed on the group/role attribute.
	attrs := assertion.NewAttributeSet()
	attrs.AddGroupRole(assertion.DefaultGroupRoleAttribute,
		assertion.GroupRole{Group: "cmip6-research", Role: "user"})
	service := newAttributeService(t, codec, sourceFunc(func(context.Context, string) (*assertion.AttributeSet, error) {
		return attrs.Clone(), nil
	}))

	policy, err := authorize.NewStaticPolicy([]authorize.PolicyRule{{
		ResourcePattern: "/data/cmip6/.*",
		AttributeType:   assertion.DefaultGroupRoleAttribute,
		AttributeValue:  "cmip6-research",
	}})
	require.NoError(t, err)
	authorizer, err := authorize.NewResolver(authorize.ResolverConfig{
		Policy: policy,
		Registry: authorize.NewStaticRegistry(map[string][]string{
			assertion.DefaultGroupRoleAttribute: {service.URL},
		}),
		Querier: newTestResolver(t, codec),
	})
	require.NoError(t, err)

	verdict, err := authorizer.Authorize(t.Context(), testIdentity, "/data/cmip6/tas.nc", "Read")
	require.NoError(t, err)
	require.Equal(t, authorize.VerdictPermit, verdict)

	verdict, err = authorizer.Authorize(t.Context(), testIdentity, "/data/private/tas.nc", "Read")
	require.NoError(t, err)
	require.Equal(t, authorize.VerdictIndeterminate, verdict)
}

func TestQueryUnknownIdentity(t *testing.T) {
	t.Parallel()

	codec, err := assertion.NewCodec(assertion.Config{Issuer: "https://node.example.org/esgf-idp"})
	require.NoError(t, err)
	service := newAttributeService(t, codec, NewStaticSource(nil))
	resolver := newTestResolver(t, codec)

	_, err = resolver.Query(t.Context(), service.URL, testIdentity, nil)
	require.Error(t, err)
	require.True(t, IsUnknownIdentity(err))
}

func TestQueryEndpointFailures(t *testing.T) {
	t.Parallel()

	codec, err := assertion.NewCodec(assertion.Config{Issuer: "https://node.example.org/esgf-idp"})
	require.NoError(t, err)
	resolver := newTestResolver(t, codec)

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)

	_, err = resolver.Query(t.Context(), broken.URL, testIdentity, nil)
	require.Error(t, err)
	require.True(t, trace.IsConnectionProblem(err))

	unreachable := httptest.NewServer(nil)
	unreachable.Close()
	_, err = resolver.Query(t.Context(), unreachable.URL, testIdentity, nil)
	require.Error(t, err)
	require.True(t, trace.IsConnectionProblem(err))
}
