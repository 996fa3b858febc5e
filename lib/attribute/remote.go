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
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gravitational/trace"

	esgfsecurity "github.com/ESGF/esgf-security-sub000"
	"github.com/ESGF/esgf-security-sub000/lib/assertion"
	"github.com/ESGF/esgf-security-sub000/lib/defaults"
	"github.com/ESGF/esgf-security-sub000/lib/discovery"
	logutils "github.com/ESGF/esgf-security-sub000/lib/utils/log"
)

// ResolverConfig holds the dependencies of a remote attribute resolver.
type ResolverConfig struct {
	// Discovery resolves identities to attribute service endpoints.
	Discovery *discovery.Client
	// Codec builds queries and decodes responses.
	Codec *assertion.Codec
	// HTTPClient posts SOAP envelopes to endpoints. It should carry the
	// federation trust configuration on its transport.
	HTTPClient *http.Client
	// ServiceType is the XRDS service type to discover. Defaults to the
	// federation attribute service type.
	ServiceType string
	// MaxResponseSize caps the response body read from an endpoint.
	MaxResponseSize int64
	// Log is the resolver logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ResolverConfig) CheckAndSetDefaults() error {
	if c.Discovery == nil {
		return trace.BadParameter("missing parameter Discovery")
	}
	if c.Codec == nil {
		return trace.BadParameter("missing parameter Codec")
	}
	if c.HTTPClient == nil {
		return trace.BadParameter("missing parameter HTTPClient")
	}
	if c.ServiceType == "" {
		c.ServiceType = defaults.AttributeServiceType
	}
	if c.MaxResponseSize == 0 {
		c.MaxResponseSize = defaults.MaxDocumentSize
	}
	if c.Log == nil {
		c.Log = logutils.NewPackageLogger(esgfsecurity.ComponentKey, esgfsecurity.ComponentAttribute)
	}
	return nil
}

// Resolver resolves attributes for an identity by discovering its
// attribute service endpoint and querying it over SOAP.
type Resolver struct {
	cfg ResolverConfig
}

// NewResolver returns a remote attribute resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Resolver{cfg: cfg}, nil
}

// Resolve discovers the attribute service endpoint advertised by the
// identity and queries it for the requested attribute types. An empty
// requested list asks for everything. Any failure along the pipeline
// surfaces as an error; partial results are never returned.
func (r *Resolver) Resolve(ctx context.Context, identity string, requested []string) (*assertion.AttributeSet, error) {
	endpoint, err := r.cfg.Discovery.ResolveServiceURI(ctx, identity, r.cfg.ServiceType)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	r.cfg.Log.DebugContext(ctx, "Discovered attribute service endpoint.",
		"identity", identity, "endpoint", endpoint)
	attrs, err := r.Query(ctx, endpoint, identity, requested)
	return attrs, trace.Wrap(err)
}

// Query sends an attribute query for the identity to a known endpoint
// and decodes the attribute statement out of the response. A peer
// answering with an unknown principal status surfaces as
// *UnknownIdentityError.
func (r *Resolver) Query(ctx context.Context, endpoint, identity string, requested []string) (*assertion.AttributeSet, error) {
	query, err := r.cfg.Codec.BuildAttributeQuery(identity, requested)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	body, err := r.post(ctx, endpoint, query)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	attrs, err := r.cfg.Codec.DecodeAttributeResponse(body)
	if err != nil {
		if statusErr, ok := assertion.AsStatusError(err); ok && statusErr.IsUnknownPrincipal() {
			return nil, &UnknownIdentityError{Identity: identity}
		}
		return nil, trace.Wrap(err)
	}
	return attrs, nil
}

// post writes a SOAP document to the endpoint and reads the response
// body. Transport failures and non-200 answers are connection problems.
func (r *Resolver) post(ctx context.Context, endpoint string, doc interface{ WriteToBytes() ([]byte, error) }) ([]byte, error) {
	payload, err := doc.WriteToBytes()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", `""`)

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to query endpoint %v", endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxResponseSize))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed to read response from endpoint %v", endpoint)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, trace.ConnectionProblem(nil, "endpoint %v returned status %v", endpoint, resp.StatusCode)
	}
	return body, nil
}
