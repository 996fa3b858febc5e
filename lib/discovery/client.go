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

package discovery

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gravitational/trace"

	esgfsecurity "github.com/ESGF/esgf-security-sub000"
	"github.com/ESGF/esgf-security-sub000/lib/defaults"
	logutils "github.com/ESGF/esgf-security-sub000/lib/utils/log"
)

var log = logutils.NewPackageLogger(esgfsecurity.ComponentKey, esgfsecurity.ComponentDiscovery)

// ClientConfig holds the discovery client configuration.
type ClientConfig struct {
	// HTTPClient performs the descriptor fetch. It must carry the
	// trust-managed transport; a plain client is only acceptable in
	// tests.
	HTTPClient *http.Client

	// MaxDocumentSize caps the descriptor size read off the wire.
	MaxDocumentSize int64

	// Log overrides the package logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ClientConfig) CheckAndSetDefaults() error {
	if c.HTTPClient == nil {
		return trace.BadParameter("missing HTTPClient")
	}
	if c.MaxDocumentSize == 0 {
		c.MaxDocumentSize = defaults.MaxDocumentSize
	}
	if c.Log == nil {
		c.Log = log
	}
	return nil
}

// Client fetches descriptor documents for federation identities and
// selects service endpoints out of them.
type Client struct {
	cfg ClientConfig
}

// NewClient returns a discovery client for the given config.
func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Client{cfg: cfg}, nil
}

// ResolveServiceURI dereferences the identity URL, parses the returned
// descriptor and returns the URI of the highest-ranking service of the
// requested type.
func (c *Client) ResolveServiceURI(ctx context.Context, identity, serviceType string) (string, error) {
	data, err := c.fetch(ctx, identity)
	if err != nil {
		return "", trace.Wrap(err)
	}
	services, err := ParseDocument(data)
	if err != nil {
		return "", trace.Wrap(err)
	}
	svc, err := SelectService(services, serviceType)
	if err != nil {
		return "", trace.Wrap(err)
	}
	c.cfg.Log.DebugContext(ctx, "resolved service endpoint",
		"identity", identity,
		"service_type", serviceType,
		"uri", svc.URI,
	)
	return svc.URI, nil
}

func (c *Client) fetch(ctx context.Context, identity string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, identity, nil)
	if err != nil {
		return nil, trace.BadParameter("invalid identity URL %q: %v", identity, err)
	}
	req.Header.Set("Accept", "application/xrds+xml")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed fetching descriptor for %q", identity)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, trace.ConnectionProblem(nil, "descriptor fetch for %q returned status %v", identity, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxDocumentSize))
	if err != nil {
		return nil, trace.ConnectionProblem(err, "failed reading descriptor for %q", identity)
	}
	return data, nil
}
