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

// Package defaults contains default constants used in various parts of
// the federation security resolver.
package defaults

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

const (
	// AttributeServiceType is the XRDS service type advertised by
	// federation attribute services.
	AttributeServiceType = "urn:esg:srv:attribute-service"

	// AuthorizationServiceType is the XRDS service type advertised by
	// federation authorization services.
	AuthorizationServiceType = "urn:esg:srv:authorization-service"

	// AttributeServicePath is the HTTP path the SOAP attribute service
	// is mounted on.
	AttributeServicePath = "/saml/soap/secure/attributeService.htm"

	// AuthorizationServicePath is the HTTP path the SOAP authorization
	// service is mounted on.
	AuthorizationServicePath = "/saml/soap/secure/authorizationService.htm"
)

const (
	// AssertionLifetime is the validity window stamped on every emitted
	// assertion. The codec records the window; enforcing it is up to
	// callers that need replay protection.
	AssertionLifetime = 86400 * time.Second

	// MaxEndpointConcurrency bounds the per-endpoint fan-out when an
	// authorization check spans several attribute services.
	MaxEndpointConcurrency = 4

	// MaxDocumentSize caps the size of discovery documents and SAML
	// envelopes read off the wire.
	MaxDocumentSize = 1 << 20
)

const (
	// DialTimeout is how long to wait for a TCP connection to a
	// federation peer.
	DialTimeout = 30 * time.Second

	// ReadHeadersTimeout is how long to wait for response headers from
	// a federation peer.
	ReadHeadersTimeout = 30 * time.Second

	// KeepAlivePeriod is the TCP keep-alive period on peer connections.
	KeepAlivePeriod = 30 * time.Second

	// IdleConnTimeout is how long idle peer connections are kept around.
	IdleConnTimeout = 90 * time.Second
)

// TransportTimeouts carries the externally configurable connection
// deadlines. Zero fields fall back to the package defaults.
type TransportTimeouts struct {
	// Dial bounds TCP connection establishment to a peer.
	Dial time.Duration
	// ReadHeaders bounds the wait for response headers from a peer.
	ReadHeaders time.Duration
}

// CheckAndSetDefaults fills zero fields with the package defaults.
func (t *TransportTimeouts) CheckAndSetDefaults() {
	if t.Dial == 0 {
		t.Dial = DialTimeout
	}
	if t.ReadHeaders == 0 {
		t.ReadHeaders = ReadHeadersTimeout
	}
}

// HTTPTransport returns an outbound transport with federation defaults
// applied. A nil tlsConfig leaves the transport with Go's standard TLS
// stack, which no federation deployment should do outside of tests.
func HTTPTransport(tlsConfig *tls.Config) *http.Transport {
	return HTTPTransportWithTimeouts(tlsConfig, TransportTimeouts{})
}

// HTTPTransportWithTimeouts is HTTPTransport with the connection
// deadlines taken from the node configuration.
func HTTPTransportWithTimeouts(tlsConfig *tls.Config, timeouts TransportTimeouts) *http.Transport {
	timeouts.CheckAndSetDefaults()
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeouts.Dial,
			KeepAlive: KeepAlivePeriod,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		IdleConnTimeout:       IdleConnTimeout,
		ResponseHeaderTimeout: timeouts.ReadHeaders,
	}
}

// HTTPClient returns an outbound HTTP client wrapping HTTPTransport.
func HTTPClient(tlsConfig *tls.Config) *http.Client {
	return &http.Client{
		Transport: HTTPTransport(tlsConfig),
	}
}

// HTTPClientWithTimeouts returns an outbound HTTP client wrapping
// HTTPTransportWithTimeouts.
func HTTPClientWithTimeouts(tlsConfig *tls.Config, timeouts TransportTimeouts) *http.Client {
	return &http.Client{
		Transport: HTTPTransportWithTimeouts(tlsConfig, timeouts),
	}
}
