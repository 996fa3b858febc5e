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

package config

import (
	"crypto/tls"
	"crypto/x509"
	"time"

	"github.com/gravitational/trace"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/ESGF/esgf-security-sub000/lib/assertion"
	"github.com/ESGF/esgf-security-sub000/lib/attribute"
	"github.com/ESGF/esgf-security-sub000/lib/authorize"
	"github.com/ESGF/esgf-security-sub000/lib/defaults"
	"github.com/ESGF/esgf-security-sub000/lib/discovery"
	"github.com/ESGF/esgf-security-sub000/lib/service"
	"github.com/ESGF/esgf-security-sub000/lib/tlsca"
	"github.com/ESGF/esgf-security-sub000/lib/trust"
)

// Node is the runtime pipeline assembled from a FileConfig: the trust
// manager, the assertion codec, the resolvers, and optionally the
// hosted services.
type Node struct {
	// Trust is the federation trust manager, nil when no trust store is
	// configured.
	Trust *trust.Manager
	// Codec is the assertion codec.
	Codec *assertion.Codec
	// Attributes resolves attributes for remote identities.
	Attributes *attribute.Resolver
	// Authorizer is set when an authorization service is configured.
	Authorizer *authorize.Resolver
	// Source is set when an attribute service is configured.
	Source attribute.Source

	keyPair *tlsca.KeyPair
	cfg     *FileConfig
}

// NewNode assembles the runtime pipeline out of a validated config.
func NewNode(fc *FileConfig) (*Node, error) {
	node := &Node{cfg: fc}

	if fc.Trust.CertificateFile != "" {
		pair, err := tlsca.LoadKeyPair(fc.Trust.CertificateFile, fc.Trust.KeyFile, fc.Trust.Passphrase)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		node.keyPair = pair
	}

	if fc.Trust.TrustStore != "" {
		pool, err := tlsca.CertPoolFromPEMFile(fc.Trust.TrustStore)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		manager, err := trust.NewManager(trust.Config{
			TrustedCAs: pool,
			AllowedDNs: fc.Trust.AllowedDNs,
			KeyPair:    node.tlsCertificate(),
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		node.Trust = manager
	}

	codec, err := node.buildCodec()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	node.Codec = codec

	resolver, err := node.buildAttributeResolver()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	node.Attributes = resolver

	if fc.AttributeService != nil {
		source, err := newSource(fc.AttributeService.Source)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		node.Source = source
	}

	if fc.AuthorizationService != nil {
		authorizer, err := node.buildAuthorizer(fc.AuthorizationService)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		node.Authorizer = authorizer
	}
	return node, nil
}

// Servers builds the configured service listeners. Attribute and
// authorization services sharing a listen address are served together.
func (n *Node) Servers() ([]*service.Server, error) {
	handlers := make(map[string]*service.ServerConfig)
	ensure := func(addr string) *service.ServerConfig {
		cfg, ok := handlers[addr]
		if !ok {
			cfg = &service.ServerConfig{
				ListenAddr:         addr,
				Trust:              n.Trust,
				ReadHeadersTimeout: n.cfg.Transport.Timeouts().ReadHeaders,
			}
			if n.keyPair != nil {
				cfg.KeyPair = n.keyPair.TLSCertificate()
			}
			handlers[addr] = cfg
		}
		return cfg
	}

	if n.cfg.AttributeService != nil {
		handler, err := service.NewAttributeHandler(service.HandlerConfig{
			Codec:  n.Codec,
			Source: n.Source,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		ensure(n.cfg.AttributeService.ListenAddr).AttributeHandler = handler
	}
	if n.cfg.AuthorizationService != nil {
		handler, err := service.NewAuthorizationHandler(service.HandlerConfig{
			Codec:      n.Codec,
			Authorizer: n.Authorizer,
		})
		if err != nil {
			return nil, trace.Wrap(err)
		}
		ensure(n.cfg.AuthorizationService.ListenAddr).AuthorizationHandler = handler
	}

	servers := make([]*service.Server, 0, len(handlers))
	for _, cfg := range handlers {
		server, err := service.NewServer(*cfg)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func (n *Node) buildCodec() (*assertion.Codec, error) {
	cfg := assertion.Config{
		Issuer:             n.cfg.SAML.Issuer,
		GroupRoleAttribute: n.cfg.SAML.GroupRoleAttribute,
		Lifetime:           time.Duration(n.cfg.SAML.LifetimeSeconds) * time.Second,
	}
	if n.cfg.SAML.SignAssertions {
		cfg.Signer = dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(n.keyPair.TLSCertificate()))
		cfg.Validator = dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{n.keyPair.Certificate},
		})
	}
	codec, err := assertion.NewCodec(cfg)
	return codec, trace.Wrap(err)
}

func (n *Node) buildAttributeResolver() (*attribute.Resolver, error) {
	httpClient := defaults.HTTPClientWithTimeouts(n.clientTLSConfig(), n.cfg.Transport.Timeouts())
	discoveryClient, err := discovery.NewClient(discovery.ClientConfig{
		HTTPClient:      httpClient,
		MaxDocumentSize: n.cfg.Discovery.MaxDocumentSize,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resolver, err := attribute.NewResolver(attribute.ResolverConfig{
		Discovery:   discoveryClient,
		Codec:       n.Codec,
		HTTPClient:  httpClient,
		ServiceType: n.cfg.Discovery.AttributeServiceType,
	})
	return resolver, trace.Wrap(err)
}

func (n *Node) buildAuthorizer(fc *AuthorizationServiceConfig) (*authorize.Resolver, error) {
	policy, err := authorize.NewStaticPolicy(fc.PolicyRules())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resolver, err := authorize.NewResolver(authorize.ResolverConfig{
		Policy:         policy,
		Registry:       authorize.NewStaticRegistry(fc.RegistryTable()),
		Querier:        n.Attributes,
		MaxConcurrency: fc.MaxConcurrency,
	})
	return resolver, trace.Wrap(err)
}

func (n *Node) clientTLSConfig() *tls.Config {
	if n.Trust != nil {
		return n.Trust.ClientTLSConfig()
	}
	return nil
}

func (n *Node) tlsCertificate() *tls.Certificate {
	if n.keyPair == nil {
		return nil
	}
	cert := n.keyPair.TLSCertificate()
	return &cert
}

func newSource(fc SourceConfig) (attribute.Source, error) {
	switch fc.Type {
	case SourceFile:
		source, err := attribute.NewFileSource(fc.Path)
		return source, trace.Wrap(err)
	case SourceSQLite:
		source, err := attribute.OpenSQLiteSource(fc.Path)
		return source, trace.Wrap(err)
	}
	return nil, trace.BadParameter("unsupported attribute source type %q", fc.Type)
}
