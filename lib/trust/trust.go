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

// Package trust decides whether a federation peer's certificate chain
// is acceptable. Standard x509 chain validation runs first; a curated
// allow-list of peer distinguished names is layered on top and can only
// narrow the set of accepted peers, never widen it.
package trust

import (
	"crypto/tls"
	"crypto/x509"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	esgfsecurity "github.com/ESGF/esgf-security-sub000"
	logutils "github.com/ESGF/esgf-security-sub000/lib/utils/log"
)

var log = logutils.NewPackageLogger(esgfsecurity.ComponentKey, esgfsecurity.ComponentTrust)

// Config holds the trust material for a federation node. The allow-list
// is fixed at construction; reloading it means building a new Manager.
type Config struct {
	// TrustedCAs is the pool used for standard chain validation. Nil
	// falls back to the system roots.
	TrustedCAs *x509.CertPool

	// AllowedDNs lists the subject distinguished names of acceptable
	// federation peers, in configuration order. An empty list disables
	// the allow-list check and leaves standard PKI validation as the
	// only gate.
	AllowedDNs []string

	// KeyPair is the optional local credential presented to peers that
	// require mutual TLS.
	KeyPair *tls.Certificate

	// Clock is used for certificate expiry checks.
	Clock clockwork.Clock

	// Log overrides the package logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = log
	}
	for _, dn := range c.AllowedDNs {
		if dn == "" {
			return trace.BadParameter("allow-list contains an empty DN")
		}
	}
	return nil
}

// Manager validates peer certificate chains. Safe for concurrent use
// once constructed.
type Manager struct {
	cfg     Config
	allowed map[string]struct{}
}

// NewManager returns a Manager for the given config.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedDNs))
	for _, dn := range cfg.AllowedDNs {
		allowed[dn] = struct{}{}
	}
	return &Manager{cfg: cfg, allowed: allowed}, nil
}

// CheckServerTrusted reports whether the chain presented by a server is
// acceptable. Standard validation failures propagate as-is; allow-list
// failures surface as *TrustError.
func (m *Manager) CheckServerTrusted(chain []*x509.Certificate) error {
	if err := m.verifyChain(chain, x509.ExtKeyUsageServerAuth); err != nil {
		return trace.Wrap(err)
	}
	return m.checkAllowList(chain)
}

// CheckClientTrusted reports whether the chain presented by a client is
// acceptable, for services requiring mutual TLS.
func (m *Manager) CheckClientTrusted(chain []*x509.Certificate) error {
	if err := m.verifyChain(chain, x509.ExtKeyUsageClientAuth); err != nil {
		return trace.Wrap(err)
	}
	return m.checkAllowList(chain)
}

// verifyChain runs standard x509 validation of the presented chain:
// leaf first, any remaining certificates as candidate intermediates.
func (m *Manager) verifyChain(chain []*x509.Certificate, usage x509.ExtKeyUsage) error {
	if len(chain) == 0 {
		return trace.Wrap(&TrustError{Reason: "peer presented an empty certificate chain"})
	}
	opts := x509.VerifyOptions{
		Roots:       m.cfg.TrustedCAs,
		CurrentTime: m.cfg.Clock.Now(),
		KeyUsages:   []x509.ExtKeyUsage{usage},
	}
	if len(chain) > 1 {
		opts.Intermediates = x509.NewCertPool()
		for _, cert := range chain[1:] {
			opts.Intermediates.AddCert(cert)
		}
	}
	if _, err := chain[0].Verify(opts); err != nil {
		return trace.Wrap(err)
	}
	return nil
}

// checkAllowList walks the chain and checks every end-entity
// certificate's subject DN against the allow-list. CA certificates
// carry no peer identity and are skipped. A chain with no end-entity
// certificate fails regardless of allow-list contents.
func (m *Manager) checkAllowList(chain []*x509.Certificate) error {
	var lastDN string
	foundLeaf := false
	for _, cert := range chain {
		if cert.IsCA {
			continue
		}
		foundLeaf = true
		lastDN = cert.Subject.String()
		if _, ok := m.allowed[lastDN]; ok {
			return nil
		}
	}
	if !foundLeaf {
		return trace.Wrap(&TrustError{Reason: "peer chain contains no end-entity certificate"})
	}
	if len(m.allowed) == 0 {
		return nil
	}
	m.cfg.Log.Warn("rejecting federation peer, DN not in allow-list", "subject", lastDN)
	return trace.Wrap(&TrustError{Reason: "peer DN not in allow-list", Subject: lastDN})
}

// ClientTLSConfig returns a TLS config for outbound connections to
// federation peers. The standard TLS stack performs chain and hostname
// validation against the trust store; the allow-list check runs after
// it in VerifyPeerCertificate.
func (m *Manager) ClientTLSConfig() *tls.Config {
	conf := &tls.Config{
		RootCAs:               m.cfg.TrustedCAs,
		MinVersion:            tls.VersionTLS12,
		VerifyPeerCertificate: m.verifyPeer,
	}
	if m.cfg.KeyPair != nil {
		conf.Certificates = []tls.Certificate{*m.cfg.KeyPair}
	}
	return conf
}

// ServerTLSConfig returns a TLS config for a federation service that
// requires client certificates validated through this manager.
func (m *Manager) ServerTLSConfig(serverCert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{serverCert},
		ClientCAs:             m.cfg.TrustedCAs,
		ClientAuth:            tls.RequireAndVerifyClientCert,
		MinVersion:            tls.VersionTLS12,
		VerifyPeerCertificate: m.verifyPeer,
	}
}

// verifyPeer is the VerifyPeerCertificate hook. crypto/tls has already
// completed standard validation by the time it runs, so only the
// allow-list check remains.
func (m *Manager) verifyPeer(rawCerts [][]byte, verifiedChains [][]*x509.Certificate) error {
	chain := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return trace.Wrap(err)
		}
		chain = append(chain, cert)
	}
	return m.checkAllowList(chain)
}
