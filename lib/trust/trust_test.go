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

package trust

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ESGF/esgf-security-sub000/lib/tlsca"
)

// testPKI is a throwaway CA with one issued end-entity certificate.
type testPKI struct {
	pool   *x509.CertPool
	caCert *x509.Certificate
	leaf   *x509.Certificate
}

func newTestPKI(t *testing.T, leafCN string) *testPKI {
	t.Helper()

	caKeyPEM, caCertPEM, err := tlsca.GenerateSelfSignedCA(pkix.Name{
		CommonName:   "federation test CA",
		Organization: []string{"ESGF"},
	}, nil, time.Hour)
	require.NoError(t, err)

	caCert, err := tlsca.ParseCertificatePEM(caCertPEM)
	require.NoError(t, err)
	caKey, err := tlsca.ParsePrivateKeyPEM(caKeyPEM)
	require.NoError(t, err)

	_, leafPEM, err := tlsca.GenerateCertificate(tlsca.GenerateCertificateConfig{
		CACert:   caCert,
		CASigner: caKey,
		Entity: pkix.Name{
			CommonName:   leafCN,
			Organization: []string{"ESGF"},
		},
		DNSNames: []string{leafCN},
		TTL:      time.Hour,
	})
	require.NoError(t, err)

	leaf, err := tlsca.ParseCertificatePEM(leafPEM)
	require.NoError(t, err)

	pool := x509.NewCertPool()
	pool.AddCert(caCert)

	return &testPKI{pool: pool, caCert: caCert, leaf: leaf}
}

func TestCheckServerTrustedAllowList(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t, "attrsvc.example.org")
	leafDN := pki.leaf.Subject.String()

	tests := []struct {
		name       string
		allowedDNs []string
		chain      []*x509.Certificate
		wantTrust  bool
		wantErr    bool
	}{
		{
			name:       "leaf DN in allow-list",
			allowedDNs: []string{leafDN},
			chain:      []*x509.Certificate{pki.leaf},
		},
		{
			name:       "leaf DN absent from non-empty allow-list",
			allowedDNs: []string{"CN=someone-else.example.org,O=ESGF"},
			chain:      []*x509.Certificate{pki.leaf},
			wantErr:    true,
			wantTrust:  true,
		},
		{
			name:       "empty allow-list disables the check",
			allowedDNs: nil,
			chain:      []*x509.Certificate{pki.leaf},
		},
		{
			name:       "full chain with CA certificates skipped",
			allowedDNs: []string{leafDN},
			chain:      []*x509.Certificate{pki.leaf, pki.caCert},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManager(Config{
				TrustedCAs: pki.pool,
				AllowedDNs: tt.allowedDNs,
			})
			require.NoError(t, err)

			err = m.CheckServerTrusted(tt.chain)
			if tt.wantErr {
				require.Error(t, err)
				require.Equal(t, tt.wantTrust, IsTrustError(err))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCheckServerTrustedCAOnlyChainFailsClosed(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t, "attrsvc.example.org")

	// Even with the allow-list disabled, a chain with no end-entity
	// certificate must be rejected.
	m, err := NewManager(Config{TrustedCAs: pki.pool})
	require.NoError(t, err)

	err = m.CheckServerTrusted([]*x509.Certificate{pki.caCert})
	require.Error(t, err)
	require.True(t, IsTrustError(err))
}

func TestCheckServerTrustedStandardValidationFirst(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t, "attrsvc.example.org")
	other := newTestPKI(t, "attrsvc.example.org")

	// A chain from a foreign CA fails standard validation even when its
	// DN is allow-listed: the allow-list narrows trust, never widens it.
	m, err := NewManager(Config{
		TrustedCAs: pki.pool,
		AllowedDNs: []string{other.leaf.Subject.String()},
	})
	require.NoError(t, err)

	err = m.CheckServerTrusted([]*x509.Certificate{other.leaf})
	require.Error(t, err)
	require.False(t, IsTrustError(err))
}

func TestCheckClientTrusted(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t, "node.example.org")

	m, err := NewManager(Config{
		TrustedCAs: pki.pool,
		AllowedDNs: []string{pki.leaf.Subject.String()},
	})
	require.NoError(t, err)
	require.NoError(t, m.CheckClientTrusted([]*x509.Certificate{pki.leaf}))

	m, err = NewManager(Config{
		TrustedCAs: pki.pool,
		AllowedDNs: []string{"CN=unrelated,O=ESGF"},
	})
	require.NoError(t, err)
	err = m.CheckClientTrusted([]*x509.Certificate{pki.leaf})
	require.True(t, IsTrustError(err))
}

func TestConfigCheckAndSetDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewManager(Config{AllowedDNs: []string{""}})
	require.Error(t, err)
}
