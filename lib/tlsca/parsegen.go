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

// Package tlsca provides PEM parse and generate helpers for the
// certificate material exchanged between federation peers.
package tlsca

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// RSAKeySize is the key size used for generated federation credentials.
// RSA is kept over ECDSA so the same key pair can sign SAML assertions
// with rsa-sha256, the only signature method every federation member
// accepts.
const RSAKeySize = 2048

// GenerateCAConfig defines the configuration for generating
// self-signed CA certificates.
type GenerateCAConfig struct {
	Signer   crypto.Signer
	Entity   pkix.Name
	DNSNames []string
	TTL      time.Duration
	Clock    clockwork.Clock
}

// setDefaults imposes defaults on this configuration
func (r *GenerateCAConfig) setDefaults() {
	if r.Clock == nil {
		r.Clock = clockwork.NewRealClock()
	}
}

// GenerateSelfSignedCAWithConfig generates a new CA certificate from the
// specified configuration. Returns the PEM-encoded certificate upon
// success.
func GenerateSelfSignedCAWithConfig(config GenerateCAConfig) (certPEM []byte, err error) {
	config.setDefaults()
	notBefore := config.Clock.Now()
	notAfter := notBefore.Add(config.TTL)

	serialNumber, err := newSerialNumber()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// this is important, otherwise go will accept certificate authorities
	// signed by the same private key and having the same subject (happens in tests)
	config.Entity.SerialNumber = serialNumber.String()

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Issuer:                config.Entity,
		Subject:               config.Entity,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		DNSNames:              config.DNSNames,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, config.Signer.Public(), config.Signer)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes}), nil
}

// GenerateSelfSignedCA generates a self-signed certificate authority for
// a federation node. Returns PEM-encoded private key and certificate.
func GenerateSelfSignedCA(entity pkix.Name, dnsNames []string, ttl time.Duration) ([]byte, []byte, error) {
	priv, err := rsa.GenerateKey(rand.Reader, RSAKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	keyPEM := MarshalPrivateKeyPEM(priv)
	certPEM, err := GenerateSelfSignedCAWithConfig(GenerateCAConfig{
		Signer:   priv,
		Entity:   entity,
		DNSNames: dnsNames,
		TTL:      ttl,
	})
	return keyPEM, certPEM, trace.Wrap(err)
}

// GenerateCertificateConfig defines the configuration for issuing an
// end-entity certificate off a CA.
type GenerateCertificateConfig struct {
	CACert      *x509.Certificate
	CASigner    crypto.Signer
	Entity      pkix.Name
	DNSNames    []string
	IPAddresses []net.IP
	TTL         time.Duration
	Clock       clockwork.Clock
	// IsCA issues an intermediate instead of an end-entity certificate.
	IsCA bool
}

// GenerateCertificate issues a certificate signed by the given CA.
// Returns PEM-encoded private key and certificate.
func GenerateCertificate(config GenerateCertificateConfig) ([]byte, []byte, error) {
	if config.CACert == nil || config.CASigner == nil {
		return nil, nil, trace.BadParameter("missing issuing CA certificate or signer")
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	priv, err := rsa.GenerateKey(rand.Reader, RSAKeySize)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	serialNumber, err := newSerialNumber()
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}
	notBefore := config.Clock.Now()

	template := x509.Certificate{
		SerialNumber:          serialNumber,
		Subject:               config.Entity,
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(config.TTL),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  config.IsCA,
		DNSNames:              config.DNSNames,
		IPAddresses:           config.IPAddresses,
	}
	if config.IsCA {
		template.KeyUsage |= x509.KeyUsageCertSign
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, config.CACert, priv.Public(), config.CASigner)
	if err != nil {
		return nil, nil, trace.Wrap(err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})
	return MarshalPrivateKeyPEM(priv), certPEM, nil
}

func newSerialNumber() (*big.Int, error) {
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return serialNumber, nil
}

// ParseCertificatePEM parses a PEM-encoded certificate.
func ParseCertificatePEM(bytes []byte) (*x509.Certificate, error) {
	if len(bytes) == 0 {
		return nil, trace.BadParameter("missing PEM encoded block")
	}
	block, _ := pem.Decode(bytes)
	if block == nil {
		return nil, trace.BadParameter("expected PEM-encoded block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, trace.BadParameter("%s", err.Error())
	}
	return cert, nil
}

// ParseCertificatePEMs parses multiple PEM-encoded certificates.
func ParseCertificatePEMs(bytes []byte) ([]*x509.Certificate, error) {
	if len(bytes) == 0 {
		return nil, trace.BadParameter("missing PEM encoded block")
	}
	var certs []*x509.Certificate
	block, remaining := pem.Decode(bytes)
	for block != nil {
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, trace.BadParameter("%s", err.Error())
		}
		certs = append(certs, cert)
		block, remaining = pem.Decode(remaining)
	}
	if len(certs) == 0 {
		return nil, trace.BadParameter("expected PEM-encoded block")
	}
	return certs, nil
}

// ParsePrivateKeyPEM parses a PEM-encoded private key.
func ParsePrivateKeyPEM(bytes []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(bytes)
	if block == nil {
		return nil, trace.BadParameter("expected PEM-encoded block")
	}
	return ParsePrivateKeyDER(block.Bytes)
}

// ParsePrivateKeyDER parses an unencrypted DER-encoded private key.
func ParsePrivateKeyDER(der []byte) (crypto.Signer, error) {
	generalKey, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		generalKey, err = x509.ParsePKCS1PrivateKey(der)
		if err != nil {
			generalKey, err = x509.ParseECPrivateKey(der)
			if err != nil {
				return nil, trace.BadParameter("failed parsing private key")
			}
		}
	}

	switch k := generalKey.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	}

	return nil, trace.BadParameter("unsupported private key type")
}

// MarshalPrivateKeyPEM marshals the provided rsa.PrivateKey into PEM
// format.
func MarshalPrivateKeyPEM(privateKey *rsa.PrivateKey) []byte {
	return pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
}

// MarshalCertificatePEM takes a *x509.Certificate and returns the PEM
// encoded bytes.
func MarshalCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// CertPoolFromPEMFile reads one or more concatenated PEM certificates
// from path and returns them as a pool, typically used as the trust
// store for outbound federation connections.
func CertPoolFromPEMFile(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	certs, err := ParseCertificatePEMs(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	pool := x509.NewCertPool()
	for _, cert := range certs {
		pool.AddCert(cert)
	}
	return pool, nil
}

// LoadKeyPair reads a PEM key store from the given certificate and key
// files. The key may be protected with a passphrase.
func LoadKeyPair(certPath, keyPath, passphrase string) (*KeyPair, error) {
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return ParseKeyPair(certPEM, keyPEM, passphrase)
}

// KeyPair couples an end-entity certificate with its private key.
type KeyPair struct {
	Certificate *x509.Certificate
	PrivateKey  crypto.Signer
	certPEM     []byte
	keyDER      []byte
}

// ParseKeyPair parses PEM certificate and key payloads into a key pair.
func ParseKeyPair(certPEM, keyPEM []byte, passphrase string) (*KeyPair, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, trace.BadParameter("expected PEM-encoded private key")
	}
	keyDER := block.Bytes
	if passphrase != "" {
		// Legacy PEM encryption is what federation key stores still
		// ship with; x509.DecryptPEMBlock carries a deprecation notice
		// but remains the only decoder for them.
		//nolint:staticcheck
		keyDER, err = x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, trace.BadParameter("failed decrypting private key: %v", err)
		}
	}
	key, err := ParsePrivateKeyDER(keyDER)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &KeyPair{
		Certificate: cert,
		PrivateKey:  key,
		certPEM:     certPEM,
		keyDER:      keyDER,
	}, nil
}

// TLSCertificate returns the key pair in the form crypto/tls expects.
func (p *KeyPair) TLSCertificate() tls.Certificate {
	return tls.Certificate{
		Certificate: [][]byte{p.Certificate.Raw},
		PrivateKey:  p.PrivateKey,
		Leaf:        p.Certificate,
	}
}
