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

package common

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	esgfsecurity "github.com/ESGF/esgf-security-sub000"
	"github.com/ESGF/esgf-security-sub000/lib/tlsca"
)

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"version"}, &out)
	require.NoError(t, err)
	require.Equal(t, esgfsecurity.Version, strings.TrimSpace(out.String()))
}

func TestGencertCommand(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	err := run([]string{"gencert", "--dir", dir, "--cn", "node.example.org", "--ttl", "1h"}, &out)
	require.NoError(t, err)

	for _, name := range []string{"ca.pem", "ca.key", "node.example.org.crt", "node.example.org.key"} {
		_, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, "expected %v to exist", name)
	}

	// The issued credential must parse and chain to the written CA.
	pair, err := tlsca.LoadKeyPair(
		filepath.Join(dir, "node.example.org.crt"),
		filepath.Join(dir, "node.example.org.key"), "")
	require.NoError(t, err)
	pool, err := tlsca.CertPoolFromPEMFile(filepath.Join(dir, "ca.pem"))
	require.NoError(t, err)
	require.NotNil(t, pool)
	require.Equal(t, "node.example.org", pair.Certificate.Subject.CommonName)
}

func TestCommandsRequireConfig(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"resolve", "https://node/openid/alice"}, &out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "--config")
}

func TestAuthorizeWithConfig(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "esgsec.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`
saml:
  issuer: https://node.example.org/esgf-idp
authorization_service:
  listen_addr: 127.0.0.1:0
  policies:
    - resource: /data/cmip6/.*
      attribute_type: urn:esg:group:role
      attribute_value: cmip6-research
`), 0o600))

	// No registry entries: the verdict falls through to indeterminate
	// without touching the network.
	var out bytes.Buffer
	err := run([]string{"--config", configFile, "authorize", "https://node/openid/alice", "/data/cmip6/tas.nc", "Read"}, &out)
	require.NoError(t, err)
	require.Contains(t, out.String(), "Indeterminate")
}
