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

// Package config reads the YAML node configuration and assembles the
// runtime pipeline out of it.
package config

import (
	"bytes"
	"os"
	"slices"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/ESGF/esgf-security-sub000/lib/authorize"
	"github.com/ESGF/esgf-security-sub000/lib/defaults"
)

// Attribute source kinds accepted in the configuration file.
const (
	SourceFile   = "file"
	SourceSQLite = "sqlite"
)

// FileConfig is the YAML shape of a federation node configuration.
type FileConfig struct {
	// Log configures the process logger.
	Log LogConfig `yaml:"log,omitempty"`
	// Trust configures the federation trust material.
	Trust TrustConfig `yaml:"trust"`
	// SAML configures the assertion codec.
	SAML SAMLConfig `yaml:"saml"`
	// Discovery configures identity descriptor resolution.
	Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
	// Transport configures connection deadlines for federation peers.
	Transport TransportConfig `yaml:"transport,omitempty"`
	// AttributeService configures the hosted attribute service.
	AttributeService *AttributeServiceConfig `yaml:"attribute_service,omitempty"`
	// AuthorizationService configures the hosted authorization service.
	AuthorizationService *AuthorizationServiceConfig `yaml:"authorization_service,omitempty"`
}

// LogConfig selects the process log level.
type LogConfig struct {
	// Severity is one of debug, info, warn, error.
	Severity string `yaml:"severity,omitempty"`
}

// TrustConfig points at the node's trust store and credential, and
// lists the acceptable peer DNs.
type TrustConfig struct {
	// TrustStore is a path to PEM CA certificates used for chain
	// validation of federation peers.
	TrustStore string `yaml:"trust_store"`
	// CertificateFile and KeyFile hold the node's own credential.
	CertificateFile string `yaml:"certificate_file,omitempty"`
	// KeyFile may be protected with Passphrase.
	KeyFile    string `yaml:"key_file,omitempty"`
	Passphrase string `yaml:"passphrase,omitempty"`
	// AllowedDNs lists peer certificate subject DNs accepted on top of
	// standard validation. Empty disables the allow-list check.
	AllowedDNs []string `yaml:"allowed_dns,omitempty"`
}

// SAMLConfig configures the assertion codec.
type SAMLConfig struct {
	// Issuer is stamped on every emitted query, response and assertion.
	Issuer string `yaml:"issuer"`
	// GroupRoleAttribute overrides the federation group/role attribute
	// type.
	GroupRoleAttribute string `yaml:"group_role_attribute,omitempty"`
	// LifetimeSeconds is the assertion validity window in seconds.
	LifetimeSeconds int64 `yaml:"lifetime_seconds,omitempty"`
	// SignAssertions signs emitted assertions with the trust
	// credential.
	SignAssertions bool `yaml:"sign_assertions,omitempty"`
}

// DiscoveryConfig configures XRDS descriptor resolution.
type DiscoveryConfig struct {
	// AttributeServiceType overrides the XRDS service type looked up
	// for attribute services.
	AttributeServiceType string `yaml:"attribute_service_type,omitempty"`
	// MaxDocumentSize caps fetched descriptor size in bytes.
	MaxDocumentSize int64 `yaml:"max_document_size,omitempty"`
}

// TransportConfig sets the connection deadlines applied to outbound
// peer connections and to hosted service listeners.
type TransportConfig struct {
	// DialTimeoutSeconds bounds TCP connection establishment to a peer.
	DialTimeoutSeconds int64 `yaml:"dial_timeout_seconds,omitempty"`
	// ReadTimeoutSeconds bounds the wait for response headers from a
	// peer, and for request headers on hosted services.
	ReadTimeoutSeconds int64 `yaml:"read_timeout_seconds,omitempty"`
}

// Timeouts converts the configured deadlines for the transport layer.
func (c *TransportConfig) Timeouts() defaults.TransportTimeouts {
	return defaults.TransportTimeouts{
		Dial:        time.Duration(c.DialTimeoutSeconds) * time.Second,
		ReadHeaders: time.Duration(c.ReadTimeoutSeconds) * time.Second,
	}
}

// AttributeServiceConfig configures the hosted attribute service.
type AttributeServiceConfig struct {
	// ListenAddr is the host:port the service listens on.
	ListenAddr string `yaml:"listen_addr"`
	// Source selects the attribute backing store.
	Source SourceConfig `yaml:"source"`
}

// SourceConfig selects and parameterizes an attribute source.
type SourceConfig struct {
	// Type is one of file, sqlite.
	Type string `yaml:"type"`
	// Path is the user table path for file and sqlite sources.
	Path string `yaml:"path,omitempty"`
}

// AuthorizationServiceConfig configures the hosted authorization
// service.
type AuthorizationServiceConfig struct {
	// ListenAddr is the host:port the service listens on. When it
	// matches the attribute service address both are served by one
	// listener.
	ListenAddr string `yaml:"listen_addr"`
	// Policies is the access rule table.
	Policies []PolicyConfig `yaml:"policies,omitempty"`
	// Registry maps attribute types to the endpoints authoritative for
	// them.
	Registry []RegistryConfig `yaml:"registry,omitempty"`
	// MaxConcurrency bounds parallel attribute endpoint queries.
	MaxConcurrency int `yaml:"max_concurrency,omitempty"`
}

// PolicyConfig is the YAML shape of one access rule.
type PolicyConfig struct {
	Resource       string `yaml:"resource"`
	Action         string `yaml:"action,omitempty"`
	AttributeType  string `yaml:"attribute_type"`
	AttributeValue string `yaml:"attribute_value"`
}

// RegistryConfig is the YAML shape of one registry entry.
type RegistryConfig struct {
	AttributeType string   `yaml:"attribute_type"`
	Endpoints     []string `yaml:"endpoints"`
}

// ReadConfigFile reads and validates a YAML configuration file.
func ReadConfigFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return ReadConfig(data)
}

// ReadConfig parses and validates YAML configuration bytes. Unknown
// keys are rejected so typos surface at startup instead of silently
// disabling what they were meant to configure.
func ReadConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&fc); err != nil {
		return nil, trace.BadParameter("failed to parse config: %v", err)
	}
	if err := fc.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &fc, nil
}

// CheckAndSetDefaults validates the configuration and fills in
// defaults.
func (c *FileConfig) CheckAndSetDefaults() error {
	switch c.Log.Severity {
	case "", "debug", "info", "warn", "error":
	default:
		return trace.BadParameter("unsupported log severity %q", c.Log.Severity)
	}
	if c.SAML.Issuer == "" {
		return trace.BadParameter("missing saml.issuer")
	}
	if c.SAML.LifetimeSeconds < 0 {
		return trace.BadParameter("saml.lifetime_seconds must not be negative")
	}
	if c.SAML.LifetimeSeconds == 0 {
		c.SAML.LifetimeSeconds = int64(defaults.AssertionLifetime / time.Second)
	}
	if c.SAML.SignAssertions && (c.Trust.CertificateFile == "" || c.Trust.KeyFile == "") {
		return trace.BadParameter("saml.sign_assertions requires trust.certificate_file and trust.key_file")
	}
	if slices.Contains(c.Trust.AllowedDNs, "") {
		return trace.BadParameter("trust.allowed_dns contains an empty DN")
	}
	if c.Discovery.AttributeServiceType == "" {
		c.Discovery.AttributeServiceType = defaults.AttributeServiceType
	}
	if c.Discovery.MaxDocumentSize == 0 {
		c.Discovery.MaxDocumentSize = defaults.MaxDocumentSize
	}
	if c.Transport.DialTimeoutSeconds < 0 || c.Transport.ReadTimeoutSeconds < 0 {
		return trace.BadParameter("transport timeouts must not be negative")
	}
	if c.Transport.DialTimeoutSeconds == 0 {
		c.Transport.DialTimeoutSeconds = int64(defaults.DialTimeout / time.Second)
	}
	if c.Transport.ReadTimeoutSeconds == 0 {
		c.Transport.ReadTimeoutSeconds = int64(defaults.ReadHeadersTimeout / time.Second)
	}
	if c.AttributeService != nil {
		if err := c.AttributeService.check(); err != nil {
			return trace.Wrap(err)
		}
	}
	if c.AuthorizationService != nil {
		if err := c.AuthorizationService.check(); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

func (c *AttributeServiceConfig) check() error {
	if c.ListenAddr == "" {
		return trace.BadParameter("missing attribute_service.listen_addr")
	}
	switch c.Source.Type {
	case SourceFile, SourceSQLite:
		if c.Source.Path == "" {
			return trace.BadParameter("missing attribute_service.source.path")
		}
	case "":
		return trace.BadParameter("missing attribute_service.source.type")
	default:
		return trace.BadParameter("unsupported attribute source type %q", c.Source.Type)
	}
	return nil
}

func (c *AuthorizationServiceConfig) check() error {
	if c.ListenAddr == "" {
		return trace.BadParameter("missing authorization_service.listen_addr")
	}
	if c.MaxConcurrency < 0 {
		return trace.BadParameter("authorization_service.max_concurrency must not be negative")
	}
	for _, policy := range c.Policies {
		if policy.Resource == "" || policy.AttributeType == "" || policy.AttributeValue == "" {
			return trace.BadParameter("authorization_service.policies entries require resource, attribute_type and attribute_value")
		}
	}
	for _, entry := range c.Registry {
		if entry.AttributeType == "" || len(entry.Endpoints) == 0 {
			return trace.BadParameter("authorization_service.registry entries require attribute_type and endpoints")
		}
	}
	return nil
}

// PolicyRules converts the policy table into compiler-ready rules.
func (c *AuthorizationServiceConfig) PolicyRules() []authorize.PolicyRule {
	rules := make([]authorize.PolicyRule, 0, len(c.Policies))
	for _, policy := range c.Policies {
		rules = append(rules, authorize.PolicyRule{
			ResourcePattern: policy.Resource,
			Action:          policy.Action,
			AttributeType:   policy.AttributeType,
			AttributeValue:  policy.AttributeValue,
		})
	}
	return rules
}

// RegistryTable converts the registry entries into a lookup table.
func (c *AuthorizationServiceConfig) RegistryTable() map[string][]string {
	table := make(map[string][]string, len(c.Registry))
	for _, entry := range c.Registry {
		table[entry.AttributeType] = append(table[entry.AttributeType], entry.Endpoints...)
	}
	return table
}
