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

// Package assertion builds, serializes and parses the SAML attribute
// and authorization decision statements exchanged between federation
// members, wrapped in a SOAP request/response envelope.
package assertion

import (
	"maps"
	"slices"
	"strings"
)

// Reserved attribute type names. These are wire-level constants; every
// federation member must emit and match them byte for byte.
const (
	// FirstNameAttribute carries the subject's first name.
	FirstNameAttribute = "urn:esg:first:name"
	// LastNameAttribute carries the subject's last name.
	LastNameAttribute = "urn:esg:last:name"
	// EmailAttribute carries the subject's email address.
	EmailAttribute = "urn:esg:email:address"
	// DefaultGroupRoleAttribute is the federation-wide attribute type
	// carrying structured (group, role) membership grants.
	DefaultGroupRoleAttribute = "urn:esg:group:role"
)

// SAML and SOAP wire namespaces.
const (
	SAMLAssertionNamespace = "urn:oasis:names:tc:SAML:2.0:assertion"
	SAMLProtocolNamespace  = "urn:oasis:names:tc:SAML:2.0:protocol"
	SOAPEnvelopeNamespace  = "http://schemas.xmlsoap.org/soap/envelope/"
	ESGNamespace           = "urn:esg:schema"

	xmlSchemaNamespace         = "http://www.w3.org/2001/XMLSchema"
	xmlSchemaInstanceNamespace = "http://www.w3.org/2001/XMLSchema-instance"

	// StringNameFormat is the NameFormat stamped on every emitted
	// attribute.
	StringNameFormat = "http://www.w3.org/2001/XMLSchema#string"

	// OpenIDNameIDFormat identifies subject NameID values as federation
	// OpenID URLs.
	OpenIDNameIDFormat = "urn:esg:openid"
)

// SAML status codes used on responses.
const (
	StatusSuccess          = "urn:oasis:names:tc:SAML:2.0:status:Success"
	StatusResponder        = "urn:oasis:names:tc:SAML:2.0:status:Responder"
	StatusUnknownPrincipal = "urn:oasis:names:tc:SAML:2.0:status:UnknownPrincipal"
)

// GroupRole is a structured membership grant. Compared structurally;
// two values are equal when both fields are equal.
type GroupRole struct {
	Group string
	Role  string
}

// Compare orders group/role pairs lexicographically by group then role.
func (g GroupRole) Compare(other GroupRole) int {
	if c := strings.Compare(g.Group, other.Group); c != 0 {
		return c
	}
	return strings.Compare(g.Role, other.Role)
}

// AttributeSet is the per-identity bag of attribute facts produced by a
// resolution. Treated as a snapshot by callers: constructed fresh per
// resolution and never mutated after handoff.
type AttributeSet struct {
	// Issuer identifies the party that asserted these attributes.
	Issuer string

	// FirstName, LastName and Email are the reserved scalar attributes.
	// Empty means not asserted.
	FirstName string
	LastName  string
	Email     string

	// SimpleAttributes maps attribute type names to their sets of
	// string values. Insertion order is irrelevant; names are emitted
	// in natural order when serialized.
	SimpleAttributes map[string][]string

	// GroupRoleAttributes maps attribute type names to their sets of
	// (group, role) grants.
	GroupRoleAttributes map[string][]GroupRole
}

// NewAttributeSet returns an empty attribute set.
func NewAttributeSet() *AttributeSet {
	return &AttributeSet{
		SimpleAttributes:    make(map[string][]string),
		GroupRoleAttributes: make(map[string][]GroupRole),
	}
}

// AddSimple records a value under a simple attribute name. Duplicate
// values are dropped, preserving set semantics.
func (a *AttributeSet) AddSimple(name, value string) {
	if a.SimpleAttributes == nil {
		a.SimpleAttributes = make(map[string][]string)
	}
	if slices.Contains(a.SimpleAttributes[name], value) {
		return
	}
	a.SimpleAttributes[name] = append(a.SimpleAttributes[name], value)
}

// AddGroupRole records a (group, role) grant under an attribute name.
// Duplicate pairs are dropped.
func (a *AttributeSet) AddGroupRole(name string, gr GroupRole) {
	if a.GroupRoleAttributes == nil {
		a.GroupRoleAttributes = make(map[string][]GroupRole)
	}
	if slices.Contains(a.GroupRoleAttributes[name], gr) {
		return
	}
	a.GroupRoleAttributes[name] = append(a.GroupRoleAttributes[name], gr)
}

// Clone returns a deep copy, letting sources hand out snapshots without
// exposing their internal maps.
func (a *AttributeSet) Clone() *AttributeSet {
	out := &AttributeSet{
		Issuer:              a.Issuer,
		FirstName:           a.FirstName,
		LastName:            a.LastName,
		Email:               a.Email,
		SimpleAttributes:    make(map[string][]string, len(a.SimpleAttributes)),
		GroupRoleAttributes: make(map[string][]GroupRole, len(a.GroupRoleAttributes)),
	}
	for name, values := range a.SimpleAttributes {
		out.SimpleAttributes[name] = slices.Clone(values)
	}
	for name, grants := range a.GroupRoleAttributes {
		out.GroupRoleAttributes[name] = slices.Clone(grants)
	}
	return out
}

// simpleNames returns the simple attribute names in natural order.
func (a *AttributeSet) simpleNames() []string {
	return slices.Sorted(maps.Keys(a.SimpleAttributes))
}

// groupRoleNames returns the group/role attribute names in natural
// order.
func (a *AttributeSet) groupRoleNames() []string {
	return slices.Sorted(maps.Keys(a.GroupRoleAttributes))
}

// sortedValues returns the values of a simple attribute in natural
// order without mutating the stored slice.
func sortedValues(values []string) []string {
	out := slices.Clone(values)
	slices.Sort(out)
	return out
}

// sortedGrants returns group/role grants ordered by group then role.
func sortedGrants(grants []GroupRole) []GroupRole {
	out := slices.Clone(grants)
	slices.SortFunc(out, GroupRole.Compare)
	return out
}
