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

package assertion

import (
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/ESGF/esgf-security-sub000/lib/defaults"
)

const (
	samlVersion          = "2.0"
	entityNameIDFormat   = "urn:oasis:names:tc:SAML:2.0:nameid-format:entity"
	assertionTimeFormat  = "2006-01-02T15:04:05Z"
	firstNameFriendly    = "FirstName"
	lastNameFriendly     = "LastName"
	emailFriendly        = "EmailAddress"
	groupRoleElementName = "GroupRole"
)

// Config holds the codec configuration. A codec is constructed once at
// the composition root and injected into everything that speaks the
// assertion protocol; construction failures surface here rather than in
// some lazily-initialized global.
type Config struct {
	// Issuer is the identity stamped on every outbound query and
	// assertion.
	Issuer string

	// GroupRoleAttribute is the federation attribute type carrying
	// structured (group, role) grants.
	GroupRoleAttribute string

	// Lifetime is the validity window stamped on emitted assertions.
	// The codec records the window; it does not enforce it.
	Lifetime time.Duration

	// Clock supplies issue instants and validity windows.
	Clock clockwork.Clock

	// Signer, when set, signs every emitted assertion.
	Signer *dsig.SigningContext

	// Validator, when set, verifies the signature of every decoded
	// assertion.
	Validator *dsig.ValidationContext
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Issuer == "" {
		return trace.BadParameter("missing codec Issuer")
	}
	if c.GroupRoleAttribute == "" {
		c.GroupRoleAttribute = DefaultGroupRoleAttribute
	}
	if c.Lifetime == 0 {
		c.Lifetime = defaults.AssertionLifetime
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Codec builds and parses the SAML messages of the federation attribute
// protocol. Safe for concurrent use.
type Codec struct {
	cfg Config
}

// NewCodec returns a codec for the given config.
func NewCodec(cfg Config) (*Codec, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Codec{cfg: cfg}, nil
}

// BuildAttributeQuery builds a SOAP envelope carrying an attribute
// query for the given identity. An empty requested list asks for every
// attribute the remote service holds, not for none; callers fetching a
// full profile depend on that.
func (c *Codec) BuildAttributeQuery(identity string, requested []string) (*etree.Document, error) {
	if identity == "" {
		return nil, trace.BadParameter("missing identity")
	}
	doc, body := soapEnvelope()

	query := body.CreateElement("samlp:AttributeQuery")
	query.CreateAttr("xmlns:samlp", SAMLProtocolNamespace)
	query.CreateAttr("xmlns:saml", SAMLAssertionNamespace)
	query.CreateAttr("ID", newID())
	query.CreateAttr("IssueInstant", c.now())
	query.CreateAttr("Version", samlVersion)

	issuer := query.CreateElement("saml:Issuer")
	issuer.CreateAttr("Format", entityNameIDFormat)
	issuer.SetText(c.cfg.Issuer)

	subject := query.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", OpenIDNameIDFormat)
	nameID.SetText(identity)

	for _, name := range requested {
		attr := query.CreateElement("saml:Attribute")
		attr.CreateAttr("Name", name)
		attr.CreateAttr("NameFormat", StringNameFormat)
		if friendly := friendlyName(name); friendly != "" {
			attr.CreateAttr("FriendlyName", friendly)
		}
	}
	return doc, nil
}

// DecodeAttributeQuery parses a SOAP envelope produced by
// BuildAttributeQuery and returns the subject identity and the
// requested attribute type names in document order.
func (c *Codec) DecodeAttributeQuery(data []byte) (identity string, requested []string, err error) {
	body, err := parseEnvelope(data)
	if err != nil {
		return "", nil, trace.Wrap(err)
	}
	query := childElement(body, "AttributeQuery")
	if query == nil {
		return "", nil, trace.BadParameter("envelope carries no attribute query")
	}
	identity = subjectNameID(query)
	if identity == "" {
		return "", nil, trace.BadParameter("attribute query carries no subject")
	}
	for _, el := range query.ChildElements() {
		if el.Tag != "Attribute" {
			continue
		}
		if name := el.SelectAttrValue("Name", ""); name != "" {
			requested = append(requested, name)
		}
	}
	return identity, requested, nil
}

// EncodeAttributeStatement builds an assertion holding an attribute
// statement for the given identity. With an empty requested list the
// whole set is emitted: the reserved scalars first, then every simple
// attribute, then every group/role attribute, names in natural order.
// With a non-empty list only the intersection is emitted; a name
// present in both maps is resolved against the simple map first and
// never emitted twice.
func (c *Codec) EncodeAttributeStatement(identity string, attrs *AttributeSet, requested []string) (*etree.Element, error) {
	if attrs == nil {
		return nil, trace.BadParameter("missing attribute set")
	}
	assertion, statement := c.newAssertion(identity, attrs.Issuer)

	if len(requested) == 0 {
		c.emitScalar(statement, FirstNameAttribute, attrs.FirstName)
		c.emitScalar(statement, LastNameAttribute, attrs.LastName)
		c.emitScalar(statement, EmailAttribute, attrs.Email)
		for _, name := range attrs.simpleNames() {
			c.emitSimple(statement, name, attrs.SimpleAttributes[name])
		}
		for _, name := range attrs.groupRoleNames() {
			c.emitGroupRoles(statement, name, attrs.GroupRoleAttributes[name])
		}
	} else {
		seen := make(map[string]bool, len(requested))
		for _, name := range requested {
			if seen[name] {
				continue
			}
			seen[name] = true
			switch name {
			case FirstNameAttribute:
				c.emitScalar(statement, name, attrs.FirstName)
			case LastNameAttribute:
				c.emitScalar(statement, name, attrs.LastName)
			case EmailAttribute:
				c.emitScalar(statement, name, attrs.Email)
			default:
				if values, ok := attrs.SimpleAttributes[name]; ok {
					c.emitSimple(statement, name, values)
				} else if grants, ok := attrs.GroupRoleAttributes[name]; ok {
					c.emitGroupRoles(statement, name, grants)
				}
			}
		}
	}
	return c.sign(assertion)
}

// DecodeAttributeStatement parses an assertion element back into an
// attribute set.
func (c *Codec) DecodeAttributeStatement(assertion *etree.Element) (*AttributeSet, error) {
	if assertion == nil {
		return nil, trace.BadParameter("missing assertion element")
	}
	assertion, err := c.validate(assertion)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	attrs := NewAttributeSet()
	if issuer := childElement(assertion, "Issuer"); issuer != nil {
		attrs.Issuer = text(issuer)
	}
	statement := childElement(assertion, "AttributeStatement")
	if statement == nil {
		return nil, trace.BadParameter("assertion carries no attribute statement")
	}
	for _, attr := range statement.ChildElements() {
		if attr.Tag != "Attribute" {
			continue
		}
		c.decodeAttribute(attrs, attr)
	}
	return attrs, nil
}

func (c *Codec) decodeAttribute(attrs *AttributeSet, attr *etree.Element) {
	name := attr.SelectAttrValue("Name", "")
	if name == "" {
		return
	}
	for _, value := range attr.ChildElements() {
		if value.Tag != "AttributeValue" {
			continue
		}
		switch name {
		case FirstNameAttribute:
			attrs.FirstName = text(value)
		case LastNameAttribute:
			attrs.LastName = text(value)
		case EmailAttribute:
			attrs.Email = text(value)
		default:
			if gr, ok := groupRoleValue(value); ok {
				attrs.AddGroupRole(name, gr)
				mirrorGroupRoleIntoSimple(attrs, gr)
			} else {
				attrs.AddSimple(name, text(value))
			}
		}
	}
}

// mirrorGroupRoleIntoSimple duplicates a decoded (group, role) grant
// into the simple attribute map, keyed by group with the role as value.
// Federation members still read group membership out of the simple map,
// so the duplication has to stay until every member is audited.
// FIXME(security-wg): drop once the federation compatibility audit is
// complete.
func mirrorGroupRoleIntoSimple(attrs *AttributeSet, gr GroupRole) {
	attrs.AddSimple(gr.Group, gr.Role)
}

// groupRoleValue extracts a structured group/role grant from an
// attribute value element. Returns false for plain string values.
func groupRoleValue(value *etree.Element) (GroupRole, bool) {
	for _, child := range value.ChildElements() {
		if child.Tag == groupRoleElementName {
			return GroupRole{
				Group: child.SelectAttrValue("group", ""),
				Role:  child.SelectAttrValue("role", ""),
			}, true
		}
	}
	return GroupRole{}, false
}

// newAssertion builds the assertion skeleton: issuer, subject and the
// validity window, plus an empty attribute statement for the caller to
// fill.
func (c *Codec) newAssertion(identity, issuer string) (assertion, statement *etree.Element) {
	if issuer == "" {
		issuer = c.cfg.Issuer
	}
	now := c.cfg.Clock.Now().UTC()

	assertion = etree.NewElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", SAMLAssertionNamespace)
	assertion.CreateAttr("xmlns:xs", xmlSchemaNamespace)
	assertion.CreateAttr("xmlns:xsi", xmlSchemaInstanceNamespace)
	assertion.CreateAttr("xmlns:esg", ESGNamespace)
	assertion.CreateAttr("ID", newID())
	assertion.CreateAttr("IssueInstant", now.Format(assertionTimeFormat))
	assertion.CreateAttr("Version", samlVersion)

	issuerEl := assertion.CreateElement("saml:Issuer")
	issuerEl.CreateAttr("Format", entityNameIDFormat)
	issuerEl.SetText(issuer)

	if identity != "" {
		subject := assertion.CreateElement("saml:Subject")
		nameID := subject.CreateElement("saml:NameID")
		nameID.CreateAttr("Format", OpenIDNameIDFormat)
		nameID.SetText(identity)
	}

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", now.Format(assertionTimeFormat))
	conditions.CreateAttr("NotOnOrAfter", now.Add(c.cfg.Lifetime).Format(assertionTimeFormat))

	statement = assertion.CreateElement("saml:AttributeStatement")
	return assertion, statement
}

// emitScalar emits a reserved single-valued attribute, skipping empty
// values.
func (c *Codec) emitScalar(statement *etree.Element, name, value string) {
	if value == "" {
		return
	}
	c.emitValue(statement, name, value)
}

// emitSimple emits one wire attribute per distinct value.
func (c *Codec) emitSimple(statement *etree.Element, name string, values []string) {
	for _, value := range sortedValues(values) {
		c.emitValue(statement, name, value)
	}
}

func (c *Codec) emitValue(statement *etree.Element, name, value string) {
	attr := c.newAttribute(statement, name)
	valueEl := attr.CreateElement("saml:AttributeValue")
	valueEl.CreateAttr("xsi:type", "xs:string")
	valueEl.SetText(value)
}

// emitGroupRoles emits one wire attribute per (group, role) pair, the
// value carrying both fields as a structured element rather than a
// delimited string.
func (c *Codec) emitGroupRoles(statement *etree.Element, name string, grants []GroupRole) {
	for _, gr := range sortedGrants(grants) {
		attr := c.newAttribute(statement, name)
		valueEl := attr.CreateElement("saml:AttributeValue")
		grEl := valueEl.CreateElement("esg:" + groupRoleElementName)
		grEl.CreateAttr("group", gr.Group)
		grEl.CreateAttr("role", gr.Role)
	}
}

func (c *Codec) newAttribute(statement *etree.Element, name string) *etree.Element {
	attr := statement.CreateElement("saml:Attribute")
	attr.CreateAttr("Name", name)
	attr.CreateAttr("NameFormat", StringNameFormat)
	if friendly := friendlyName(name); friendly != "" {
		attr.CreateAttr("FriendlyName", friendly)
	}
	return attr
}

func (c *Codec) sign(assertion *etree.Element) (*etree.Element, error) {
	if c.cfg.Signer == nil {
		return assertion, nil
	}
	signed, err := c.cfg.Signer.SignEnveloped(assertion)
	if err != nil {
		return nil, trace.Wrap(err, "failed signing assertion")
	}
	return signed, nil
}

func (c *Codec) validate(assertion *etree.Element) (*etree.Element, error) {
	if c.cfg.Validator == nil {
		return assertion, nil
	}
	validated, err := c.cfg.Validator.Validate(assertion)
	if err != nil {
		return nil, trace.Wrap(err, "assertion signature validation failed")
	}
	return validated, nil
}

func (c *Codec) now() string {
	return c.cfg.Clock.Now().UTC().Format(assertionTimeFormat)
}

// newID generates a SAML message identifier. The leading underscore
// keeps it a valid NCName.
func newID() string {
	return "_" + uuid.NewString()
}

func friendlyName(name string) string {
	switch name {
	case FirstNameAttribute:
		return firstNameFriendly
	case LastNameAttribute:
		return lastNameFriendly
	case EmailAttribute:
		return emailFriendly
	}
	return ""
}
