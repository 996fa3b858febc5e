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
	"github.com/beevik/etree"
	"github.com/gravitational/trace"
)

// ActionNamespace is the SAML action namespace stamped on decision
// queries and statements.
const ActionNamespace = "urn:oasis:names:tc:SAML:1.0:action:rwedc"

// SAML decision values carried in authorization decision statements.
const (
	DecisionPermit        = "Permit"
	DecisionDeny          = "Deny"
	DecisionIndeterminate = "Indeterminate"
)

// DecisionStatement is the wire form of one authorization decision: the
// verdict for a set of actions against a resource.
type DecisionStatement struct {
	Resource string
	Actions  []string
	Decision string
}

// BuildAuthorizationQuery builds a SOAP envelope carrying an
// authorization decision query for the identity against a resource.
func (c *Codec) BuildAuthorizationQuery(identity, resource string, actions []string) (*etree.Document, error) {
	if identity == "" {
		return nil, trace.BadParameter("missing identity")
	}
	if resource == "" {
		return nil, trace.BadParameter("missing resource")
	}
	doc, body := soapEnvelope()

	query := body.CreateElement("samlp:AuthzDecisionQuery")
	query.CreateAttr("xmlns:samlp", SAMLProtocolNamespace)
	query.CreateAttr("xmlns:saml", SAMLAssertionNamespace)
	query.CreateAttr("ID", newID())
	query.CreateAttr("IssueInstant", c.now())
	query.CreateAttr("Version", samlVersion)
	query.CreateAttr("Resource", resource)

	issuer := query.CreateElement("saml:Issuer")
	issuer.CreateAttr("Format", entityNameIDFormat)
	issuer.SetText(c.cfg.Issuer)

	subject := query.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", OpenIDNameIDFormat)
	nameID.SetText(identity)

	addActions(query, actions)
	return doc, nil
}

// DecodeAuthorizationQuery parses an authorization decision query and
// returns the subject identity, the resource, and the actions asked
// about.
func (c *Codec) DecodeAuthorizationQuery(data []byte) (identity, resource string, actions []string, err error) {
	body, err := parseEnvelope(data)
	if err != nil {
		return "", "", nil, trace.Wrap(err)
	}
	query := childElement(body, "AuthzDecisionQuery")
	if query == nil {
		return "", "", nil, trace.BadParameter("envelope carries no authorization decision query")
	}
	identity = subjectNameID(query)
	if identity == "" {
		return "", "", nil, trace.BadParameter("authorization decision query carries no subject")
	}
	resource = query.SelectAttrValue("Resource", "")
	if resource == "" {
		return "", "", nil, trace.BadParameter("authorization decision query carries no resource")
	}
	actions = parseActions(query)
	return identity, resource, actions, nil
}

// EncodeDecisionStatement builds an assertion holding one authorization
// decision statement.
func (c *Codec) EncodeDecisionStatement(identity string, stmt DecisionStatement) (*etree.Element, error) {
	if stmt.Resource == "" {
		return nil, trace.BadParameter("missing resource")
	}
	assertion, attrStatement := c.newAssertion(identity, "")
	// The skeleton carries an attribute statement; a decision assertion
	// holds a decision statement instead.
	assertion.RemoveChild(attrStatement)

	decision := assertion.CreateElement("saml:AuthzDecisionStatement")
	decision.CreateAttr("Resource", stmt.Resource)
	decision.CreateAttr("Decision", stmt.Decision)
	addActions(decision, stmt.Actions)

	return c.sign(assertion)
}

// BuildAuthorizationResponse wraps decision statements for the identity
// in a successful SAML response, one assertion per statement.
func (c *Codec) BuildAuthorizationResponse(inResponseTo, identity string, statements []DecisionStatement) (*etree.Document, error) {
	doc, resp := c.newResponse(inResponseTo)
	addStatus(resp, StatusSuccess, "", "")
	for _, stmt := range statements {
		assertion, err := c.EncodeDecisionStatement(identity, stmt)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		resp.AddChild(assertion)
	}
	return doc, nil
}

// DecodeAuthorizationResponse parses a SOAP response envelope carrying
// authorization decision assertions.
func (c *Codec) DecodeAuthorizationResponse(data []byte) ([]DecisionStatement, error) {
	resp, err := c.decodeResponse(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var statements []DecisionStatement
	for _, el := range resp.ChildElements() {
		if el.Tag != "Assertion" {
			continue
		}
		assertion, err := c.validate(el)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		decision := childElement(assertion, "AuthzDecisionStatement")
		if decision == nil {
			continue
		}
		statements = append(statements, DecisionStatement{
			Resource: decision.SelectAttrValue("Resource", ""),
			Actions:  parseActions(decision),
			Decision: decision.SelectAttrValue("Decision", DecisionIndeterminate),
		})
	}
	if len(statements) == 0 {
		return nil, trace.BadParameter("success response carries no decision statement")
	}
	return statements, nil
}

func addActions(el *etree.Element, actions []string) {
	for _, action := range actions {
		actionEl := el.CreateElement("saml:Action")
		actionEl.CreateAttr("Namespace", ActionNamespace)
		actionEl.SetText(action)
	}
}

func parseActions(el *etree.Element) []string {
	var actions []string
	for _, child := range el.ChildElements() {
		if child.Tag != "Action" {
			continue
		}
		if action := text(child); action != "" {
			actions = append(actions, action)
		}
	}
	return actions
}
