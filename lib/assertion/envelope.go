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
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	"github.com/gravitational/trace"
)

// StatusError is a SAML failure status returned by a federation peer in
// place of an assertion.
type StatusError struct {
	// Code is the top-level status code.
	Code string
	// SecondaryCode is the nested status code, when present.
	SecondaryCode string
	// Message is the human-readable status message, when present.
	Message string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	s := fmt.Sprintf("peer returned status %v", e.Code)
	if e.SecondaryCode != "" {
		s += fmt.Sprintf(" (%v)", e.SecondaryCode)
	}
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

// IsUnknownPrincipal reports whether the status says the peer holds no
// record for the queried identity.
func (e *StatusError) IsUnknownPrincipal() bool {
	return e.Code == StatusUnknownPrincipal || e.SecondaryCode == StatusUnknownPrincipal
}

// AsStatusError extracts a StatusError from an error chain.
func AsStatusError(err error) (*StatusError, bool) {
	var statusErr *StatusError
	ok := errors.As(err, &statusErr)
	return statusErr, ok
}

// BuildAttributeResponse wraps an attribute statement for the identity
// in a successful SAML response inside a SOAP envelope.
func (c *Codec) BuildAttributeResponse(inResponseTo, identity string, attrs *AttributeSet, requested []string) (*etree.Document, error) {
	assertion, err := c.EncodeAttributeStatement(identity, attrs, requested)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	doc, resp := c.newResponse(inResponseTo)
	addStatus(resp, StatusSuccess, "", "")
	resp.AddChild(assertion)
	return doc, nil
}

// BuildStatusResponse builds a failure response carrying no assertion.
func (c *Codec) BuildStatusResponse(inResponseTo, statusCode, secondaryCode, message string) *etree.Document {
	doc, resp := c.newResponse(inResponseTo)
	addStatus(resp, statusCode, secondaryCode, message)
	return doc
}

// DecodeAttributeResponse parses a SOAP response envelope. A failure
// status surfaces as *StatusError; a success status yields the decoded
// attribute set.
func (c *Codec) DecodeAttributeResponse(data []byte) (*AttributeSet, error) {
	resp, err := c.decodeResponse(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	assertion := childElement(resp, "Assertion")
	if assertion == nil {
		return nil, trace.BadParameter("success response carries no assertion")
	}
	attrs, err := c.DecodeAttributeStatement(assertion)
	return attrs, trace.Wrap(err)
}

// decodeResponse unwraps the envelope down to a successful samlp
// response element.
func (c *Codec) decodeResponse(data []byte) (*etree.Element, error) {
	body, err := parseEnvelope(data)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resp := childElement(body, "Response")
	if resp == nil {
		return nil, trace.BadParameter("envelope carries no response")
	}
	status := childElement(resp, "Status")
	if status == nil {
		return nil, trace.BadParameter("response carries no status")
	}
	statusErr := parseStatus(status)
	if statusErr != nil {
		return nil, trace.Wrap(statusErr)
	}
	return resp, nil
}

func (c *Codec) newResponse(inResponseTo string) (*etree.Document, *etree.Element) {
	doc, body := soapEnvelope()
	resp := body.CreateElement("samlp:Response")
	resp.CreateAttr("xmlns:samlp", SAMLProtocolNamespace)
	resp.CreateAttr("xmlns:saml", SAMLAssertionNamespace)
	resp.CreateAttr("ID", newID())
	resp.CreateAttr("IssueInstant", c.now())
	resp.CreateAttr("Version", samlVersion)
	if inResponseTo != "" {
		resp.CreateAttr("InResponseTo", inResponseTo)
	}
	return doc, resp
}

func addStatus(resp *etree.Element, code, secondaryCode, message string) {
	status := resp.CreateElement("samlp:Status")
	statusCode := status.CreateElement("samlp:StatusCode")
	statusCode.CreateAttr("Value", code)
	if secondaryCode != "" {
		nested := statusCode.CreateElement("samlp:StatusCode")
		nested.CreateAttr("Value", secondaryCode)
	}
	if message != "" {
		statusMessage := status.CreateElement("samlp:StatusMessage")
		statusMessage.SetText(message)
	}
}

// parseStatus returns nil for a success status and a *StatusError
// otherwise.
func parseStatus(status *etree.Element) *StatusError {
	code := childElement(status, "StatusCode")
	if code == nil {
		return &StatusError{Code: "missing status code"}
	}
	value := code.SelectAttrValue("Value", "")
	if value == StatusSuccess {
		return nil
	}
	statusErr := &StatusError{Code: value}
	if nested := childElement(code, "StatusCode"); nested != nil {
		statusErr.SecondaryCode = nested.SelectAttrValue("Value", "")
	}
	if message := childElement(status, "StatusMessage"); message != nil {
		statusErr.Message = text(message)
	}
	return statusErr
}

// soapEnvelope returns a fresh SOAP 1.1 envelope document and its body
// element.
func soapEnvelope() (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("SOAP-ENV:Envelope")
	env.CreateAttr("xmlns:SOAP-ENV", SOAPEnvelopeNamespace)
	body := env.CreateElement("SOAP-ENV:Body")
	return doc, body
}

// parseEnvelope parses a SOAP envelope and returns its body element.
func parseEnvelope(data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, trace.BadParameter("malformed envelope: %v", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, trace.BadParameter("document is not a SOAP envelope")
	}
	body := childElement(root, "Body")
	if body == nil {
		return nil, trace.BadParameter("envelope has no body")
	}
	return body, nil
}

// childElement returns the first direct child with the given local tag,
// regardless of namespace prefix.
func childElement(el *etree.Element, tag string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

// subjectNameID returns the NameID text under an element's Subject
// child.
func subjectNameID(el *etree.Element) string {
	subject := childElement(el, "Subject")
	if subject == nil {
		return ""
	}
	nameID := childElement(subject, "NameID")
	if nameID == nil {
		return ""
	}
	return text(nameID)
}

func text(el *etree.Element) string {
	return strings.TrimSpace(el.Text())
}
