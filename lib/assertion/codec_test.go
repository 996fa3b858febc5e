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
	"crypto/x509"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/require"
)

const (
	testIssuer   = "https://node.example.org/esgf-idp"
	testIdentity = "https://node/openid/alice"
)

func newTestCodec(t *testing.T) *Codec {
	t.Helper()
	codec, err := NewCodec(Config{Issuer: testIssuer})
	require.NoError(t, err)
	return codec
}

func fullAttributeSet() *AttributeSet {
	attrs := NewAttributeSet()
	attrs.Issuer = testIssuer
	attrs.FirstName = "Ann"
	attrs.LastName = "Stephens"
	attrs.Email = "ann@example.org"
	attrs.AddSimple("urn:esg:organization", "NCAR")
	attrs.AddSimple("urn:esg:organization", "PCMDI")
	attrs.AddSimple("urn:esg:project", "CMIP6")
	attrs.AddGroupRole(DefaultGroupRoleAttribute, GroupRole{Group: "wg1", Role: "admin"})
	attrs.AddGroupRole(DefaultGroupRoleAttribute, GroupRole{Group: "wg2", Role: "user"})
	return attrs
}

func TestNewCodecRequiresIssuer(t *testing.T) {
	t.Parallel()

	_, err := NewCodec(Config{})
	require.Error(t, err)
}

func TestAttributeQueryRoundTrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	requested := []string{FirstNameAttribute, "urn:esg:organization"}

	doc, err := codec.BuildAttributeQuery(testIdentity, requested)
	require.NoError(t, err)
	data, err := doc.WriteToBytes()
	require.NoError(t, err)

	identity, gotRequested, err := codec.DecodeAttributeQuery(data)
	require.NoError(t, err)
	require.Equal(t, testIdentity, identity)
	require.Equal(t, requested, gotRequested)
}

func TestAttributeQueryEmptyRequestedMeansEverything(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	doc, err := codec.BuildAttributeQuery(testIdentity, nil)
	require.NoError(t, err)
	data, err := doc.WriteToBytes()
	require.NoError(t, err)

	identity, requested, err := codec.DecodeAttributeQuery(data)
	require.NoError(t, err)
	require.Equal(t, testIdentity, identity)
	// No requested attributes on the wire is the "everything" sentinel
	// and must survive the round trip as an empty list.
	require.Empty(t, requested)
}

func TestAttributeStatementRoundTrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	attrs := fullAttributeSet()

	assertion, err := codec.EncodeAttributeStatement(testIdentity, attrs, nil)
	require.NoError(t, err)

	decoded, err := codec.DecodeAttributeStatement(assertion)
	require.NoError(t, err)

	require.Equal(t, testIssuer, decoded.Issuer)
	require.Equal(t, "Ann", decoded.FirstName)
	require.Equal(t, "Stephens", decoded.LastName)
	require.Equal(t, "ann@example.org", decoded.Email)

	require.ElementsMatch(t, []string{"NCAR", "PCMDI"}, decoded.SimpleAttributes["urn:esg:organization"])
	require.ElementsMatch(t, []string{"CMIP6"}, decoded.SimpleAttributes["urn:esg:project"])
	require.ElementsMatch(t, []GroupRole{
		{Group: "wg1", Role: "admin"},
		{Group: "wg2", Role: "user"},
	}, decoded.GroupRoleAttributes[DefaultGroupRoleAttribute])

	// Decoding mirrors every grant into the simple map keyed by group.
	require.ElementsMatch(t, []string{"admin"}, decoded.SimpleAttributes["wg1"])
	require.ElementsMatch(t, []string{"user"}, decoded.SimpleAttributes["wg2"])
}

func TestAttributeStatementGroupRoleMirroring(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	attrs := NewAttributeSet()
	attrs.FirstName = "Ann"
	attrs.AddSimple("org", "cmip")
	attrs.AddGroupRole("gr", GroupRole{Group: "wg1", Role: "admin"})

	assertion, err := codec.EncodeAttributeStatement(testIdentity, attrs, nil)
	require.NoError(t, err)
	decoded, err := codec.DecodeAttributeStatement(assertion)
	require.NoError(t, err)

	require.Equal(t, map[string][]string{
		"org": {"cmip"},
		"wg1": {"admin"},
	}, decoded.SimpleAttributes)
	require.Equal(t, map[string][]GroupRole{
		"gr": {{Group: "wg1", Role: "admin"}},
	}, decoded.GroupRoleAttributes)
}

func TestPartialRequestEmitsOnlyRequestedTypes(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	attrs := fullAttributeSet()

	assertion, err := codec.EncodeAttributeStatement(testIdentity, attrs, []string{
		FirstNameAttribute, LastNameAttribute,
	})
	require.NoError(t, err)
	decoded, err := codec.DecodeAttributeStatement(assertion)
	require.NoError(t, err)

	require.Equal(t, "Ann", decoded.FirstName)
	require.Equal(t, "Stephens", decoded.LastName)
	require.Empty(t, decoded.Email)
	require.Empty(t, decoded.SimpleAttributes)
	require.Empty(t, decoded.GroupRoleAttributes)
}

func TestFullRequestEquivalence(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	attrs := fullAttributeSet()

	everything := []string{
		FirstNameAttribute, LastNameAttribute, EmailAttribute,
		"urn:esg:organization", "urn:esg:project",
		DefaultGroupRoleAttribute,
	}

	implicit, err := codec.EncodeAttributeStatement(testIdentity, attrs, nil)
	require.NoError(t, err)
	explicit, err := codec.EncodeAttributeStatement(testIdentity, attrs, everything)
	require.NoError(t, err)

	decodedImplicit, err := codec.DecodeAttributeStatement(implicit)
	require.NoError(t, err)
	decodedExplicit, err := codec.DecodeAttributeStatement(explicit)
	require.NoError(t, err)

	require.Equal(t, decodedImplicit, decodedExplicit)
}

func TestDuplicateRequestedNameEmittedOnce(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	attrs := NewAttributeSet()
	attrs.AddSimple("urn:esg:organization", "NCAR")

	assertion, err := codec.EncodeAttributeStatement(testIdentity, attrs, []string{
		"urn:esg:organization", "urn:esg:organization",
	})
	require.NoError(t, err)

	statement := assertion.FindElement("./saml:AttributeStatement")
	require.NotNil(t, statement)
	require.Len(t, statement.ChildElements(), 1)
}

func TestAttributeResponseRoundTrip(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)
	attrs := fullAttributeSet()

	doc, err := codec.BuildAttributeResponse("_query-1", testIdentity, attrs, nil)
	require.NoError(t, err)
	data, err := doc.WriteToBytes()
	require.NoError(t, err)

	decoded, err := codec.DecodeAttributeResponse(data)
	require.NoError(t, err)
	require.Equal(t, "Ann", decoded.FirstName)
	require.ElementsMatch(t, []string{"NCAR", "PCMDI"}, decoded.SimpleAttributes["urn:esg:organization"])
}

func TestDecodeAttributeResponseUnknownPrincipal(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	doc := codec.BuildStatusResponse("", StatusResponder, StatusUnknownPrincipal, "no such user")
	data, err := doc.WriteToBytes()
	require.NoError(t, err)

	_, err = codec.DecodeAttributeResponse(data)
	require.Error(t, err)
	statusErr, ok := AsStatusError(err)
	require.True(t, ok)
	require.True(t, statusErr.IsUnknownPrincipal())
	require.Equal(t, "no such user", statusErr.Message)
}

func TestDecodeAttributeResponseMalformed(t *testing.T) {
	t.Parallel()

	codec := newTestCodec(t)

	tests := []struct {
		name string
		data string
	}{
		{name: "not xml", data: "<<<"},
		{name: "not an envelope", data: "<Other/>"},
		{name: "no response in body", data: `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/"><SOAP-ENV:Body/></SOAP-ENV:Envelope>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.DecodeAttributeResponse([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestAssertionValidityWindow(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	codec, err := NewCodec(Config{Issuer: testIssuer, Clock: clock})
	require.NoError(t, err)

	assertion, err := codec.EncodeAttributeStatement(testIdentity, NewAttributeSet(), nil)
	require.NoError(t, err)

	conditions := assertion.FindElement("./saml:Conditions")
	require.NotNil(t, conditions)
	require.Equal(t, "2026-03-14T12:00:00Z", conditions.SelectAttrValue("NotBefore", ""))
	require.Equal(t, "2026-03-15T12:00:00Z", conditions.SelectAttrValue("NotOnOrAfter", ""))
}

func TestSignedAssertionRoundTrip(t *testing.T) {
	t.Parallel()

	keyStore := dsig.RandomKeyStoreForTest()
	_, certDER, err := keyStore.GetKeyPair()
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	signingCodec, err := NewCodec(Config{
		Issuer: testIssuer,
		Signer: dsig.NewDefaultSigningContext(keyStore),
	})
	require.NoError(t, err)

	validatingCodec, err := NewCodec(Config{
		Issuer: testIssuer,
		Validator: dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{cert},
		}),
	})
	require.NoError(t, err)

	attrs := NewAttributeSet()
	attrs.AddSimple("org", "cmip")

	doc, err := signingCodec.BuildAttributeResponse("", testIdentity, attrs, nil)
	require.NoError(t, err)
	data, err := doc.WriteToBytes()
	require.NoError(t, err)

	decoded, err := validatingCodec.DecodeAttributeResponse(data)
	require.NoError(t, err)
	require.Equal(t, []string{"cmip"}, decoded.SimpleAttributes["org"])

	// An unsigned assertion must not pass a validating codec.
	plainCodec := newTestCodec(t)
	unsignedDoc, err := plainCodec.BuildAttributeResponse("", testIdentity, attrs, nil)
	require.NoError(t, err)
	unsigned, err := unsignedDoc.WriteToBytes()
	require.NoError(t, err)
	_, err = validatingCodec.DecodeAttributeResponse(unsigned)
	require.Error(t, err)
}
