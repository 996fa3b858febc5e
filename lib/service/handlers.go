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

// Package service exposes the federation attribute and authorization
// services over SOAP, the server side of what lib/attribute and
// lib/authorize consume remotely.
package service

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/beevik/etree"
	"github.com/gravitational/trace"

	esgfsecurity "github.com/ESGF/esgf-security-sub000"
	"github.com/ESGF/esgf-security-sub000/lib/assertion"
	"github.com/ESGF/esgf-security-sub000/lib/attribute"
	"github.com/ESGF/esgf-security-sub000/lib/authorize"
	"github.com/ESGF/esgf-security-sub000/lib/defaults"
	logutils "github.com/ESGF/esgf-security-sub000/lib/utils/log"
)

// HandlerConfig holds the shared dependencies of the SOAP handlers.
type HandlerConfig struct {
	// Codec parses queries and builds responses.
	Codec *assertion.Codec
	// Source serves attribute sets, used by the attribute handler.
	Source attribute.Source
	// Authorizer answers decision questions, used by the authorization
	// handler.
	Authorizer *authorize.Resolver
	// MaxRequestSize caps the request body read from a client.
	MaxRequestSize int64
	// Log is the handler logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *HandlerConfig) CheckAndSetDefaults() error {
	if c.Codec == nil {
		return trace.BadParameter("missing parameter Codec")
	}
	if c.MaxRequestSize == 0 {
		c.MaxRequestSize = defaults.MaxDocumentSize
	}
	if c.Log == nil {
		c.Log = logutils.NewPackageLogger(esgfsecurity.ComponentKey, esgfsecurity.ComponentService)
	}
	return nil
}

// AttributeHandler answers SOAP attribute queries out of a source.
type AttributeHandler struct {
	cfg HandlerConfig
}

// NewAttributeHandler returns an attribute query handler.
func NewAttributeHandler(cfg HandlerConfig) (*AttributeHandler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.Source == nil {
		return nil, trace.BadParameter("missing parameter Source")
	}
	return &AttributeHandler{cfg: cfg}, nil
}

// ServeHTTP implements http.Handler.
func (h *AttributeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readSOAPRequest(w, r, h.cfg.MaxRequestSize)
	if !ok {
		return
	}
	identity, requested, err := h.cfg.Codec.DecodeAttributeQuery(body)
	if err != nil {
		h.cfg.Log.WarnContext(r.Context(), "Rejecting malformed attribute query.", "error", err)
		http.Error(w, "malformed attribute query", http.StatusBadRequest)
		return
	}

	attrs, err := h.cfg.Source.Attributes(r.Context(), identity)
	switch {
	case attribute.IsUnknownIdentity(err):
		h.cfg.Log.InfoContext(r.Context(), "Attribute query for unknown identity.", "identity", identity)
		h.writeResponse(w, r, h.cfg.Codec.BuildStatusResponse(
			"", assertion.StatusResponder, assertion.StatusUnknownPrincipal, err.Error()))
	case err != nil:
		h.cfg.Log.ErrorContext(r.Context(), "Attribute lookup failed.", "identity", identity, "error", err)
		h.writeResponse(w, r, h.cfg.Codec.BuildStatusResponse(
			"", assertion.StatusResponder, "", "attribute lookup failed"))
	default:
		doc, err := h.cfg.Codec.BuildAttributeResponse("", identity, attrs, requested)
		if err != nil {
			h.cfg.Log.ErrorContext(r.Context(), "Failed to build attribute response.", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		h.writeResponse(w, r, doc)
	}
}

func (h *AttributeHandler) writeResponse(w http.ResponseWriter, r *http.Request, doc *etree.Document) {
	writeSOAPResponse(w, r, h.cfg.Log, doc)
}

// AuthorizationHandler answers SOAP authorization decision queries.
type AuthorizationHandler struct {
	cfg HandlerConfig
}

// NewAuthorizationHandler returns an authorization query handler.
func NewAuthorizationHandler(cfg HandlerConfig) (*AuthorizationHandler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if cfg.Authorizer == nil {
		return nil, trace.BadParameter("missing parameter Authorizer")
	}
	return &AuthorizationHandler{cfg: cfg}, nil
}

// ServeHTTP implements http.Handler.
func (h *AuthorizationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, ok := readSOAPRequest(w, r, h.cfg.MaxRequestSize)
	if !ok {
		return
	}
	identity, resource, actions, err := h.cfg.Codec.DecodeAuthorizationQuery(body)
	if err != nil {
		h.cfg.Log.WarnContext(r.Context(), "Rejecting malformed authorization query.", "error", err)
		http.Error(w, "malformed authorization query", http.StatusBadRequest)
		return
	}
	if len(actions) == 0 {
		actions = []string{"Read"}
	}

	decisions, err := h.cfg.Authorizer.AuthorizeAll(r.Context(), identity, resource, actions)
	if err != nil {
		h.cfg.Log.ErrorContext(r.Context(), "Authorization failed.",
			"identity", identity, "resource", resource, "error", err)
		writeSOAPResponse(w, r, h.cfg.Log, h.cfg.Codec.BuildStatusResponse(
			"", assertion.StatusResponder, "", "authorization failed"))
		return
	}

	statements := make([]assertion.DecisionStatement, 0, len(decisions))
	for _, decision := range decisions {
		statements = append(statements, assertion.DecisionStatement{
			Resource: decision.Resource,
			Actions:  []string{decision.Action},
			Decision: wireDecision(decision.Verdict),
		})
	}
	doc, err := h.cfg.Codec.BuildAuthorizationResponse("", identity, statements)
	if err != nil {
		h.cfg.Log.ErrorContext(r.Context(), "Failed to build authorization response.", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeSOAPResponse(w, r, h.cfg.Log, doc)
}

func wireDecision(verdict authorize.Verdict) string {
	if verdict == authorize.VerdictPermit {
		return assertion.DecisionPermit
	}
	return assertion.DecisionIndeterminate
}

// readSOAPRequest enforces the method and reads the request body. On
// failure the HTTP error is already written.
func readSOAPRequest(w http.ResponseWriter, r *http.Request, maxSize int64) ([]byte, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return nil, false
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSize))
	if err != nil {
		http.Error(w, "failed to read request", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func writeSOAPResponse(w http.ResponseWriter, r *http.Request, log *slog.Logger, doc *etree.Document) {
	payload, err := doc.WriteToBytes()
	if err != nil {
		log.ErrorContext(r.Context(), "Failed to serialize response.", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	if _, err := w.Write(payload); err != nil {
		log.DebugContext(r.Context(), "Failed to write response.", "error", err)
	}
}
