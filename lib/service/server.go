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

package service

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gravitational/trace"

	esgfsecurity "github.com/ESGF/esgf-security-sub000"
	"github.com/ESGF/esgf-security-sub000/lib/defaults"
	"github.com/ESGF/esgf-security-sub000/lib/trust"
	logutils "github.com/ESGF/esgf-security-sub000/lib/utils/log"
)

// ServerConfig holds the federation service listener configuration.
type ServerConfig struct {
	// ListenAddr is the host:port to serve on.
	ListenAddr string
	// Trust provides the mutual TLS configuration. Required unless
	// Insecure is set.
	Trust *trust.Manager
	// KeyPair is the server certificate presented to clients.
	KeyPair tls.Certificate
	// Insecure serves plain HTTP. Only for tests.
	Insecure bool
	// AttributeHandler serves the attribute service path when set.
	AttributeHandler *AttributeHandler
	// AuthorizationHandler serves the authorization service path when
	// set.
	AuthorizationHandler *AuthorizationHandler
	// ReadHeadersTimeout bounds reading request headers from a client.
	ReadHeadersTimeout time.Duration
	// Log is the server logger.
	Log *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *ServerConfig) CheckAndSetDefaults() error {
	if c.ListenAddr == "" {
		return trace.BadParameter("missing parameter ListenAddr")
	}
	if c.Trust == nil && !c.Insecure {
		return trace.BadParameter("missing parameter Trust")
	}
	if c.AttributeHandler == nil && c.AuthorizationHandler == nil {
		return trace.BadParameter("no handlers configured")
	}
	if c.ReadHeadersTimeout == 0 {
		c.ReadHeadersTimeout = defaults.ReadHeadersTimeout
	}
	if c.Log == nil {
		c.Log = logutils.NewPackageLogger(esgfsecurity.ComponentKey, esgfsecurity.ComponentService)
	}
	return nil
}

// Server is the federation SOAP service listener.
type Server struct {
	cfg    ServerConfig
	server *http.Server
}

// NewServer returns a federation service server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	mux := http.NewServeMux()
	if cfg.AttributeHandler != nil {
		mux.Handle(defaults.AttributeServicePath, cfg.AttributeHandler)
	}
	if cfg.AuthorizationHandler != nil {
		mux.Handle(defaults.AuthorizationServicePath, cfg.AuthorizationHandler)
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeadersTimeout,
	}
	if !cfg.Insecure {
		server.TLSConfig = cfg.Trust.ServerTLSConfig(cfg.KeyPair)
	}
	return &Server{cfg: cfg, server: server}, nil
}

// ListenAndServe serves until Shutdown or a listener error. The
// http.ErrServerClosed sentinel is swallowed so a clean shutdown
// returns nil.
func (s *Server) ListenAndServe() error {
	listener, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(s.Serve(listener))
}

// Serve serves on an existing listener.
func (s *Server) Serve(listener net.Listener) error {
	s.cfg.Log.Info("Serving federation services.",
		"addr", listener.Addr().String(), "insecure", s.cfg.Insecure)
	var err error
	if s.cfg.Insecure {
		err = s.server.Serve(listener)
	} else {
		err = s.server.Serve(tls.NewListener(listener, s.server.TLSConfig))
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return trace.Wrap(err)
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return trace.Wrap(s.server.Shutdown(ctx))
}
