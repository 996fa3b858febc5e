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

// Package common implements the esgsec command line tool.
package common

import (
	"context"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/gravitational/trace"
	"golang.org/x/sync/errgroup"

	esgfsecurity "github.com/ESGF/esgf-security-sub000"
	"github.com/ESGF/esgf-security-sub000/lib/config"
	"github.com/ESGF/esgf-security-sub000/lib/tlsca"
	logutils "github.com/ESGF/esgf-security-sub000/lib/utils/log"
)

// Run parses the command line and executes the selected command.
func Run(args []string) error {
	return run(args, os.Stdout)
}

func run(args []string, out io.Writer) error {
	app := kingpin.New("esgsec", "ESGF federation security tool.")
	app.HelpFlag.Short('h')
	configPath := app.Flag("config", "Path to the YAML configuration file.").Short('c').String()
	debug := app.Flag("debug", "Enable verbose logging.").Short('d').Bool()

	resolveCmd := app.Command("resolve", "Resolve attributes for an OpenID identity.")
	resolveIdentity := resolveCmd.Arg("openid", "OpenID URL of the identity.").Required().String()
	resolveAttrs := resolveCmd.Flag("attribute", "Attribute type to request, repeatable. Default is everything.").Strings()

	authorizeCmd := app.Command("authorize", "Ask whether an identity may act on a resource.")
	authorizeIdentity := authorizeCmd.Arg("openid", "OpenID URL of the identity.").Required().String()
	authorizeResource := authorizeCmd.Arg("resource", "Resource identifier.").Required().String()
	authorizeActions := authorizeCmd.Arg("action", "Actions to ask about.").Default("Read").Strings()

	serveCmd := app.Command("serve", "Serve the configured federation services.")

	gencertCmd := app.Command("gencert", "Generate a self-signed CA and node credential for testing.")
	gencertDir := gencertCmd.Flag("dir", "Output directory.").Default(".").String()
	gencertCN := gencertCmd.Flag("cn", "Certificate common name.").Default("localhost").String()
	gencertTTL := gencertCmd.Flag("ttl", "Certificate lifetime.").Default("8760h").Duration()

	versionCmd := app.Command("version", "Print the tool version.")

	command, err := app.Parse(args)
	if err != nil {
		return trace.Wrap(err)
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logutils.Initialize(level)

	switch command {
	case versionCmd.FullCommand():
		fmt.Fprintln(out, esgfsecurity.Version)
		return nil
	case gencertCmd.FullCommand():
		return trace.Wrap(onGencert(out, *gencertDir, *gencertCN, *gencertTTL))
	}

	node, err := loadNode(*configPath)
	if err != nil {
		return trace.Wrap(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch command {
	case resolveCmd.FullCommand():
		return trace.Wrap(onResolve(ctx, out, node, *resolveIdentity, *resolveAttrs))
	case authorizeCmd.FullCommand():
		return trace.Wrap(onAuthorize(ctx, out, node, *authorizeIdentity, *authorizeResource, *authorizeActions))
	case serveCmd.FullCommand():
		return trace.Wrap(onServe(ctx, node))
	}
	return trace.BadParameter("unknown command %q", command)
}

func loadNode(configPath string) (*config.Node, error) {
	if configPath == "" {
		return nil, trace.BadParameter("no configuration file, use --config")
	}
	fc, err := config.ReadConfigFile(configPath)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if fc.Log.Severity != "" {
		logutils.Initialize(parseSeverity(fc.Log.Severity))
	}
	node, err := config.NewNode(fc)
	return node, trace.Wrap(err)
}

func parseSeverity(severity string) slog.Level {
	switch severity {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func onResolve(ctx context.Context, out io.Writer, node *config.Node, identity string, requested []string) error {
	attrs, err := node.Attributes.Resolve(ctx, identity, requested)
	if err != nil {
		return trace.Wrap(err)
	}

	if attrs.FirstName != "" {
		fmt.Fprintf(out, "first name:  %v\n", attrs.FirstName)
	}
	if attrs.LastName != "" {
		fmt.Fprintf(out, "last name:   %v\n", attrs.LastName)
	}
	if attrs.Email != "" {
		fmt.Fprintf(out, "email:       %v\n", attrs.Email)
	}

	names := make([]string, 0, len(attrs.SimpleAttributes))
	for name := range attrs.SimpleAttributes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, value := range attrs.SimpleAttributes[name] {
			fmt.Fprintf(out, "%v: %v\n", name, value)
		}
	}

	grNames := make([]string, 0, len(attrs.GroupRoleAttributes))
	for name := range attrs.GroupRoleAttributes {
		grNames = append(grNames, name)
	}
	sort.Strings(grNames)
	for _, name := range grNames {
		for _, grant := range attrs.GroupRoleAttributes[name] {
			fmt.Fprintf(out, "%v: group=%v role=%v\n", name, grant.Group, grant.Role)
		}
	}
	return nil
}

func onAuthorize(ctx context.Context, out io.Writer, node *config.Node, identity, resource string, actions []string) error {
	if node.Authorizer == nil {
		return trace.BadParameter("no authorization_service configured")
	}
	decisions, err := node.Authorizer.AuthorizeAll(ctx, identity, resource, actions)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, decision := range decisions {
		fmt.Fprintf(out, "%v %v: %v\n", decision.Action, decision.Resource, decision.Verdict)
	}
	return nil
}

func onServe(ctx context.Context, node *config.Node) error {
	servers, err := node.Servers()
	if err != nil {
		return trace.Wrap(err)
	}
	if len(servers) == 0 {
		return trace.BadParameter("no services configured")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, server := range servers {
		group.Go(server.ListenAndServe)
	}
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		for _, server := range servers {
			if err := server.Shutdown(shutdownCtx); err != nil {
				slog.Warn("Failed to shut down server.", "error", err)
			}
		}
		return nil
	})
	return trace.Wrap(group.Wait())
}

// onGencert writes ca.pem, <cn>.crt and <cn>.key under dir.
func onGencert(out io.Writer, dir, cn string, ttl time.Duration) error {
	caKeyPEM, caCertPEM, err := tlsca.GenerateSelfSignedCA(
		pkix.Name{CommonName: cn + " ca", Organization: []string{"ESGF"}},
		nil, ttl)
	if err != nil {
		return trace.Wrap(err)
	}
	caCert, err := tlsca.ParseCertificatePEM(caCertPEM)
	if err != nil {
		return trace.Wrap(err)
	}
	caSigner, err := tlsca.ParsePrivateKeyPEM(caKeyPEM)
	if err != nil {
		return trace.Wrap(err)
	}
	keyPEM, certPEM, err := tlsca.GenerateCertificate(tlsca.GenerateCertificateConfig{
		CACert:   caCert,
		CASigner: caSigner,
		Entity:   pkix.Name{CommonName: cn, Organization: []string{"ESGF"}},
		DNSNames: []string{cn},
		TTL:      ttl,
	})
	if err != nil {
		return trace.Wrap(err)
	}

	files := map[string][]byte{
		"ca.pem":    caCertPEM,
		"ca.key":    caKeyPEM,
		cn + ".crt": certPEM,
		cn + ".key": keyPEM,
	}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o600); err != nil {
			return trace.ConvertSystemError(err)
		}
		fmt.Fprintf(out, "wrote %v\n", path)
	}
	return nil
}
