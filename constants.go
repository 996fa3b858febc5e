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

// Package esgfsecurity holds constants shared across the federation
// security resolver.
package esgfsecurity

import "strings"

const (
	// ComponentKey is the name of the log attribute containing the
	// component name.
	ComponentKey = "component"

	// ComponentTrust is the certificate trust manager.
	ComponentTrust = "trust"

	// ComponentDiscovery is the Yadis/XRDS discovery client.
	ComponentDiscovery = "discovery"

	// ComponentAttribute is the attribute resolution layer.
	ComponentAttribute = "attribute"

	// ComponentAuthorize is the authorization decision layer.
	ComponentAuthorize = "authorize"

	// ComponentService is the SAML SOAP service frontend.
	ComponentService = "service"

	// ComponentCLI is the esgsec command line tool.
	ComponentCLI = "cli"
)

// Component generates a colon-joined component name for logging,
// e.g. Component("attribute", "sql") -> "attribute:sql".
func Component(components ...string) string {
	return strings.Join(components, ":")
}

// Version is the current release of the federation security resolver.
const Version = "1.0.0"
