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

package authorize

import "slices"

// RegistryLookup maps attribute types to the attribute service
// endpoints authoritative for them. In a federation each member runs
// its own attribute service and registers the types it can assert.
type RegistryLookup interface {
	// EndpointsFor returns the endpoints that can assert the attribute
	// type, in preference order.
	EndpointsFor(attributeType string) []string
}

// StaticRegistry is a fixed attribute type to endpoint table.
type StaticRegistry struct {
	endpoints map[string][]string
}

// NewStaticRegistry builds a registry from a type to endpoints table.
func NewStaticRegistry(endpoints map[string][]string) *StaticRegistry {
	copied := make(map[string][]string, len(endpoints))
	for attributeType, urls := range endpoints {
		copied[attributeType] = slices.Clone(urls)
	}
	return &StaticRegistry{endpoints: copied}
}

// EndpointsFor implements RegistryLookup.
func (r *StaticRegistry) EndpointsFor(attributeType string) []string {
	return slices.Clone(r.endpoints[attributeType])
}
