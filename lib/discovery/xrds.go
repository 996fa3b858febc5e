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

// Package discovery locates the federation service endpoints declared
// for an identity in its Yadis/XRDS descriptor document.
package discovery

import (
	"slices"
	"strconv"

	"github.com/beevik/etree"
	"github.com/gravitational/trace"
)

const (
	// XRDNamespace is the XRD element namespace in descriptor documents.
	XRDNamespace = "xri://$xrd*($v*2.0)"
	// XRDSNamespace is the namespace of the XRDS document root.
	XRDSNamespace = "xri://$xrds"
)

// LowestPriority marks a service or URI that declared no priority.
// It sorts after every explicit priority, however large.
const LowestPriority = -1

// Service is one endpoint entry parsed from a descriptor document.
// Immutable once parsed.
type Service struct {
	// URI is the endpoint location.
	URI string
	// LocalID is the optional provider-local identifier.
	LocalID string
	// Types are the service type URNs the endpoint advertises.
	Types []string
	// ServicePriority is the priority attribute of the Service element.
	ServicePriority int
	// URIPriority is the priority attribute of the URI element.
	URIPriority int
}

// HasType reports whether the service advertises the given type URN.
func (s *Service) HasType(serviceType string) bool {
	return slices.Contains(s.Types, serviceType)
}

// before reports whether s ranks ahead of other under the
// (ServicePriority, URIPriority) ordering with the sentinel last.
func (s *Service) before(other *Service) bool {
	if s.ServicePriority != other.ServicePriority {
		return priorityLess(s.ServicePriority, other.ServicePriority)
	}
	return priorityLess(s.URIPriority, other.URIPriority)
}

// priorityLess orders two priorities ascending, with LowestPriority
// ranking below any declared value.
func priorityLess(a, b int) bool {
	if a == LowestPriority {
		return false
	}
	if b == LowestPriority {
		return true
	}
	return a < b
}

// ParseDocument parses a Yadis/XRDS descriptor document and returns the
// services declared under its XRD elements, in document order.
func ParseDocument(data []byte) ([]Service, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, trace.BadParameter("malformed service descriptor: %v", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, trace.BadParameter("service descriptor has no root element")
	}

	var xrds []*etree.Element
	if root.Tag == "XRD" {
		xrds = append(xrds, root)
	} else {
		for _, el := range root.ChildElements() {
			if el.Tag == "XRD" {
				xrds = append(xrds, el)
			}
		}
	}
	if len(xrds) == 0 {
		return nil, trace.BadParameter("service descriptor contains no XRD element")
	}

	var services []Service
	for _, xrd := range xrds {
		for _, el := range xrd.ChildElements() {
			if el.Tag != "Service" {
				continue
			}
			services = append(services, parseService(el))
		}
	}
	return services, nil
}

func parseService(el *etree.Element) Service {
	svc := Service{
		ServicePriority: priorityAttr(el),
		URIPriority:     LowestPriority,
	}
	for _, child := range el.ChildElements() {
		switch child.Tag {
		case "Type":
			if t := child.Text(); t != "" {
				svc.Types = append(svc.Types, t)
			}
		case "URI":
			// A service may declare several URIs; keep the
			// highest-ranking one.
			priority := priorityAttr(child)
			if svc.URI == "" || priorityLess(priority, svc.URIPriority) {
				svc.URI = child.Text()
				svc.URIPriority = priority
			}
		case "LocalID":
			svc.LocalID = child.Text()
		}
	}
	return svc
}

// priorityAttr reads the priority attribute of an element. A missing or
// unparsable attribute maps to the lowest-priority sentinel.
func priorityAttr(el *etree.Element) int {
	attr := el.SelectAttr("priority")
	if attr == nil {
		return LowestPriority
	}
	v, err := strconv.Atoi(attr.Value)
	if err != nil || v < 0 {
		return LowestPriority
	}
	return v
}

// SelectService picks the highest-ranking service advertising the given
// type. Returns a NotFound error when no service matches.
func SelectService(services []Service, serviceType string) (*Service, error) {
	var best *Service
	for i := range services {
		svc := &services[i]
		if !svc.HasType(serviceType) {
			continue
		}
		if best == nil || svc.before(best) {
			best = svc
		}
	}
	if best == nil {
		return nil, trace.NotFound("no service of type %q advertised in descriptor", serviceType)
	}
	return best, nil
}
