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

package attribute

import (
	"os"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/ESGF/esgf-security-sub000/lib/assertion"
)

// UserRecord is the YAML shape of one identity's attributes in a file
// source.
type UserRecord struct {
	// OpenID is the identity the record belongs to.
	OpenID string `yaml:"openid"`
	// FirstName, LastName and Email fill the reserved scalar attributes.
	FirstName string `yaml:"first_name,omitempty"`
	LastName  string `yaml:"last_name,omitempty"`
	Email     string `yaml:"email,omitempty"`
	// Attributes lists simple attribute values.
	Attributes []SimpleRecord `yaml:"attributes,omitempty"`
	// GroupRoles lists structured membership grants.
	GroupRoles []GroupRoleRecord `yaml:"group_roles,omitempty"`
}

// SimpleRecord is one simple attribute type with its values.
type SimpleRecord struct {
	Type   string   `yaml:"type"`
	Values []string `yaml:"values"`
}

// GroupRoleRecord is one membership grant. Type is optional and falls
// back to the federation group/role attribute.
type GroupRoleRecord struct {
	Type  string `yaml:"type,omitempty"`
	Group string `yaml:"group"`
	Role  string `yaml:"role"`
}

type userFile struct {
	Users []UserRecord `yaml:"users"`
}

// NewFileSource reads a YAML user table and returns a static source
// backed by it.
func NewFileSource(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return ParseFileSource(data)
}

// ParseFileSource builds a static source from YAML user table bytes.
func ParseFileSource(data []byte) (*StaticSource, error) {
	var file userFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, trace.BadParameter("failed to parse user table: %v", err)
	}
	entries := make(map[string]*assertion.AttributeSet, len(file.Users))
	for _, user := range file.Users {
		if user.OpenID == "" {
			return nil, trace.BadParameter("user record is missing openid")
		}
		if _, ok := entries[user.OpenID]; ok {
			return nil, trace.BadParameter("duplicate user record for %q", user.OpenID)
		}
		attrs := assertion.NewAttributeSet()
		attrs.FirstName = user.FirstName
		attrs.LastName = user.LastName
		attrs.Email = user.Email
		for _, simple := range user.Attributes {
			if simple.Type == "" {
				return nil, trace.BadParameter("attribute record for %q is missing type", user.OpenID)
			}
			for _, value := range simple.Values {
				attrs.AddSimple(simple.Type, value)
			}
		}
		for _, grant := range user.GroupRoles {
			if grant.Group == "" || grant.Role == "" {
				return nil, trace.BadParameter("group role record for %q is missing group or role", user.OpenID)
			}
			name := grant.Type
			if name == "" {
				name = assertion.DefaultGroupRoleAttribute
			}
			attrs.AddGroupRole(name, assertion.GroupRole{Group: grant.Group, Role: grant.Role})
		}
		entries[user.OpenID] = attrs
	}
	return NewStaticSource(entries), nil
}
