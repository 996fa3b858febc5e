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
	"context"

	"github.com/ESGF/esgf-security-sub000/lib/assertion"
)

// StaticSource serves attribute sets out of an in-memory table. The
// table is fixed at construction, which makes the source trivially safe
// for concurrent use.
type StaticSource struct {
	entries map[string]*assertion.AttributeSet
}

// NewStaticSource builds a static source from a table keyed by
// identity. The sets are deep-copied in.
func NewStaticSource(entries map[string]*assertion.AttributeSet) *StaticSource {
	copied := make(map[string]*assertion.AttributeSet, len(entries))
	for identity, attrs := range entries {
		copied[identity] = attrs.Clone()
	}
	return &StaticSource{entries: copied}
}

// Attributes implements Source. Handed-out sets are clones, so callers
// can mutate them freely.
func (s *StaticSource) Attributes(_ context.Context, identity string) (*assertion.AttributeSet, error) {
	attrs, ok := s.entries[identity]
	if !ok {
		return nil, &UnknownIdentityError{Identity: identity}
	}
	return attrs.Clone(), nil
}
