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

// Package attribute resolves attribute sets for federation identities,
// either from a local backing store or from a remote attribute service
// reached through discovery.
package attribute

import (
	"context"
	"errors"
	"fmt"

	"github.com/ESGF/esgf-security-sub000/lib/assertion"
)

// Source serves attribute sets for identities out of some backing
// store. Implementations must be safe for concurrent use.
type Source interface {
	// Attributes returns the attribute set held for the identity, or
	// *UnknownIdentityError when the store has no record of it. The
	// returned set is a snapshot the caller owns.
	Attributes(ctx context.Context, identity string) (*assertion.AttributeSet, error)
}

// UnknownIdentityError reports that no attribute record exists for an
// identity. Distinct from transport failures: the peer answered, it
// just does not know the subject.
type UnknownIdentityError struct {
	// Identity is the identity that was looked up.
	Identity string
}

// Error implements the error interface.
func (e *UnknownIdentityError) Error() string {
	return fmt.Sprintf("unknown identity %q", e.Identity)
}

// IsUnknownIdentity reports whether the error chain contains an
// UnknownIdentityError.
func IsUnknownIdentity(err error) bool {
	var unknownErr *UnknownIdentityError
	return errors.As(err, &unknownErr)
}
