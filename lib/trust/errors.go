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

package trust

import (
	"errors"
	"fmt"
)

// TrustError indicates a peer certificate chain was rejected. It is
// fatal to the connection attempt and never retried.
type TrustError struct {
	// Reason describes why the chain was rejected.
	Reason string
	// Subject is the last peer DN examined, when the rejection came
	// from the allow-list check.
	Subject string
}

// Error implements the error interface.
func (e *TrustError) Error() string {
	if e.Subject == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %q", e.Reason, e.Subject)
}

// IsTrustError reports whether err is, or wraps, a TrustError.
func IsTrustError(err error) bool {
	var trustErr *TrustError
	return errors.As(err, &trustErr)
}
