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

// Package log provides helpers around log/slog used throughout the
// codebase.
package log

import (
	"log/slog"
	"os"
)

// NewPackageLogger returns a logger with the provided key/value pairs
// attached to every record it emits. Packages declare one at the top
// level with their component name.
func NewPackageLogger(args ...any) *slog.Logger {
	return slog.With(args...)
}

// DiscardLogger discards every record handed to it. Intended for tests
// and for components constructed without an explicit logger where
// output is unwanted.
var DiscardLogger = slog.New(slog.DiscardHandler)

// Initialize configures the default slog logger with the given level
// and text output on stderr. Called once from the process entry point.
func Initialize(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}
