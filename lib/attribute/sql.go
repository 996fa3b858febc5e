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
	"database/sql"
	"errors"

	"github.com/gravitational/trace"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ESGF/esgf-security-sub000/lib/assertion"
)

// sqlSchema is the user attribute schema for SQL-backed sources.
const sqlSchema = `
CREATE TABLE IF NOT EXISTS users (
    openid     TEXT PRIMARY KEY,
    first_name TEXT NOT NULL DEFAULT '',
    last_name  TEXT NOT NULL DEFAULT '',
    email      TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS user_attributes (
    openid TEXT NOT NULL REFERENCES users(openid),
    name   TEXT NOT NULL,
    value  TEXT NOT NULL,
    UNIQUE (openid, name, value)
);
CREATE TABLE IF NOT EXISTS user_group_roles (
    openid     TEXT NOT NULL REFERENCES users(openid),
    name       TEXT NOT NULL,
    group_name TEXT NOT NULL,
    role       TEXT NOT NULL,
    UNIQUE (openid, name, group_name, role)
);
`

// SQLSource serves attribute sets out of a relational user database.
type SQLSource struct {
	db *sql.DB
}

// NewSQLSource wraps an open database handle. The caller keeps
// ownership of the handle.
func NewSQLSource(db *sql.DB) *SQLSource {
	return &SQLSource{db: db}
}

// OpenSQLiteSource opens a SQLite user database at path, creating the
// schema when missing.
func OpenSQLiteSource(path string) (*SQLSource, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if _, err := db.Exec(sqlSchema); err != nil {
		db.Close()
		return nil, trace.Wrap(err)
	}
	return &SQLSource{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLSource) Close() error {
	return trace.Wrap(s.db.Close())
}

// Attributes implements Source.
func (s *SQLSource) Attributes(ctx context.Context, identity string) (*assertion.AttributeSet, error) {
	attrs := assertion.NewAttributeSet()

	row := s.db.QueryRowContext(ctx,
		"SELECT first_name, last_name, email FROM users WHERE openid = ?", identity)
	err := row.Scan(&attrs.FirstName, &attrs.LastName, &attrs.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &UnknownIdentityError{Identity: identity}
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if err := s.loadSimple(ctx, identity, attrs); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.loadGroupRoles(ctx, identity, attrs); err != nil {
		return nil, trace.Wrap(err)
	}
	return attrs, nil
}

func (s *SQLSource) loadSimple(ctx context.Context, identity string, attrs *assertion.AttributeSet) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, value FROM user_attributes WHERE openid = ?", identity)
	if err != nil {
		return trace.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return trace.Wrap(err)
		}
		attrs.AddSimple(name, value)
	}
	return trace.Wrap(rows.Err())
}

func (s *SQLSource) loadGroupRoles(ctx context.Context, identity string, attrs *assertion.AttributeSet) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, group_name, role FROM user_group_roles WHERE openid = ?", identity)
	if err != nil {
		return trace.Wrap(err)
	}
	defer rows.Close()
	for rows.Next() {
		var name, group, role string
		if err := rows.Scan(&name, &group, &role); err != nil {
			return trace.Wrap(err)
		}
		attrs.AddGroupRole(name, assertion.GroupRole{Group: group, Role: role})
	}
	return trace.Wrap(rows.Err())
}

// AddUser inserts or replaces a user row with its scalar attributes.
func (s *SQLSource) AddUser(ctx context.Context, identity, firstName, lastName, email string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO users (openid, first_name, last_name, email) VALUES (?, ?, ?, ?)",
		identity, firstName, lastName, email)
	return trace.Wrap(err)
}

// AddAttribute records a simple attribute value for a user.
func (s *SQLSource) AddAttribute(ctx context.Context, identity, name, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_attributes (openid, name, value) VALUES (?, ?, ?)",
		identity, name, value)
	return trace.Wrap(err)
}

// AddGroupRole records a membership grant for a user.
func (s *SQLSource) AddGroupRole(ctx context.Context, identity, name, group, role string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO user_group_roles (openid, name, group_name, role) VALUES (?, ?, ?, ?)",
		identity, name, group, role)
	return trace.Wrap(err)
}
