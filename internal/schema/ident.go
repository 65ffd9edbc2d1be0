// Copyright (c) 2026 dbcopier Team
// dbcopier - PostgreSQL table copier with SSH tunnels and masking
// This source code is licensed under the MIT license found in the LICENSE file.

package schema

import (
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/toeirei/dbcopier/internal/errs"
)

// identRE accepts plain PostgreSQL identifiers up to NAMEDATALEN-1 bytes.
var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]{0,62}$`)

// ValidIdent reports whether name may be used as a table, column or schema name.
func ValidIdent(name string) bool {
	return identRE.MatchString(name)
}

// CheckIdents returns a config error naming the first invalid identifier.
func CheckIdents(kind string, names ...string) error {
	for _, n := range names {
		if !ValidIdent(n) {
			return errs.Config("invalid %s name %q", kind, n)
		}
	}
	return nil
}

// Quote renders a single quoted identifier.
func Quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// QualifiedName renders "schema"."table".
func QualifiedName(schemaName, table string) string {
	return pgx.Identifier{schemaName, table}.Sanitize()
}
