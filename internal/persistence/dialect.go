package persistence

import (
	"fmt"
	"strings"
)

// dialect captures the SQL differences between the supported backends.
type dialect struct {
	driver        string
	timestampType string
	numericType   string
	jsonType      string
	serialPK      string
	rebindNeeded  bool
}

var (
	sqliteDialect = dialect{
		driver:        "sqlite3",
		timestampType: "DATETIME",
		numericType:   "TEXT",
		jsonType:      "TEXT",
		serialPK:      "INTEGER PRIMARY KEY AUTOINCREMENT",
	}
	postgresDialect = dialect{
		driver:        "postgres",
		timestampType: "TIMESTAMPTZ",
		numericType:   "NUMERIC(30,10)",
		jsonType:      "JSONB",
		serialPK:      "BIGSERIAL PRIMARY KEY",
		rebindNeeded:  true,
	}
)

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if !d.rebindNeeded {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
