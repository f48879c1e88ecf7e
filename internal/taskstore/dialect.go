package taskstore

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect captures what differs between the supported databases.
type dialect struct {
	// name selects the goose dialect and the migrations directory.
	name string
	// driver is the database/sql driver name.
	driver string
	// lockClause is appended to the completion candidate lookup.
	lockClause string
	// numbered placeholders ($1, $2) instead of ?.
	numbered bool
}

var (
	postgresDialect = dialect{name: "postgres", driver: "pgx", lockClause: " FOR UPDATE", numbered: true}
	sqliteDialect   = dialect{name: "sqlite3", driver: "sqlite3"}
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "postgresql", "pgx":
		return postgresDialect, nil
	case "sqlite3", "sqlite", "":
		return sqliteDialect, nil
	default:
		return dialect{}, fmt.Errorf("taskstore: unsupported driver %q", driver)
	}
}

// rebind rewrites ? placeholders for dialects that number them. Queries in
// this package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
