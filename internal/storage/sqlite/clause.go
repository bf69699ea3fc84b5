package sqlite

import (
	"strings"

	"github.com/roach88/livekv/internal/storage"
)

// rangeClause compiles br to a WHERE fragment over a BLOB key column,
// starting with " AND" so it can follow the scope predicate. Bounds are
// always parameterized.
func rangeClause(column string, br storage.ByteRange) (string, []any) {
	var b strings.Builder
	var params []any

	if br.Lower != nil {
		b.WriteString(" AND ")
		b.WriteString(column)
		if br.LowerOpen {
			b.WriteString(" > ?")
		} else {
			b.WriteString(" >= ?")
		}
		params = append(params, br.Lower)
	}
	if br.Upper != nil {
		b.WriteString(" AND ")
		b.WriteString(column)
		if br.UpperOpen {
			b.WriteString(" < ?")
		} else {
			b.WriteString(" <= ?")
		}
		params = append(params, br.Upper)
	}

	return b.String(), params
}
