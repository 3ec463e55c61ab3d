package persistadapter

import (
	"fmt"
	"strings"
)

// buildLoadQuery renders the SELECT statement LoadSubset runs against a
// collection's rows table. Where.SQL is a pre-compiled fragment addressing
// the row's JSON value (e.g. "json_extract(value, '$.status') = ?"); it is
// inserted as given after WHERE, with Where.Args bound to its placeholders.
// OrderBy fields are interpolated into json_extract paths without
// validation, and a positive Limit is formatted in as an integer.
func buildLoadQuery(rowsTable string, opts LoadOptions) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT key, value, row_version FROM %s", rowsTable)

	var args []any
	if opts.Where != nil && opts.Where.SQL != "" {
		b.WriteString(" WHERE ")
		b.WriteString(opts.Where.SQL)
		args = append(args, opts.Where.Args...)
	}

	if len(opts.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		clauses := make([]string, len(opts.OrderBy))
		for i, ob := range opts.OrderBy {
			dir := "ASC"
			if ob.Desc {
				dir = "DESC"
			}
			clauses[i] = fmt.Sprintf("json_extract(value, '$.%s') %s", ob.Field, dir)
		}
		b.WriteString(strings.Join(clauses, ", "))
	}

	if opts.Limit != nil && *opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", *opts.Limit)
	}

	return b.String(), args
}
