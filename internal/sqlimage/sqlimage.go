// Package sqlimage builds an in-memory SQLite database mirroring a
// resolved core.Database, for SQL proofs and materialized-view evaluation.
package sqlimage

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"edl/internal/core"
)

// Image wraps the two handles spec §4.8 and §5 call for: one read-write,
// used for table creation, bulk insertion, and mat-view back-insertion,
// one read-only, used for proof and view-expression preparation. Both
// point at the same named in-memory database so neither sees a separate
// copy of the data.
type Image struct {
	RW *sql.DB
	RO *sql.DB

	dsn string
}

// Open creates a fresh named in-memory database and the dual connections
// over it. token should be unique per run so concurrent test processes
// never collide on the same in-memory database name.
func Open(token string) (*Image, error) {
	dsn := fmt.Sprintf("file:edl_%s?mode=memory&cache=shared", token)
	rw, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	rw.SetMaxOpenConns(1)

	ro, err := sql.Open("sqlite", dsn+"&_pragma=query_only(1)")
	if err != nil {
		rw.Close()
		return nil, err
	}
	ro.SetMaxOpenConns(1)

	return &Image{RW: rw, RO: ro, dsn: dsn}, nil
}

// Close releases both connections.
func (img *Image) Close() {
	img.RW.Close()
	img.RO.Close()
}

// LoadTable creates a STRICT table for t and bulk-inserts its rows inside
// one transaction, then indexes every column.
func (img *Image) LoadTable(t *core.DataTable) error {
	if err := img.createTable(t); err != nil {
		return core.Errf(core.KindSqlMatViewStatementPrepareException, "table_name", t.Name, "error", err.Error())
	}
	if err := img.bulkInsert(t); err != nil {
		return err
	}
	return img.indexColumns(t)
}

func (img *Image) createTable(t *core.DataTable) error {
	var cols []string
	for _, c := range t.Columns {
		if c.Key.Kind == core.ParentPrimary {
			continue
		}
		cols = append(cols, fmt.Sprintf("%q %s NOT NULL", c.Name.String(), c.Vector.Type.SQLiteTypeName()))
	}
	stmt := fmt.Sprintf("CREATE TABLE %q (%s) STRICT;", t.Name.String(), strings.Join(cols, ", "))
	_, err := img.RW.Exec(stmt)
	return err
}

func (img *Image) bulkInsert(t *core.DataTable) error {
	var names []string
	var cols []*core.DataColumn
	for _, c := range t.Columns {
		if c.Key.Kind == core.ParentPrimary {
			continue
		}
		names = append(names, c.Name.String())
		cols = append(cols, c)
	}
	if len(cols) == 0 || t.Len() == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	stmt := fmt.Sprintf("INSERT INTO %q (%s) VALUES (%s)", t.Name.String(), strings.Join(quoted, ", "), placeholders)

	tx, err := img.RW.Begin()
	if err != nil {
		return err
	}
	prepared, err := tx.Prepare(stmt)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer prepared.Close()

	for row := 0; row < t.Len(); row++ {
		args := make([]any, len(cols))
		for i, c := range cols {
			args[i] = c.Vector.AnyAt(row)
		}
		if _, err := prepared.Exec(args...); err != nil {
			tx.Rollback()
			return core.Errf(core.KindSqlMatViewStatementQueryException, "table_name", t.Name, "error", err.Error())
		}
	}
	return tx.Commit()
}

func (img *Image) indexColumns(t *core.DataTable) error {
	for _, c := range t.Columns {
		if c.Key.Kind == core.ParentPrimary {
			continue
		}
		idxName := fmt.Sprintf("idx_%s_%s", t.Name.String(), c.Name.String())
		stmt := fmt.Sprintf("CREATE INDEX %q ON %q (%q);", idxName, t.Name.String(), c.Name.String())
		if _, err := img.RW.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// MaterializedRow is one row produced by a view expression, column values
// in the view's own column order.
type MaterializedRow struct {
	Values []any
	sortKey string
}

// PopulateMaterializedView runs t's view expression on the RO connection,
// validates its shape against t's columns, sorts rows lexicographically by
// their string form for determinism, and inserts them back via the RW
// connection so later views may depend on t.
func (img *Image) PopulateMaterializedView(t *core.DataTable) error {
	rows, err := img.RO.Query(t.MatViewExpression)
	if err != nil {
		return core.Errf(core.KindSqlMatViewStatementPrepareException, "table_name", t.Name, "sql_expression", t.MatViewExpression, "error", err.Error())
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return err
	}
	if len(colTypes) != len(t.Columns) {
		return core.Errf(core.KindSqlMatViewWrongColumnCount, "table_name", t.Name, "sql_expression", t.MatViewExpression,
			"expected_columns", len(t.Columns), "actual_columns", len(colTypes))
	}

	var materialized []MaterializedRow
	rowIdx := 0
	for rows.Next() {
		rowIdx++
		scanDest := make([]any, len(t.Columns))
		scanPtrs := make([]any, len(t.Columns))
		for i := range scanDest {
			scanPtrs[i] = &scanDest[i]
		}
		if err := rows.Scan(scanPtrs...); err != nil {
			return core.Errf(core.KindSqlMatViewStatementQueryException, "table_name", t.Name, "sql_expression", t.MatViewExpression, "error", err.Error())
		}

		var keyParts []string
		for i, c := range t.Columns {
			v := scanDest[i]
			if v == nil {
				return core.Errf(core.KindSqlMatViewNullReturnsUnsupported, "table_name", t.Name, "sql_expression", t.MatViewExpression, "column_name", c.Name, "return_row_index", rowIdx)
			}
			if !compatible(c.Vector.Type, v) {
				return core.Errf(core.KindSqlMatViewWrongColumnTypeReturned, "table_name", t.Name, "sql_expression", t.MatViewExpression,
					"column_name", c.Name, "return_row_index", rowIdx, "actual_column_type", fmt.Sprintf("%T", v), "expected_column_type", c.Vector.Type)
			}
			keyParts = append(keyParts, fmt.Sprintf("%v", v))
		}
		materialized = append(materialized, MaterializedRow{Values: scanDest, sortKey: strings.Join(keyParts, "\x00")})
	}

	sort.SliceStable(materialized, func(i, j int) bool { return materialized[i].sortKey < materialized[j].sortKey })

	for _, mr := range materialized {
		for i, c := range t.Columns {
			appendScalar(c.Vector, mr.Values[i])
		}
	}
	return img.LoadTable(t)
}

func compatible(target core.DBType, v any) bool {
	switch target {
	case core.TypeInt:
		switch v.(type) {
		case int64, int:
			return true
		}
	case core.TypeFloat:
		switch v.(type) {
		case int64, int, float64:
			return true
		}
	case core.TypeText:
		switch v.(type) {
		case int64, int, float64, string:
			return true
		}
	case core.TypeBool:
		switch n := v.(type) {
		case int64:
			return n == 0 || n == 1
		case int:
			return n == 0 || n == 1
		}
	}
	return false
}

func appendScalar(v *core.ColumnVector, value any) {
	switch v.Type {
	case core.TypeText:
		v.Strings = append(v.Strings, fmt.Sprintf("%v", value))
	case core.TypeInt:
		v.Ints = append(v.Ints, toInt64(value))
	case core.TypeFloat:
		v.Floats = append(v.Floats, toFloat64(value))
	case core.TypeBool:
		v.Bools = append(v.Bools, toInt64(value) != 0)
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
