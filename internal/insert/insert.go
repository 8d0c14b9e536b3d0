// Package insert turns parser-contract data segments into column appends
// against a resolved core.Database, handling dataframe rows, struct rows,
// nested WITH blocks, and scripting-runtime queued rows.
package insert

import (
	"strings"

	"edl/internal/core"
	"edl/internal/parsecontract"
	"edl/internal/replace"
)

// contextFrame is one level of the nested-insertion context stack: the
// just-inserted row's own table and its primary key value.
type contextFrame struct {
	table core.Identifier
	value string
}

// implicitValue is a column of the current segment's table whose value is
// supplied by the nesting context (a parent row's key) rather than by the
// source row itself.
type implicitValue struct {
	col        *core.DataColumn
	value      string
	parentName core.Identifier
}

// Inserter drives data insertion against a resolved database.
type Inserter struct {
	DB *core.Database

	// Replacer, when set, is consulted after every row is appended: a row
	// whose composite primary key matches a configured replacement has its
	// values substituted and the edit scheduled for source write-back.
	Replacer *replace.Manager
}

// New returns an Inserter bound to db.
func New(db *core.Database) *Inserter {
	return &Inserter{DB: db}
}

// InsertAll processes every top-level data segment in declaration order.
func (ins *Inserter) InsertAll(segments []parsecontract.DataSegment) error {
	for _, seg := range segments {
		if err := ins.insertSegment(seg, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (ins *Inserter) insertSegment(seg parsecontract.DataSegment, stack []contextFrame, implicit []implicitValue) error {
	table := ins.DB.FindTable(core.Identifier(seg.TableName))
	if table == nil {
		return core.Errf(core.KindTargetTableForDataNotFound, "table_name", seg.TableName)
	}
	if table.ExclusiveLock {
		return core.Errf(core.KindExclusiveDataDefinedMultipleTimes, "table_name", table.Name)
	}
	if table.MatViewExpression != "" {
		return core.Errf(core.KindDataInsertionsToMaterializedViewsNotAllowed, "table_name", table.Name)
	}

	targetCols, err := ins.prepareColumns(table, seg.TargetFields, implicit)
	if err != nil {
		return err
	}

	if len(seg.Rows) > 0 {
		if err := ins.insertDataframeRows(table, targetCols, seg.Rows, stack, implicit); err != nil {
			return err
		}
	}
	if len(seg.StructRows) > 0 {
		if err := ins.insertStructRows(table, seg.StructRows, stack, implicit); err != nil {
			return err
		}
	}

	if seg.IsExclusive {
		table.ExclusiveLock = true
	}
	return nil
}

// prepareColumns resolves the explicit field list, or falls back to the
// table's default tuple order, excluding any column the nesting context
// already supplies (implicit). Explicitly naming an implicit column is
// rejected: a nested row may not redefine the key linking it to its parent.
func (ins *Inserter) prepareColumns(table *core.DataTable, fields []string, implicit []implicitValue) ([]*core.DataColumn, error) {
	implicitSet := map[core.Identifier]bool{}
	var implicitParent core.Identifier
	for _, iv := range implicit {
		implicitSet[iv.col.Name] = true
		implicitParent = iv.parentName
	}

	if fields == nil {
		var out []*core.DataColumn
		for _, c := range table.DefaultTupleOrder() {
			if implicitSet[c.Name] {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}

	seen := map[string]bool{}
	out := make([]*core.DataColumn, 0, len(fields))
	for _, f := range fields {
		if seen[f] {
			return nil, core.Errf(core.KindDuplicateDataColumnNames, "table_name", table.Name, "column_name", f)
		}
		seen[f] = true
		col := table.FindColumn(core.Identifier(f))
		if col == nil {
			return nil, core.Errf(core.KindDataTargetColumnNotFound, "table_name", table.Name, "target_column_name", f)
		}
		if implicitSet[col.Name] {
			return nil, core.Errf(core.KindExtraTableCannotRedefineReferenceKey, "parent_table", implicitParent, "extra_table", table.Name, "column_name", f)
		}
		out = append(out, col)
	}
	for _, c := range table.Columns {
		if seen[c.Name.String()] || implicitSet[c.Name] || !c.IsRequired() {
			continue
		}
		return nil, core.Errf(core.KindDataRequiredNonDefaultColumnValueNotProvided, "table_name", table.Name, "column_name", c.Name)
	}
	return out, nil
}

func (ins *Inserter) insertDataframeRows(table *core.DataTable, targetCols []*core.DataColumn, rows []parsecontract.DataRow, stack []contextFrame, implicit []implicitValue) error {
	for rowIdx, row := range rows {
		if len(row.Values) > len(targetCols) {
			return core.Errf(core.KindDataTooManyColumns, "table_name", table.Name, "row_index", rowIdx+1, "row_size", len(row.Values), "expected_size", len(targetCols))
		}
		if len(row.Values) < len(targetCols) {
			return core.Errf(core.KindDataTooFewColumns, "table_name", table.Name, "row_index", rowIdx+1, "row_size", len(row.Values), "expected_size", len(targetCols))
		}
		for colIdx, col := range targetCols {
			raw := row.Values[colIdx].Raw
			if _, failedValue, perr := col.Vector.TryParseAndAppend([]string{raw}); perr != nil {
				return core.Errf(core.KindDataCannotParseDataColumnValue,
					"table_name", table.Name, "row_index", rowIdx+1, "column_index", colIdx+1,
					"column_name", col.Name, "column_value", failedValue, "expected_type", col.Vector.Type)
			}
		}
		if err := ins.appendImplicit(table, implicit); err != nil {
			return err
		}
		ins.fillMissingColumns(table, append(append([]*core.DataColumn{}, targetCols...), implicitCols(implicit)...), 1)

		fields := make([]replace.FieldRef, len(targetCols))
		for colIdx, col := range targetCols {
			fields[colIdx] = replace.FieldRef{ColumnName: col.Name, Value: row.Values[colIdx]}
		}
		if err := ins.applyReplacements(table, fields); err != nil {
			return err
		}

		if len(row.Nested) > 0 {
			if err := ins.recurseNested(table, row.Nested, stack); err != nil {
				return err
			}
		}
	}
	return nil
}

// fillMissingColumns appends count values (default or dummy) to every
// table column not present in targetCols, keeping all vectors in sync.
func (ins *Inserter) fillMissingColumns(table *core.DataTable, targetCols []*core.DataColumn, count int) {
	present := map[core.Identifier]bool{}
	for _, c := range targetCols {
		present[c.Name] = true
	}
	for _, c := range table.Columns {
		if present[c.Name] {
			continue
		}
		if c.Vector.HasDefaultValue() {
			c.Vector.PushDefaultValues(count)
		} else if c.GenerateExpression != "" {
			c.Vector.PushDummyValues(count)
		}
	}
}

func (ins *Inserter) appendImplicit(table *core.DataTable, implicit []implicitValue) error {
	for _, iv := range implicit {
		if _, failedValue, perr := iv.col.Vector.TryParseAndAppend([]string{iv.value}); perr != nil {
			return core.Errf(core.KindDataCannotParseDataColumnValue,
				"table_name", table.Name, "column_name", iv.col.Name, "column_value", failedValue, "expected_type", iv.col.Vector.Type)
		}
	}
	return nil
}

// applyReplacements checks the just-appended row (the last row of every
// column vector in table) against ins.Replacer by composite primary key,
// and overwrites any column a matching replacement substitutes.
func (ins *Inserter) applyReplacements(table *core.DataTable, fields []replace.FieldRef) error {
	if ins.Replacer == nil {
		return nil
	}
	pkCols := table.PrimaryKeysWithParents()
	if len(pkCols) == 0 {
		return nil
	}
	parts := make([]string, len(pkCols))
	for i, c := range pkCols {
		parts[i] = c.Vector.StringAt(c.Vector.Len() - 1)
	}
	compositeKey := strings.Join(parts, "=>")

	overrides, err := ins.Replacer.Apply(table.Name, compositeKey, fields)
	if err != nil {
		return err
	}
	for colName, newVal := range overrides {
		col := table.FindColumn(colName)
		if err := col.Vector.OverwriteLast(newVal); err != nil {
			return core.Errf(core.KindDataCannotParseDataColumnValue,
				"table_name", table.Name, "column_name", col.Name, "column_value", newVal, "expected_type", col.Vector.Type)
		}
	}
	return nil
}

func implicitCols(implicit []implicitValue) []*core.DataColumn {
	out := make([]*core.DataColumn, len(implicit))
	for i, iv := range implicit {
		out[i] = iv.col
	}
	return out
}

func (ins *Inserter) insertStructRows(table *core.DataTable, rows []parsecontract.StructRow, stack []contextFrame, implicit []implicitValue) error {
	implicitSet := map[core.Identifier]bool{}
	var implicitParent core.Identifier
	for _, iv := range implicit {
		implicitSet[iv.col.Name] = true
		implicitParent = iv.parentName
	}

	for _, row := range rows {
		seen := map[string]bool{}
		var cols []*core.DataColumn
		for _, f := range row.Fields {
			if seen[f.Name] {
				return core.Errf(core.KindDuplicateStructuredDataFields, "table_name", table.Name, "duplicated_column", f.Name)
			}
			seen[f.Name] = true
			col := table.FindColumn(core.Identifier(f.Name))
			if col == nil {
				return core.Errf(core.KindDataTargetColumnNotFound, "table_name", table.Name, "target_column_name", f.Name)
			}
			if implicitSet[col.Name] {
				return core.Errf(core.KindExtraTableCannotRedefineReferenceKey, "parent_table", implicitParent, "extra_table", table.Name, "column_name", f.Name)
			}
			cols = append(cols, col)
		}
		for _, c := range table.Columns {
			if seen[c.Name.String()] || implicitSet[c.Name] || !c.IsRequired() {
				continue
			}
			return core.Errf(core.KindDataRequiredNonDefaultColumnValueNotProvided, "table_name", table.Name, "column_name", c.Name)
		}

		for i, f := range row.Fields {
			if _, failedValue, perr := cols[i].Vector.TryParseAndAppend([]string{f.Value.Raw}); perr != nil {
				return core.Errf(core.KindDataCannotParseDataColumnValue,
					"table_name", table.Name, "column_name", cols[i].Name, "column_value", failedValue, "expected_type", cols[i].Vector.Type)
			}
		}
		if err := ins.appendImplicit(table, implicit); err != nil {
			return err
		}
		ins.fillMissingColumns(table, append(append([]*core.DataColumn{}, cols...), implicitCols(implicit)...), 1)

		fields := make([]replace.FieldRef, len(cols))
		for i, c := range cols {
			fields[i] = replace.FieldRef{ColumnName: c.Name, Value: row.Fields[i].Value}
		}
		if err := ins.applyReplacements(table, fields); err != nil {
			return err
		}

		if len(row.Nested) > 0 {
			if err := ins.recurseNested(table, row.Nested, stack); err != nil {
				return err
			}
		}
	}
	return nil
}

// recurseNested pushes the just-inserted row's own primary frame onto the
// context stack and processes each WITH-nested child segment under it.
func (ins *Inserter) recurseNested(table *core.DataTable, nested []parsecontract.DataSegment, stack []contextFrame) error {
	frame, err := ins.primaryFrameForRow(table)
	if err != nil {
		return err
	}
	childStack := append(append([]contextFrame{}, stack...), frame)
	for _, child := range nested {
		if err := ins.insertNested(table, child, childStack); err != nil {
			return err
		}
	}
	return nil
}

func (ins *Inserter) primaryFrameForRow(table *core.DataTable) (contextFrame, error) {
	pk := table.PrimaryKeyColumn()
	if pk == nil {
		return contextFrame{}, core.Errf(core.KindExtraDataParentMustHavePrimaryKey, "parent_table", table.Name)
	}
	idx := pk.Vector.Len() - 1
	return contextFrame{table: table.Name, value: pk.Vector.StringAt(idx)}, nil
}

func (ins *Inserter) insertNested(parent *core.DataTable, seg parsecontract.DataSegment, stack []contextFrame) error {
	if seg.TableName == parent.Name.String() {
		return core.Errf(core.KindExtraDataRecursiveInsert, "parent_table", parent.Name, "extra_table", seg.TableName)
	}
	for _, f := range stack {
		if f.table.String() == seg.TableName {
			names := make([]string, len(stack))
			for i, fr := range stack {
				names[i] = fr.table.String()
			}
			return core.Errf(core.KindCyclingTablesInContextualInsertsNotAllowed, "table_loop", strings.Join(append(names, seg.TableName), " -> "))
		}
	}

	child := ins.DB.FindTable(core.Identifier(seg.TableName))
	if child == nil {
		return core.Errf(core.KindExtraDataTableNotFound, "parent_table", parent.Name, "extra_table", seg.TableName)
	}

	mode := parent.DetermineNestedInsertionMode(child)
	var implicit []implicitValue

	switch mode.Mode {
	case core.TablesUnrelated:
		return core.Errf(core.KindExtraTableHasNoForeignKeysToThisTable, "parent_table", parent.Name, "extra_table", child.Name)
	case core.AmbiguousForeignKeys:
		return core.Errf(core.KindExtraTableMultipleAmbiguousForeignKeysToThisTable, "parent_table", parent.Name, "extra_table", child.Name, "column_list", columnNamesByIdx(child, mode.AmbiguousColumns))
	case core.ForeignKeyMode:
		col := child.Columns[mode.ForeignKeyColumn]
		frame := stack[len(stack)-1]
		implicit = append(implicit, implicitValue{col: col, value: frame.value, parentName: parent.Name})
	case core.ChildPrimaryKeyMode:
		for _, pc := range child.ImplicitParentPrimaryKeys() {
			val, ok := valueFromStack(stack, pc.Key.ParentTable)
			if !ok {
				continue
			}
			implicit = append(implicit, implicitValue{col: pc, value: val, parentName: parent.Name})
		}
	}

	return ins.insertSegment(seg, stack, implicit)
}

func valueFromStack(stack []contextFrame, table core.Identifier) (string, bool) {
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].table == table {
			return stack[i].value, true
		}
	}
	return "", false
}

func columnNamesByIdx(t *core.DataTable, idxs []int) []string {
	out := make([]string, len(idxs))
	for i, idx := range idxs {
		out[i] = t.Columns[idx].Name.String()
	}
	return out
}

// HarvestScriptQueuedRows turns script-runtime queued rows into struct-row
// inserts with source offset 0, meaning "not replaceable".
func (ins *Inserter) HarvestScriptQueuedRows(queued map[string][]map[string]string) error {
	for tableName, rows := range queued {
		table := ins.DB.FindTable(core.Identifier(tableName))
		if table == nil {
			return core.Errf(core.KindLuaDataTableNoSuchTable, "expected_insertion_table", tableName)
		}
		var structRows []parsecontract.StructRow
		for _, row := range rows {
			var fields []parsecontract.StructField
			for k, v := range row {
				fields = append(fields, parsecontract.StructField{
					Name:  k,
					Value: parsecontract.DataFieldValue{Raw: v, SourceFileID: -1},
				})
			}
			structRows = append(structRows, parsecontract.StructRow{Fields: fields})
		}
		if err := ins.insertStructRows(table, structRows, nil, nil); err != nil {
			return err
		}
	}
	return nil
}
