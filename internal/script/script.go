// Package script runs the embedded Lua evaluator used for generated
// columns and row checks. It owns one *lua.LState per Runtime and scopes
// every per-row global it publishes, clearing them before returning so the
// generated-column and row-check phases never leak state into each other.
package script

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"edl/internal/core"
)

// Runtime wraps a single Lua VM shared by generated-column computation,
// row checks, and script-queued data harvesting.
type Runtime struct {
	L *lua.LState
}

// New constructs a Runtime and loads every included script source.
func New(sources map[string]string) (*Runtime, error) {
	L := lua.NewState()
	rt := &Runtime{L: L}
	for path, src := range sources {
		if err := L.DoString(src); err != nil {
			return nil, core.Errf(core.KindLuaSourcesLoadError, "error", err.Error(), "source_file", path)
		}
	}
	return rt, nil
}

// Close releases the underlying VM.
func (rt *Runtime) Close() { rt.L.Close() }

// preprocessExpression rewrites a bare trailing expression into an
// explicit return so one-liners behave like expressions: if the last
// nonempty line has no "return", it is rewritten as "return <line>".
func preprocessExpression(expr string) string {
	lines := strings.Split(strings.TrimRight(expr, "\n"), "\n")
	lastIdx := -1
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			lastIdx = i
			break
		}
	}
	if lastIdx == -1 {
		return expr
	}
	trimmed := strings.TrimSpace(lines[lastIdx])
	if strings.HasPrefix(trimmed, "return") {
		return expr
	}
	lines[lastIdx] = "return " + trimmed
	return strings.Join(lines, "\n")
}

func (rt *Runtime) publishRow(names []string, values []*core.ColumnVector, idx int) {
	for i, name := range names {
		v := values[i]
		var lv lua.LValue
		switch v.Type {
		case core.TypeText:
			lv = lua.LString(v.Strings[idx])
		case core.TypeInt:
			lv = lua.LNumber(v.Ints[idx])
		case core.TypeFloat:
			lv = lua.LNumber(v.Floats[idx])
		case core.TypeBool:
			lv = lua.LBool(v.Bools[idx])
		default:
			lv = lua.LNil
		}
		rt.L.SetGlobal(name, lv)
	}
}

func (rt *Runtime) clearGlobals(names []string) {
	for _, name := range names {
		rt.L.SetGlobal(name, lua.LNil)
	}
}

// ComputeGeneratedColumn evaluates expr once per row of length rowCount,
// publishing knownNames/knownValues before each call, and returns each
// row's computed value as a string in target's text form.
func (rt *Runtime) ComputeGeneratedColumn(tableName, columnName, expr string, knownNames []string, knownValues []*core.ColumnVector, rowCount int, target core.DBType) ([]string, error) {
	processed := preprocessExpression(expr)
	fn, err := rt.L.LoadString(processed)
	if err != nil {
		return nil, core.Errf(core.KindLuaColumnGenerationExpressionLoadError, "table_name", tableName, "column_name", columnName, "expression", expr, "error", err.Error())
	}

	out := make([]string, rowCount)
	for i := 0; i < rowCount; i++ {
		rt.publishRow(knownNames, knownValues, i)

		rt.L.Push(fn)
		if callErr := rt.L.PCall(0, 1, nil); callErr != nil {
			rt.clearGlobals(knownNames)
			return nil, core.Errf(core.KindLuaColumnGenerationExpressionComputeError,
				"table_name", tableName, "column_name", columnName, "input_row_fields", knownNames,
				"input_row_values", rowValuesAsStrings(knownValues, i), "expression", expr, "error", callErr.Error())
		}
		ret := rt.L.Get(-1)
		rt.L.Pop(1)

		s, ok := coerce(ret, target)
		if !ok {
			rt.clearGlobals(knownNames)
			return nil, core.Errf(core.KindLuaColumnGenerationExpressionComputeTypeMismatch,
				"table_name", tableName, "column_name", columnName, "input_row_fields", knownNames,
				"input_row_values", rowValuesAsStrings(knownValues, i), "computed_value", ret.String(), "expression", expr)
		}
		out[i] = s
	}
	rt.clearGlobals(knownNames)
	return out, nil
}

func coerce(v lua.LValue, target core.DBType) (string, bool) {
	switch target {
	case core.TypeText:
		if s, ok := v.(lua.LString); ok {
			return string(s), true
		}
		return "", false
	case core.TypeInt:
		if n, ok := v.(lua.LNumber); ok {
			return fmt.Sprintf("%d", int64(n)), true
		}
		return "", false
	case core.TypeFloat:
		if n, ok := v.(lua.LNumber); ok {
			return fmt.Sprintf("%g", float64(n)), true
		}
		return "", false
	case core.TypeBool:
		if b, ok := v.(lua.LBool); ok {
			return fmt.Sprintf("%t", bool(b)), true
		}
		return "", false
	default:
		return "", false
	}
}

func rowValuesAsStrings(values []*core.ColumnVector, idx int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = v.StringAt(idx)
	}
	return out
}

// EvaluateRowCheck runs expr once per row, publishing every column as a
// global, requiring the result to be exactly boolean true.
func (rt *Runtime) EvaluateRowCheck(tableName, expr string, columnNames []string, columnValues []*core.ColumnVector, rowCount int) error {
	processed := preprocessExpression(expr)
	fn, err := rt.L.LoadString(processed)
	if err != nil {
		return core.Errf(core.KindLuaCheckEvaluationError, "table_name", tableName, "expression", expr, "error", err.Error())
	}

	for i := 0; i < rowCount; i++ {
		rt.publishRow(columnNames, columnValues, i)

		rt.L.Push(fn)
		if callErr := rt.L.PCall(0, 1, nil); callErr != nil {
			rt.clearGlobals(columnNames)
			return core.Errf(core.KindLuaCheckEvaluationError, "table_name", tableName, "expression", expr,
				"column_names", columnNames, "row_values", rowValuesAsStrings(columnValues, i), "error", callErr.Error())
		}
		ret := rt.L.Get(-1)
		rt.L.Pop(1)

		b, ok := ret.(lua.LBool)
		if !ok {
			rt.clearGlobals(columnNames)
			return core.Errf(core.KindLuaCheckEvaluationErrorUnexpectedReturnType, "table_name", tableName, "expression", expr,
				"column_names", columnNames, "row_values", rowValuesAsStrings(columnValues, i))
		}
		if !bool(b) {
			rt.clearGlobals(columnNames)
			return core.Errf(core.KindLuaCheckEvaluationFailed, "table_name", tableName, "expression", expr,
				"column_names", columnNames, "row_values", rowValuesAsStrings(columnValues, i))
		}
	}
	rt.clearGlobals(columnNames)
	return nil
}

// HarvestQueuedData reads the fixed global table "edl_queued_data" after
// user scripts have run: table name -> sequence of scalar-valued records.
func (rt *Runtime) HarvestQueuedData() (map[string][]map[string]string, error) {
	root := rt.L.GetGlobal("edl_queued_data")
	if root == lua.LNil {
		return nil, nil
	}
	table, ok := root.(*lua.LTable)
	if !ok {
		return nil, core.Errf(core.KindLuaDataTableInvalidTableValue, "found_value", root.String())
	}

	out := map[string][]map[string]string{}
	var rangeErr error
	table.ForEach(func(k, v lua.LValue) {
		if rangeErr != nil {
			return
		}
		keyStr, ok := k.(lua.LString)
		if !ok {
			rangeErr = core.Errf(core.KindLuaDataTableInvalidKeyTypeIsNotString, "found_value", k.String())
			return
		}
		rows, ok := v.(*lua.LTable)
		if !ok {
			rangeErr = core.Errf(core.KindLuaDataTableInvalidTableValue, "found_value", v.String())
			return
		}
		var records []map[string]string
		rows.ForEach(func(_, rowVal lua.LValue) {
			if rangeErr != nil {
				return
			}
			rec, ok := rowVal.(*lua.LTable)
			if !ok {
				rangeErr = core.Errf(core.KindLuaDataTableInvalidRecordValue, "found_value", rowVal.String())
				return
			}
			fields := map[string]string{}
			rec.ForEach(func(ck, cv lua.LValue) {
				if rangeErr != nil {
					return
				}
				colName, ok := ck.(lua.LString)
				if !ok {
					rangeErr = core.Errf(core.KindLuaDataTableInvalidRecordColumnNameValue, "found_value", ck.String())
					return
				}
				switch cv.Type() {
				case lua.LTTable, lua.LTFunction:
					rangeErr = core.Errf(core.KindLuaDataTableRecordInvalidColumnValue, "column_name", string(colName), "column_value", cv.String())
					return
				}
				fields[string(colName)] = cv.String()
			})
			records = append(records, fields)
		})
		out[string(keyStr)] = records
	})
	if rangeErr != nil {
		return nil, rangeErr
	}
	return out, nil
}
