// Package relational runs the post-data resolution pipeline: snake_case
// and float sanity checks, ordinary and child-keyed foreign key
// resolution, uniqueness enforcement, and row checks.
package relational

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"edl/internal/core"
	"edl/internal/script"
)

// Resolve runs every sub-step of spec §4.11 in order against db. rt may be
// nil if the database has no row checks.
func Resolve(db *core.Database, rt *script.Runtime) error {
	if err := assertColumnLengths(db); err != nil {
		return err
	}
	if err := enforceSnakeCaseRestrictions(db); err != nil {
		return err
	}
	if err := rejectNonFiniteFloats(db); err != nil {
		return err
	}
	if err := resolveOrdinaryForeignKeys(db); err != nil {
		return err
	}
	if err := resolveParentChildCoherence(db); err != nil {
		return err
	}
	if err := resolveChildAndForeignChildReferences(db); err != nil {
		return err
	}
	if err := enforceUniqConstraints(db); err != nil {
		return err
	}
	if rt != nil {
		if err := runRowChecks(db, rt); err != nil {
			return err
		}
	}
	return nil
}

func assertColumnLengths(db *core.Database) error {
	for _, t := range db.Tables {
		if len(t.Columns) == 0 {
			continue
		}
		want := t.Columns[0].Vector.Len()
		for _, c := range t.Columns {
			if c.Vector.Len() != want {
				return core.Errf(core.KindInternalColumnLengthDesync,
					"table_name", t.Name, "column_name", c.Name, "column_length", c.Vector.Len(), "expected_length", want)
			}
		}
	}
	return nil
}

var snakeSegmentRe = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

func enforceSnakeCaseRestrictions(db *core.Database) error {
	for _, t := range db.Tables {
		for _, c := range t.Columns {
			if !c.SnakeCaseRestricted {
				continue
			}
			for row := 0; row < c.Vector.Len(); row++ {
				if c.Vector.Type == core.TypeInt && c.Vector.Ints[row] < 0 {
					return core.Errf(core.KindForeignChildKeyTableIntegerKeyMustBeNonNegative, "referred_table", t.Name, "offending_column", c.Name, "offending_value", c.Vector.Ints[row])
				}
				if c.Vector.Type == core.TypeText {
					v := c.Vector.Strings[row]
					if !snakeSegmentRe.MatchString(v) {
						return core.Errf(core.KindForeignChildKeyTableStringMustBeSnakeCase, "referred_table", t.Name, "offending_column", c.Name, "offending_value", v)
					}
				}
			}
		}
		for _, c := range t.Columns {
			if c.ForeignKey == nil || !(c.ForeignKey.IsToForeignChildTable || c.ForeignKey.IsToSelfChildTable) {
				continue
			}
			target := db.FindTable(c.ForeignKey.ForeignTable)
			if target == nil {
				continue
			}
			expected := len(target.ImplicitParentPrimaryKeys()) + 1
			for row := 0; row < c.Vector.Len(); row++ {
				raw := c.Vector.StringAt(row)
				segs := strings.Split(raw, "=>")
				for i := range segs {
					segs[i] = strings.TrimSpace(segs[i])
				}
				if len(segs) != expected {
					return core.Errf(core.KindForeignChildKeyReferrerHasIncorrectSegmentsInCompositeKey,
						"referrer_table", t.Name, "referrer_column", c.Name, "referee_table", target.Name,
						"expected_segments", expected, "actual_segments", len(segs), "offending_value", raw)
				}
				for _, s := range segs {
					if strings.ContainsAny(s, " \t\n") {
						return core.Errf(core.KindForeignChildKeyReferrerCannotHaveWhitespaceInSegments,
							"referrer_table", t.Name, "referrer_column", c.Name, "referee_table", target.Name, "offending_value", raw)
					}
				}
			}
		}
	}
	return nil
}

func rejectNonFiniteFloats(db *core.Database) error {
	for _, t := range db.Tables {
		for _, c := range t.Columns {
			if c.Vector.Type != core.TypeFloat {
				continue
			}
			for row, f := range c.Vector.Floats {
				if math.IsNaN(f) || math.IsInf(f, 0) {
					return core.Errf(core.KindNanOrInfiniteFloatNumbersAreNotAllowed, "table_name", t.Name, "column_name", c.Name, "column_value", f, "row_index", row+1)
				}
			}
		}
	}
	return nil
}

// 3. Ordinary primary-key foreign keys.
func resolveOrdinaryForeignKeys(db *core.Database) error {
	for _, t := range db.Tables {
		for _, c := range t.Columns {
			if c.ForeignKey == nil || c.ForeignKey.IsToForeignChildTable || c.ForeignKey.IsToSelfChildTable {
				continue
			}
			target := db.FindTable(c.ForeignKey.ForeignTable)
			if target == nil {
				continue
			}
			pk := target.PrimaryKeyColumn()
			if pk == nil {
				continue
			}
			index := buildValueIndex(pk.Vector)
			if target.ReferrerIndex == nil {
				target.ReferrerIndex = map[string][][]int{}
			}
			refKey := fmt.Sprintf("%s__%s", t.Name.String(), c.Name.String())
			reverse := make([][]int, target.Len())

			c.ForeignIndex = make([]int, c.Vector.Len())
			for row := 0; row < c.Vector.Len(); row++ {
				val := c.Vector.StringAt(row)
				idx, ok := index[val]
				if !ok {
					return core.Errf(core.KindNonExistingForeignKey, "table_with_foreign_key", t.Name, "foreign_key_column", c.Name, "referred_table", target.Name, "referred_table_column", pk.Name, "key_value", val)
				}
				c.ForeignIndex[row] = idx
				reverse[idx] = append(reverse[idx], row)
			}
			target.ReferrerIndex[refKey] = reverse
		}
	}
	return nil
}

func buildValueIndex(v *core.ColumnVector) map[string]int {
	idx := map[string]int{}
	for i := 0; i < v.Len(); i++ {
		idx[v.StringAt(i)] = i
	}
	return idx
}

// 4. Parent-primary-key coherence for child tables.
func resolveParentChildCoherence(db *core.Database) error {
	for _, t := range db.Tables {
		parentName, ok := t.ParentTable()
		if !ok {
			continue
		}
		parent := db.FindTable(parentName)
		if parent == nil {
			continue
		}
		ancestorCols := t.ImplicitParentPrimaryKeys()
		bucket := map[string]int{}
		for row := 0; row < parent.Len(); row++ {
			bucket[rowKeyForAncestors(ancestorCols, parent, row)] = row
		}

		seenChildTuples := map[string]bool{}
		t.ParentIndex = make([]int, t.Len())
		pk := t.PrimaryKeyColumn()

		for row := 0; row < t.Len(); row++ {
			var keyParts []string
			for _, ac := range ancestorCols {
				keyParts = append(keyParts, ac.Vector.StringAt(row))
			}
			tuple := strings.Join(keyParts, "\x00")
			parentRow, ok := bucket[tuple]
			if !ok {
				return core.Errf(core.KindParentRecordWithSuchPrimaryKeysDoesntExist, "parent_table", parentName, "parent_columns_names_searched", columnNames(ancestorCols), "parent_columns_to_find", keyParts)
			}
			t.ParentIndex[row] = parentRow

			if pk != nil {
				full := tuple + "\x00" + pk.Vector.StringAt(row)
				if seenChildTuples[full] {
					return core.Errf(core.KindFoundDuplicateChildPrimaryKeySet, "table_name", t.Name, "columns", columnNames(append(append([]*core.DataColumn{}, ancestorCols...), pk)), "duplicate_values", append(append([]string{}, keyParts...), pk.Vector.StringAt(row)))
				}
				seenChildTuples[full] = true
			}

			if parent.ChildrenIndex == nil {
				parent.ChildrenIndex = map[core.Identifier][][]int{}
			}
			lst := parent.ChildrenIndex[t.Name]
			if lst == nil {
				lst = make([][]int, parent.Len())
				parent.ChildrenIndex[t.Name] = lst
			}
			lst[parentRow] = append(lst[parentRow], row)
		}
	}
	return nil
}

func rowKeyForAncestors(cols []*core.DataColumn, table *core.DataTable, row int) string {
	// cols here are the child's own ParentPrimary columns (same values as
	// the parent's own key columns at matching ancestry depth); for the
	// parent's own row we read its own primary/ancestor chain instead.
	parentPK := table.PrimaryKeyColumn()
	parentAncestors := table.ImplicitParentPrimaryKeys()
	var parts []string
	for _, pa := range parentAncestors {
		parts = append(parts, pa.Vector.StringAt(row))
	}
	if parentPK != nil {
		parts = append(parts, parentPK.Vector.StringAt(row))
	}
	return strings.Join(parts, "\x00")
}

func columnNames(cols []*core.DataColumn) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name.String()
	}
	return out
}

// 5. Child-primary / native-child / foreign-child references: bucket the
// referee rows on the common-ancestor key tuple, map the segment tuple to
// a row index.
func resolveChildAndForeignChildReferences(db *core.Database) error {
	for _, t := range db.Tables {
		for _, c := range t.Columns {
			if c.ForeignKey == nil || !(c.ForeignKey.IsToForeignChildTable || c.ForeignKey.IsToSelfChildTable) {
				continue
			}
			target := db.FindTable(c.ForeignKey.ForeignTable)
			if target == nil {
				continue
			}
			targetAncestors := target.ImplicitParentPrimaryKeys()
			targetPK := target.PrimaryKeyColumn()

			bucket := map[string]int{}
			for row := 0; row < target.Len(); row++ {
				var parts []string
				for _, ac := range targetAncestors {
					parts = append(parts, ac.Vector.StringAt(row))
				}
				if targetPK != nil {
					parts = append(parts, targetPK.Vector.StringAt(row))
				}
				bucket[strings.Join(parts, "\x00")] = row
			}

			c.ForeignIndex = make([]int, c.Vector.Len())
			reverse := make([][]int, target.Len())
			for row := 0; row < c.Vector.Len(); row++ {
				raw := c.Vector.StringAt(row)
				segs := strings.Split(raw, "=>")
				for i := range segs {
					segs[i] = strings.TrimSpace(segs[i])
				}
				idx, ok := bucket[strings.Join(segs, "\x00")]
				if !ok {
					return core.Errf(core.KindNonExistingForeignKeyToChildTable,
						"table_with_foreign_key", t.Name, "foreign_key_column", c.Name, "referred_table", target.Name, "key_value", raw)
				}
				c.ForeignIndex[row] = idx
				reverse[idx] = append(reverse[idx], row)
			}
			if target.ReferrerIndex == nil {
				target.ReferrerIndex = map[string][][]int{}
			}
			target.ReferrerIndex[fmt.Sprintf("%s__%s", t.Name.String(), c.Name.String())] = reverse
		}
	}
	return nil
}

// 6. Uniqueness constraints: string form of tuple, Floats forbidden.
func enforceUniqConstraints(db *core.Database) error {
	for _, t := range db.Tables {
		for _, uc := range t.UniqConstraints {
			var cols []*core.DataColumn
			for _, f := range uc.Fields {
				cols = append(cols, t.FindColumn(f))
			}
			seen := map[string]bool{}
			for row := 0; row < t.Len(); row++ {
				var parts []string
				for _, c := range cols {
					parts = append(parts, c.Vector.StringAt(row))
				}
				key := strings.Join(parts, "\x00")
				if seen[key] {
					return core.Errf(core.KindUniqConstraintViolated,
						"table_name", t.Name, "tuple_definition", columnNames(cols), "tuple_value", fmt.Sprintf("(%s)", strings.Join(parts, ", ")))
				}
				seen[key] = true
			}
		}
	}
	return nil
}

// 7. Row checks.
func runRowChecks(db *core.Database, rt *script.Runtime) error {
	for _, t := range db.Tables {
		for _, rc := range t.RowChecks {
			var names []string
			var vectors []*core.ColumnVector
			for _, c := range t.Columns {
				names = append(names, c.Name.String())
				vectors = append(vectors, c.Vector)
			}
			if err := rt.EvaluateRowCheck(t.Name.String(), rc.Expression, names, vectors, t.Len()); err != nil {
				return err
			}
		}
	}
	return nil
}
