// Package replace implements source-value replacements (spec §4.5): an
// externally supplied JSON document substituting specific cell values,
// matched by table and composite primary key, applied both to the
// in-memory database during insertion and, at the end of a run, spliced
// back into the original source files. The wire format is plain JSON per
// spec §4.5/§6, so stdlib encoding/json is the right tool; there is no
// third-party decoding library to reach for here.
package replace

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"edl/internal/core"
	"edl/internal/parsecontract"
)

// ScheduledValueReplacement is one pending write-back edit to a parsed
// source file: splice the byte range [OffsetStart, OffsetEnd) with Value.
type ScheduledValueReplacement struct {
	SourceFileID int
	OffsetStart  int
	OffsetEnd    int
	Value        string
}

// FieldRef is one column's source-text location within the row currently
// being inserted, handed to Apply so a matching replacement can be spliced
// back into that exact span later.
type FieldRef struct {
	ColumnName core.Identifier
	Value      parsecontract.DataFieldValue
}

type entry struct {
	primaryKey   string
	replacements map[string]string
	used         map[string]bool
}

// Manager validates a decoded replacement configuration against a resolved
// database and, during insertion, matches rows by composite primary key,
// substitutes their values, and accumulates scheduled source-file splices.
type Manager struct {
	byTable   map[core.Identifier]map[string]*entry
	scheduled []ScheduledValueReplacement
}

// DecodeConfig unmarshals the external JSON replacements document (spec
// §4.5, §6): {table_name: [{primary_key, replacements: {column: value}}]}.
func DecodeConfig(raw []byte) (parsecontract.ReplacementConfig, error) {
	var cfg parsecontract.ReplacementConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decoding replacements config: %w", err)
	}
	return cfg, nil
}

// New validates cfg against db and returns a Manager ready to consume rows
// during insertion. Every validation in spec §4.5 fails fast.
func New(db *core.Database, cfg parsecontract.ReplacementConfig) (*Manager, error) {
	m := &Manager{byTable: map[core.Identifier]map[string]*entry{}}

	for tableName, entries := range cfg {
		table := db.FindTable(core.Identifier(tableName))
		if table == nil {
			return nil, core.Errf(core.KindReplacementTargetTableNotFound, "table_name", tableName)
		}
		pk := table.PrimaryKeyColumn()
		if pk == nil || !(pk.Key.Kind == core.Primary || pk.Key.Kind == core.ChildPrimary) {
			return nil, core.Errf(core.KindReplacementTableHasNoSupportedPrimaryKey, "table_name", tableName)
		}
		expectedSegments := len(table.PrimaryKeysWithParents())

		seen := map[string]*entry{}
		for _, e := range entries {
			if _, dup := seen[e.PrimaryKey]; dup {
				return nil, core.Errf(core.KindReplacementPrimaryKeyNotUnique, "table_name", tableName, "primary_key", e.PrimaryKey)
			}
			segs := strings.Split(e.PrimaryKey, "=>")
			if len(segs) != expectedSegments {
				return nil, core.Errf(core.KindReplacementPrimaryKeySegmentCountMismatch,
					"table_name", tableName, "primary_key", e.PrimaryKey, "expected_segments", expectedSegments, "actual_segments", len(segs))
			}
			for colName, value := range e.Replacements {
				col := table.FindColumn(core.Identifier(colName))
				if col == nil {
					return nil, core.Errf(core.KindReplacementColumnNotFound, "table_name", tableName, "column_name", colName)
				}
				if col.GenerateExpression != "" {
					return nil, core.Errf(core.KindReplacementColumnIsGenerated, "table_name", tableName, "column_name", colName)
				}
				if col.Key.Kind == core.ParentPrimary {
					return nil, core.Errf(core.KindReplacementColumnIsParentPrimary, "table_name", tableName, "column_name", colName)
				}
				if strings.Contains(value, `"`) {
					return nil, core.Errf(core.KindReplacementValueContainsQuote, "table_name", tableName, "column_name", colName, "value", value)
				}
			}
			seen[e.PrimaryKey] = &entry{primaryKey: e.PrimaryKey, replacements: e.Replacements, used: map[string]bool{}}
		}
		m.byTable[table.Name] = seen
	}
	return m, nil
}

// Apply looks up table/compositeKey's replacement entry, if any, and
// returns the columns it overrides (name -> new raw value). Every
// overridden field is also recorded as a ScheduledValueReplacement at its
// source file and byte span; replacing a value that came from a
// script-queued row (SourceFileID < 0, the "not replaceable" sentinel) is
// rejected.
func (m *Manager) Apply(table core.Identifier, compositeKey string, fields []FieldRef) (map[core.Identifier]string, error) {
	entries := m.byTable[table]
	if entries == nil {
		return nil, nil
	}
	e := entries[compositeKey]
	if e == nil {
		return nil, nil
	}

	overrides := map[core.Identifier]string{}
	for _, f := range fields {
		newVal, ok := e.replacements[f.ColumnName.String()]
		if !ok {
			continue
		}
		if f.Value.SourceFileID < 0 {
			return nil, core.Errf(core.KindReplacementOverLuaGeneratedValuesIsNotSupported,
				"table_name", table, "primary_key", compositeKey, "column_name", f.ColumnName)
		}
		overrides[f.ColumnName] = newVal
		e.used[f.ColumnName.String()] = true
		m.scheduled = append(m.scheduled, ScheduledValueReplacement{
			SourceFileID: f.Value.SourceFileID,
			OffsetStart:  f.Value.ByteStart,
			OffsetEnd:    f.Value.ByteEnd,
			Value:        newVal,
		})
	}
	return overrides, nil
}

// CheckAllUsed reports ReplacementNeverUsed for the first replacement column
// that never matched an inserted row.
func (m *Manager) CheckAllUsed() error {
	for tableName, entries := range m.byTable {
		for key, e := range entries {
			for col := range e.replacements {
				if !e.used[col] {
					return core.Errf(core.KindReplacementNeverUsed, "table_name", tableName, "primary_key", key)
				}
			}
		}
	}
	return nil
}

// Scheduled returns every replacement scheduled by Apply so far, in the
// order they were produced.
func (m *Manager) Scheduled() []ScheduledValueReplacement {
	return m.scheduled
}

// unquotedCharset is the charset a replacement value may use in source
// text without being wrapped in quotes (spec §4.5/§6).
var unquotedCharset = regexp.MustCompile(`^[A-Za-z0-9_\-.!@#$%^&*=>]*$`)

// renderValue auto-quotes value when it contains a character outside the
// unquoted-data charset. Values containing a double quote are rejected at
// config-validation time in New, so this never needs to reject here.
func renderValue(value string) string {
	if unquotedCharset.MatchString(value) {
		return value
	}
	return `"` + value + `"`
}

// ApplyToSources splices every scheduled replacement into its source
// file's contents, sorted by offset within each file, and returns the
// rewritten bytes keyed by source file id. A file whose rewritten content
// is byte-identical to its original is omitted, so callers can rewrite
// exactly the files present in the result. Text outside a spliced range —
// including same-line trailing comments — is carried through untouched.
func ApplyToSources(sources map[int]parsecontract.SourceFile, scheduled []ScheduledValueReplacement) map[int][]byte {
	byFile := map[int][]ScheduledValueReplacement{}
	for _, s := range scheduled {
		byFile[s.SourceFileID] = append(byFile[s.SourceFileID], s)
	}

	out := map[int][]byte{}
	for fileID, edits := range byFile {
		src, ok := sources[fileID]
		if !ok {
			continue
		}
		sort.Slice(edits, func(i, j int) bool { return edits[i].OffsetStart < edits[j].OffsetStart })

		var b strings.Builder
		cursor := 0
		for _, e := range edits {
			if e.OffsetStart < cursor || e.OffsetStart > len(src.Contents) || e.OffsetEnd > len(src.Contents) {
				continue
			}
			b.Write(src.Contents[cursor:e.OffsetStart])
			b.WriteString(renderValue(e.Value))
			cursor = e.OffsetEnd
		}
		b.Write(src.Contents[cursor:])

		rewritten := []byte(b.String())
		if string(rewritten) == string(src.Contents) {
			continue
		}
		out[fileID] = rewritten
	}
	return out
}
