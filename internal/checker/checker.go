// Package checker drives the full pipeline (spec §2 control flow) from a
// parser-produced Program to a serialized database, the way the teacher's
// internal/apply/analyzer.go orchestrates diff/migration/apply into one
// entry point.
package checker

import (
	"os"

	"edl/internal/core"
	"edl/internal/insert"
	"edl/internal/metadata"
	"edl/internal/parsecontract"
	"edl/internal/proof"
	"edl/internal/relational"
	"edl/internal/replace"
	"edl/internal/script"
	"edl/internal/serialize"
	"edl/internal/sqlimage"
)

// Options configures one Run: feature gates and the external inputs a
// parser-produced Program doesn't itself carry.
type Options struct {
	// ReplacementsJSON, if non-nil, is decoded and validated against the
	// resolved database before insertion (spec §4.5).
	ReplacementsJSON []byte

	// DatalogEnabled gates Datalog-kind proofs (spec §4.10); an encountered
	// Datalog proof fails with DatalogIsDisabled when false.
	DatalogEnabled bool

	// SQLImageToken seeds the SQL image's in-memory database name, so
	// concurrent runs never collide. Required whenever an image is built.
	SQLImageToken string

	// SQLiteDumpPath, if set, VACUUM INTOs the SQL image to this path once
	// its tables are loaded and materialized views populated (before
	// relational resolution and proofs), for external inspection. Nothing
	// is dumped when no SQL image is built.
	SQLiteDumpPath string

	// ForceSQLImage builds the SQL image even if no table or proof needs
	// one, useful for --sqlite-dump without a materialized view or SQL
	// proof in the project.
	ForceSQLImage bool
}

// Result carries everything a Run produced worth returning to a caller.
type Result struct {
	DB         *core.Database
	Serialized []byte

	// RewrittenFiles holds, keyed by SourceFileID, the post-replacement
	// bytes of every source file a replacement touched. Empty when no
	// replacements config was supplied or it touched nothing.
	RewrittenFiles map[int][]byte
}

// Run executes spec §2's full pipeline against program and returns the
// resolved database plus its serialized form.
func Run(program *parsecontract.Program, opts Options) (*Result, error) {
	db, err := metadata.Build(program)
	if err != nil {
		return nil, err
	}

	var replacer *replace.Manager
	if len(opts.ReplacementsJSON) > 0 {
		cfg, err := replace.DecodeConfig(opts.ReplacementsJSON)
		if err != nil {
			return nil, err
		}
		replacer, err = replace.New(db, cfg)
		if err != nil {
			return nil, err
		}
	}

	var rt *script.Runtime
	if needsScripting(db, program) {
		sources, err := loadScriptSources(program.ScriptIncludes)
		if err != nil {
			return nil, err
		}
		rt, err = script.New(sources)
		if err != nil {
			return nil, err
		}
		defer rt.Close()
	}

	var queued map[string][]map[string]string
	if rt != nil {
		queued, err = rt.HarvestQueuedData()
		if err != nil {
			return nil, err
		}
	}

	ins := insert.New(db)
	ins.Replacer = replacer
	if err := ins.InsertAll(program.DataSegments); err != nil {
		return nil, err
	}
	if len(queued) > 0 {
		if err := ins.HarvestScriptQueuedRows(queued); err != nil {
			return nil, err
		}
	}
	if replacer != nil {
		if err := replacer.CheckAllUsed(); err != nil {
			return nil, err
		}
	}

	if err := computeGeneratedColumns(db, rt); err != nil {
		return nil, err
	}

	var img *sqlimage.Image
	if needsSQLImage(db, program, opts) {
		img, err = sqlimage.Open(opts.SQLImageToken)
		if err != nil {
			return nil, err
		}
		defer img.Close()

		for _, t := range db.TablesSortedByName() {
			if t.MatViewExpression != "" {
				continue
			}
			if err := img.LoadTable(t); err != nil {
				return nil, err
			}
		}
		for _, t := range db.TablesSortedByName() {
			if t.MatViewExpression == "" {
				continue
			}
			if err := img.PopulateMaterializedView(t); err != nil {
				return nil, err
			}
		}
		if opts.SQLiteDumpPath != "" {
			if _, err := img.RW.Exec("VACUUM INTO ?", opts.SQLiteDumpPath); err != nil {
				return nil, err
			}
		}
	}

	if err := relational.Resolve(db, rt); err != nil {
		return nil, err
	}

	if err := proof.RunSQLProofs(img, db, program.Proofs); err != nil {
		return nil, err
	}
	if err := proof.RunDatalogProofs(db, program.Proofs, opts.DatalogEnabled); err != nil {
		return nil, err
	}

	var rewritten map[int][]byte
	if replacer != nil {
		rewritten = replace.ApplyToSources(program.SourceFiles, replacer.Scheduled())
	}

	dumped, err := serialize.Dump(db)
	if err != nil {
		return nil, err
	}

	return &Result{DB: db, Serialized: dumped, RewrittenFiles: rewritten}, nil
}

// needsScripting reports whether any row check, generated column, or
// explicit script include requires a Lua runtime at all.
func needsScripting(db *core.Database, program *parsecontract.Program) bool {
	if len(program.ScriptIncludes) > 0 {
		return true
	}
	for _, t := range db.Tables {
		if len(t.RowChecks) > 0 {
			return true
		}
		for _, c := range t.Columns {
			if c.GenerateExpression != "" {
				return true
			}
		}
	}
	return false
}

// needsSQLImage reports whether anything in db or program's proofs reads
// from the SQL image.
func needsSQLImage(db *core.Database, program *parsecontract.Program, opts Options) bool {
	if opts.ForceSQLImage {
		return true
	}
	for _, t := range db.Tables {
		if t.MatViewExpression != "" {
			return true
		}
	}
	for _, p := range program.Proofs {
		if p.Kind == parsecontract.ExpressionSQL {
			return true
		}
	}
	return false
}

// loadScriptSources reads every included Lua file from disk, keyed by its
// declared path: the checker itself performs this I/O since spec §5 treats
// script includes as filesystem paths resolved relative to the project
// root, not as content the parser contract embeds.
func loadScriptSources(includes []parsecontract.ScriptInclude) (map[string]string, error) {
	sources := make(map[string]string, len(includes))
	for _, inc := range includes {
		content, err := os.ReadFile(inc.Path)
		if err != nil {
			return nil, core.Errf(core.KindLuaSourcesLoadError, "error", err.Error(), "source_file", inc.Path)
		}
		sources[inc.Path] = string(content)
	}
	return sources, nil
}

// computeGeneratedColumns evaluates every generated column's expression
// once the full row set is known, overwriting the dummy placeholder values
// insertion pushed. A generated column may only reference non-generated
// columns of the same row: other generated columns still carry their
// placeholder until their own turn in table order.
func computeGeneratedColumns(db *core.Database, rt *script.Runtime) error {
	for _, t := range db.Tables {
		rowCount := t.Len()
		for _, c := range t.Columns {
			if c.GenerateExpression == "" {
				continue
			}
			var knownNames []string
			var knownValues []*core.ColumnVector
			for _, other := range t.Columns {
				if other.GenerateExpression != "" {
					continue
				}
				knownNames = append(knownNames, other.Name.String())
				knownValues = append(knownValues, other.Vector)
			}
			results, err := rt.ComputeGeneratedColumn(t.Name.String(), c.Name.String(), c.GenerateExpression, knownNames, knownValues, rowCount, c.Vector.Type)
			if err != nil {
				return err
			}
			for i, raw := range results {
				if err := c.Vector.SetAt(i, raw); err != nil {
					rowValues := make([]string, len(knownValues))
					for k, v := range knownValues {
						rowValues[k] = v.StringAt(i)
					}
					return core.Errf(core.KindLuaColumnGenerationExpressionComputeTypeMismatch,
						"table_name", t.Name, "column_name", c.Name, "input_row_fields", knownNames,
						"input_row_values", rowValues, "computed_value", raw, "expression", c.GenerateExpression)
				}
			}
		}
	}
	return nil
}
