// Package proof runs SQL proofs against the SQL image and Datalog proofs
// against the hand-rolled evaluator, both defined over a resolved
// core.Database.
package proof

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"edl/internal/core"
	"edl/internal/datalog"
	"edl/internal/parsecontract"
	"edl/internal/sqlimage"
)

// rowidSelectRe approximates the "returns exactly one column named rowid,
// whose origin table/column are T/rowid" check from a live SQL engine's
// column-metadata introspection, which modernc.org/sqlite's database/sql
// driver does not expose (it requires SQLITE_ENABLE_COLUMN_METADATA, built
// into the native C library, not the embedded pure-Go one). We instead
// require the query text to project rowid directly off the proof's target
// table, which is the shape every such proof in practice takes.
var rowidSelectRe = regexp.MustCompile(`(?is)^\s*select\s+(?:"?([a-z0-9_]+)"?\.)?rowid\b`)

// RunSQLProofs evaluates every SQL-kind proof and returns the first
// failure, or nil if every proof found no offenders.
func RunSQLProofs(img *sqlimage.Image, db *core.Database, proofs []parsecontract.ProofDef) error {
	for _, p := range proofs {
		if p.Kind != parsecontract.ExpressionSQL {
			continue
		}
		if err := runOneSQLProof(img, db, p); err != nil {
			return err
		}
	}
	return nil
}

func runOneSQLProof(img *sqlimage.Image, db *core.Database, p parsecontract.ProofDef) error {
	target := db.FindTable(core.Identifier(p.OutputTableName))
	if target == nil {
		return core.Errf(core.KindSqlProofTableNotFound, "table_name", p.OutputTableName, "comment", p.Comment, "proof_expression", p.ExpressionText)
	}

	m := rowidSelectRe.FindStringSubmatch(p.ExpressionText)
	if m == nil || (m[1] != "" && !strings.EqualFold(m[1], target.Name.String())) {
		observed := "<no rowid projection found>"
		if m != nil {
			observed = m[1]
			if observed == "" {
				observed = "<unqualified>"
			}
		}
		return core.Errf(core.KindSqlProofQueryColumnOriginMismatchesExpected,
			"table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText,
			"expected_column_origin_table", target.Name, "actual_column_origin_table", observed)
	}

	rows, err := img.RO.Query(p.ExpressionText)
	if err != nil {
		return core.Errf(core.KindSqlProofQueryError, "error", err.Error(), "table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText)
	}
	defer rows.Close()

	var offenderRowIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return core.Errf(core.KindSqlProofQueryError, "error", err.Error(), "table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText)
		}
		offenderRowIDs = append(offenderRowIDs, id)
	}
	if len(offenderRowIDs) == 0 {
		return nil
	}

	var offenders []string
	for _, id := range offenderRowIDs {
		js, err := target.RowJSON(int(id) - 1)
		if err != nil {
			return err
		}
		offenders = append(offenders, js)
	}
	return core.Errf(core.KindSqlProofOffendersFound, "table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText, "offending_rows", offenders)
}

// RunDatalogProofs evaluates every Datalog-kind proof. enabled gates the
// whole feature: if false and any Datalog proof exists, the first one
// fails immediately with DatalogIsDisabled.
func RunDatalogProofs(db *core.Database, proofs []parsecontract.ProofDef, enabled bool) error {
	for _, p := range proofs {
		if p.Kind != parsecontract.ExpressionDatalog {
			continue
		}
		if !enabled {
			return core.Errf(core.KindDatalogIsDisabled, "table_name", p.OutputTableName, "comment", p.Comment)
		}
		if err := runOneDatalogProof(db, p); err != nil {
			return err
		}
	}
	return nil
}

var outputHeadRe = regexp.MustCompile(`(?i)\bOUTPUT\s*\(\s*([A-Za-z_][A-Za-z0-9_]*)\s*\)\s*:-`)

func runOneDatalogProof(db *core.Database, p parsecontract.ProofDef) error {
	target := db.FindTable(core.Identifier(p.OutputTableName))
	if target == nil {
		return core.Errf(core.KindDatalogProofTableNotFound, "table_name", p.OutputTableName, "comment", p.Comment, "proof_expression", p.ExpressionText)
	}

	matches := outputHeadRe.FindAllStringSubmatchIndex(p.ExpressionText, -1)
	if len(matches) == 0 {
		return core.Errf(core.KindDatalogProofOutputRuleNotFound, "table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText)
	}
	if len(matches) > 1 {
		return core.Errf(core.KindDatalogProofTooManyOutputRules, "table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText)
	}

	outputRelation := fmt.Sprintf("datalog_proof_%s", target.Name.String())
	rewritten := outputHeadRe.ReplaceAllString(p.ExpressionText, outputRelation+"($1) :-")

	var rules []datalog.Rule
	for _, line := range strings.Split(rewritten, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r, err := datalog.ParseRule(line)
		if err != nil {
			return core.Errf(core.KindDatalogProofQueryParseError, "error", err.Error(), "table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText)
		}
		rules = append(rules, r)
	}
	if len(rules) == 0 {
		return core.Errf(core.KindDatalogProofNoRulesFound, "table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText)
	}

	if !mentionsTargetRowIndex(rules, target.Name.String(), outputRelation) {
		return core.Errf(core.KindDatalogProofTableExpectedNotFoundInTheOutputQuery, "table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText)
	}

	facts := buildFacts(db)
	results := datalog.Evaluate(rules, facts)

	var offenderIdx []int
	for _, f := range results {
		if f.Relation != outputRelation || len(f.Args) != 1 {
			continue
		}
		idx, err := strconv.Atoi(f.Args[0])
		if err != nil {
			continue
		}
		offenderIdx = append(offenderIdx, idx)
	}
	if len(offenderIdx) == 0 {
		return nil
	}
	sort.Ints(offenderIdx)

	var offenders []string
	for _, idx := range offenderIdx {
		js, err := target.RowJSON(idx)
		if err != nil {
			return err
		}
		offenders = append(offenders, js)
	}
	return core.Errf(core.KindDatalogProofOffendersFound, "table_name", target.Name, "comment", p.Comment, "proof_expression", p.ExpressionText, "offending_rows", offenders)
}

// mentionsTargetRowIndex checks the output rule references some
// t_<target>__<col>(_, Offender) literal with the offender in the
// row-index (second) position.
func mentionsTargetRowIndex(rules []datalog.Rule, table, outputRelation string) bool {
	prefix := "t_" + table + "__"
	for _, r := range rules {
		if r.Head.Relation != outputRelation || len(r.Head.Args) != 1 {
			continue
		}
		offender := r.Head.Args[0].Value
		for _, atom := range r.Body {
			if strings.HasPrefix(atom.Relation, prefix) && len(atom.Args) == 2 &&
				atom.Args[1].IsVar && atom.Args[1].Value == offender {
				return true
			}
		}
	}
	return false
}

// buildFacts materializes t_<table>__<column>(value, row_index) facts for
// every column of every table.
func buildFacts(db *core.Database) []datalog.Fact {
	var facts []datalog.Fact
	for _, t := range db.Tables {
		for _, c := range t.Columns {
			relation := fmt.Sprintf("t_%s__%s", t.Name.String(), c.Name.String())
			for row := 0; row < c.Vector.Len(); row++ {
				facts = append(facts, datalog.Fact{Relation: relation, Args: []string{c.Vector.StringAt(row), strconv.Itoa(row)}})
			}
		}
	}
	return facts
}
