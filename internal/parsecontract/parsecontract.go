// Package parsecontract defines the data shapes a parser hands to the
// checker. It contains no parsing logic: building a source file into these
// structs is an external collaborator's job, tests build them directly.
package parsecontract

// ExpressionKind tags the language a proof block's expression is written
// in.
type ExpressionKind int

const (
	ExpressionSQL ExpressionKind = iota
	ExpressionDatalog
)

// ColumnDef is one column as the parser saw it, before any resolution.
type ColumnDef struct {
	Name     string
	TypeText string

	IsPrimaryKey bool

	// ChildPrimaryKeyParent is set when the column was declared as part of
	// a CHILD OF relationship; its value is the parent table name.
	ChildPrimaryKeyParent string

	IsReference               bool
	IsReferenceToForeignChild bool
	IsExplicitForeignChild    bool
	IsReferenceToSelfChild    bool

	// ReferenceTarget is the table name written after the reference arrow,
	// valid when IsReference is true.
	ReferenceTarget string

	DefaultExpression *string
	IsDetachedDefault bool

	GeneratedExpression *string
}

// UniqConstraintDef names a set of columns that must be unique together.
type UniqConstraintDef struct {
	Fields []string
}

// RowCheckDef is a row-level Lua boolean expression, source text only.
type RowCheckDef struct {
	Expression string
	Comment    string
}

// TableDef is one TABLE declaration as the parser saw it.
type TableDef struct {
	Name              string
	Columns           []ColumnDef
	UniqConstraints   []UniqConstraintDef
	RowChecks         []RowCheckDef
	MatViewExpression *string
}

// DataFieldValue is one cell of a dataframe row: the raw source text plus,
// when the row came from a parsed source file, its byte offsets for
// later splice-based replacement write-back.
type DataFieldValue struct {
	Raw string

	SourceFileID int
	ByteStart    int
	ByteEnd      int
}

// DataRow is one dataframe row, column values in the target field order,
// optionally followed by its own nested WITH blocks.
type DataRow struct {
	Values []DataFieldValue
	Nested []DataSegment
}

// StructField is one field of a struct-style data row.
type StructField struct {
	Name  string
	Value DataFieldValue
}

// DataSegment is a DATA block: either a dataframe (TargetFields + Rows) or
// a sequence of struct rows (StructRows), optionally nested via Nested.
type DataSegment struct {
	TableName string

	// TargetFields is the explicit column list, or nil to use the table's
	// default tuple order.
	TargetFields []string
	Rows         []DataRow

	StructRows []StructRow

	IsExclusive bool
}

// StructRow is one WITH-nestable struct-style row.
type StructRow struct {
	Fields []StructField
	Nested []DataSegment
}

// DetachedDefaultDef declares a default value for a column from outside
// its table definition.
type DetachedDefaultDef struct {
	TableName  string
	ColumnName string
	Expression string
}

// ProofDef is a PROVE block: a SQL or Datalog expression checked against
// the SQL image or the Datalog engine, naming the table its offenders are
// attributed to.
type ProofDef struct {
	Comment         string
	OutputTableName string
	ExpressionText  string
	Kind            ExpressionKind
}

// ScriptInclude names an external Lua source file contributing row checks
// or generated-column helpers.
type ScriptInclude struct {
	Path string
}

// Program is everything a parser produces from one project's source tree.
type Program struct {
	Tables           []TableDef
	DataSegments     []DataSegment
	DetachedDefaults []DetachedDefaultDef
	Proofs           []ProofDef
	ScriptIncludes   []ScriptInclude

	// SourceFiles maps SourceFileID (as referenced by DataFieldValue) to
	// the file's path and raw contents, needed for replacement write-back.
	SourceFiles map[int]SourceFile
}

// SourceFile is one parsed input file, kept around for splice-based
// rewrites.
type SourceFile struct {
	Path     string
	Contents []byte
}

// ReplacementConfig is the decoded external JSON: table name to a list of
// per-row replacements, keyed by primary key (composite keys "=>"-joined).
type ReplacementConfig map[string][]ReplacementEntry

// ReplacementEntry is one row's replacement set.
type ReplacementEntry struct {
	PrimaryKey   string            `json:"primary_key"`
	Replacements map[string]string `json:"replacements"`
}
