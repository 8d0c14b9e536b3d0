package core

import (
	"fmt"
	"sort"
	"strings"
)

// Kind tags a CheckError with one of the taxonomy variants from spec §7.
// Each Kind documents the Context keys it carries so callers can render a
// diagnostic without re-parsing the source.
type Kind string

// Context carries the structured fields of a CheckError. Keys are
// Kind-specific; see the Kind constant doc comments below.
type Context map[string]any

// CheckError is the single tagged-union error type for the whole checker.
// Every failure the pipeline can produce is one of these, distinguished by
// Kind, carrying whatever Context the Kind's doc comment promises.
type CheckError struct {
	Kind    Kind
	Context Context
}

func (e *CheckError) Error() string {
	if len(e.Context) == 0 {
		return string(e.Kind)
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	for i, k := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
	}
	return b.String()
}

// Errf builds a CheckError from a Kind and inline key/value pairs, e.g.
// Errf(KindTableDefinedTwice, "table_name", name).
func Errf(kind Kind, kv ...any) *CheckError {
	ctx := make(Context, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		ctx[key] = kv[i+1]
	}
	return &CheckError{Kind: kind, Context: ctx}
}

// Schema-shape errors (spec §7 "Schema shape").
const (
	KindInvalidDBIdentifier                       Kind = "InvalidDBIdentifier"                       // value
	KindTableDefinedTwice                         Kind = "TableDefinedTwice"                         // table_name
	KindTableNameIsNotLowercase                    Kind = "TableNameIsNotLowercase"                    // table_name
	KindColumnNameIsNotLowercase                   Kind = "ColumnNameIsNotLowercase"                   // table_name, column_name
	KindColumnNameIsReserved                       Kind = "ColumnNameIsReserved"                       // table_name, column_name, reserved_names
	KindDuplicateColumnNames                       Kind = "DuplicateColumnNames"                       // table_name, column_name
	KindMoreThanOnePrimaryKey                      Kind = "MoreThanOnePrimaryKey"                      // table_name
	KindPrimaryKeyColumnMustBeFirst                Kind = "PrimaryKeyColumnMustBeFirst"                // table_name, column_name
	KindFloatColumnCannotBePrimaryKey               Kind = "FloatColumnCannotBePrimaryKey"              // table_name, column_name
	KindBooleanColumnCannotBePrimaryKey             Kind = "BooleanColumnCannotBePrimaryKey"            // table_name, column_name
	KindFloatColumnCannotBeInUniqueConstraint        Kind = "FloatColumnCannotBeInUniqueConstraint"      // table_name, column_name
	KindUniqConstraintColumnDoesntExist             Kind = "UniqConstraintColumnDoesntExist"            // table_name, column_name
	KindUniqConstraintDuplicateColumn               Kind = "UniqConstraintDuplicateColumn"              // table_name, column_name
	KindDuplicateUniqConstraints                    Kind = "DuplicateUniqConstraints"                   // table_name
	KindUnknownColumnType                           Kind = "UnknownColumnType"                          // table_name, column_name, column_type
	KindDataInsertionsToMaterializedViewsNotAllowed Kind = "DataInsertionsToMaterializedViewsNotAllowed" // table_name
	KindMaterializedViewsCannotHaveDefaultColumnExpression  Kind = "MaterializedViewsCannotHaveDefaultColumnExpression"  // table_name, column_name
	KindMaterializedViewsCannotHaveComputedColumnExpression Kind = "MaterializedViewsCannotHaveComputedColumnExpression" // table_name, column_name
	KindPrimaryKeysCannotHaveDefaultValue                   Kind = "PrimaryKeysCannotHaveDefaultValue"                   // table_name, column_name
	KindPrimaryOrForeignKeysCannotHaveComputedValue         Kind = "PrimaryOrForeignKeysCannotHaveComputedValue"         // table_name, column_name
	KindDefaultValueAndComputedValueAreMutuallyExclusive    Kind = "DefaultValueAndComputedValueAreMutuallyExclusive"    // table_name, column_name
	KindCannotParseDefaultColumnValue                       Kind = "CannotParseDefaultColumnValue"                      // table_name, column_name, column_type, the_value
)

// Relational errors (spec §7 "Relational").
const (
	KindForeignKeyTableDoesntExist                                    Kind = "ForeignKeyTableDoesntExist"                                    // referrer_table, referrer_column, referred_table
	KindForeignKeyTableDoesntHavePrimaryKey                           Kind = "ForeignKeyTableDoesntHavePrimaryKey"                           // referrer_table, referrer_column, referred_table
	KindForeignKeyTableDoesNotShareCommonAncestorWithRefereeTable      Kind = "ForeignKeyTableDoesNotShareCommonAncestorWithRefereeTable"     // referrer_table, referrer_column, referred_table
	KindForeignChildKeyTableDoesntHaveParentTable                      Kind = "ForeignChildKeyTableDoesntHaveParentTable"                     // referrer_table, referrer_column, referred_table
	KindForeignChildKeyTableIsHigherOrEqualInAncestryThanTheReferrer   Kind = "ForeignChildKeyTableIsHigherOrEqualInAncestryThanTheReferrer"  // referrer_table, referrer_column, referred_table
	KindForeignChildKeyTableIntegerKeyMustBeNonNegative                Kind = "ForeignChildKeyTableIntegerKeyMustBeNonNegative"               // referred_table, offending_column, offending_value
	KindForeignChildKeyTableStringMustBeSnakeCase                      Kind = "ForeignChildKeyTableStringMustBeSnakeCase"                     // referred_table, offending_column, offending_value
	KindForeignChildKeyReferrerHasIncorrectSegmentsInCompositeKey       Kind = "ForeignChildKeyReferrerHasIncorrectSegmentsInCompositeKey"    // referrer_table, referrer_column, referee_table, expected_segments, actual_segments, offending_value
	KindForeignChildKeyReferrerCannotHaveWhitespaceInSegments          Kind = "ForeignChildKeyReferrerCannotHaveWhitespaceInSegments"          // referrer_table, referrer_column, referee_table, offending_value
	KindReferredChildKeyTableIsNotDescendantToThisTable                Kind = "ReferredChildKeyTableIsNotDescendantToThisTable"               // referrer_table, referrer_column, expected_to_be_descendant_table
	KindNonExistingForeignKey                                          Kind = "NonExistingForeignKey"                                         // table_with_foreign_key, foreign_key_column, referred_table, referred_table_column, key_value
	KindNonExistingForeignKeyToChildTable                              Kind = "NonExistingForeignKeyToChildTable"                             // table_parent_keys, table_parent_tables, table_parent_columns, table_with_foreign_key, foreign_key_column, referred_table, referred_table_column, key_value
	KindNonExistingParentToChildKey                                    Kind = "NonExistingParentToChildKey"                                   // same as above
	KindUniqConstraintViolated                                         Kind = "UniqConstraintViolated"                                        // table_name, tuple_definition, tuple_value
	KindNonExistingChildPrimaryKeyTable                                Kind = "NonExistingChildPrimaryKeyTable"                               // table_name, column_name, referred_table
	KindParentTableHasNoPrimaryKey                                     Kind = "ParentTableHasNoPrimaryKey"                                     // table_name, column_name, referred_table
	KindChildPrimaryKeysLoopDetected                                   Kind = "ChildPrimaryKeysLoopDetected"                                  // table_names
	KindParentPrimaryKeyColumnNameClashesWithChildColumnName           Kind = "ParentPrimaryKeyColumnNameClashesWithChildColumnName"          // parent_table, parent_column, child_table, child_column
	KindFoundDuplicateChildPrimaryKeySet                               Kind = "FoundDuplicateChildPrimaryKeySet"                              // table_name, columns, duplicate_values
	KindParentRecordWithSuchPrimaryKeysDoesntExist                     Kind = "ParentRecordWithSuchPrimaryKeysDoesntExist"                    // parent_table, parent_columns_names_searched, parent_columns_to_find
	KindNanOrInfiniteFloatNumbersAreNotAllowed                         Kind = "NanOrInfiniteFloatNumbersAreNotAllowed"                        // table_name, column_name, column_value, row_index
)

// Data errors (spec §7 "Data").
const (
	KindTargetTableForDataNotFound                      Kind = "TargetTableForDataNotFound"                      // table_name
	KindDataTargetColumnNotFound                        Kind = "DataTargetColumnNotFound"                        // table_name, target_column_name
	KindDataTooManyColumns                              Kind = "DataTooManyColumns"                              // table_name, row_index, row_size, expected_size
	KindDataTooFewColumns                               Kind = "DataTooFewColumns"                               // table_name, row_index, row_size, expected_size
	KindDataCannotParseDataColumnValue                  Kind = "DataCannotParseDataColumnValue"                  // table_name, row_index, column_index, column_name, column_value, expected_type
	KindDataRequiredNonDefaultColumnValueNotProvided     Kind = "DataRequiredNonDefaultColumnValueNotProvided"    // table_name, column_name
	KindDuplicateDataColumnNames                        Kind = "DuplicateDataColumnNames"                        // table_name, column_name
	KindDuplicateStructuredDataFields                   Kind = "DuplicateStructuredDataFields"                   // table_name, duplicated_column
	KindComputedColumnCannotBeExplicitlySpecified       Kind = "ComputedColumnCannotBeExplicitlySpecified"       // table_name, column_name, compute_expression
	KindExclusiveDataDefinedMultipleTimes               Kind = "ExclusiveDataDefinedMultipleTimes"               // table_name
	KindExtraDataParentMustHavePrimaryKey                Kind = "ExtraDataParentMustHavePrimaryKey"               // parent_table
	KindExtraDataRecursiveInsert                        Kind = "ExtraDataRecursiveInsert"                        // parent_table, extra_table
	KindExtraDataTableNotFound                          Kind = "ExtraDataTableNotFound"                          // parent_table, extra_table
	KindExtraTableHasNoForeignKeysToThisTable           Kind = "ExtraTableHasNoForeignKeysToThisTable"           // parent_table, extra_table
	KindExtraTableMultipleAmbiguousForeignKeysToThisTable Kind = "ExtraTableMultipleAmbiguousForeignKeysToThisTable" // parent_table, extra_table, column_list
	KindExtraTableCannotRedefineReferenceKey             Kind = "ExtraTableCannotRedefineReferenceKey"            // parent_table, extra_table, column_name
	KindCyclingTablesInContextualInsertsNotAllowed       Kind = "CyclingTablesInContextualInsertsNotAllowed"      // table_loop
)

// Replacement errors (spec §7 "Replacements", §4.5).
const (
	KindReplacementTargetTableNotFound           Kind = "ReplacementTargetTableNotFound"           // table_name
	KindReplacementTableHasNoSupportedPrimaryKey Kind = "ReplacementTableHasNoSupportedPrimaryKey" // table_name
	KindReplacementPrimaryKeyNotUnique           Kind = "ReplacementPrimaryKeyNotUnique"           // table_name, primary_key
	KindReplacementPrimaryKeySegmentCountMismatch Kind = "ReplacementPrimaryKeySegmentCountMismatch" // table_name, primary_key, expected_segments, actual_segments
	KindReplacementColumnNotFound                Kind = "ReplacementColumnNotFound"                 // table_name, column_name
	KindReplacementColumnIsGenerated             Kind = "ReplacementColumnIsGenerated"              // table_name, column_name
	KindReplacementColumnIsParentPrimary         Kind = "ReplacementColumnIsParentPrimary"          // table_name, column_name
	KindReplacementNeverUsed                     Kind = "ReplacementNeverUsed"                      // table_name, primary_key
	KindReplacementOverLuaGeneratedValuesIsNotSupported Kind = "ReplacementOverLuaGeneratedValuesIsNotSupported" // table_name, primary_key, column_name
	KindReplacementValueContainsQuote            Kind = "ReplacementValueContainsQuote"             // table_name, column_name, value
)

// Script-runtime integration errors (spec §7, §4.6, §4.7).
const (
	KindLuaSourcesLoadError                                Kind = "LuaSourcesLoadError"                                // error, source_file
	KindLuaColumnGenerationExpressionLoadError              Kind = "LuaColumnGenerationExpressionLoadError"             // table_name, column_name, expression, error
	KindLuaColumnGenerationExpressionComputeError           Kind = "LuaColumnGenerationExpressionComputeError"          // table_name, column_name, input_row_fields, input_row_values, expression, error
	KindLuaColumnGenerationExpressionComputeTypeMismatch    Kind = "LuaColumnGenerationExpressionComputeTypeMismatch"   // table_name, column_name, input_row_fields, input_row_values, computed_value, expression
	KindLuaCheckEvaluationFailed                            Kind = "LuaCheckEvaluationFailed"                           // table_name, expression, column_names, row_values
	KindLuaCheckEvaluationErrorUnexpectedReturnType         Kind = "LuaCheckEvaluationErrorUnexpectedReturnType"        // table_name, expression, column_names, row_values, error
	KindLuaCheckEvaluationError                             Kind = "LuaCheckEvaluationError"                            // table_name, expression, column_names, row_values, error
	KindLuaDataTableInvalidKeyTypeIsNotString                Kind = "LuaDataTableInvalidKeyTypeIsNotString"              // found_value
	KindLuaDataTableNoSuchTable                             Kind = "LuaDataTableNoSuchTable"                            // expected_insertion_table
	KindLuaDataTableInvalidTableValue                       Kind = "LuaDataTableInvalidTableValue"                      // found_value
	KindLuaDataTableInvalidRecordValue                      Kind = "LuaDataTableInvalidRecordValue"                     // found_value
	KindLuaDataTableInvalidRecordColumnNameValue             Kind = "LuaDataTableInvalidRecordColumnNameValue"           // found_value
	KindLuaDataTableRecordInvalidColumnValue                 Kind = "LuaDataTableRecordInvalidColumnValue"               // column_name, column_value
)

// SQL integration errors (spec §7, §4.8, §4.9).
const (
	KindSqlMatViewStatementPrepareException   Kind = "SqlMatViewStatementPrepareException"   // table_name, sql_expression, error
	KindSqlMatViewWrongColumnCount            Kind = "SqlMatViewWrongColumnCount"            // table_name, sql_expression, expected_columns, actual_columns
	KindSqlMatViewStatementQueryException     Kind = "SqlMatViewStatementQueryException"     // table_name, sql_expression, error
	KindSqlMatViewNullReturnsUnsupported      Kind = "SqlMatViewNullReturnsUnsupported"      // table_name, sql_expression, column_name, return_row_index
	KindSqlMatViewWrongColumnTypeReturned     Kind = "SqlMatViewWrongColumnTypeReturned"     // table_name, sql_expression, column_name, return_row_index, actual_column_type, expected_column_type
	KindSqlProofTableNotFound                 Kind = "SqlProofTableNotFound"                 // table_name, comment, proof_expression
	KindSqlProofQueryError                    Kind = "SqlProofQueryError"                    // error, table_name, comment, proof_expression
	KindSqlProofQueryColumnOriginMismatchesExpected Kind = "SqlProofQueryColumnOriginMismatchesExpected" // table_name, comment, proof_expression, expected_column_origin_table, actual_column_origin_table
	KindSqlProofOffendersFound                Kind = "SqlProofOffendersFound"                // table_name, comment, proof_expression, offending_rows
)

// Datalog integration errors (spec §7, §4.10; feature-gated).
const (
	KindDatalogIsDisabled                                     Kind = "DatalogIsDisabled"                                     // table_name, comment
	KindDatalogProofTableNotFound                             Kind = "DatalogProofTableNotFound"                             // table_name, comment, proof_expression
	KindDatalogProofOutputRuleNotFound                        Kind = "DatalogProofOutputRuleNotFound"                        // table_name, comment, proof_expression
	KindDatalogProofTooManyOutputRules                        Kind = "DatalogProofTooManyOutputRules"                        // table_name, comment, proof_expression
	KindDatalogProofQueryParseError                           Kind = "DatalogProofQueryParseError"                           // error, table_name, comment, proof_expression
	KindDatalogProofNoRulesFound                               Kind = "DatalogProofNoRulesFound"                             // table_name, comment, proof_expression
	KindDatalogProofTableExpectedNotFoundInTheOutputQuery      Kind = "DatalogProofTableExpectedNotFoundInTheOutputQuery"    // table_name, comment, proof_expression
	KindDatalogProofOffendersFound                            Kind = "DatalogProofOffendersFound"                           // table_name, comment, proof_expression, offending_rows
)

// Internal invariant errors: never spec-documented outcomes, raised only if
// an earlier pass left the database in a shape a later pass assumes can't
// happen.
const (
	KindInternalColumnLengthDesync Kind = "InternalColumnLengthDesync" // table_name, column_name, column_length, expected_length
)

// Detached-default errors (spec §7 "Detached defaults", §4.3 step 6).
const (
	KindDetachedDefaultUndefined            Kind = "DetachedDefaultUndefined"            // table, column
	KindDetachedDefaultDefinedMultipleTimes Kind = "DetachedDefaultDefinedMultipleTimes" // table, column, expression_a, expression_b
	KindDetachedDefaultNonExistingTable     Kind = "DetachedDefaultNonExistingTable"     // table, column, expression
	KindDetachedDefaultNonExistingColumn    Kind = "DetachedDefaultNonExistingColumn"    // table, column, expression
	KindDetachedDefaultBadValue             Kind = "DetachedDefaultBadValue"             // table, column, value, expected_type, error
)
