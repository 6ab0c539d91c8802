package nervusdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/nervusdb/nervusdb/pkg/cypher/eval"
	"github.com/nervusdb/nervusdb/pkg/cypher/parser"
	"github.com/nervusdb/nervusdb/pkg/cypher/planner"
	"github.com/nervusdb/nervusdb/pkg/graph"
	"github.com/nervusdb/nervusdb/pkg/pager"
	"github.com/nervusdb/nervusdb/pkg/txn"
	"github.com/nervusdb/nervusdb/pkg/wal"
	"github.com/nervusdb/nervusdb/pkg/writeexec"
)

// Kind is the coarse failure category every QueryError carries, matching
// the four top-level kinds callers across language bindings branch on.
type Kind string

const (
	KindIo      Kind = "Io"
	KindStorage Kind = "Storage"
	KindQuery   Kind = "Query"
	KindOther   Kind = "Other"
)

// Coded sub-kinds. A QueryError's Code is one of these, or "" when Kind is
// Io/Storage/Other and no finer classification applies.
const (
	CodeSyntaxError                     = "SyntaxError"
	CodeTypeError                       = "TypeError"
	CodeArgumentError                   = "ArgumentError"
	CodeEntityNotFound                  = "EntityNotFound"
	CodeSemanticError                   = "SemanticError"
	CodeConstraintVerificationFailed    = "ConstraintVerificationFailed"
	CodeProcedureError                  = "ProcedureError"
	CodeParameterMissing                = "ParameterMissing"
	CodeResourceLimitExceeded           = "ResourceLimitExceeded"
	CodeInvalidAggregation              = "InvalidAggregation"
	CodeNestedAggregation               = "NestedAggregation"
	CodeAmbiguousAggregationExpression  = "AmbiguousAggregationExpression"
	CodeColumnNameConflict              = "ColumnNameConflict"
	CodeUndefinedVariable               = "UndefinedVariable"
	CodeInvalidClauseComposition        = "InvalidClauseComposition"
	CodeInvalidArgumentType             = "InvalidArgumentType"
	CodeIntegerOverflow                 = "IntegerOverflow"
	CodeNonConstantExpression           = "NonConstantExpression"
	CodeParserComplexityLimitExceeded   = "ParserComplexityLimitExceeded"
)

// QueryError is the façade's single error type: every error Prepare,
// ExecuteStreaming, ExecuteWrite, and ExecuteMixed return is either nil or
// a *QueryError, so a caller never needs to type-switch over internal
// package error types.
type QueryError struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *QueryError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s/%s: %s", e.Kind, e.Code, e.Message)
}

func (e *QueryError) Unwrap() error { return e.cause }

func queryErr(code, format string, args ...any) *QueryError {
	return &QueryError{Kind: KindQuery, Code: code, Message: fmt.Sprintf(format, args...)}
}

// codedErrors maps the stable Code strings pkg/cypher/planner,
// pkg/cypher/eval, and pkg/writeexec already report into this façade's
// code taxonomy. The three packages never collide on a code string, so one
// shared table covers all of them.
var codedErrors = map[string]string{
	"UndefinedVariable":              CodeUndefinedVariable,
	"InvalidArgumentType":            CodeInvalidArgumentType,
	"NestedAggregation":              CodeNestedAggregation,
	"AmbiguousAggregationExpression": CodeAmbiguousAggregationExpression,
	"NonConstantExpression":          CodeNonConstantExpression,
	"ColumnNameConflict":             CodeColumnNameConflict,
	"InvalidAggregation":             CodeInvalidAggregation,
	"NoVariablesInScope":             CodeInvalidClauseComposition,
	"ParameterMissing":               CodeParameterMissing,
	"IntegerOverflow":                CodeIntegerOverflow,
	"DivisionByZero":                 CodeArgumentError,
	"DeleteNonEntity":                CodeTypeError,
	"SetTargetNotEntity":             CodeTypeError,
	"InvalidUpdatingClause":          CodeInvalidClauseComposition,
	"UnsupportedUnionWrite":          CodeInvalidClauseComposition,
}

func mapCode(internalCode string) string {
	if code, ok := codedErrors[internalCode]; ok {
		return code
	}
	return CodeSemanticError
}

// translate wraps any error this package's collaborators can return into a
// *QueryError. A nil input returns nil.
func translate(err error) *QueryError {
	if err == nil {
		return nil
	}
	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}

	var syntaxErr *parser.SyntaxError
	if errors.As(err, &syntaxErr) {
		return &QueryError{Kind: KindQuery, Code: CodeSyntaxError, Message: syntaxErr.Error(), cause: err}
	}
	var complexityErr *parser.ComplexityLimitExceeded
	if errors.As(err, &complexityErr) {
		return &QueryError{Kind: KindQuery, Code: CodeParserComplexityLimitExceeded, Message: complexityErr.Error(), cause: err}
	}
	var planErr *planner.Error
	if errors.As(err, &planErr) {
		return &QueryError{Kind: KindQuery, Code: mapCode(planErr.Code), Message: planErr.Message, cause: err}
	}
	var evalErr *eval.Error
	if errors.As(err, &evalErr) {
		return &QueryError{Kind: KindQuery, Code: mapCode(evalErr.Code), Message: evalErr.Message, cause: err}
	}
	var writeErr *writeexec.Error
	if errors.As(err, &writeErr) {
		return &QueryError{Kind: KindQuery, Code: mapCode(writeErr.Code), Message: writeErr.Message, cause: err}
	}

	switch {
	case errors.Is(err, graph.ErrWriteInProgress):
		return &QueryError{Kind: KindOther, Code: CodeResourceLimitExceeded, Message: err.Error(), cause: err}
	case errors.Is(err, txn.ErrNodeNotFound), errors.Is(err, txn.ErrEdgeNotFound):
		return &QueryError{Kind: KindQuery, Code: CodeEntityNotFound, Message: err.Error(), cause: err}
	case errors.Is(err, txn.ErrNodeStillHasEdges):
		return &QueryError{Kind: KindQuery, Code: CodeConstraintVerificationFailed, Message: err.Error(), cause: err}
	case errors.Is(err, txn.ErrTxnFinished), errors.Is(err, txn.ErrNotLastWriter):
		return &QueryError{Kind: KindOther, Message: err.Error(), cause: err}
	case errors.Is(err, pager.ErrClosed), errors.Is(err, pager.ErrBadMagic), errors.Is(err, pager.ErrBadVersion),
		errors.Is(err, pager.ErrInvalidPageID), errors.Is(err, wal.ErrClosed), errors.Is(err, wal.ErrTornRecord),
		errors.Is(err, wal.ErrBadChecksum), errors.Is(err, wal.ErrBadFrameKind):
		return &QueryError{Kind: KindStorage, Message: err.Error(), cause: err}
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) || errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
		return &QueryError{Kind: KindIo, Message: err.Error(), cause: err}
	}

	return &QueryError{Kind: KindOther, Message: err.Error(), cause: err}
}
