package dbpatch

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the engine. Callers match them with errors.Is.
var (
	ErrFileNotFound            = errors.New("file not found")
	ErrUnreadableFile          = errors.New("file cannot be opened")
	ErrConnectionNotConfigured = errors.New("no database connection configured")
	ErrStatementExecution      = errors.New("statement execution failed")
	ErrUnknownPatch            = errors.New("unknown patch")
	ErrDiffGeneration          = errors.New("schema diff generation failed")
	ErrDuplicatePatch          = errors.New("patch already registered")
	ErrCannotRevert            = errors.New("patch cannot be reverted")
	ErrNoSchemaChanges         = errors.New("no schema changes detected")
)

// StatementError wraps a backend error together with the statement that
// produced it.
type StatementError struct {
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("an error occurred while executing statement: %s --- error message: %v", e.Statement, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

// Is reports ErrStatementExecution as a match so callers can branch on the kind
// without a type assertion.
func (e *StatementError) Is(target error) bool {
	return target == ErrStatementExecution
}

func diffError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrDiffGeneration, err)
}
