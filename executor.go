package dbpatch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

// statementEnd matches a line that terminates a statement.
var statementEnd = regexp.MustCompile(`;\s*$`)

// Executor runs SQL scripts against a connection one statement at a time.
// There is no transaction around a script: statements that ran before a
// failure stay committed.
type Executor struct {
	conn Execer
	log  logrus.FieldLogger
}

// NewExecutor returns an Executor writing through conn. A nil logger falls
// back to the logrus standard logger.
func NewExecutor(conn Execer, log logrus.FieldLogger) *Executor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Executor{conn: conn, log: log}
}

// ExecuteFile runs every statement in the file at path.
func (e *Executor) ExecuteFile(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("sql file %q cannot be found: %w", path, ErrFileNotFound)
		}
		return 0, fmt.Errorf("sql file %q cannot be opened: %w: %w", path, ErrUnreadableFile, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("sql file %q cannot be found: %w", path, ErrFileNotFound)
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("sql file %q cannot be opened: %w: %w", path, ErrUnreadableFile, err)
	}
	defer f.Close()

	n, err := e.Execute(ctx, f)
	if err != nil {
		return n, fmt.Errorf("sql file %q: %w", path, err)
	}
	e.log.WithField("file", path).Debugf("executed %d statements", n)
	return n, nil
}

// Execute reads SQL text from r and runs each statement in order. A
// statement ends on a line whose last non-blank character is ';'. Lines may
// end in LF, CRLF or CR. Text after the last terminator is not executed. It
// returns the number of statements executed.
func (e *Executor) Execute(ctx context.Context, r io.Reader) (int, error) {
	if e.conn == nil {
		return 0, ErrConnectionNotConfigured
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	sc.Split(scanLines)
	var buf strings.Builder
	count := 0
	for sc.Scan() {
		line := sc.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		if statementEnd.MatchString(line) {
			ran, err := e.exec(ctx, buf.String())
			if err != nil {
				return count, err
			}
			if ran {
				count++
			}
			buf.Reset()
		}
	}
	if err := sc.Err(); err != nil {
		return count, fmt.Errorf("%w: %w", ErrUnreadableFile, err)
	}
	if rest := strings.TrimSpace(buf.String()); rest != "" {
		e.log.WithField("fragment", rest).Warn("ignoring unterminated trailing statement")
	}
	return count, nil
}

// maxLineSize bounds a single line of a SQL file.
const maxLineSize = 16 * 1024 * 1024

// scanLines is bufio.ScanLines extended to lone CR line endings. The
// returned token excludes the line terminator.
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// A CR at the end of the buffer may be the first half of CRLF.
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// ExecuteStatements runs already split statements in order.
func (e *Executor) ExecuteStatements(ctx context.Context, stmts []string) (int, error) {
	if e.conn == nil {
		return 0, ErrConnectionNotConfigured
	}
	count := 0
	for _, stmt := range stmts {
		ran, err := e.exec(ctx, stmt)
		if err != nil {
			return count, err
		}
		if ran {
			count++
		}
	}
	return count, nil
}

// exec trims surrounding semicolons, which some drivers reject, and runs the
// statement. Blank statements are skipped.
func (e *Executor) exec(ctx context.Context, stmt string) (bool, error) {
	stmt = strings.TrimSpace(strings.Trim(strings.TrimSpace(stmt), ";"))
	if stmt == "" {
		return false, nil
	}
	if _, err := e.conn.Exec(ctx, stmt); err != nil {
		return false, &StatementError{Statement: stmt, Err: err}
	}
	return true, nil
}
