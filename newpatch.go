package dbpatch

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	upTemplate   = "-- Write your patch SQL here\n"
	downTemplate = "-- Write your revert SQL here\n"
)

// patchFiles are the paths of a new up/down pair, relative to the root dir.
type patchFiles struct {
	up   string
	down string
}

// writePatchFiles writes a new up/down pair named after the timestamp and
// label. A numeric suffix is added when a file of that name already exists
// in either directory.
func writePatchFiles(cfg Config, now time.Time, label, upSQL, downSQL string) (patchFiles, error) {
	var err error
	if upSQL, err = convertLineEnding(upSQL, cfg.Newline); err != nil {
		return patchFiles{}, err
	}
	if downSQL, err = convertLineEnding(downSQL, cfg.Newline); err != nil {
		return patchFiles{}, err
	}

	upDir := filepath.Join(cfg.RootDir, cfg.UpDir)
	downDir := filepath.Join(cfg.RootDir, cfg.DownDir)
	for _, dir := range []string{upDir, downDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return patchFiles{}, fmt.Errorf("failed to create patch directory %s: %w", dir, err)
		}
	}

	base := now.Format("20060102150405") + "-" + label
	for i := 1; ; i++ {
		filename := base + ".sql"
		if i > 1 {
			filename = fmt.Sprintf("%s-%d.sql", base, i)
		}
		upPath := filepath.Join(upDir, filename)
		downPath := filepath.Join(downDir, filename)
		if exists(upPath) || exists(downPath) {
			continue
		}
		if err := os.WriteFile(upPath, []byte(upSQL), 0o644); err != nil {
			return patchFiles{}, fmt.Errorf("failed to create patch file %s: %w", upPath, err)
		}
		if err := os.WriteFile(downPath, []byte(downSQL), 0o644); err != nil {
			return patchFiles{}, fmt.Errorf("failed to create patch file %s: %w", downPath, err)
		}
		return patchFiles{
			up:   filepath.ToSlash(filepath.Join(cfg.UpDir, filename)),
			down: filepath.ToSlash(filepath.Join(cfg.DownDir, filename)),
		}, nil
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

// joinStatements renders statements as a script the Executor can read back.
func joinStatements(stmts []string) string {
	if len(stmts) == 0 {
		return ""
	}
	return strings.Join(stmts, ";\n") + ";\n"
}

// kebabCase converts a string to kebab-case.
func kebabCase(s string) string {
	// Lowercase and trim spaces.
	s = strings.ToLower(strings.TrimSpace(s))
	// Replace any non-alphanumeric sequence with a single hyphen.
	re := regexp.MustCompile("[^a-z0-9]+")
	s = re.ReplaceAllString(s, "-")
	// Trim any hyphens from the beginning or end.
	return strings.Trim(s, "-")
}

// convertLineEnding converts all newline variations in content to the target style.
func convertLineEnding(content, lineEnding string) (string, error) {
	var target string
	switch lineEnding {
	case "LF":
		target = "\n"
	case "CR":
		target = "\r"
	case "CRLF":
		target = "\r\n"
	default:
		return "", fmt.Errorf("newline must be one of: LF, CR, CRLF")
	}
	re := regexp.MustCompile(`\r\n|\r|\n`)
	return re.ReplaceAllString(content, target), nil
}
