package main_test

import (
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var (
	cliBinary    string
	testDBFile   string
	snapshotFile string
)

// testRootDir holds patches.yaml, relative to this package.
const testRootDir = "../../testdata"

// TestMain builds the CLI binary and picks a scratch database file.
func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "dbpatch-sqlite-integration")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	testDBFile = filepath.Join(tmpDir, "test.db")
	snapshotFile = filepath.Join(tmpDir, "schema.json")

	binaryPath := filepath.Join(tmpDir, "dbpatch-sqlite")
	buildCmd := exec.Command("go", "build", "-o", binaryPath, "../")
	buildCmd.Stdout = os.Stdout
	buildCmd.Stderr = os.Stderr
	if err := buildCmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build SQLite CLI binary: %v\n", err)
		os.Exit(1)
	}
	cliBinary = binaryPath

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// helperRun runs the built binary against the test database and patches.
func helperRun(args ...string) (string, error) {
	full := append([]string{
		"-conn", testDBFile,
		"-root-dir", testRootDir,
		"-snapshot", snapshotFile,
	}, args...)
	cmd := exec.Command(cliBinary, full...)
	cmd.Env = append(os.Environ(), "SQLITE_URL=")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func tableExists(t *testing.T, name string) bool {
	t.Helper()
	db, err := sql.Open("sqlite3", testDBFile)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	var cnt int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, name).Scan(&cnt); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return cnt > 0
}

// TestCLIPatchLifecycle walks the testdata manifest through every command
// that changes state.
func TestCLIPatchLifecycle(t *testing.T) {
	steps := []struct {
		args    []string
		wantErr bool
		want    string
	}{
		{[]string{"apply", "001-widgets"}, false, "Patch 001-widgets is now applied."},
		{[]string{"apply", "002-gadgets"}, false, "Patch 002-gadgets is now applied."},
		{[]string{"apply", "003-broken"}, true, "no_such_table"},
		{[]string{"status", "003-broken"}, false, "003-broken: error"},
		{[]string{"skip", "003-broken"}, false, "Patch 003-broken is now skipped."},
		{[]string{"check"}, false, "Schema matches the snapshot."},
		{[]string{"list"}, false, "applied  002-gadgets"},
		{[]string{"revert", "002-gadgets"}, false, "Patch 002-gadgets is now awaiting."},
		{[]string{"revert", "001-widgets"}, false, "Patch 001-widgets is now awaiting."},
		{[]string{"status"}, false, "3 patches"},
	}
	for _, step := range steps {
		out, err := helperRun(step.args...)
		if step.wantErr && err == nil {
			t.Fatalf("%v: expected failure, got:\n%s", step.args, out)
		}
		if !step.wantErr && err != nil {
			t.Fatalf("%v failed: %v; output: %s", step.args, err, out)
		}
		if !strings.Contains(out, step.want) {
			t.Errorf("%v: expected %q in output, got:\n%s", step.args, step.want, out)
		}
	}

	if tableExists(t, "widgets") || tableExists(t, "gadgets") {
		t.Errorf("expected reverted tables to be gone")
	}
	if !tableExists(t, "patches") {
		t.Errorf("expected patch table to remain")
	}
}

// TestCLIPatchTableFlag checks -patch-table chooses where status is stored.
func TestCLIPatchTableFlag(t *testing.T) {
	out, err := helperRun("-patch-table", "flag_patches", "list")
	if err != nil {
		t.Fatalf("list failed: %v; output: %s", err, out)
	}
	if !tableExists(t, "flag_patches") {
		t.Errorf("expected flag_patches to exist")
	}
}
