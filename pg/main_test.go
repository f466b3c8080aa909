package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestMain triggers our helper process mode. When the environment
// variable GO_HELPER_PROCESS is set, main() is called (simulating our CLI).
func TestMain(m *testing.M) {
	if os.Getenv("GO_HELPER_PROCESS") == "1" {
		main()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

// runCLI runs the current test binary as a helper process running the CLI.
func runCLI(args []string, extraEnv ...string) (string, error) {
	cmd := exec.Command(os.Args[0], args...)
	cmd.Env = append(os.Environ(), "GO_HELPER_PROCESS=1")
	cmd.Env = append(cmd.Env, extraEnv...)
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func TestCLIHelp(t *testing.T) {
	out, _ := runCLI([]string{"-help"})
	if !strings.Contains(out, "Usage:") {
		t.Errorf("expected help usage info, got:\n%s", out)
	}
	if strings.Contains(out, "-driver") {
		t.Errorf("driver flag should be hidden, got:\n%s", out)
	}
}

func TestCLIVersion(t *testing.T) {
	out, _ := runCLI([]string{"-version"})
	if !strings.Contains(out, "dbpatch-pg version:") {
		t.Errorf("expected version info, got:\n%s", out)
	}
}

func TestCLINoCommand(t *testing.T) {
	out, err := runCLI([]string{})
	if err == nil {
		t.Errorf("expected non-zero exit")
	}
	if !strings.Contains(out, "Error: no command provided.") {
		t.Errorf("expected error for missing command, got:\n%s", out)
	}
}

func TestCLIUnknownCommand(t *testing.T) {
	out, _ := runCLI([]string{"foobar"})
	if !strings.Contains(out, "Unknown command: foobar") {
		t.Errorf("expected unknown command error, got:\n%s", out)
	}
}

// TestCLIApplyMissingConn verifies the error when no connection URL is set anywhere.
func TestCLIApplyMissingConn(t *testing.T) {
	out, _ := runCLI([]string{"apply-all"}, "DATABASE_URL=")
	if !strings.Contains(out, "Error: connection URL must be provided via -conn flag, DATABASE_URL env var") {
		t.Errorf("expected connection URL missing error, got:\n%s", out)
	}
}

func TestCLIApplyMissingName(t *testing.T) {
	out, _ := runCLI([]string{"-conn", "dummy", "apply"})
	if !strings.Contains(out, "Error: a patch name is required for the apply command.") {
		t.Errorf("expected missing name error, got:\n%s", out)
	}
}

func TestCLIConfigLoadError(t *testing.T) {
	out, _ := runCLI([]string{"-conn", "dummy", "-config", "nonexistent.yaml", "list"})
	if !strings.Contains(out, "Error loading config file:") {
		t.Errorf("expected config file loading error, got:\n%s", out)
	}
}

// TestCLINewSuccess scaffolds a patch from a YAML config without touching the database.
func TestCLINewSuccess(t *testing.T) {
	tmpDir := t.TempDir()
	cfgFile := filepath.Join(tmpDir, "dbpatch.yaml")
	cfg := "rootDir: " + tmpDir + "\nupDir: sql/up\ndownDir: sql/down\n"
	if err := os.WriteFile(cfgFile, []byte(cfg), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	out, err := runCLI([]string{"-config", cfgFile, "new", "Create test table"}, "DATABASE_URL=")
	if err != nil {
		t.Fatalf("new failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "created successfully.") {
		t.Errorf("expected new patch success message, got:\n%s", out)
	}

	for _, dir := range []string{"up", "down"} {
		matches, err := filepath.Glob(filepath.Join(tmpDir, "sql", dir, "*-create-test-table.sql"))
		if err != nil {
			t.Fatalf("failed to glob patch files: %v", err)
		}
		if len(matches) != 1 {
			t.Errorf("expected 1 %s file, got %d", dir, len(matches))
		}
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "patches.yaml")); err != nil {
		t.Errorf("expected manifest to be written: %v", err)
	}
}

func TestFlagOrderingSafe(t *testing.T) {
	out, _ := runCLI([]string{"apply-all", "-conn", "dummy"})
	expected := "Error: Flags must be specified before the command. Please reorder your arguments."
	if !strings.Contains(out, expected) {
		t.Errorf("expected flag ordering error message, got:\n%s", out)
	}
}
