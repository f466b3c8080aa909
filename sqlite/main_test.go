package main

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// TestMain triggers helper process mode when GO_HELPER_PROCESS is set.
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

// makeTempConfig writes a tiny YAML config with a "conn" value.
func makeTempConfig(t *testing.T, conn string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("conn: "+conn+"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func TestCLIHelp(t *testing.T) {
	out, _ := runCLI([]string{"-help"})
	if !strings.Contains(out, "Usage:") {
		t.Errorf("expected help usage info, got:\n%s", out)
	}
}

func TestCLIVersion(t *testing.T) {
	out, _ := runCLI([]string{"-version"})
	if !strings.Contains(out, "dbpatch-sqlite version:") {
		t.Errorf("expected version info, got:\n%s", out)
	}
}

func TestCLINoCommand(t *testing.T) {
	out, _ := runCLI([]string{})
	if !strings.Contains(out, "Error: no command provided.") {
		t.Errorf("expected no command error, got:\n%s", out)
	}
}

func TestCLIUnknownCommand(t *testing.T) {
	out, _ := runCLI([]string{"-conn", filepath.Join(t.TempDir(), "x.db"), "foobar"})
	if !strings.Contains(out, "Unknown command: foobar") {
		t.Errorf("expected unknown command error, got:\n%s", out)
	}
}

func TestFlagOrderingSafe(t *testing.T) {
	out, _ := runCLI([]string{"list", "-conn", "dummy"})
	expected := "Error: Flags must be specified before the command. Please reorder your arguments."
	if !strings.Contains(out, expected) {
		t.Errorf("expected flag ordering error, got:\n%s", out)
	}
}

func TestCLIConfigLoadError(t *testing.T) {
	out, _ := runCLI([]string{"-conn", "dummy", "-config", "nonexistent.json", "list"})
	if !strings.Contains(out, "Error loading config file:") {
		t.Errorf("expected config load error, got:\n%s", out)
	}
}

// TestConnPrecedence_FlagWins ensures -conn beats env and config.
func TestConnPrecedence_FlagWins(t *testing.T) {
	tmpDir := t.TempDir()
	flagDB := filepath.Join(tmpDir, "flag.db")
	envDB := filepath.Join(tmpDir, "env.db")
	cfgDB := filepath.Join(tmpDir, "cfg.db")

	out, err := runCLI(
		[]string{"-conn", flagDB, "-config", makeTempConfig(t, cfgDB), "list"},
		"SQLITE_URL="+envDB,
	)
	if err != nil {
		t.Fatalf("CLI run: %v\n%s", err, out)
	}
	if !fileExists(flagDB) || fileExists(envDB) || fileExists(cfgDB) {
		t.Errorf("expected only flag DB to be created (precedence failed)")
	}
}

// TestConnPrecedence_EnvWins ensures env beats config.
func TestConnPrecedence_EnvWins(t *testing.T) {
	tmpDir := t.TempDir()
	envDB := filepath.Join(tmpDir, "env.db")
	cfgDB := filepath.Join(tmpDir, "cfg.db")

	out, err := runCLI([]string{"-config", makeTempConfig(t, cfgDB), "list"}, "SQLITE_URL="+envDB)
	if err != nil {
		t.Fatalf("CLI run: %v\n%s", err, out)
	}
	if !fileExists(envDB) || fileExists(cfgDB) {
		t.Errorf("expected env DB to be used over config DB")
	}
}

// TestConnPrecedence_ConfigUsed ensures config is used when flag/env absent.
func TestConnPrecedence_ConfigUsed(t *testing.T) {
	cfgDB := filepath.Join(t.TempDir(), "cfg.db")

	out, err := runCLI([]string{"-config", makeTempConfig(t, cfgDB), "list"}, "SQLITE_URL=")
	if err != nil {
		t.Fatalf("CLI run: %v\n%s", err, out)
	}
	if !fileExists(cfgDB) {
		t.Errorf("expected config DB to be created/used")
	}
}

func TestConnPrecedence_MissingEverywhere(t *testing.T) {
	out, _ := runCLI([]string{"list"}, "SQLITE_URL=")
	if !strings.Contains(out, "connection URL must be provided") {
		t.Errorf("expected missing conn error, got:\n%s", out)
	}
}
