// Package cli implements the command dispatcher shared by the dbpatch binaries.
// Each binary registers a driver and passes its arguments to Run.
package cli

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/bcomnes/dbpatch"
)

// Options describes one binary.
type Options struct {
	// Name is the binary name used in usage and version output.
	Name string

	// Driver fixes the database driver. When empty the -driver flag selects it.
	Driver string

	// DefaultDriver is used when Driver is empty and neither the flag nor the
	// config file sets one.
	DefaultDriver string

	// ConnEnv is the environment variable consulted for the connection URL.
	ConnEnv string

	// ConnHelp describes the connection URL in the usage text.
	ConnHelp string

	// Open opens a database handle for the resolved driver and connection URL.
	Open func(driver, conn string) (*sql.DB, error)

	// Getenv looks up environment variables.
	Getenv func(string) string
}

const usageText = `Usage:
  %s [options] [command] [arguments]

Commands:
  apply <name>        Apply a patch.
  apply-all           Apply every awaiting patch in manifest order, stopping at the first failure.
  revert <name>       Revert a patch with its down file.
  skip <name>         Mark a patch as skipped without running it.
  status [name]       Show the status of one patch, or a count per status.
  list                List every patch with its status and last execution date.
  new <desc>          Create an empty up/down SQL pair and add it to the manifest.
  generate <desc>     Write the schema changes since the last snapshot as a new patch.
  check               Exit non-zero when the live schema differs from the snapshot.
  snapshot            Store the live schema as the new snapshot.

Options:
`

// settings are the parsed global flags.
type settings struct {
	conn        string
	configPath  string
	envFile     string
	driver      string
	logLevel    string
	dump        bool
	markApplied bool
	help        bool
	version     bool
}

// Run executes the command line in args and returns the process exit code.
func Run(opts Options, args []string, stdout, stderr io.Writer) int {
	if opts.Getenv == nil {
		opts.Getenv = func(string) string { return "" }
	}

	fs := flag.NewFlagSet(opts.Name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	usage := func() {
		fmt.Fprintf(stderr, usageText, opts.Name)
		fs.PrintDefaults()
	}
	fs.Usage = usage

	var s settings
	fs.StringVar(&s.conn, "conn", "", opts.ConnHelp)
	fs.StringVar(&s.configPath, "config", "", "Path to a YAML or JSON configuration file (optional)")
	fs.StringVar(&s.envFile, "env-file", "", "Load environment variables from this file before reading configuration")
	if opts.Driver == "" {
		fs.StringVar(&s.driver, "driver", "", fmt.Sprintf("Database driver: pg, mysql or sqlite (default %q)", opts.DefaultDriver))
	}
	patchTable := fs.String("patch-table", "", fmt.Sprintf("Table storing patch status (default %q)", dbpatch.DefaultConfig.PatchTable))
	rootDir := fs.String("root-dir", "", "Base directory for the manifest and SQL files (default \".\")")
	manifest := fs.String("manifest", "", fmt.Sprintf("Patch manifest, relative to the root dir (default %q)", dbpatch.DefaultConfig.ManifestPath))
	snapshot := fs.String("snapshot", "", fmt.Sprintf("Schema snapshot file, relative to the root dir (default %q)", dbpatch.DefaultConfig.SnapshotPath))
	newline := fs.String("newline", "", "Line ending for generated files: LF, CR or CRLF")
	fs.StringVar(&s.logLevel, "log-level", "warning", "Log level: debug, info, warning or error")
	fs.BoolVar(&s.dump, "dump", false, "Print every statement that modifies the database to stdout")
	fs.BoolVar(&s.markApplied, "mark-applied", false, "With generate: record the new patch as skipped since its changes already exist")
	fs.BoolVar(&s.help, "help", false, "Show help message")
	fs.BoolVar(&s.version, "version", false, "Show version")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Safeguard: check for any flag-like arguments after positional arguments.
	for _, arg := range fs.Args() {
		if strings.HasPrefix(arg, "-") {
			fmt.Fprintln(stderr, "Error: Flags must be specified before the command. Please reorder your arguments.")
			usage()
			return 1
		}
	}

	if s.help {
		usage()
		return 0
	}
	if s.version {
		fmt.Fprintln(stdout, opts.Name+" version:", dbpatch.Version)
		return 0
	}

	if s.envFile != "" {
		if err := godotenv.Load(s.envFile); err != nil {
			fmt.Fprintf(stderr, "Error loading env file: %v\n", err)
			return 1
		}
	}

	v, err := loadConfig(s.configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config file: %v\n", err)
		return 1
	}
	var cfg dbpatch.Config
	if err := v.Unmarshal(&cfg); err != nil {
		fmt.Fprintf(stderr, "Error loading config file: %v\n", err)
		return 1
	}

	// Explicitly passed flags win over the config file and environment.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "patch-table":
			cfg.PatchTable = *patchTable
		case "root-dir":
			cfg.RootDir = *rootDir
		case "manifest":
			cfg.ManifestPath = *manifest
		case "snapshot":
			cfg.SnapshotPath = *snapshot
		case "newline":
			cfg.Newline = *newline
		}
	})
	cfg.Driver = firstNonEmpty(opts.Driver, s.driver, cfg.Driver, opts.DefaultDriver)

	logger, err := newLogger(s.logLevel, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Invalid log level: %s\n", s.logLevel)
		return 1
	}
	cfg.Logger = logger
	if s.dump {
		cfg.Dumper = stdout
	}

	cmdArgs := fs.Args()
	if len(cmdArgs) < 1 {
		fmt.Fprintln(stderr, "Error: no command provided.")
		usage()
		return 1
	}

	a := &app{
		opts:   opts,
		cfg:    cfg,
		conn:   firstNonEmpty(s.conn, opts.Getenv(opts.ConnEnv), v.GetString("conn")),
		stdout: stdout,
		stderr: stderr,
		usage:  usage,
	}
	return a.dispatch(cmdArgs, s)
}

// loadConfig reads the optional config file. Every key can also be set
// through a DBPATCH_ prefixed environment variable, e.g. DBPATCH_PATCHTABLE.
func loadConfig(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("DBPATCH")
	v.AutomaticEnv()

	d := dbpatch.DefaultConfig
	v.SetDefault("conn", "")
	v.SetDefault("driver", "")
	v.SetDefault("patchTable", d.PatchTable)
	v.SetDefault("snapshotPath", d.SnapshotPath)
	v.SetDefault("rootDir", d.RootDir)
	v.SetDefault("upDir", d.UpDir)
	v.SetDefault("downDir", d.DownDir)
	v.SetDefault("manifestPath", d.ManifestPath)
	v.SetDefault("newline", d.Newline)
	v.SetDefault("currentSchema", d.CurrentSchema)
	v.SetDefault("ignoreTables", []string{})

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func newLogger(level string, out io.Writer) (*logrus.Logger, error) {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(lvl)
	return logger, nil
}

// app carries the resolved configuration into the command handlers.
type app struct {
	opts   Options
	cfg    dbpatch.Config
	conn   string
	stdout io.Writer
	stderr io.Writer
	usage  func()
}

func (a *app) dispatch(args []string, s settings) int {
	command := args[0]
	switch command {
	case "apply", "revert", "skip":
		if len(args) < 2 {
			fmt.Fprintf(a.stderr, "Error: a patch name is required for the %s command.\n", command)
			a.usage()
			return 1
		}
		return a.withDB(func(ctx context.Context, r *dbpatch.Runner) int {
			return a.transition(ctx, r, command, args[1])
		})
	case "apply-all":
		return a.withDB(a.applyAll)
	case "status":
		name := ""
		if len(args) > 1 {
			name = args[1]
		}
		return a.withDB(func(ctx context.Context, r *dbpatch.Runner) int {
			return a.status(ctx, r, name)
		})
	case "list":
		return a.withDB(a.list)
	case "new":
		if len(args) < 2 {
			fmt.Fprintln(a.stderr, "Error: a description is required for the new command.")
			a.usage()
			return 1
		}
		return a.newPatch(args[1])
	case "generate":
		if len(args) < 2 {
			fmt.Fprintln(a.stderr, "Error: a description is required for the generate command.")
			a.usage()
			return 1
		}
		return a.withDB(func(ctx context.Context, r *dbpatch.Runner) int {
			return a.generate(ctx, r, args[1], s.markApplied)
		})
	case "check":
		return a.withDB(a.check)
	case "snapshot":
		return a.withDB(a.snapshot)
	default:
		fmt.Fprintf(a.stderr, "Unknown command: %s\n", command)
		a.usage()
		return 1
	}
}

// withDB opens the connection, builds a runner with the manifest patches
// registered and calls f with a bounded context.
func (a *app) withDB(f func(ctx context.Context, r *dbpatch.Runner) int) int {
	if a.conn == "" {
		fmt.Fprintf(a.stderr, "Error: connection URL must be provided via -conn flag, %s env var, or \"conn\" in config file\n", a.opts.ConnEnv)
		a.usage()
		return 1
	}

	db, err := a.opts.Open(a.cfg.Driver, a.conn)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error opening database: %v\n", err)
		return 1
	}
	defer db.Close()

	r, err := a.runner(db)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error initializing dbpatch: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	return f(ctx, r)
}

func (a *app) runner(db *sql.DB) (*dbpatch.Runner, error) {
	r, err := dbpatch.NewRunner(a.cfg, db)
	if err != nil {
		return nil, err
	}
	if err := r.RegisterManifest(); err != nil {
		return nil, err
	}
	return r, nil
}

func (a *app) transition(ctx context.Context, r *dbpatch.Runner, command, name string) int {
	var (
		op   func(context.Context, string) error
		verb string
	)
	switch command {
	case "apply":
		op, verb = r.Apply, "Applying"
	case "revert":
		op, verb = r.Revert, "Reverting"
	default:
		op, verb = r.Skip, "Skipping"
	}
	fmt.Fprintf(a.stdout, "[%s] %s patch %s...\n", now(), verb, name)
	if err := op(ctx, name); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 1
	}
	status, err := r.Status(ctx, name)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error reading status: %v\n", err)
		return 1
	}
	fmt.Fprintf(a.stdout, "[%s] Patch %s is now %s.\n", now(), name, status)
	return 0
}

func (a *app) applyAll(ctx context.Context, r *dbpatch.Runner) int {
	fmt.Fprintf(a.stdout, "[%s] Applying awaiting patches...\n", now())
	applied, err := r.ApplyPending(ctx)
	fmt.Fprintf(a.stdout, "[%s] Applied %d patches:\n", now(), len(applied))
	for _, p := range applied {
		fmt.Fprintf(a.stdout, "  - %s\n", p.UniqueName())
	}
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) status(ctx context.Context, r *dbpatch.Runner, name string) int {
	if name != "" {
		status, err := r.Status(ctx, name)
		if err != nil {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Fprintf(a.stdout, "%s: %s\n", name, status)
		if status == dbpatch.StatusError {
			msg, err := r.LastErrorMessage(ctx, name)
			if err != nil {
				fmt.Fprintf(a.stderr, "Error: %v\n", err)
				return 1
			}
			fmt.Fprintf(a.stdout, "  last error: %s\n", msg)
		}
		return 0
	}

	states, err := r.States(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 1
	}
	counts := make(map[dbpatch.Status]int)
	for _, st := range states {
		counts[st.Status]++
	}
	fmt.Fprintf(a.stdout, "%d patches\n", len(states))
	for _, st := range []dbpatch.Status{dbpatch.StatusAwaiting, dbpatch.StatusApplied, dbpatch.StatusSkipped, dbpatch.StatusError} {
		fmt.Fprintf(a.stdout, "  %-8s %d\n", st, counts[st])
	}
	return 0
}

func (a *app) list(ctx context.Context, r *dbpatch.Runner) int {
	// The list command does not modify anything except creating the patch table.
	states, err := r.States(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(a.stdout, "Patches:")
	for _, st := range states {
		line := fmt.Sprintf("%-8s %s", st.Status, st.Patch.UniqueName())
		if !st.ExecDate.IsZero() {
			line += " (" + st.ExecDate.Format(time.RFC3339) + ")"
		}
		if d := st.Patch.Description(); d != "" {
			line += " - " + d
		}
		fmt.Fprintln(a.stdout, line)
		if st.ErrorMessage != "" {
			fmt.Fprintf(a.stdout, "         last error: %s\n", st.ErrorMessage)
		}
	}
	return 0
}

func (a *app) newPatch(description string) int {
	// Scaffolding does not need a database connection.
	r, err := a.runner(nil)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error initializing dbpatch: %v\n", err)
		return 1
	}
	fmt.Fprintf(a.stdout, "[%s] Creating new patch with description '%s'...\n", now(), description)
	p, err := r.CreatePatch(description)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error creating new patch: %v\n", err)
		return 1
	}
	fmt.Fprintf(a.stdout, "  up:   %s\n  down: %s\n", p.UpFile(), p.DownFile())
	fmt.Fprintf(a.stdout, "[%s] New patch %s created successfully.\n", now(), p.UniqueName())
	return 0
}

func (a *app) generate(ctx context.Context, r *dbpatch.Runner, description string, markApplied bool) int {
	gen, err := r.GenerateDiffPatch(ctx, description, dbpatch.GenerateOptions{MarkApplied: markApplied})
	if errors.Is(err, dbpatch.ErrNoSchemaChanges) {
		fmt.Fprintln(a.stdout, "No schema changes since the last snapshot.")
		return 0
	}
	if err != nil {
		fmt.Fprintf(a.stderr, "Error generating patch: %v\n", err)
		return 1
	}
	fmt.Fprintf(a.stdout, "Generated patch %s\n  up:   %s\n  down: %s\n", gen.Patch.UniqueName(), gen.Patch.UpFile(), gen.Patch.DownFile())
	return 0
}

func (a *app) check(ctx context.Context, r *dbpatch.Runner) int {
	stmts, err := r.PendingChanges(ctx)
	if err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 1
	}
	if len(stmts) == 0 {
		fmt.Fprintln(a.stdout, "Schema matches the snapshot.")
		return 0
	}
	fmt.Fprintln(a.stdout, "Schema differs from the snapshot. Run generate to capture these changes:")
	for _, stmt := range stmts {
		fmt.Fprintf(a.stdout, "%s;\n", stmt)
	}
	return 1
}

func (a *app) snapshot(ctx context.Context, r *dbpatch.Runner) int {
	if err := r.TakeSnapshot(ctx); err != nil {
		fmt.Fprintf(a.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(a.stdout, "[%s] Snapshot saved.\n", now())
	return 0
}

func now() string {
	return time.Now().Format(time.Kitchen)
}

// firstNonEmpty returns the first non-empty string in the provided list.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
