package dbpatch

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds settings for the patch engine.
type Config struct {
	// Driver is the database driver, e.g., "pg", "sqlite3" or "mysql".
	Driver string `json:"driver" mapstructure:"driver"`

	// PatchTable is the name of the table that stores patch status.
	PatchTable string `json:"patchTable" mapstructure:"patchTable"`

	// SnapshotPath is the file holding the last known schema.
	SnapshotPath string `json:"snapshotPath" mapstructure:"snapshotPath"`

	// RootDir is the base directory for relative SQL file paths.
	RootDir string `json:"rootDir" mapstructure:"rootDir"`

	// UpDir and DownDir receive generated SQL files, relative to RootDir.
	UpDir   string `json:"upDir" mapstructure:"upDir"`
	DownDir string `json:"downDir" mapstructure:"downDir"`

	// ManifestPath is the YAML file listing SQL file patches.
	ManifestPath string `json:"manifestPath" mapstructure:"manifestPath"`

	// Newline is the line ending used for generated files ("LF", "CR", or "CRLF").
	Newline string `json:"newline" mapstructure:"newline"`

	// CurrentSchema is the PostgreSQL schema that table names are qualified
	// with and that is introspected.
	CurrentSchema string `json:"currentSchema" mapstructure:"currentSchema"`

	// IgnoreTables are excluded from schema introspection. The patch table
	// is always excluded.
	IgnoreTables []string `json:"ignoreTables" mapstructure:"ignoreTables"`

	// Logger receives structured engine logs. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger `json:"-" mapstructure:"-"`

	// Dumper, when set, receives every executed statement that modifies the database.
	Dumper io.Writer `json:"-" mapstructure:"-"`

	// Now is the clock used for exec_date and generated file names.
	Now func() time.Time `json:"-" mapstructure:"-"`
}

// DefaultConfig provides default values for configuration.
var DefaultConfig = Config{
	PatchTable:    "patches",
	SnapshotPath:  "generated/schema.json",
	RootDir:       ".",
	UpDir:         "database/up",
	DownDir:       "database/down",
	ManifestPath:  "patches.yaml",
	Newline:       "LF",
	CurrentSchema: "public",
}

// withDefaults fills every empty field from DefaultConfig.
func (c Config) withDefaults() Config {
	if c.PatchTable == "" {
		c.PatchTable = DefaultConfig.PatchTable
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = DefaultConfig.SnapshotPath
	}
	if c.RootDir == "" {
		c.RootDir = DefaultConfig.RootDir
	}
	if c.UpDir == "" {
		c.UpDir = DefaultConfig.UpDir
	}
	if c.DownDir == "" {
		c.DownDir = DefaultConfig.DownDir
	}
	if c.ManifestPath == "" {
		c.ManifestPath = DefaultConfig.ManifestPath
	}
	if c.Newline == "" {
		c.Newline = DefaultConfig.Newline
	}
	if c.CurrentSchema == "" {
		c.CurrentSchema = DefaultConfig.CurrentSchema
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
