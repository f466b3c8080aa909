package dbpatch

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Runner is the entry point of the engine. It holds the registered patches,
// resolves them by unique name and makes sure the patch table exists before
// any status is read or written.
//
// Operations run synchronously, one at a time. Nothing prevents two
// processes from running the same patch concurrently.
type Runner struct {
	cfg       Config
	client    Client
	registry  *Registry
	snapshots SnapshotStore
	recorder  *StatusRecorder
	patches   []Patch
	byName    map[string]Patch
	log       logrus.FieldLogger
}

// RunnerOption customises a Runner.
type RunnerOption func(*Runner)

// WithSnapshotStore replaces the file snapshot store derived from the config.
func WithSnapshotStore(s SnapshotStore) RunnerOption {
	return func(r *Runner) { r.snapshots = s }
}

// NewRunner creates a Runner for db. A nil db is accepted; every operation
// that needs the database then fails with ErrConnectionNotConfigured.
func NewRunner(cfg Config, db *sql.DB, opts ...RunnerOption) (*Runner, error) {
	cfg = cfg.withDefaults()
	var client Client
	if db != nil {
		var err error
		if client, err = NewClient(cfg, db); err != nil {
			return nil, err
		}
	} else if _, err := NewClient(cfg, nil); err != nil {
		return nil, err
	}
	r := &Runner{
		cfg:       cfg,
		client:    client,
		snapshots: NewFileSnapshotStore(rootPath(cfg, cfg.SnapshotPath)),
		byName:    make(map[string]Patch),
		log:       cfg.Logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.registry = NewRegistry(client, cfg)
	r.recorder = NewStatusRecorder(client, r.registry, r.snapshots, cfg)
	return r, nil
}

// rootPath resolves a relative path against cfg.RootDir.
func rootPath(cfg Config, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cfg.RootDir, path)
}

// Client returns the connection handle, or nil when none is configured.
func (r *Runner) Client() Client {
	return r.client
}

// Registry returns the patch status registry.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Register adds patches in order. Names must be unique.
func (r *Runner) Register(patches ...Patch) error {
	for _, p := range patches {
		if _, ok := r.byName[p.UniqueName()]; ok {
			return fmt.Errorf("%s: %w", p.UniqueName(), ErrDuplicatePatch)
		}
		p.bind(r.recorder)
		r.patches = append(r.patches, p)
		r.byName[p.UniqueName()] = p
	}
	return nil
}

// RegisterManifest registers the patches listed in the manifest at
// cfg.ManifestPath. A SQL file patch that is already registered under the
// same name is updated in place.
func (r *Runner) RegisterManifest() error {
	m, err := LoadManifest(rootPath(r.cfg, r.cfg.ManifestPath))
	if err != nil {
		return err
	}
	for _, e := range m.Patches {
		if existing, ok := r.byName[e.Name]; ok {
			sp, ok := existing.(*SQLFilePatch)
			if !ok {
				return fmt.Errorf("%s: %w", e.Name, ErrDuplicatePatch)
			}
			sp.update(e.Up, e.Down, e.options()...)
			continue
		}
		if err := r.Register(e.Patch()); err != nil {
			return err
		}
	}
	return nil
}

// Patch returns the patch registered under uniqueName.
func (r *Runner) Patch(uniqueName string) (Patch, error) {
	p, ok := r.byName[uniqueName]
	if !ok {
		return nil, fmt.Errorf("%s: %w", uniqueName, ErrUnknownPatch)
	}
	return p, nil
}

// Patches returns the registered patches in registration order.
func (r *Runner) Patches() []Patch {
	return append([]Patch(nil), r.patches...)
}

// Apply applies the named patch.
func (r *Runner) Apply(ctx context.Context, uniqueName string) error {
	p, err := r.Patch(uniqueName)
	if err != nil {
		return err
	}
	return p.Apply(ctx)
}

// Revert reverts the named patch. A patch that cannot be reverted fails with
// ErrCannotRevert and is recorded with the error status.
func (r *Runner) Revert(ctx context.Context, uniqueName string) error {
	p, err := r.Patch(uniqueName)
	if err != nil {
		return err
	}
	return p.Revert(ctx)
}

// Skip marks the named patch as skipped.
func (r *Runner) Skip(ctx context.Context, uniqueName string) error {
	p, err := r.Patch(uniqueName)
	if err != nil {
		return err
	}
	return p.Skip(ctx)
}

// Status returns the status of the named patch.
func (r *Runner) Status(ctx context.Context, uniqueName string) (Status, error) {
	p, err := r.Patch(uniqueName)
	if err != nil {
		return "", err
	}
	return p.Status(ctx)
}

// LastErrorMessage returns the error recorded by the last failed operation
// on the named patch, or "".
func (r *Runner) LastErrorMessage(ctx context.Context, uniqueName string) (string, error) {
	p, err := r.Patch(uniqueName)
	if err != nil {
		return "", err
	}
	return p.LastErrorMessage(ctx)
}

// PatchState is the persisted state of a registered patch.
type PatchState struct {
	Patch        Patch
	Status       Status
	ExecDate     time.Time
	ErrorMessage string
}

// States returns the state of every registered patch in registration order.
func (r *Runner) States(ctx context.Context) ([]PatchState, error) {
	if err := r.recorder.ready(ctx); err != nil {
		return nil, err
	}
	records, err := r.registry.Records(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]PatchRecord, len(records))
	for _, rec := range records {
		byName[rec.UniqueName] = rec
	}
	states := make([]PatchState, 0, len(r.patches))
	for _, p := range r.patches {
		state := PatchState{Patch: p, Status: StatusAwaiting}
		if rec, ok := byName[p.UniqueName()]; ok {
			state.Status = rec.Status
			state.ExecDate = rec.ExecDate
			state.ErrorMessage = rec.ErrorMessage
		}
		states = append(states, state)
	}
	return states, nil
}

// ApplyPending applies every awaiting patch in registration order and
// stops at the first failure. It returns the patches that were applied.
func (r *Runner) ApplyPending(ctx context.Context) ([]Patch, error) {
	states, err := r.States(ctx)
	if err != nil {
		return nil, err
	}
	var applied []Patch
	for _, s := range states {
		if s.Status != StatusAwaiting {
			continue
		}
		if err := s.Patch.Apply(ctx); err != nil {
			return applied, err
		}
		applied = append(applied, s.Patch)
	}
	return applied, nil
}

// TakeSnapshot stores the live schema as the new diff baseline.
func (r *Runner) TakeSnapshot(ctx context.Context) error {
	if err := r.recorder.ready(ctx); err != nil {
		return err
	}
	return r.recorder.snapshot(ctx)
}

// PendingChanges returns the statements that turn the last snapshot into
// the live schema. An empty result means the database matches the snapshot.
func (r *Runner) PendingChanges(ctx context.Context) ([]string, error) {
	up, _, err := r.diffLive(ctx)
	return up, err
}

func (r *Runner) diffLive(ctx context.Context) (up, down []string, err error) {
	if r.client == nil {
		return nil, nil, ErrConnectionNotConfigured
	}
	from, err := r.snapshots.Load(ctx)
	if err != nil {
		return nil, nil, diffError("load snapshot", err)
	}
	live, err := r.client.IntrospectSchema(ctx)
	if err != nil {
		return nil, nil, diffError("introspect schema", err)
	}
	return Diff(from, live, r.client), Diff(live, from, r.client), nil
}

// GenerateOptions controls GenerateDiffPatch.
type GenerateOptions struct {
	// MarkApplied records the new patch as skipped because its changes are
	// already present in the database.
	MarkApplied bool
}

// GeneratedPatch is the result of GenerateDiffPatch.
type GeneratedPatch struct {
	Patch   *SQLFilePatch
	UpSQL   string
	DownSQL string
}

// GenerateDiffPatch compares the last snapshot with the live schema, writes
// the up and down SQL to new files and registers them as a patch. The patch
// is left awaiting, or marked skipped with opts.MarkApplied. It fails with
// ErrNoSchemaChanges when there is nothing to write.
func (r *Runner) GenerateDiffPatch(ctx context.Context, description string, opts GenerateOptions) (*GeneratedPatch, error) {
	up, down, err := r.diffLive(ctx)
	if err != nil {
		return nil, err
	}
	if len(up) == 0 {
		return nil, ErrNoSchemaChanges
	}

	now := r.cfg.Now()
	name := fmt.Sprintf("%s-%s-patch", uuid.NewString(), now.Format("20060102150405"))
	gen := &GeneratedPatch{UpSQL: joinStatements(up), DownSQL: joinStatements(down)}
	p, err := r.newFilePatch(now, name, description, "patch", gen.UpSQL, gen.DownSQL)
	if err != nil {
		return nil, err
	}
	gen.Patch = p
	r.log.WithFields(logrus.Fields{"patch": name, "up": p.UpFile(), "down": p.DownFile()}).Info("generated patch")

	if opts.MarkApplied {
		if err := p.Skip(ctx); err != nil {
			return gen, err
		}
	}
	return gen, nil
}

// CreatePatch scaffolds an empty up/down pair for description and registers
// it as a new awaiting patch.
func (r *Runner) CreatePatch(description string) (*SQLFilePatch, error) {
	label := kebabCase(description)
	if label == "" {
		label = "patch"
	}
	now := r.cfg.Now()
	name := now.Format("20060102150405") + "-" + label
	for i := 2; r.byName[name] != nil; i++ {
		name = fmt.Sprintf("%s-%s-%d", now.Format("20060102150405"), label, i)
	}
	return r.newFilePatch(now, name, description, label, upTemplate, downTemplate)
}

func (r *Runner) newFilePatch(now time.Time, name, description, label, upSQL, downSQL string) (*SQLFilePatch, error) {
	files, err := writePatchFiles(r.cfg, now, label, upSQL, downSQL)
	if err != nil {
		return nil, err
	}
	p := NewSQLFilePatch(name, files.up, files.down, WithDescription(description))
	if err := r.Register(p); err != nil {
		return nil, err
	}

	manifestPath := rootPath(r.cfg, r.cfg.ManifestPath)
	m, err := LoadManifest(manifestPath)
	if err != nil {
		return p, err
	}
	m.Upsert(manifestEntry(p))
	if err := m.Save(manifestPath); err != nil {
		return p, err
	}
	return p, nil
}
