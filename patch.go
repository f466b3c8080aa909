package dbpatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// Patch is a named unit of database change with a persisted status.
//
// Apply moves a patch to StatusApplied, Revert back to StatusAwaiting and
// Skip to StatusSkipped without running any change. A failing Apply or
// Revert records StatusError with the error message and returns the error.
// There is no automatic recovery from StatusError; calling Apply or Revert
// again after fixing the cause transitions directly to the target status.
//
// The concrete variants are SQLFilePatch, SchemaMigrationPatch and
// DataMigrationPatch. A patch must be registered with a Runner before any
// operation other than the accessors is used.
type Patch interface {
	UniqueName() string
	Description() string
	PatchType() PatchType
	CanRevert() bool

	Apply(ctx context.Context) error
	Revert(ctx context.Context) error
	Skip(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
	LastErrorMessage(ctx context.Context) (string, error)

	bind(r *StatusRecorder)
}

// PatchOption sets optional patch metadata.
type PatchOption func(*patchInfo)

// WithDescription sets the free text description of a patch.
func WithDescription(description string) PatchOption {
	return func(p *patchInfo) { p.description = description }
}

// WithPatchType tags a patch with a classification.
func WithPatchType(t PatchType) PatchOption {
	return func(p *patchInfo) { p.patchType = t }
}

// patchInfo holds what every variant shares and forwards status handling to
// the bound StatusRecorder.
type patchInfo struct {
	name        string
	description string
	patchType   PatchType
	recorder    *StatusRecorder
}

func newPatchInfo(name string, opts []PatchOption) patchInfo {
	p := patchInfo{name: name}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

func (p *patchInfo) UniqueName() string   { return p.name }
func (p *patchInfo) Description() string  { return p.description }
func (p *patchInfo) PatchType() PatchType { return p.patchType }

func (p *patchInfo) bind(r *StatusRecorder) { p.recorder = r }

// Skip marks the patch as skipped without executing anything.
func (p *patchInfo) Skip(ctx context.Context) error {
	return p.recorder.skip(ctx, p.name)
}

func (p *patchInfo) Status(ctx context.Context) (Status, error) {
	if err := p.recorder.ready(ctx); err != nil {
		return "", err
	}
	return p.recorder.registry.Status(ctx, p.name)
}

func (p *patchInfo) LastErrorMessage(ctx context.Context) (string, error) {
	if err := p.recorder.ready(ctx); err != nil {
		return "", err
	}
	return p.recorder.registry.LastErrorMessage(ctx, p.name)
}

// StatusRecorder runs a patch operation and persists the resulting status.
// Patches share one recorder through their Runner.
type StatusRecorder struct {
	client    Client
	registry  *Registry
	snapshots SnapshotStore
	rootDir   string
	log       logrus.FieldLogger
}

// NewStatusRecorder returns a recorder writing to registry and, when
// snapshots is not nil, refreshing the schema snapshot after each operation.
func NewStatusRecorder(client Client, registry *Registry, snapshots SnapshotStore, cfg Config) *StatusRecorder {
	cfg = cfg.withDefaults()
	return &StatusRecorder{
		client:    client,
		registry:  registry,
		snapshots: snapshots,
		rootDir:   cfg.RootDir,
		log:       cfg.Logger,
	}
}

// ready fails with ErrConnectionNotConfigured when the recorder has no
// connection and otherwise makes sure the patch table exists.
func (r *StatusRecorder) ready(ctx context.Context) error {
	if r == nil || r.client == nil || r.registry == nil {
		return ErrConnectionNotConfigured
	}
	return r.registry.EnsureTable(ctx)
}

// run executes change and records target on success or StatusError on failure.
func (r *StatusRecorder) run(ctx context.Context, name, op string, target Status, change func(ctx context.Context, c Client) error) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	log := r.log.WithFields(logrus.Fields{"patch": name, "op": op})
	log.Info("running patch")

	err := change(ctx, r.client)
	if err == nil {
		err = r.snapshot(ctx)
	}
	if err != nil {
		err = fmt.Errorf("%s patch %s: %w", op, name, err)
		log.WithError(err).Error("patch failed")
		if saveErr := r.registry.Save(ctx, name, StatusError, err.Error()); saveErr != nil {
			return errors.Join(err, saveErr)
		}
		return err
	}
	if err := r.registry.Save(ctx, name, target, ""); err != nil {
		return err
	}
	log.WithField("status", target).Info("patch done")
	return nil
}

func (r *StatusRecorder) skip(ctx context.Context, name string) error {
	if err := r.ready(ctx); err != nil {
		return err
	}
	if err := r.snapshot(ctx); err != nil {
		return fmt.Errorf("skip patch %s: %w", name, err)
	}
	if err := r.registry.Save(ctx, name, StatusSkipped, ""); err != nil {
		return err
	}
	r.log.WithFields(logrus.Fields{"patch": name, "status": StatusSkipped}).Info("patch skipped")
	return nil
}

// snapshot stores the live schema as the new diff baseline.
func (r *StatusRecorder) snapshot(ctx context.Context) error {
	if r.snapshots == nil {
		return nil
	}
	live, err := r.client.IntrospectSchema(ctx)
	if err != nil {
		return diffError("introspect schema", err)
	}
	if err := r.snapshots.Save(ctx, live); err != nil {
		return fmt.Errorf("save schema snapshot: %w", err)
	}
	return nil
}

// resolve makes a relative SQL file path relative to the root directory.
func (r *StatusRecorder) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.rootDir, path)
}

func (r *StatusRecorder) executor() *Executor {
	return NewExecutor(r.client, r.log)
}
