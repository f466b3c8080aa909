package dbpatch

import (
	"context"
)

// SchemaFunc mutates a schema model in place.
type SchemaFunc func(s *Schema) error

// SchemaMigrationPatch changes the structure through code. Up and Down edit
// a copy of the live schema; the SQL is derived by diffing the copy against
// the live schema at execution time and is never stored.
type SchemaMigrationPatch struct {
	patchInfo
	up   SchemaFunc
	down SchemaFunc
}

// NewSchemaMigrationPatch returns a schema patch. A nil down makes Revert a
// no-op that still records the transition.
func NewSchemaMigrationPatch(uniqueName string, up, down SchemaFunc, opts ...PatchOption) *SchemaMigrationPatch {
	return &SchemaMigrationPatch{
		patchInfo: newPatchInfo(uniqueName, opts),
		up:        up,
		down:      down,
	}
}

// CanRevert is always true for schema patches.
func (p *SchemaMigrationPatch) CanRevert() bool {
	return true
}

func (p *SchemaMigrationPatch) Apply(ctx context.Context) error {
	return p.recorder.run(ctx, p.name, "apply", StatusApplied, func(ctx context.Context, c Client) error {
		return p.migrate(ctx, c, p.up)
	})
}

func (p *SchemaMigrationPatch) Revert(ctx context.Context) error {
	return p.recorder.run(ctx, p.name, "revert", StatusAwaiting, func(ctx context.Context, c Client) error {
		return p.migrate(ctx, c, p.down)
	})
}

// Statements returns the SQL that applying (or, with revert, reverting) the
// patch would run against the current database.
func (p *SchemaMigrationPatch) Statements(ctx context.Context, revert bool) ([]string, error) {
	if p.recorder == nil || p.recorder.client == nil {
		return nil, ErrConnectionNotConfigured
	}
	fn := p.up
	if revert {
		fn = p.down
	}
	return p.plan(ctx, p.recorder.client, fn)
}

func (p *SchemaMigrationPatch) migrate(ctx context.Context, c Client, fn SchemaFunc) error {
	stmts, err := p.plan(ctx, c, fn)
	if err != nil {
		return err
	}
	_, err = p.recorder.executor().ExecuteStatements(ctx, stmts)
	return err
}

// plan runs fn on a copy of the live schema and diffs the result.
func (p *SchemaMigrationPatch) plan(ctx context.Context, c Client, fn SchemaFunc) ([]string, error) {
	live, err := c.IntrospectSchema(ctx)
	if err != nil {
		return nil, diffError("introspect schema", err)
	}
	target := live.Clone()
	if fn != nil {
		if err := fn(target); err != nil {
			return nil, err
		}
	}
	return Diff(live, target, c), nil
}
