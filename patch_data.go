package dbpatch

import (
	"context"
)

// DataFunc reads and writes rows through the live connection.
type DataFunc func(ctx context.Context, c Client) error

// DataMigrationPatch runs user code against the connection. No diffing is
// involved.
type DataMigrationPatch struct {
	patchInfo
	up   DataFunc
	down DataFunc
}

// NewDataMigrationPatch returns a data patch. A nil down makes Revert a
// no-op that still records the transition.
func NewDataMigrationPatch(uniqueName string, up, down DataFunc, opts ...PatchOption) *DataMigrationPatch {
	return &DataMigrationPatch{
		patchInfo: newPatchInfo(uniqueName, opts),
		up:        up,
		down:      down,
	}
}

// CanRevert is always true for data patches.
func (p *DataMigrationPatch) CanRevert() bool {
	return true
}

func (p *DataMigrationPatch) Apply(ctx context.Context) error {
	return p.recorder.run(ctx, p.name, "apply", StatusApplied, call(p.up))
}

func (p *DataMigrationPatch) Revert(ctx context.Context) error {
	return p.recorder.run(ctx, p.name, "revert", StatusAwaiting, call(p.down))
}

func call(fn DataFunc) func(ctx context.Context, c Client) error {
	return func(ctx context.Context, c Client) error {
		if fn == nil {
			return nil
		}
		return fn(ctx, c)
	}
}
