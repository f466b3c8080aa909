package dbpatch

import (
	"context"
	"fmt"
)

// SQLFilePatch applies an "up" SQL file and reverts with an optional "down"
// file. Relative paths are resolved against Config.RootDir.
type SQLFilePatch struct {
	patchInfo
	upFile   string
	downFile string
}

// NewSQLFilePatch returns a patch running upFile on apply and downFile on
// revert. An empty downFile makes the patch irreversible.
func NewSQLFilePatch(uniqueName, upFile, downFile string, opts ...PatchOption) *SQLFilePatch {
	return &SQLFilePatch{
		patchInfo: newPatchInfo(uniqueName, opts),
		upFile:    upFile,
		downFile:  downFile,
	}
}

func (p *SQLFilePatch) UpFile() string   { return p.upFile }
func (p *SQLFilePatch) DownFile() string { return p.downFile }

// CanRevert reports whether a down file is set.
func (p *SQLFilePatch) CanRevert() bool {
	return p.downFile != ""
}

func (p *SQLFilePatch) Apply(ctx context.Context) error {
	return p.recorder.run(ctx, p.name, "apply", StatusApplied, func(ctx context.Context, _ Client) error {
		_, err := p.recorder.executor().ExecuteFile(ctx, p.recorder.resolve(p.upFile))
		return err
	})
}

func (p *SQLFilePatch) Revert(ctx context.Context) error {
	return p.recorder.run(ctx, p.name, "revert", StatusAwaiting, func(ctx context.Context, _ Client) error {
		if !p.CanRevert() {
			return fmt.Errorf("no down file: %w", ErrCannotRevert)
		}
		_, err := p.recorder.executor().ExecuteFile(ctx, p.recorder.resolve(p.downFile))
		return err
	})
}

// update replaces the file paths and metadata, keeping the binding.
func (p *SQLFilePatch) update(upFile, downFile string, opts ...PatchOption) {
	p.upFile = upFile
	p.downFile = downFile
	for _, opt := range opts {
		opt(&p.patchInfo)
	}
}
