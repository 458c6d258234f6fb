// Package classifier implements the pure file-state decision table: given
// a path's Work, Production, and tag-base blob identities, which of
// SAME/MODIFIED/UPDATED/CONFLICTED it is in.
package classifier

import (
	"context"

	"github.com/cccopy/cccopy/pkg/types"
)

// BlobResolver is the subset of the VCS adapter the classifier needs to
// resolve the three blob identities it compares.
type BlobResolver interface {
	BlobID(ctx context.Context, dir, path string) (types.BlobID, error)
	BlobIDInCommit(ctx context.Context, dir, commit, path string) (types.BlobID, error)
}

// Classifier computes FileState from blob identities. It performs no
// writes; any error resolving a blob identity is classified CONFLICTED
// (fail closed) by the caller rather than propagated as a fatal error,
// per the component's "any exception during hashing -> CONFLICTED" rule.
type Classifier struct {
	vcs BlobResolver
}

// New builds a Classifier over vcs.
func New(vcs BlobResolver) *Classifier {
	return &Classifier{vcs: vcs}
}

// Classify resolves the three blob identities for relPath and returns the
// file state per the component's decision table, applying the special
// cases (absent tag, missing Work, missing Production, hashing failure)
// first.
func (c *Classifier) Classify(ctx context.Context, project *types.Project, tag types.ProductionTag, relPath string) (types.FileState, error) {
	if !tag.Present() {
		return types.StateUpdated, nil
	}

	workHash, workErr := c.vcs.BlobID(ctx, project.WorkDir, relPath)
	if workErr != nil {
		return types.StateConflicted, nil
	}
	prodHash, prodErr := c.vcs.BlobID(ctx, project.ProductionDir, relPath)
	if prodErr != nil {
		return types.StateConflicted, nil
	}

	if workHash.IsMissing() && !prodHash.IsMissing() {
		return types.StateUpdated, nil
	}
	if !workHash.IsMissing() && prodHash.IsMissing() {
		return types.StateModified, nil
	}

	baseHash, baseErr := c.vcs.BlobIDInCommit(ctx, project.ProductionDir, tag.Commit, relPath)
	if baseErr != nil {
		return types.StateConflicted, nil
	}

	return classify(workHash, prodHash, baseHash), nil
}

func classify(work, prod, base types.BlobID) types.FileState {
	workEqBase := work == base
	workEqProd := work == prod
	baseEqProd := base == prod

	switch {
	case workEqBase && workEqProd && baseEqProd:
		return types.StateSame
	case workEqBase && !workEqProd && !baseEqProd:
		return types.StateUpdated
	case !workEqBase && !workEqProd && baseEqProd:
		return types.StateModified
	case !workEqBase && workEqProd && !baseEqProd:
		return types.StateSame
	default:
		return types.StateConflicted
	}
}
