// Package git provides an interface for git operations.
package git

import "context"

// Operations defines the git operations job environments need.
type Operations interface {
	// Clone clones url into dir, which must not exist or be empty.
	Clone(ctx context.Context, url, dir string) error
	// Checkout switches the repository at dir to revision.
	Checkout(ctx context.Context, dir, revision string) error
	// Head returns the commit hash checked out at dir.
	Head(ctx context.Context, dir string) (string, error)
}

// Verify ExecRunner implements Operations at compile time.
var _ Operations = (*ExecRunner)(nil)
