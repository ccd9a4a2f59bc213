package gitfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNothingToCommit(t *testing.T) {
	assert.True(t, isNothingToCommit("On branch main\nnothing to commit, working tree clean"))
	assert.True(t, isNothingToCommit("Nothing added to commit but untracked files present"))
	assert.False(t, isNothingToCommit("error: pathspec 'x' did not match any files"))
}

func TestIsNoUpstream(t *testing.T) {
	assert.True(t, isNoUpstream("There is no tracking information for the current branch."))
	assert.True(t, isNoUpstream("fatal: The current branch main has no upstream branch."))
	assert.True(t, isNoUpstream("To push the current branch and set the remote as upstream, use\n\n    git push --set-upstream origin main"))
	assert.False(t, isNoUpstream("! [rejected] main -> main (fetch first)"))
}
