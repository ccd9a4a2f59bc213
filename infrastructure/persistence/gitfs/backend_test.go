package gitfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-backend/application/ledger"
	"prism-backend/application/ports"
	"prism-backend/domain/core/entities"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(t.TempDir())
	require.NoError(t, err)
	return b
}

func TestSaveAndLoadNodes(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	node, err := entities.NewNode("Idea", "")
	require.NoError(t, err)
	require.NoError(t, b.SaveNode(ctx, node))

	nodes, err := b.LoadNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, node.Label, nodes[node.ID].Label)
}

func TestLoadNodesSkipsCorruptFiles(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	node, err := entities.NewNode("Good", "")
	require.NoError(t, err)
	require.NoError(t, b.SaveNode(ctx, node))

	bad := filepath.Join(b.store.nodesDir, "broken.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))

	nodes, err := b.LoadNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)
}

func TestSetVotePendingWithoutNotesNeverMaterializes(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	// No vote, no notes: no record may be created.
	empty := ""
	require.NoError(t, b.SetVote(ctx, "alice", "n1", ports.VoteUpdate{Notes: &empty}))

	rec, err := b.GetVote(ctx, "alice", "n1")
	require.NoError(t, err)
	assert.Nil(t, rec)

	bucket, err := b.LoadVotes(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, bucket.Nodes)
}

func TestSetVoteMergeSemantics(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.SetVote(ctx, "alice", "n1", ports.VoteUpdate{Interested: entities.Vote(true)}))

	// Notes nil leaves the vote untouched.
	notes := "worth a look"
	require.NoError(t, b.SetVote(ctx, "alice", "n1", ports.VoteUpdate{Notes: &notes}))

	rec, err := b.GetVote(ctx, "alice", "n1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.NotNil(t, rec.Interested)
	assert.True(t, *rec.Interested)
	assert.Equal(t, notes, rec.Notes)

	// Clearing the vote keeps the record alive while notes remain.
	require.NoError(t, b.SetVote(ctx, "alice", "n1", ports.VoteUpdate{ClearVote: true}))
	rec, err = b.GetVote(ctx, "alice", "n1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Nil(t, rec.Interested)

	// Clearing the notes too deletes the record.
	empty := ""
	require.NoError(t, b.SetVote(ctx, "alice", "n1", ports.VoteUpdate{Notes: &empty}))
	rec, err = b.GetVote(ctx, "alice", "n1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestExternalUsers(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.SetVote(ctx, "alice", "n1", ports.VoteUpdate{Interested: entities.Vote(true)}))
	notes := "thoughts"
	require.NoError(t, b.SetVote(ctx, "bob", "n1", ports.VoteUpdate{Notes: &notes}))

	external, err := b.ExternalUsers(ctx, "n1", "alice")
	require.NoError(t, err)
	require.Len(t, external, 1)
	assert.Equal(t, "bob", external[0].UserID)
	assert.False(t, external[0].HasVote)
	assert.True(t, external[0].HasNotes)

	encumbered, err := b.IsEncumbered(ctx, "n1", "alice")
	require.NoError(t, err)
	assert.True(t, encumbered)

	encumbered, err = b.IsEncumbered(ctx, "n1", "bob")
	require.NoError(t, err)
	assert.True(t, encumbered)
}

func TestReclaimOrphans(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	root, _ := entities.NewNode("root", "")
	orphan, _ := entities.NewNode("orphan", root.ID)
	child, _ := entities.NewNode("child", orphan.ID)
	for _, n := range []entities.Node{root, orphan, child} {
		require.NoError(t, b.SaveNode(ctx, n))
	}
	require.NoError(t, b.SetVote(ctx, "alice", root.ID, ports.VoteUpdate{Interested: entities.Vote(true)}))
	require.NoError(t, b.SetVote(ctx, "alice", child.ID, ports.VoteUpdate{Interested: entities.Vote(false)}))

	count, err := b.ReclaimOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	nodes, err := b.LoadNodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Empty(t, nodes[child.ID].ParentID, "dangling parent rewritten to empty")
	assert.Equal(t, "", nodes[root.ID].ParentID)

	// Idempotent: a second run reclaims nothing.
	count, err = b.ReclaimOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReclaimOrphansNoBucketsIsNoOp(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	node, _ := entities.NewNode("lonely", "")
	require.NoError(t, b.SaveNode(ctx, node))

	// Without any user buckets every node would look orphaned; the guard
	// keeps a fresh checkout from wiping the graph.
	count, err := b.ReclaimOrphans(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestApplyMutationsConvergesBuckets(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	require.NoError(t, b.SetVote(ctx, "alice", "n1", ports.VoteUpdate{Interested: entities.Vote(true)}))
	require.NoError(t, b.SetVote(ctx, "bob", "n1", ports.VoteUpdate{Interested: entities.Vote(false)}))

	m := ledger.New("alice", "n1", ledger.ActionDeleteNode, "")
	require.NoError(t, b.AppendMutation(ctx, m))

	applied, err := b.ApplyMutations(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{m.ID}, applied)

	for _, user := range []string{"alice", "bob"} {
		bucket, err := b.LoadVotes(ctx, user)
		require.NoError(t, err)
		_, ok := bucket.Get("n1")
		assert.False(t, ok, user)
		assert.True(t, bucket.HasApplied(m.ID), user)
	}

	// Replay is a no-op.
	applied, err = b.ApplyMutations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestAppendMutationIsImmutable(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	m := ledger.New("alice", "n1", ledger.ActionDeleteNode, "")
	require.NoError(t, b.AppendMutation(ctx, m))
	assert.Error(t, b.AppendMutation(ctx, m))
}

func TestSyncWithoutGitIsLocalNoOp(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	res, err := b.Sync(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message)

	res, err = b.Push(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Message)

	pending, err := b.HasUnpushedChanges(ctx)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestGetGraphMatchesBuckets(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	node, _ := entities.NewNode("Idea", "")
	require.NoError(t, b.SaveNode(ctx, node))
	require.NoError(t, b.SetVote(ctx, "alice", node.ID, ports.VoteUpdate{Interested: entities.Vote(true)}))

	graph, err := b.GetGraph(ctx)
	require.NoError(t, err)
	agg, ok := graph.Node(node.ID)
	require.True(t, ok)
	assert.Equal(t, []string{"alice"}, agg.InterestedUsers)
}
