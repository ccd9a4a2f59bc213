package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-backend/application/ports"
	"prism-backend/domain/core/entities"
	"prism-backend/domain/core/valueobjects"
	"prism-backend/infrastructure/persistence/memory"
	pkgerrors "prism-backend/pkg/errors"
)

func testService(t *testing.T, opts ...memory.Option) (*GraphService, *memory.Backend) {
	t.Helper()
	backend := memory.New(opts...)
	return NewGraphService(backend, nil, nil), backend
}

func TestDeleteNodeRefusedWhenEncumbered(t *testing.T) {
	svc, backend := testService(t)
	ctx := context.Background()

	id, err := svc.AddNode(ctx, "alice", "Idea", "", valueobjects.Position{})
	require.NoError(t, err)
	require.NoError(t, backend.SetVote(ctx, "bob", id, ports.VoteUpdate{Interested: entities.Vote(true)}))

	err = svc.DeleteNode(ctx, "alice", id, false)
	require.Error(t, err)

	var enc *EncumbranceError
	require.True(t, errors.As(err, &enc))
	require.Len(t, enc.ExternalUsers, 1)
	assert.Equal(t, "bob", enc.ExternalUsers[0].UserID)

	// Still there.
	nodes, _ := backend.LoadNodes(ctx)
	assert.Contains(t, nodes, id)

	// Forcing overrides the refusal.
	require.NoError(t, svc.DeleteNode(ctx, "alice", id, true))
	nodes, _ = backend.LoadNodes(ctx)
	assert.NotContains(t, nodes, id)
}

func TestUpdateSharedNodeLabelConsultsEncumbrance(t *testing.T) {
	svc, backend := testService(t)
	ctx := context.Background()

	id, err := svc.AddNode(ctx, "alice", "Old label", "", valueobjects.Position{})
	require.NoError(t, err)
	notes := "bob's notes"
	require.NoError(t, backend.SetVote(ctx, "bob", id, ports.VoteUpdate{Notes: &notes}))

	label := "New label"
	err = svc.UpdateSharedNode(ctx, "alice", id, NodeUpdate{Label: &label}, false)
	var enc *EncumbranceError
	require.True(t, errors.As(err, &enc))

	// Description edits are additive and never blocked.
	desc := "more detail"
	require.NoError(t, svc.UpdateSharedNode(ctx, "alice", id, NodeUpdate{Description: &desc}, false))

	// Forced label rewrite goes through.
	require.NoError(t, svc.UpdateSharedNode(ctx, "alice", id, NodeUpdate{Label: &label}, true))
	nodes, _ := backend.LoadNodes(ctx)
	assert.Equal(t, "New label", nodes[id].Label)
	assert.Equal(t, "more detail", nodes[id].Description)
}

func TestUpdateSharedNodeReparentCycleGuard(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	a, _ := svc.AddNode(ctx, "alice", "a", "", valueobjects.Position{})
	b, _ := svc.AddNode(ctx, "alice", "b", a, valueobjects.Position{})

	err := svc.UpdateSharedNode(ctx, "alice", a, NodeUpdate{ParentID: &b}, true)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestSetVoteRequiresExistingNode(t *testing.T) {
	svc, _ := testService(t)

	err := svc.SetVote(context.Background(), "alice", "missing", ports.VoteUpdate{Interested: entities.Vote(true)})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestSetVoteNeverMaterializesEmptyRecord(t *testing.T) {
	svc, backend := testService(t)
	ctx := context.Background()

	id, err := svc.AddNode(ctx, "alice", "Idea", "", valueobjects.Position{})
	require.NoError(t, err)

	empty := ""
	require.NoError(t, svc.SetVote(ctx, "bob", id, ports.VoteUpdate{Notes: &empty}))

	rec, err := backend.GetVote(ctx, "bob", id)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestReadOnlyBackendFailsFast(t *testing.T) {
	svc, _ := testService(t, memory.WithReadOnly())

	_, err := svc.AddNode(context.Background(), "alice", "Idea", "", valueobjects.Position{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsPermissionDenied(err))
}

func TestCheckEditPermission(t *testing.T) {
	svc, backend := testService(t)
	ctx := context.Background()

	id, err := svc.AddNode(ctx, "alice", "Idea", "", valueobjects.Position{})
	require.NoError(t, err)

	allowed, external, err := svc.CheckEditPermission(ctx, "alice", id)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Empty(t, external)

	require.NoError(t, backend.SetVote(ctx, "bob", id, ports.VoteUpdate{Interested: entities.Vote(false)}))
	allowed, external, err = svc.CheckEditPermission(ctx, "alice", id)
	require.NoError(t, err)
	assert.False(t, allowed)
	require.Len(t, external, 1)
	assert.Equal(t, "bob", external[0].UserID)
}

func TestRemoveVoteResetsToPending(t *testing.T) {
	svc, backend := testService(t)
	ctx := context.Background()

	id, err := svc.AddNode(ctx, "alice", "Idea", "", valueobjects.Position{})
	require.NoError(t, err)

	require.NoError(t, svc.RemoveVote(ctx, "alice", id))
	rec, err := backend.GetVote(ctx, "alice", id)
	require.NoError(t, err)
	assert.Nil(t, rec)

	graph, err := svc.GetGraph(ctx)
	require.NoError(t, err)
	agg, ok := graph.Node(id)
	require.True(t, ok)
	assert.Empty(t, agg.InterestedUsers)
}

func TestSeedDemo(t *testing.T) {
	svc, backend := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.SeedDemo(ctx, "alice"))
	nodes, _ := backend.LoadNodes(ctx)
	assert.Len(t, nodes, 3)

	// Seeding again leaves the existing project alone.
	require.NoError(t, svc.SeedDemo(ctx, "alice"))
	again, _ := backend.LoadNodes(ctx)
	assert.Equal(t, nodes, again)
}
