package aggregates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-backend/domain/core/entities"
)

func node(id, label, parentID string) entities.Node {
	return entities.Node{ID: id, Label: label, ParentID: parentID, NodeType: entities.DefaultNodeType}
}

func TestBuildGraphClassifiesVotes(t *testing.T) {
	nodes := map[string]entities.Node{
		"root": node("root", "Root", ""),
	}
	votes := map[string]map[string]entities.VoteRecord{
		"alice": {"root": {Interested: entities.Vote(true)}},
		"bob":   {"root": {Interested: entities.Vote(true)}},
		"carol": {"root": {Interested: entities.Vote(false)}},
	}

	graph := BuildGraph(nodes, votes)
	require.Len(t, graph.Nodes, 1)

	root := graph.Nodes[0]
	assert.Equal(t, []string{"alice", "bob"}, root.InterestedUsers)
	assert.Equal(t, []string{"carol"}, root.RejectedUsers)
}

func TestBuildGraphSetsAreDisjoint(t *testing.T) {
	nodes := map[string]entities.Node{"n": node("n", "N", "")}
	votes := map[string]map[string]entities.VoteRecord{
		"u1": {"n": {Interested: entities.Vote(true)}},
		"u2": {"n": {Interested: entities.Vote(false)}},
	}

	graph := BuildGraph(nodes, votes)
	n, ok := graph.Node("n")
	require.True(t, ok)

	for _, interested := range n.InterestedUsers {
		assert.NotContains(t, n.RejectedUsers, interested)
	}
}

func TestBuildGraphNoteTieBreakIsLexicographic(t *testing.T) {
	nodes := map[string]entities.Node{"n": node("n", "N", "")}
	votes := map[string]map[string]entities.VoteRecord{
		"zoe":   {"n": {Notes: "zoe's note"}},
		"adam":  {"n": {Notes: "adam's note"}},
		"maria": {"n": {Notes: "maria's note"}},
	}

	for i := 0; i < 10; i++ {
		graph := BuildGraph(nodes, votes)
		n, ok := graph.Node("n")
		require.True(t, ok)
		assert.Equal(t, "adam's note", n.Notes)
		assert.Len(t, n.NotesByUser, 3)
	}
}

func TestBuildGraphAbsenceMeansPending(t *testing.T) {
	nodes := map[string]entities.Node{"n": node("n", "N", "")}
	votes := map[string]map[string]entities.VoteRecord{
		"alice": {},
	}

	graph := BuildGraph(nodes, votes)
	n, ok := graph.Node("n")
	require.True(t, ok)
	assert.Empty(t, n.InterestedUsers)
	assert.Empty(t, n.RejectedUsers)
	assert.Empty(t, n.Notes)
}

func TestBuildGraphEdgesOnlyForExistingParents(t *testing.T) {
	nodes := map[string]entities.Node{
		"a": node("a", "A", ""),
		"b": node("b", "B", "a"),
		"c": node("c", "C", "missing"),
	}

	graph := BuildGraph(nodes, nil)
	require.Len(t, graph.Edges, 1)
	assert.Equal(t, Edge{Source: "a", Target: "b"}, graph.Edges[0])

	// The dangling parent pointer stays on the record.
	c, ok := graph.Node("c")
	require.True(t, ok)
	assert.Equal(t, "missing", c.ParentID)
}

func TestBuildGraphIsPure(t *testing.T) {
	nodes := map[string]entities.Node{"n": node("n", "N", "")}
	votes := map[string]map[string]entities.VoteRecord{
		"alice": {"n": {Interested: entities.Vote(true), Notes: "hi"}},
	}

	first := BuildGraph(nodes, votes)
	second := BuildGraph(nodes, votes)
	assert.Equal(t, first, second)

	// Inputs are untouched.
	assert.Equal(t, "hi", votes["alice"]["n"].Notes)
	assert.Equal(t, "N", nodes["n"].Label)
}

func TestBuildGraphResetToPendingScenario(t *testing.T) {
	// Three users on one root: A accept, B accept, C reject. Deleting C's
	// vote must empty the rejected set while the node record is untouched.
	nodes := map[string]entities.Node{"root": node("root", "Root", "")}
	votes := map[string]map[string]entities.VoteRecord{
		"A": {"root": {Interested: entities.Vote(true)}},
		"B": {"root": {Interested: entities.Vote(true)}},
		"C": {"root": {Interested: entities.Vote(false)}},
	}

	graph := BuildGraph(nodes, votes)
	root, _ := graph.Node("root")
	assert.Equal(t, []string{"A", "B"}, root.InterestedUsers)
	assert.Equal(t, []string{"C"}, root.RejectedUsers)

	delete(votes["C"], "root")
	graph = BuildGraph(nodes, votes)
	root, _ = graph.Node("root")
	assert.Equal(t, []string{"A", "B"}, root.InterestedUsers)
	assert.Empty(t, root.RejectedUsers)

	// Root still has votes from A and B, so it is not an orphan.
	voted := VotedNodeIDs(votes)
	assert.Contains(t, voted, "root")
}

func TestVotedNodeIDs(t *testing.T) {
	votes := map[string]map[string]entities.VoteRecord{
		"alice": {"a": {Interested: entities.Vote(true)}, "b": {Notes: "n"}},
		"bob":   {"b": {Interested: entities.Vote(false)}},
	}

	voted := VotedNodeIDs(votes)
	assert.Len(t, voted, 2)
	assert.Contains(t, voted, "a")
	assert.Contains(t, voted, "b")
}
