package ledger

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-backend/domain/core/entities"
)

func bucketWith(userID string, nodeIDs ...string) *entities.VoteBucket {
	bucket := entities.NewVoteBucket(userID)
	for _, id := range nodeIDs {
		bucket.Set(id, entities.VoteRecord{Interested: entities.Vote(true)})
	}
	return bucket
}

func TestNewMutationIDsAreOrderedAndUnique(t *testing.T) {
	var ids []string
	for i := 0; i < 50; i++ {
		ids = append(ids, New("alice", "n1", ActionDeleteNode, "").ID)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, ids, "ulid ids sort in creation order")

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate mutation id %s", id)
		seen[id] = struct{}{}
	}
}

func TestApplyAllDeleteNodePurgesBuckets(t *testing.T) {
	buckets := map[string]*entities.VoteBucket{
		"alice": bucketWith("alice", "n1", "n2"),
		"bob":   bucketWith("bob", "n1"),
	}
	m := New("alice", "n1", ActionDeleteNode, "")

	applied := ApplyAll([]Mutation{m}, buckets)
	require.Equal(t, []string{m.ID}, applied)

	_, ok := buckets["alice"].Get("n1")
	assert.False(t, ok)
	_, ok = buckets["bob"].Get("n1")
	assert.False(t, ok)
	_, ok = buckets["alice"].Get("n2")
	assert.True(t, ok)
}

func TestApplyAllIsIdempotent(t *testing.T) {
	buckets := map[string]*entities.VoteBucket{
		"alice": bucketWith("alice", "n1"),
	}
	m := New("alice", "n1", ActionDeleteNode, "")

	first := ApplyAll([]Mutation{m}, buckets)
	require.Len(t, first, 1)

	second := ApplyAll([]Mutation{m}, buckets)
	assert.Empty(t, second, "replay with no new mutations is a no-op")
}

func TestApplyAllMarksAppliedWithoutEffect(t *testing.T) {
	// The mutation targets a node bob never voted on; it must still land in
	// bob's applied-set so it is never retried there.
	buckets := map[string]*entities.VoteBucket{
		"bob": bucketWith("bob", "other"),
	}
	m := New("alice", "n1", ActionDeleteNode, "")

	ApplyAll([]Mutation{m}, buckets)
	assert.True(t, buckets["bob"].HasApplied(m.ID))
}

func TestApplyAllUnknownActionFailsOpen(t *testing.T) {
	buckets := map[string]*entities.VoteBucket{
		"alice": bucketWith("alice", "n1"),
	}
	m := New("alice", "n1", Action("SOME_FUTURE_ACTION"), "payload")

	applied := ApplyAll([]Mutation{m}, buckets)
	require.Len(t, applied, 1)
	assert.True(t, buckets["alice"].HasApplied(m.ID))

	// The bucket content is untouched.
	_, ok := buckets["alice"].Get("n1")
	assert.True(t, ok)
}

func TestApplyAllOrdersByID(t *testing.T) {
	first := New("alice", "n1", ActionDeleteNode, "")
	second := New("alice", "n2", ActionDeleteNode, "")
	buckets := map[string]*entities.VoteBucket{
		"alice": bucketWith("alice", "n1", "n2"),
	}

	// Pass them out of order; replay must process oldest-first.
	applied := ApplyAll([]Mutation{second, first}, buckets)
	require.Equal(t, []string{first.ID, second.ID}, applied)
}

func TestUpdateLabelIsRecognizedNoOp(t *testing.T) {
	buckets := map[string]*entities.VoteBucket{
		"alice": bucketWith("alice", "n1"),
	}
	m := New("alice", "n1", ActionUpdateLabel, "New label")

	ApplyAll([]Mutation{m}, buckets)
	_, ok := buckets["alice"].Get("n1")
	assert.True(t, ok)
	assert.True(t, buckets["alice"].HasApplied(m.ID))
}
