package entities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "prism-backend/pkg/errors"
)

func TestNewNode(t *testing.T) {
	node, err := NewNode("My idea", "parent-1")
	require.NoError(t, err)
	assert.NotEmpty(t, node.ID)
	assert.Equal(t, "My idea", node.Label)
	assert.Equal(t, "parent-1", node.ParentID)
	assert.Equal(t, DefaultNodeType, node.NodeType)
}

func TestNewNodeRejectsBlankLabel(t *testing.T) {
	_, err := NewNode("   ", "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestSetCustomFieldRejectsReservedNames(t *testing.T) {
	node, err := NewNode("n", "")
	require.NoError(t, err)

	for _, reserved := range []string{"id", "label", "parent_id", "description", "node_type", "custom_fields"} {
		assert.Error(t, node.SetCustomField(reserved, "x"), reserved)
	}

	require.NoError(t, node.SetCustomField("priority", 3))
	assert.Equal(t, 3, node.CustomFields["priority"])
}

func TestVoteRecordEmpty(t *testing.T) {
	assert.True(t, VoteRecord{}.Empty())
	assert.True(t, VoteRecord{Notes: "   "}.Empty())
	assert.False(t, VoteRecord{Interested: Vote(false)}.Empty())
	assert.False(t, VoteRecord{Notes: "something"}.Empty())
}

func TestVoteBucketSetElidesEmptyRecords(t *testing.T) {
	bucket := NewVoteBucket("alice")

	bucket.Set("n1", VoteRecord{Interested: Vote(true)})
	_, ok := bucket.Get("n1")
	assert.True(t, ok)

	// Resetting to pending with no notes removes the entry outright.
	bucket.Set("n1", VoteRecord{})
	_, ok = bucket.Get("n1")
	assert.False(t, ok)
}

func TestVoteBucketRemove(t *testing.T) {
	bucket := NewVoteBucket("alice")
	bucket.Set("n1", VoteRecord{Notes: "keep"})

	assert.True(t, bucket.Remove("n1"))
	assert.False(t, bucket.Remove("n1"))
}

func TestVoteBucketAppliedSet(t *testing.T) {
	bucket := NewVoteBucket("alice")

	assert.False(t, bucket.HasApplied("m1"))
	bucket.MarkApplied("m1")
	bucket.MarkApplied("m1")
	assert.True(t, bucket.HasApplied("m1"))
	assert.Len(t, bucket.AppliedMutations, 1)
}
