// Package ledger implements the append-only mutation log used by the file
// backend to converge per-user buckets after git merges. Each mutation is
// persisted immutably before being applied and replayed idempotently per
// bucket: a bucket's applied-set records every mutation id it has seen,
// whether or not the mutation had anything to affect there.
package ledger

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"prism-backend/domain/core/entities"
)

// Shared monotonic entropy so ids minted in the same millisecond still sort
// in creation order.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

// Action identifies the structural effect of a mutation.
type Action string

const (
	ActionUpdateLabel Action = "UPDATE_LABEL"
	ActionDeleteNode  Action = "DELETE_NODE"
)

// Mutation is one immutable ledger record describing a structural change.
// ID is a ULID: globally unique and lexicographically ordered by creation
// time, so sorting ids replays the log oldest-first.
type Mutation struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	NodeID    string    `json:"node_id"`
	Action    Action    `json:"action"`
	Payload   string    `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates a mutation record with a fresh ULID.
func New(author, nodeID string, action Action, payload string) Mutation {
	now := time.Now().UTC()
	entropyMu.Lock()
	id := ulid.MustNew(ulid.Timestamp(now), entropy).String()
	entropyMu.Unlock()
	return Mutation{
		ID:        id,
		Author:    author,
		NodeID:    nodeID,
		Action:    Action(strings.ToUpper(string(action))),
		Payload:   payload,
		Timestamp: now,
	}
}

// applyToBucket applies a single mutation's effect to one bucket and reports
// whether the bucket changed structurally. The caller marks the mutation
// applied regardless of the return value.
func applyToBucket(m Mutation, bucket *entities.VoteBucket) bool {
	switch m.Action {
	case ActionDeleteNode:
		return bucket.Remove(m.NodeID)
	case ActionUpdateLabel:
		// Labels live on the shared node record, not in vote buckets; kept
		// as a recognized action so legacy logs replay cleanly.
		return false
	default:
		// Unknown action: fail open. Marking it applied without effect
		// avoids livelock on logs written by newer versions.
		return false
	}
}

// ApplyAll replays every mutation against every bucket, skipping (mutation,
// bucket) pairs already in that bucket's applied-set. Returns the ids of
// mutations that were newly applied to at least one bucket; replaying again
// with no new mutations returns an empty list.
//
// Mutations are processed in id order so buckets converge on the same final
// state regardless of how the underlying files were merged.
func ApplyAll(mutations []Mutation, buckets map[string]*entities.VoteBucket) []string {
	if len(mutations) == 0 || len(buckets) == 0 {
		return nil
	}

	ordered := make([]Mutation, len(mutations))
	copy(ordered, mutations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	userIDs := make([]string, 0, len(buckets))
	for id := range buckets {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	var applied []string
	for _, m := range ordered {
		appliedAnywhere := false
		for _, userID := range userIDs {
			bucket := buckets[userID]
			if bucket.HasApplied(m.ID) {
				continue
			}
			applyToBucket(m, bucket)
			bucket.MarkApplied(m.ID)
			appliedAnywhere = true
		}
		if appliedAnywhere {
			applied = append(applied, m.ID)
		}
	}
	return applied
}
