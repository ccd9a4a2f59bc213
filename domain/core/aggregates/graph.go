// Package aggregates builds the read-only graph view that joins shared node
// records with every user's private vote records. The aggregation is a pure
// function over a snapshot: both storage backends call into it so their
// GetGraph results are behaviorally equivalent by construction.
package aggregates

import (
	"sort"

	"prism-backend/domain/core/entities"
)

// AggregatedNode is a node enriched with the vote aggregation across all
// known users. It is derived, recomputed per query, and never persisted.
type AggregatedNode struct {
	entities.Node

	InterestedUsers []string          `json:"interested_users"`
	RejectedUsers   []string          `json:"rejected_users"`
	Notes           string            `json:"notes"`
	NotesByUser     map[string]string `json:"notes_by_user,omitempty"`
}

// Edge is a parent→child relation derived from ParentID pointers whose
// target currently exists.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the materialized view consumed by the front end.
type Graph struct {
	Nodes []AggregatedNode `json:"nodes"`
	Edges []Edge           `json:"edges"`
}

// Node returns the aggregated node with the given id, if present.
func (g *Graph) Node(id string) (AggregatedNode, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return AggregatedNode{}, false
}

// BuildGraph joins nodes with per-user vote buckets into a Graph.
//
// Determinism: users are scanned in lexicographic order by user id, so the
// winning note (first non-empty) and the member lists are stable across
// calls and across backends. Output nodes are sorted by id. Each user lands
// in at most one of interested/rejected, which keeps the two sets disjoint.
//
// Complexity is O(nodes × users); both dimensions are small by design, so
// plain map lookups are enough.
func BuildGraph(nodes map[string]entities.Node, votesByUser map[string]map[string]entities.VoteRecord) *Graph {
	users := make([]string, 0, len(votesByUser))
	for userID := range votesByUser {
		users = append(users, userID)
	}
	sort.Strings(users)

	nodeIDs := make([]string, 0, len(nodes))
	for id := range nodes {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	graph := &Graph{
		Nodes: make([]AggregatedNode, 0, len(nodes)),
		Edges: make([]Edge, 0, len(nodes)),
	}

	for _, id := range nodeIDs {
		node := nodes[id]
		node.Normalize()

		out := AggregatedNode{
			Node:            node,
			InterestedUsers: []string{},
			RejectedUsers:   []string{},
		}

		for _, userID := range users {
			rec, ok := votesByUser[userID][id]
			if !ok {
				continue // absence means pending
			}
			switch {
			case rec.Interested == nil:
				// notes without a vote still count below
			case *rec.Interested:
				out.InterestedUsers = append(out.InterestedUsers, userID)
			default:
				out.RejectedUsers = append(out.RejectedUsers, userID)
			}
			if rec.HasNotes() {
				if out.NotesByUser == nil {
					out.NotesByUser = make(map[string]string)
				}
				out.NotesByUser[userID] = rec.Notes
				if out.Notes == "" {
					out.Notes = rec.Notes
				}
			}
		}

		graph.Nodes = append(graph.Nodes, out)
	}

	// Edges only for parents that exist; a dangling ParentID leaves the node
	// rendered as a root while its stored value stays untouched.
	for _, n := range graph.Nodes {
		if n.ParentID == "" {
			continue
		}
		if _, ok := nodes[n.ParentID]; ok {
			graph.Edges = append(graph.Edges, Edge{Source: n.ParentID, Target: n.ID})
		}
	}

	return graph
}

// VotedNodeIDs returns the set of node ids referenced by at least one vote
// record across all buckets. Used by orphan reclamation.
func VotedNodeIDs(votesByUser map[string]map[string]entities.VoteRecord) map[string]struct{} {
	voted := make(map[string]struct{})
	for _, bucket := range votesByUser {
		for nodeID := range bucket {
			voted[nodeID] = struct{}{}
		}
	}
	return voted
}
