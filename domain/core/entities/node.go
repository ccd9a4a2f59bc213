package entities

import (
	"strings"

	"github.com/google/uuid"

	pkgerrors "prism-backend/pkg/errors"
)

// DefaultNodeType is assigned to nodes created without an explicit type.
const DefaultNodeType = "default"

// Node is the shared structural record of the idea graph. It is owned by the
// shared layer: any member of a project may rewrite it, subject to the
// advisory encumbrance checks in the service layer. Per-user state lives in
// VoteRecord, never here.
type Node struct {
	ID           string         `json:"id"`
	Label        string         `json:"label"`
	ParentID     string         `json:"parent_id,omitempty"`
	Description  string         `json:"description"`
	NodeType     string         `json:"node_type"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
}

// NewNode creates a shared node record with a fresh identifier.
func NewNode(label, parentID string) (Node, error) {
	if strings.TrimSpace(label) == "" {
		return Node{}, pkgerrors.NewValidation("label cannot be empty")
	}
	return Node{
		ID:       uuid.NewString(),
		Label:    label,
		ParentID: parentID,
		NodeType: DefaultNodeType,
	}, nil
}

// IsRoot reports whether the node has no parent reference. A node whose
// ParentID points at a missing node still answers false here; the aggregator
// treats it as a root for edge purposes without touching the stored value.
func (n Node) IsRoot() bool {
	return n.ParentID == ""
}

// Normalize fills defaults for records loaded from older storage layouts.
func (n *Node) Normalize() {
	if n.NodeType == "" {
		n.NodeType = DefaultNodeType
	}
}

// SetCustomField stores a typed extra attribute defined by the node's type
// schema. Reserved core field names are rejected so a schema cannot shadow
// the shared structure.
func (n *Node) SetCustomField(key string, value any) error {
	switch key {
	case "id", "label", "parent_id", "description", "node_type", "custom_fields":
		return pkgerrors.NewValidation("custom field name is reserved: " + key)
	}
	if n.CustomFields == nil {
		n.CustomFields = make(map[string]any)
	}
	n.CustomFields[key] = value
	return nil
}

// VoteRecord is one user's private tri-state opinion plus notes on one node.
// Interested nil means pending; pending is expressed by absence in storage,
// so a record that is Empty must never be persisted.
type VoteRecord struct {
	Interested *bool  `json:"interested,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// Empty reports whether the record carries neither a vote nor notes.
// Empty records are deleted on write; bucket emptiness is what makes
// orphan detection possible.
func (v VoteRecord) Empty() bool {
	return v.Interested == nil && strings.TrimSpace(v.Notes) == ""
}

// HasVote reports whether the user has cast an accept or reject vote.
func (v VoteRecord) HasVote() bool {
	return v.Interested != nil
}

// HasNotes reports whether the user attached non-blank notes.
func (v VoteRecord) HasNotes() bool {
	return strings.TrimSpace(v.Notes) != ""
}

// Vote constructs a tri-state pointer from a concrete value.
func Vote(interested bool) *bool {
	return &interested
}

// VoteBucket is the per-user collection of vote records, one logical bucket
// per user. AppliedMutations is the bucket's ledger applied-set: mutation ids
// already replayed against this bucket (file backend only).
type VoteBucket struct {
	UserID           string                `json:"user_id"`
	Nodes            map[string]VoteRecord `json:"nodes"`
	AppliedMutations []string              `json:"applied_mutations,omitempty"`
}

// NewVoteBucket creates an empty bucket for a user.
func NewVoteBucket(userID string) *VoteBucket {
	return &VoteBucket{
		UserID: userID,
		Nodes:  make(map[string]VoteRecord),
	}
}

// Get returns the user's record for a node, if present.
func (b *VoteBucket) Get(nodeID string) (VoteRecord, bool) {
	rec, ok := b.Nodes[nodeID]
	return rec, ok
}

// Set stores a record, or removes the entry when the record is empty.
func (b *VoteBucket) Set(nodeID string, rec VoteRecord) {
	if b.Nodes == nil {
		b.Nodes = make(map[string]VoteRecord)
	}
	if rec.Empty() {
		delete(b.Nodes, nodeID)
		return
	}
	b.Nodes[nodeID] = rec
}

// Remove drops the user's record for a node entirely (reset to pending).
func (b *VoteBucket) Remove(nodeID string) bool {
	if _, ok := b.Nodes[nodeID]; !ok {
		return false
	}
	delete(b.Nodes, nodeID)
	return true
}

// HasApplied reports whether a ledger mutation id is in the applied-set.
func (b *VoteBucket) HasApplied(mutationID string) bool {
	for _, id := range b.AppliedMutations {
		if id == mutationID {
			return true
		}
	}
	return false
}

// MarkApplied records a ledger mutation id as applied for this bucket.
// Recording happens regardless of whether the mutation had any effect here,
// so it is never retried against this bucket.
func (b *VoteBucket) MarkApplied(mutationID string) {
	if b.HasApplied(mutationID) {
		return
	}
	b.AppliedMutations = append(b.AppliedMutations, mutationID)
}
