// Package ports defines the contracts between the application layer and the
// storage backends. Both physical implementations (local files synced by git,
// Supabase tables with realtime push) satisfy StorageBackend and must produce
// behaviorally equivalent GetGraph results for equivalent underlying state.
package ports

import (
	"context"

	"prism-backend/domain/core/aggregates"
	"prism-backend/domain/core/entities"
)

// BackendType identifies the physical storage implementation.
type BackendType string

const (
	BackendGit      BackendType = "git"
	BackendSupabase BackendType = "supabase"
	BackendMemory   BackendType = "memory"
)

// ChangeType mirrors the realtime event kinds pushed by the remote backend.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent describes one observed mutation of a node or vote record.
type ChangeEvent struct {
	Type   ChangeType
	NodeID string
	// Record holds the raw changed row/file payload; may be nil for deletes.
	Record map[string]any
}

// ChangeHandler receives change events from Subscribe. Handlers must be safe
// to call from a background goroutine.
type ChangeHandler func(ChangeEvent)

// ExternalUser describes another user's stake in a node, surfaced by the
// encumbrance queries so a caller can warn before destructive edits.
type ExternalUser struct {
	UserID     string `json:"user_id"`
	HasVote    bool   `json:"has_vote"`
	Interested *bool  `json:"interested,omitempty"`
	HasNotes   bool   `json:"has_notes"`
}

// SyncResult reports the outcome of a sync or push operation. Failures are
// returned as errors; Message carries the human-readable steady-state detail
// ("nothing to commit", "no upstream configured yet", ...).
type SyncResult struct {
	Message string `json:"message"`
}

// VoteUpdate describes a partial change to one user's vote record.
// Interested semantics follow the tri-state model: a nil pointer clears the
// vote back to pending. Notes nil leaves notes unchanged; a pointer to the
// empty string clears them. ClearVote distinguishes "clear" from "leave
// unchanged" for the Interested field.
type VoteUpdate struct {
	Interested *bool
	ClearVote  bool
	Notes      *string
}

// NodeReader provides read access to shared node records.
type NodeReader interface {
	// LoadNodes returns all shared node records keyed by id.
	LoadNodes(ctx context.Context) (map[string]entities.Node, error)
}

// NodeWriter provides write access to shared node records. SaveNode is
// create-or-replace by id and must be atomic per record.
type NodeWriter interface {
	SaveNode(ctx context.Context, node entities.Node) error
	DeleteNode(ctx context.Context, nodeID string) error
}

// VoteStore provides per-(user,node) vote record access. Only the owning
// user's write path may mutate a record, enforced by the caller.
type VoteStore interface {
	ListUsers(ctx context.Context) ([]string, error)
	CreateUser(ctx context.Context, userID string) error
	LoadVotes(ctx context.Context, userID string) (*entities.VoteBucket, error)
	GetVote(ctx context.Context, userID, nodeID string) (*entities.VoteRecord, error)
	SetVote(ctx context.Context, userID, nodeID string, update VoteUpdate) error
	RemoveVote(ctx context.Context, userID, nodeID string) error
}

// StorageBackend is the full contract both backend implementations satisfy.
type StorageBackend interface {
	NodeReader
	NodeWriter
	VoteStore

	// Type returns the backend type identifier.
	Type() BackendType
	// IsReadOnly reports whether writes are disabled for this session.
	// Writes on a read-only backend fail fast with a permission error.
	IsReadOnly() bool
	// SupportsRealtime reports whether Subscribe delivers push events.
	SupportsRealtime() bool

	// GetGraph materializes the aggregated view from current durable state.
	GetGraph(ctx context.Context) (*aggregates.Graph, error)

	// ExternalUsers returns every other user with a non-deleted vote record
	// on the node. IsEncumbered is true when that list is non-empty.
	ExternalUsers(ctx context.Context, nodeID, activeUserID string) ([]ExternalUser, error)
	IsEncumbered(ctx context.Context, nodeID, activeUserID string) (bool, error)

	// ReclaimOrphans deletes every node with zero vote records across all
	// users, then rewrites dangling parent references to empty. Idempotent.
	ReclaimOrphans(ctx context.Context) (int, error)

	// Sync pulls the latest remote state; Push publishes local changes.
	// Both are no-ops where not meaningful.
	Sync(ctx context.Context) (SyncResult, error)
	Push(ctx context.Context) (SyncResult, error)
	HasUnpushedChanges(ctx context.Context) (bool, error)

	// Subscribe registers change handlers; no-op where unsupported.
	Subscribe(ctx context.Context, onNodeChange, onVoteChange ChangeHandler) error
	Unsubscribe()
}
