// Package memory provides an in-process StorageBackend used by unit tests
// and demo seeding. It mirrors the contract semantics of the durable
// backends (empty-record elision, read-only fail-fast, orphan reclamation)
// without any I/O.
package memory

import (
	"context"
	"sort"
	"sync"

	"prism-backend/application/ports"
	"prism-backend/domain/core/aggregates"
	"prism-backend/domain/core/entities"
	pkgerrors "prism-backend/pkg/errors"
)

// Backend is a map-backed StorageBackend. Safe for concurrent use.
type Backend struct {
	mu       sync.RWMutex
	nodes    map[string]entities.Node
	buckets  map[string]*entities.VoteBucket
	readOnly bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithReadOnly disables writes, mirroring an unauthenticated remote session.
func WithReadOnly() Option {
	return func(b *Backend) { b.readOnly = true }
}

// New creates an empty in-memory backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		nodes:   make(map[string]entities.Node),
		buckets: make(map[string]*entities.VoteBucket),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Type() ports.BackendType { return ports.BackendMemory }
func (b *Backend) IsReadOnly() bool        { return b.readOnly }
func (b *Backend) SupportsRealtime() bool  { return false }

func (b *Backend) checkWritable() error {
	if b.readOnly {
		return pkgerrors.NewPermissionDenied("backend is read-only")
	}
	return nil
}

// --- Node operations ---

func (b *Backend) LoadNodes(ctx context.Context) (map[string]entities.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]entities.Node, len(b.nodes))
	for id, n := range b.nodes {
		out[id] = n
	}
	return out, nil
}

func (b *Backend) SaveNode(ctx context.Context, node entities.Node) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	if node.ID == "" {
		return pkgerrors.NewValidation("node id cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	node.Normalize()
	b.nodes[node.ID] = node
	return nil
}

func (b *Backend) DeleteNode(ctx context.Context, nodeID string) error {
	if err := b.checkWritable(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.nodes, nodeID)
	return nil
}

// --- Vote operations ---

func (b *Backend) ListUsers(ctx context.Context) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	users := make([]string, 0, len(b.buckets))
	for id := range b.buckets {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func (b *Backend) CreateUser(ctx context.Context, userID string) error {
	if err := b.checkWritable(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[userID]; !ok {
		b.buckets[userID] = entities.NewVoteBucket(userID)
	}
	return nil
}

func (b *Backend) LoadVotes(ctx context.Context, userID string) (*entities.VoteBucket, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bucket, ok := b.buckets[userID]
	if !ok {
		return entities.NewVoteBucket(userID), nil
	}
	copied := entities.NewVoteBucket(userID)
	for id, rec := range bucket.Nodes {
		copied.Nodes[id] = rec
	}
	copied.AppliedMutations = append([]string(nil), bucket.AppliedMutations...)
	return copied, nil
}

func (b *Backend) GetVote(ctx context.Context, userID, nodeID string) (*entities.VoteRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	bucket, ok := b.buckets[userID]
	if !ok {
		return nil, nil
	}
	rec, ok := bucket.Nodes[nodeID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (b *Backend) SetVote(ctx context.Context, userID, nodeID string, update ports.VoteUpdate) error {
	if err := b.checkWritable(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.buckets[userID]
	if !ok {
		bucket = entities.NewVoteBucket(userID)
		b.buckets[userID] = bucket
	}

	rec := bucket.Nodes[nodeID]
	if update.ClearVote {
		rec.Interested = nil
	} else if update.Interested != nil {
		rec.Interested = update.Interested
	}
	if update.Notes != nil {
		rec.Notes = *update.Notes
	}
	bucket.Set(nodeID, rec)
	return nil
}

func (b *Backend) RemoveVote(ctx context.Context, userID, nodeID string) error {
	if err := b.checkWritable(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if bucket, ok := b.buckets[userID]; ok {
		bucket.Remove(nodeID)
	}
	return nil
}

// --- Aggregation ---

func (b *Backend) snapshotVotes() map[string]map[string]entities.VoteRecord {
	votes := make(map[string]map[string]entities.VoteRecord, len(b.buckets))
	for userID, bucket := range b.buckets {
		m := make(map[string]entities.VoteRecord, len(bucket.Nodes))
		for nodeID, rec := range bucket.Nodes {
			m[nodeID] = rec
		}
		votes[userID] = m
	}
	return votes
}

func (b *Backend) GetGraph(ctx context.Context) (*aggregates.Graph, error) {
	b.mu.RLock()
	nodes := make(map[string]entities.Node, len(b.nodes))
	for id, n := range b.nodes {
		nodes[id] = n
	}
	votes := b.snapshotVotes()
	b.mu.RUnlock()

	return aggregates.BuildGraph(nodes, votes), nil
}

// --- Encumbrance ---

func (b *Backend) ExternalUsers(ctx context.Context, nodeID, activeUserID string) ([]ports.ExternalUser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	userIDs := make([]string, 0, len(b.buckets))
	for id := range b.buckets {
		userIDs = append(userIDs, id)
	}
	sort.Strings(userIDs)

	var external []ports.ExternalUser
	for _, userID := range userIDs {
		if userID == activeUserID {
			continue
		}
		rec, ok := b.buckets[userID].Nodes[nodeID]
		if !ok {
			continue
		}
		external = append(external, ports.ExternalUser{
			UserID:     userID,
			HasVote:    rec.HasVote(),
			Interested: rec.Interested,
			HasNotes:   rec.HasNotes(),
		})
	}
	return external, nil
}

func (b *Backend) IsEncumbered(ctx context.Context, nodeID, activeUserID string) (bool, error) {
	external, err := b.ExternalUsers(ctx, nodeID, activeUserID)
	if err != nil {
		return false, err
	}
	return len(external) > 0, nil
}

// --- Orphan reclamation ---

func (b *Backend) ReclaimOrphans(ctx context.Context) (int, error) {
	if err := b.checkWritable(); err != nil {
		return 0, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.nodes) == 0 || len(b.buckets) == 0 {
		return 0, nil
	}

	voted := aggregates.VotedNodeIDs(b.snapshotVotes())
	orphans := make(map[string]struct{})
	for id := range b.nodes {
		if _, ok := voted[id]; !ok {
			orphans[id] = struct{}{}
		}
	}

	// Deletions first, then parent rewrites, in one pass.
	for id := range orphans {
		delete(b.nodes, id)
	}
	for id, node := range b.nodes {
		if _, gone := orphans[node.ParentID]; node.ParentID != "" && gone {
			node.ParentID = ""
			b.nodes[id] = node
		}
	}
	return len(orphans), nil
}

// --- Sync & subscriptions (not meaningful in memory) ---

func (b *Backend) Sync(ctx context.Context) (ports.SyncResult, error) {
	return ports.SyncResult{Message: "in-memory backend, nothing to sync"}, nil
}

func (b *Backend) Push(ctx context.Context) (ports.SyncResult, error) {
	return ports.SyncResult{Message: "in-memory backend, nothing to push"}, nil
}

func (b *Backend) HasUnpushedChanges(ctx context.Context) (bool, error) {
	return false, nil
}

func (b *Backend) Subscribe(ctx context.Context, onNodeChange, onVoteChange ports.ChangeHandler) error {
	return nil
}

func (b *Backend) Unsubscribe() {}
