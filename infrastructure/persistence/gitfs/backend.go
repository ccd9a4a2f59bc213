// Package gitfs implements the StorageBackend contract on local JSON files
// synchronized through the external git tool. Each node and each user's vote
// bucket is its own file, so git's textual merge operates at record
// granularity; the mutation ledger reconciles per-user buckets after merges.
package gitfs

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"prism-backend/application/ledger"
	"prism-backend/application/ports"
	"prism-backend/domain/core/aggregates"
	"prism-backend/domain/core/entities"
	pkgerrors "prism-backend/pkg/errors"
	"prism-backend/pkg/observability"
)

const commitMessage = "Update idea graph"

// Backend is the file+git StorageBackend implementation.
type Backend struct {
	store   *fileStore
	git     *GitRunner
	logger  *zap.Logger
	metrics *observability.Collector

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Option configures a Backend.
type Option func(*Backend)

// WithGit attaches a git runner; without one Sync/Push are local no-ops.
func WithGit(git *GitRunner) Option {
	return func(b *Backend) { b.git = git }
}

// WithLogger sets the backend logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(collector *observability.Collector) Option {
	return func(b *Backend) { b.metrics = collector }
}

// New creates a file+git backend rooted at projectPath, creating the
// directory layout when missing.
func New(projectPath string, opts ...Option) (*Backend, error) {
	b := &Backend{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(b)
	}

	store, err := newFileStore(projectPath, b.logger)
	if err != nil {
		return nil, err
	}
	b.store = store
	return b, nil
}

func (b *Backend) Type() ports.BackendType { return ports.BackendGit }

// IsReadOnly is always false: the local work tree is writable for its owner.
func (b *Backend) IsReadOnly() bool { return false }

func (b *Backend) SupportsRealtime() bool { return false }

func (b *Backend) observe(op string, start time.Time, err error) {
	b.metrics.ObserveStorage(string(ports.BackendGit), op, start, err)
}

// --- Node operations ---

func (b *Backend) LoadNodes(ctx context.Context) (map[string]entities.Node, error) {
	start := time.Now()
	nodes, err := b.store.loadNodes()
	b.observe("load_nodes", start, err)
	return nodes, err
}

func (b *Backend) SaveNode(ctx context.Context, node entities.Node) error {
	if node.ID == "" {
		return pkgerrors.NewValidation("node id cannot be empty")
	}
	start := time.Now()
	node.Normalize()
	err := b.store.saveNode(node)
	b.observe("save_node", start, err)
	return err
}

func (b *Backend) DeleteNode(ctx context.Context, nodeID string) error {
	start := time.Now()
	err := b.store.deleteNode(nodeID)
	b.observe("delete_node", start, err)
	return err
}

// --- Vote operations ---

func (b *Backend) ListUsers(ctx context.Context) ([]string, error) {
	return b.store.listUsers()
}

func (b *Backend) CreateUser(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return pkgerrors.NewValidation("user id cannot be empty")
	}
	bucket, err := b.store.loadBucket(userID)
	if err != nil {
		return err
	}
	return b.store.saveBucket(bucket)
}

func (b *Backend) LoadVotes(ctx context.Context, userID string) (*entities.VoteBucket, error) {
	return b.store.loadBucket(userID)
}

func (b *Backend) GetVote(ctx context.Context, userID, nodeID string) (*entities.VoteRecord, error) {
	bucket, err := b.store.loadBucket(userID)
	if err != nil {
		return nil, err
	}
	rec, ok := bucket.Get(nodeID)
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (b *Backend) SetVote(ctx context.Context, userID, nodeID string, update ports.VoteUpdate) error {
	start := time.Now()
	bucket, err := b.store.loadBucket(userID)
	if err != nil {
		return err
	}

	rec, _ := bucket.Get(nodeID)
	if update.ClearVote {
		rec.Interested = nil
	} else if update.Interested != nil {
		rec.Interested = update.Interested
	}
	if update.Notes != nil {
		rec.Notes = *update.Notes
	}

	// Set elides empty records, which keeps pending votes absent on disk.
	bucket.Set(nodeID, rec)
	err = b.store.saveBucket(bucket)
	b.observe("set_vote", start, err)
	return err
}

func (b *Backend) RemoveVote(ctx context.Context, userID, nodeID string) error {
	bucket, err := b.store.loadBucket(userID)
	if err != nil {
		return err
	}
	if !bucket.Remove(nodeID) {
		return nil
	}
	return b.store.saveBucket(bucket)
}

// --- Aggregation ---

func (b *Backend) GetGraph(ctx context.Context) (*aggregates.Graph, error) {
	start := time.Now()
	nodes, err := b.store.loadNodes()
	if err != nil {
		b.observe("get_graph", start, err)
		return nil, err
	}
	buckets, err := b.store.loadAllBuckets()
	if err != nil {
		b.observe("get_graph", start, err)
		return nil, err
	}

	votes := make(map[string]map[string]entities.VoteRecord, len(buckets))
	for userID, bucket := range buckets {
		votes[userID] = bucket.Nodes
	}
	b.observe("get_graph", start, nil)
	return aggregates.BuildGraph(nodes, votes), nil
}

// --- Encumbrance ---

func (b *Backend) ExternalUsers(ctx context.Context, nodeID, activeUserID string) ([]ports.ExternalUser, error) {
	users, err := b.store.listUsers()
	if err != nil {
		return nil, err
	}

	var external []ports.ExternalUser
	for _, userID := range users {
		if userID == activeUserID {
			continue
		}
		bucket, err := b.store.loadBucket(userID)
		if err != nil {
			return nil, err
		}
		rec, ok := bucket.Get(nodeID)
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
	nodes, err := b.store.loadNodes()
	if err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, nil
	}
	buckets, err := b.store.loadAllBuckets()
	if err != nil {
		return 0, err
	}
	if len(buckets) == 0 {
		return 0, nil
	}

	votes := make(map[string]map[string]entities.VoteRecord, len(buckets))
	for userID, bucket := range buckets {
		votes[userID] = bucket.Nodes
	}
	voted := aggregates.VotedNodeIDs(votes)

	orphans := make(map[string]struct{})
	for id := range nodes {
		if _, ok := voted[id]; !ok {
			orphans[id] = struct{}{}
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	// Deletions before parent rewrites, so no intermediate state points a
	// surviving node at a file that still exists.
	for id := range orphans {
		if err := b.store.deleteNode(id); err != nil {
			return 0, err
		}
		b.logger.Info("reclaimed orphan node", zap.String("node_id", id))
	}
	for id, node := range nodes {
		if _, isOrphan := orphans[id]; isOrphan {
			continue
		}
		if _, gone := orphans[node.ParentID]; node.ParentID != "" && gone {
			node.ParentID = ""
			if err := b.store.saveNode(node); err != nil {
				return 0, err
			}
		}
	}
	return len(orphans), nil
}

// --- Mutation ledger ---

// AppendMutation persists an immutable ledger record before it is applied.
func (b *Backend) AppendMutation(ctx context.Context, m ledger.Mutation) error {
	return b.store.appendMutation(m)
}

// ApplyMutations replays all persisted mutations against every user bucket,
// writing back only buckets whose applied-set grew. Returns the ids newly
// applied to at least one bucket.
func (b *Backend) ApplyMutations(ctx context.Context) ([]string, error) {
	mutations, err := b.store.loadMutations()
	if err != nil {
		return nil, err
	}
	if len(mutations) == 0 {
		return nil, nil
	}
	buckets, err := b.store.loadAllBuckets()
	if err != nil {
		return nil, err
	}

	before := make(map[string]int, len(buckets))
	for userID, bucket := range buckets {
		before[userID] = len(bucket.AppliedMutations)
	}

	applied := ledger.ApplyAll(mutations, buckets)

	for userID, bucket := range buckets {
		if len(bucket.AppliedMutations) == before[userID] {
			continue
		}
		if err := b.store.saveBucket(bucket); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// --- Synchronization ---

// Sync pulls the latest remote state (pull --rebase) and then replays any
// mutations the merge brought in.
func (b *Backend) Sync(ctx context.Context) (ports.SyncResult, error) {
	if b.git == nil {
		return ports.SyncResult{Message: "no git remote configured"}, nil
	}

	noUpstream, err := b.git.PullRebase(ctx)
	b.metrics.ObserveSync(string(ports.BackendGit), "sync", err)
	if err != nil {
		return ports.SyncResult{}, err
	}

	if applied, err := b.ApplyMutations(ctx); err != nil {
		return ports.SyncResult{}, err
	} else if len(applied) > 0 {
		b.logger.Info("applied merged mutations", zap.Int("count", len(applied)))
	}

	if noUpstream {
		return ports.SyncResult{Message: "no upstream configured yet"}, nil
	}
	return ports.SyncResult{Message: "synced"}, nil
}

// Push stages all changes, commits, rebases onto the remote, and pushes.
// An empty commit is steady state, not an error.
func (b *Backend) Push(ctx context.Context) (ports.SyncResult, error) {
	if b.git == nil {
		return ports.SyncResult{Message: "no git remote configured"}, nil
	}

	push := func() (ports.SyncResult, error) {
		if err := b.git.AddAll(ctx); err != nil {
			return ports.SyncResult{}, err
		}
		committed, err := b.git.Commit(ctx, commitMessage)
		if err != nil {
			return ports.SyncResult{}, err
		}
		if !committed {
			return ports.SyncResult{Message: "nothing to commit"}, nil
		}
		if _, err := b.git.PullRebase(ctx); err != nil {
			return ports.SyncResult{}, err
		}
		if err := b.git.Push(ctx); err != nil {
			return ports.SyncResult{}, err
		}
		return ports.SyncResult{Message: "pushed"}, nil
	}

	res, err := push()
	b.metrics.ObserveSync(string(ports.BackendGit), "push", err)
	return res, err
}

func (b *Backend) HasUnpushedChanges(ctx context.Context) (bool, error) {
	if b.git == nil {
		return false, nil
	}
	return b.git.HasChanges(ctx)
}

// --- Subscriptions ---

// Subscribe watches the nodes/ and data/ directories and emits change
// events for writes landing from outside this process (a git pull, another
// editor on the same checkout). Events carry record ids only; consumers
// re-read the graph.
func (b *Backend) Subscribe(ctx context.Context, onNodeChange, onVoteChange ports.ChangeHandler) error {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()

	if b.watcher != nil {
		return pkgerrors.NewValidation("already subscribed")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return pkgerrors.NewInternal("create file watcher", err)
	}
	for _, dir := range []string{b.store.nodesDir, b.store.dataDir} {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return pkgerrors.NewInternal("watch "+dir, err)
		}
	}

	b.watcher = watcher
	b.done = make(chan struct{})
	go b.watchLoop(ctx, watcher, b.done, onNodeChange, onVoteChange)
	return nil
}

func (b *Backend) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, done chan struct{}, onNodeChange, onVoteChange ports.ChangeHandler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			b.dispatchEvent(event, onNodeChange, onVoteChange)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (b *Backend) dispatchEvent(event fsnotify.Event, onNodeChange, onVoteChange ports.ChangeHandler) {
	name := filepath.Base(event.Name)
	if !strings.HasSuffix(name, ".json") || strings.HasPrefix(name, ".") {
		return
	}
	stem := strings.TrimSuffix(name, ".json")

	var changeType ports.ChangeType
	switch {
	case event.Op&fsnotify.Create != 0:
		changeType = ports.ChangeInsert
	case event.Op&fsnotify.Write != 0:
		changeType = ports.ChangeUpdate
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		changeType = ports.ChangeDelete
	default:
		return
	}

	switch filepath.Dir(event.Name) {
	case b.store.nodesDir:
		if onNodeChange != nil {
			onNodeChange(ports.ChangeEvent{Type: changeType, NodeID: stem})
		}
	case b.store.dataDir:
		if onVoteChange != nil {
			onVoteChange(ports.ChangeEvent{
				Type:   changeType,
				Record: map[string]any{"user_id": stem},
			})
		}
	}
}

// Unsubscribe stops the directory watcher.
func (b *Backend) Unsubscribe() {
	b.watchMu.Lock()
	defer b.watchMu.Unlock()

	if b.watcher == nil {
		return
	}
	close(b.done)
	b.watcher.Close()
	b.watcher = nil
	b.done = nil
}
