// Package supabase implements the StorageBackend contract on Supabase
// PostgreSQL tables with realtime push. Nodes and votes are rows keyed by
// project; reads go through a short-TTL cache invalidated on every local
// write, and all network calls run behind a circuit breaker.
package supabase

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"prism-backend/application/ports"
	"prism-backend/domain/core/aggregates"
	"prism-backend/domain/core/entities"
	pkgerrors "prism-backend/pkg/errors"
	"prism-backend/pkg/observability"
)

// Config carries the connection parameters for a Supabase-backed project.
// ActiveUserID is the already-resolved identity of the acting user; identity
// resolution itself is owned by the excluded auth collaborator.
type Config struct {
	URL          string
	Key          string
	ProjectID    string // UUID, or a slug resolved lazily
	ProjectSlug  string
	ActiveUserID string
	ReadOnly     bool

	GraphCacheTTL   time.Duration
	MembersCacheTTL time.Duration
}

// member is one project membership row joined with its profile.
type member struct {
	UserID   string      `json:"user_id"`
	Role     string      `json:"role,omitempty"`
	Profiles *profileRow `json:"profiles,omitempty"`
}

type profileRow struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type nodeRow struct {
	ID           string         `json:"id"`
	ProjectID    string         `json:"project_id"`
	Label        string         `json:"label"`
	ParentID     *string        `json:"parent_id"`
	Description  string         `json:"description"`
	NodeType     string         `json:"node_type"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	UpdatedAt    string         `json:"updated_at,omitempty"`
}

type voteRow struct {
	UserID     string      `json:"user_id"`
	NodeID     string      `json:"node_id"`
	Interested *bool       `json:"interested"`
	Notes      *string     `json:"notes"`
	VotedAt    string      `json:"voted_at,omitempty"`
	Profiles   *profileRow `json:"profiles,omitempty"`
}

// Backend is the Supabase StorageBackend implementation.
type Backend struct {
	cfg     Config
	client  *supabase.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
	metrics *observability.Collector

	graphCache   *ttlCache[*aggregates.Graph]
	membersCache *ttlCache[[]member]

	projectMu         sync.Mutex
	resolvedProjectID string

	realtimeMu sync.Mutex
	realtime   *realtimeClient
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the backend logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Backend) { b.logger = logger }
}

// WithMetrics attaches the metrics collector.
func WithMetrics(collector *observability.Collector) Option {
	return func(b *Backend) { b.metrics = collector }
}

// New creates a Supabase backend for one project.
func New(cfg Config, opts ...Option) (*Backend, error) {
	if cfg.URL == "" || cfg.Key == "" {
		return nil, pkgerrors.NewValidation("supabase url and key are required")
	}
	if cfg.ProjectID == "" && cfg.ProjectSlug == "" {
		return nil, pkgerrors.NewValidation("supabase project id or slug is required")
	}
	if cfg.GraphCacheTTL <= 0 {
		cfg.GraphCacheTTL = DefaultGraphCacheTTL
	}
	if cfg.MembersCacheTTL <= 0 {
		cfg.MembersCacheTTL = DefaultMembersCacheTTL
	}

	client, err := supabase.NewClient(cfg.URL, cfg.Key, nil)
	if err != nil {
		return nil, pkgerrors.NewRemoteUnavailable("create supabase client", err)
	}

	b := &Backend{
		cfg:    cfg,
		client: client,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}

	b.graphCache = newTTLCache[*aggregates.Graph](cfg.GraphCacheTTL, b.metrics)
	b.membersCache = newTTLCache[[]member](cfg.MembersCacheTTL, b.metrics)

	b.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "supabase",
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("supabase circuit breaker state change",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return b, nil
}

func (b *Backend) Type() ports.BackendType { return ports.BackendSupabase }
func (b *Backend) IsReadOnly() bool        { return b.cfg.ReadOnly }
func (b *Backend) SupportsRealtime() bool  { return true }

func (b *Backend) checkWritable() error {
	if b.cfg.ReadOnly {
		return pkgerrors.NewPermissionDenied("backend is read-only")
	}
	return nil
}

// call routes a network operation through the circuit breaker and maps
// transport failures to RemoteUnavailable.
func (b *Backend) call(op string, fn func() error) error {
	start := time.Now()
	_, err := b.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	b.metrics.ObserveStorage(string(ports.BackendSupabase), op, start, err)
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return pkgerrors.NewRemoteUnavailable("supabase circuit open", err)
	}
	var appErr *pkgerrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return pkgerrors.NewRemoteUnavailable(op+" failed", err)
}

// invalidate drops both read caches; called synchronously after every local
// write so the next read observes the writer's own change.
func (b *Backend) invalidate() {
	b.graphCache.invalidate()
	b.membersCache.invalidate()
}

// projectID resolves the configured project identifier, looking the slug up
// in the projects table on first use.
func (b *Backend) projectID(ctx context.Context) (string, error) {
	b.projectMu.Lock()
	defer b.projectMu.Unlock()

	if b.resolvedProjectID != "" {
		return b.resolvedProjectID, nil
	}
	if _, err := uuid.Parse(b.cfg.ProjectID); err == nil {
		b.resolvedProjectID = b.cfg.ProjectID
		return b.resolvedProjectID, nil
	}

	slug := b.cfg.ProjectSlug
	if slug == "" {
		slug = b.cfg.ProjectID
	}

	var rows []struct {
		ID string `json:"id"`
	}
	err := b.call("resolve_project", func() error {
		_, err := b.client.From("projects").
			Select("id", "", false).
			Eq("slug", slug).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", pkgerrors.NewNotFound("project not found for slug " + slug)
	}
	b.resolvedProjectID = rows[0].ID
	b.logger.Info("resolved project slug",
		zap.String("slug", slug), zap.String("project_id", b.resolvedProjectID))
	return b.resolvedProjectID, nil
}

// EnsureMembership verifies the active user belongs to the project and, for
// public projects, joins them through the join_public_project RPC.
func (b *Backend) EnsureMembership(ctx context.Context) (bool, error) {
	pid, err := b.projectID(ctx)
	if err != nil {
		return false, err
	}
	userID, err := b.resolveUserID(ctx, b.cfg.ActiveUserID)
	if err != nil {
		return false, err
	}

	var rows []struct {
		UserID string `json:"user_id"`
	}
	err = b.call("check_membership", func() error {
		_, err := b.client.From("project_members").
			Select("user_id", "", false).
			Eq("project_id", pid).
			Eq("user_id", userID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return false, err
	}
	if len(rows) > 0 {
		return true, nil
	}

	joined := false
	err = b.call("join_project", func() error {
		result := b.client.Rpc("join_public_project", "", map[string]any{"p_project_id": pid})
		joined = strings.Contains(result, "true")
		return nil
	})
	if err != nil {
		return false, err
	}
	return joined, nil
}

// members loads project membership with profile info, cached.
func (b *Backend) members(ctx context.Context) ([]member, error) {
	if cached, ok := b.membersCache.get(); ok {
		return cached, nil
	}

	pid, err := b.projectID(ctx)
	if err != nil {
		return nil, err
	}

	var rows []member
	err = b.call("list_members", func() error {
		_, err := b.client.From("project_members").
			Select("user_id, role, profiles(id, username)", "", false).
			Eq("project_id", pid).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	b.membersCache.put(rows)
	return rows, nil
}

// userKey returns the caller-visible identifier for a membership or vote
// row: the profile username when available, otherwise the raw user UUID.
func userKey(userID string, profile *profileRow) string {
	if profile != nil && profile.Username != "" {
		return profile.Username
	}
	return userID
}

// resolveUserID maps a username to its profile UUID; UUIDs pass through.
func (b *Backend) resolveUserID(ctx context.Context, userID string) (string, error) {
	if _, err := uuid.Parse(userID); err == nil {
		return userID, nil
	}

	var rows []profileRow
	err := b.call("resolve_user", func() error {
		_, err := b.client.From("profiles").
			Select("id, username", "", false).
			Eq("username", userID).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", pkgerrors.NewNotFound("no profile for username " + userID)
	}
	return rows[0].ID, nil
}

func rowToNode(row nodeRow) entities.Node {
	node := entities.Node{
		ID:           row.ID,
		Label:        row.Label,
		Description:  row.Description,
		NodeType:     row.NodeType,
		CustomFields: row.CustomFields,
	}
	if row.ParentID != nil {
		node.ParentID = *row.ParentID
	}
	node.Normalize()
	return node
}

func (b *Backend) nodeToRow(node entities.Node, projectID string) nodeRow {
	row := nodeRow{
		ID:           node.ID,
		ProjectID:    projectID,
		Label:        node.Label,
		Description:  node.Description,
		NodeType:     node.NodeType,
		CustomFields: node.CustomFields,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	if node.ParentID != "" {
		row.ParentID = &node.ParentID
	}
	return row
}

// --- Node operations ---

func (b *Backend) LoadNodes(ctx context.Context) (map[string]entities.Node, error) {
	pid, err := b.projectID(ctx)
	if err != nil {
		return nil, err
	}

	var rows []nodeRow
	err = b.call("load_nodes", func() error {
		_, err := b.client.From("nodes").
			Select("*", "", false).
			Eq("project_id", pid).
			ExecuteTo(&rows)
		return err
	})
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]entities.Node, len(rows))
	for _, row := range rows {
		nodes[row.ID] = rowToNode(row)
	}
	return nodes, nil
}

func (b *Backend) SaveNode(ctx context.Context, node entities.Node) error {
	if err := b.checkWritable(); err != nil {
		return err
	}
	if node.ID == "" {
		return pkgerrors.NewValidation("node id cannot be empty")
	}

	pid, err := b.projectID(ctx)
	if err != nil {
		return err
	}
	node.Normalize()
	row := b.nodeToRow(node, pid)

	err = b.call("save_node", func() error {
		_, _, err := b.client.From("nodes").
			Upsert(row, "id", "", "").
			Execute()
		return err
	})
	if err != nil {
		return err
	}
	b.invalidate()
	return nil
}

func (b *Backend) DeleteNode(ctx context.Context, nodeID string) error {
	if err := b.checkWritable(); err != nil {
		return err
	}

	pid, err := b.projectID(ctx)
	if err != nil {
		return err
	}
	err = b.call("delete_node", func() error {
		_, _, err := b.client.From("nodes").
			Delete("", "").
			Eq("id", nodeID).
			Eq("project_id", pid).
			Execute()
		return err
	})
	if err != nil {
		return err
	}
	b.invalidate()
	return nil
}

// --- Vote operations ---

func (b *Backend) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := b.members(ctx)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(rows))
	for _, row := range rows {
		users = append(users, userKey(row.UserID, row.Profiles))
	}
	sort.Strings(users)
	return users, nil
}

func (b *Backend) CreateUser(ctx context.Context, userID string) error {
	if err := b.checkWritable(); err != nil {
		return err
	}

	pid, err := b.projectID(ctx)
	if err != nil {
		return err
	}
	resolved, err := b.resolveUserID(ctx, userID)
	if err != nil {
		return err
	}

	row := map[string]any{
		"project_id": pid,
		"user_id":    resolved,
		"role":       "member",
		"joined_at":  time.Now().UTC().Format(time.RFC3339),
	}
	err = b.call("create_member", func() error {
		_, _, err := b.client.From("project_members").
			Upsert(row, "project_id,user_id", "", "").
			Execute()
		return err
	})
	if err != nil {
		return err
	}
	b.invalidate()
	return nil
}

// loadVoteRows fetches vote rows, optionally filtered by node or user.
func (b *Backend) loadVoteRows(ctx context.Context, filter func(*postgrest.FilterBuilder) *postgrest.FilterBuilder) ([]voteRow, error) {
	var rows []voteRow
	err := b.call("load_votes", func() error {
		q := b.client.From("user_node_votes").
			Select("user_id, node_id, interested, notes, profiles(id, username)", "", false)
		_, err := filter(q).ExecuteTo(&rows)
		return err
	})
	return rows, err
}

func (b *Backend) LoadVotes(ctx context.Context, userID string) (*entities.VoteBucket, error) {
	resolved, err := b.resolveUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := b.loadVoteRows(ctx, func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Eq("user_id", resolved)
	})
	if err != nil {
		return nil, err
	}

	bucket := entities.NewVoteBucket(userID)
	for _, row := range rows {
		bucket.Set(row.NodeID, rowToVote(row))
	}
	return bucket, nil
}

func rowToVote(row voteRow) entities.VoteRecord {
	rec := entities.VoteRecord{Interested: row.Interested}
	if row.Notes != nil {
		rec.Notes = *row.Notes
	}
	return rec
}

func (b *Backend) GetVote(ctx context.Context, userID, nodeID string) (*entities.VoteRecord, error) {
	resolved, err := b.resolveUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	rows, err := b.loadVoteRows(ctx, func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Eq("user_id", resolved).Eq("node_id", nodeID)
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	rec := rowToVote(rows[0])
	return &rec, nil
}

func (b *Backend) SetVote(ctx context.Context, userID, nodeID string, update ports.VoteUpdate) error {
	if err := b.checkWritable(); err != nil {
		return err
	}

	current, err := b.GetVote(ctx, userID, nodeID)
	if err != nil {
		return err
	}

	var rec entities.VoteRecord
	if current != nil {
		rec = *current
	}
	if update.ClearVote {
		rec.Interested = nil
	} else if update.Interested != nil {
		rec.Interested = update.Interested
	}
	if update.Notes != nil {
		rec.Notes = *update.Notes
	}

	// The no-empty-records invariant holds remotely too: a record reduced to
	// pending-with-no-notes is deleted, not stored as nulls.
	if rec.Empty() {
		return b.RemoveVote(ctx, userID, nodeID)
	}

	resolved, err := b.resolveUserID(ctx, userID)
	if err != nil {
		return err
	}
	row := map[string]any{
		"user_id":  resolved,
		"node_id":  nodeID,
		"voted_at": time.Now().UTC().Format(time.RFC3339),
	}
	if rec.Interested != nil {
		row["interested"] = *rec.Interested
	} else {
		row["interested"] = nil
	}
	row["notes"] = rec.Notes

	err = b.call("set_vote", func() error {
		_, _, err := b.client.From("user_node_votes").
			Upsert(row, "user_id,node_id", "", "").
			Execute()
		return err
	})
	if err != nil {
		return err
	}
	if b.metrics != nil {
		b.metrics.VotesWritten.Inc()
	}
	b.invalidate()
	return nil
}

func (b *Backend) RemoveVote(ctx context.Context, userID, nodeID string) error {
	if err := b.checkWritable(); err != nil {
		return err
	}

	resolved, err := b.resolveUserID(ctx, userID)
	if err != nil {
		return err
	}
	err = b.call("remove_vote", func() error {
		_, _, err := b.client.From("user_node_votes").
			Delete("", "").
			Eq("user_id", resolved).
			Eq("node_id", nodeID).
			Execute()
		return err
	})
	if err != nil {
		return err
	}
	b.invalidate()
	return nil
}

// --- Aggregation ---

// GetGraph materializes the aggregated view, served from the short-TTL
// cache between local writes.
func (b *Backend) GetGraph(ctx context.Context) (*aggregates.Graph, error) {
	if cached, ok := b.graphCache.get(); ok {
		return cached, nil
	}

	nodes, err := b.LoadNodes(ctx)
	if err != nil {
		return nil, err
	}
	votes, err := b.allVotes(ctx, nodes)
	if err != nil {
		return nil, err
	}

	graph := aggregates.BuildGraph(nodes, votes)
	b.graphCache.put(graph)
	return graph, nil
}

// allVotes loads every vote row touching this project's nodes, keyed the
// same way ListUsers keys members (username where available).
func (b *Backend) allVotes(ctx context.Context, nodes map[string]entities.Node) (map[string]map[string]entities.VoteRecord, error) {
	rows, err := b.loadVoteRows(ctx, func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q
	})
	if err != nil {
		return nil, err
	}

	votes := make(map[string]map[string]entities.VoteRecord)
	for _, row := range rows {
		if _, ok := nodes[row.NodeID]; !ok {
			continue // vote on another project's node
		}
		key := userKey(row.UserID, row.Profiles)
		if votes[key] == nil {
			votes[key] = make(map[string]entities.VoteRecord)
		}
		rec := rowToVote(row)
		if rec.Empty() {
			continue
		}
		votes[key][row.NodeID] = rec
	}

	// Members without votes still belong in the known user set so the
	// aggregation sees them as all-pending.
	members, err := b.members(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		key := userKey(m.UserID, m.Profiles)
		if votes[key] == nil {
			votes[key] = make(map[string]entities.VoteRecord)
		}
	}
	return votes, nil
}

// --- Encumbrance ---

func (b *Backend) ExternalUsers(ctx context.Context, nodeID, activeUserID string) ([]ports.ExternalUser, error) {
	resolvedActive, err := b.resolveUserID(ctx, activeUserID)
	if err != nil {
		return nil, err
	}

	rows, err := b.loadVoteRows(ctx, func(q *postgrest.FilterBuilder) *postgrest.FilterBuilder {
		return q.Eq("node_id", nodeID).Neq("user_id", resolvedActive)
	})
	if err != nil {
		return nil, err
	}

	external := make([]ports.ExternalUser, 0, len(rows))
	for _, row := range rows {
		rec := rowToVote(row)
		if rec.Empty() {
			continue
		}
		external = append(external, ports.ExternalUser{
			UserID:     userKey(row.UserID, row.Profiles),
			HasVote:    rec.HasVote(),
			Interested: rec.Interested,
			HasNotes:   rec.HasNotes(),
		})
	}
	sort.Slice(external, func(i, j int) bool { return external[i].UserID < external[j].UserID })
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

	nodes, err := b.LoadNodes(ctx)
	if err != nil {
		return 0, err
	}
	if len(nodes) == 0 {
		return 0, nil
	}
	votes, err := b.allVotes(ctx, nodes)
	if err != nil {
		return 0, err
	}
	if len(votes) == 0 {
		return 0, nil
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

	for id := range orphans {
		if err := b.DeleteNode(ctx, id); err != nil {
			return 0, err
		}
	}
	for id, node := range nodes {
		if _, isOrphan := orphans[id]; isOrphan {
			continue
		}
		if _, gone := orphans[node.ParentID]; node.ParentID != "" && gone {
			node.ParentID = ""
			if err := b.SaveNode(ctx, node); err != nil {
				return 0, err
			}
		}
	}
	return len(orphans), nil
}

// --- Synchronization ---

// Sync is a no-op: the realtime subscription keeps readers current.
func (b *Backend) Sync(ctx context.Context) (ports.SyncResult, error) {
	return ports.SyncResult{Message: "realtime sync active"}, nil
}

// Push is a no-op: writes are visible immediately to the writer and pushed
// to others by the subscription.
func (b *Backend) Push(ctx context.Context) (ports.SyncResult, error) {
	return ports.SyncResult{Message: "changes saved automatically"}, nil
}

func (b *Backend) HasUnpushedChanges(ctx context.Context) (bool, error) {
	return false, nil
}

// --- Realtime subscriptions ---

// Subscribe opens a realtime channel for postgres changes on the nodes and
// votes tables. Incoming events invalidate the read caches before being
// handed to the caller, so the next GetGraph observes the pushed state.
func (b *Backend) Subscribe(ctx context.Context, onNodeChange, onVoteChange ports.ChangeHandler) error {
	pid, err := b.projectID(ctx)
	if err != nil {
		return err
	}

	b.realtimeMu.Lock()
	defer b.realtimeMu.Unlock()
	if b.realtime != nil {
		return pkgerrors.NewValidation("already subscribed")
	}

	wrapNode := func(ev ports.ChangeEvent) {
		b.invalidate()
		if onNodeChange != nil {
			onNodeChange(ev)
		}
	}
	wrapVote := func(ev ports.ChangeEvent) {
		b.invalidate()
		if onVoteChange != nil {
			onVoteChange(ev)
		}
	}

	rt, err := newRealtimeClient(b.cfg.URL, b.cfg.Key, pid, b.logger)
	if err != nil {
		return err
	}
	if err := rt.start(ctx, wrapNode, wrapVote); err != nil {
		return err
	}
	b.realtime = rt
	return nil
}

// Unsubscribe closes the realtime channel.
func (b *Backend) Unsubscribe() {
	b.realtimeMu.Lock()
	defer b.realtimeMu.Unlock()
	if b.realtime != nil {
		b.realtime.stop()
		b.realtime = nil
	}
}
